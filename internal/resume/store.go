package resume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// SidecarSuffix is appended to the destination to name the metadata file
// that records which byte ranges are confirmed on disk.
const SidecarSuffix = ".vidzo"

// PartSuffix names the scratch file of a single-stream download. It is
// never resumed, so each attempt starts from zero.
const PartSuffix = ".part"

type ChunkRecord struct {
	Index    int   `yaml:"index"`
	Start    int64 `yaml:"start"`
	End      int64 `yaml:"end"`
	Written  int64 `yaml:"written"`
	Complete bool  `yaml:"complete"`
}

func (r ChunkRecord) Length() int64 {
	return r.End - r.Start + 1
}

// State is the persisted view of a chunked download in progress.
type State struct {
	mu     sync.Mutex
	saveMu sync.Mutex
	path   string

	ID        string        `yaml:"id"`
	Source    string        `yaml:"source"`
	TotalSize int64         `yaml:"total_size"`
	ChunkSize int64         `yaml:"chunk_size"`
	Chunks    []ChunkRecord `yaml:"chunks"`
	UpdatedAt time.Time     `yaml:"updated_at"`
}

// Status summarises a destination for display without touching it.
type Status struct {
	Destination    string
	HasPartial     bool
	StreamPartial  bool // an unresumable single-stream scratch file exists
	Valid          bool
	PartialSize    int64
	ConfirmedBytes int64
	TotalSize      int64
	ChunksComplete int
	ChunksTotal    int
	Source         string
	UpdatedAt      time.Time
}

func SidecarPath(dest string) string {
	return dest + SidecarSuffix
}

func PartPath(dest string) string {
	return dest + PartSuffix
}

// NewState lays out one record per chunk of size chunkSize covering
// [0, total).
func NewState(dest, source string, total, chunkSize int64) *State {
	st := &State{
		path:      SidecarPath(dest),
		ID:        uuid.NewString(),
		Source:    source,
		TotalSize: total,
		ChunkSize: chunkSize,
	}
	n := chunkCount(total, chunkSize)
	st.Chunks = make([]ChunkRecord, n)
	for i := range n {
		start, end := bounds(i, total, chunkSize)
		st.Chunks[i] = ChunkRecord{Index: i, Start: start, End: end}
	}
	return st
}

func Load(dest string) (*State, error) {
	data, err := os.ReadFile(SidecarPath(dest))
	if err != nil {
		return nil, err
	}
	st := &State{path: SidecarPath(dest)}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("error parsing resume metadata: %w", err)
	}
	return st, nil
}

// Record stores the bytes confirmed for chunk index.
func (s *State) Record(index int, written int64, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Chunks) {
		return
	}
	s.Chunks[index].Written = written
	s.Chunks[index].Complete = complete
}

func (s *State) Chunk(index int) ChunkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Chunks[index]
}

func (s *State) CompletedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, c := range s.Chunks {
		total += c.Written
	}
	return total
}

func (s *State) AllComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Chunks {
		if !c.Complete {
			return false
		}
	}
	return len(s.Chunks) > 0
}

// Save writes the sidecar atomically through a temp file and rename.
func (s *State) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	s.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(s)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error encoding resume metadata: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating resume metadata: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing resume metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error syncing resume metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing resume metadata: %w", err)
	}
	return nil
}

func (s *State) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// HasPartial reports whether dest has both an output file and resume
// metadata. A file without metadata cannot be trusted.
func HasPartial(dest string) bool {
	if _, err := os.Stat(dest); err != nil {
		return false
	}
	_, err := os.Stat(SidecarPath(dest))
	return err == nil
}

func PartialSize(dest string) (int64, error) {
	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Validate checks the partial artifact at dest against expectedTotal
// (<= 0 when unknown). Any inconsistency makes it untrustworthy.
func Validate(dest string, expectedTotal int64) bool {
	st, err := Load(dest)
	if err != nil {
		log.Debug().Str("op", "resume/store").Err(err).Msg("No usable resume metadata")
		return false
	}
	size, err := PartialSize(dest)
	if err != nil {
		log.Debug().Str("op", "resume/store").Err(err).Msg("Partial file missing")
		return false
	}
	if reason := st.check(size, expectedTotal); reason != "" {
		log.Warn().Str("op", "resume/store").Str("file", dest).Msg("Partial download rejected: " + reason)
		return false
	}
	return true
}

func (s *State) check(fileSize, expectedTotal int64) string {
	if s.TotalSize <= 0 || s.ChunkSize <= 0 {
		return "metadata has no size information"
	}
	if expectedTotal > 0 && s.TotalSize != expectedTotal {
		return fmt.Sprintf("recorded size %d does not match remote size %d", s.TotalSize, expectedTotal)
	}
	if fileSize > s.TotalSize {
		return fmt.Sprintf("file size %d exceeds expected size %d", fileSize, s.TotalSize)
	}
	n := chunkCount(s.TotalSize, s.ChunkSize)
	seen := make(map[int]bool, len(s.Chunks))
	for _, c := range s.Chunks {
		if c.Index < 0 || c.Index >= n || seen[c.Index] {
			return fmt.Sprintf("chunk %d is outside the plan", c.Index)
		}
		seen[c.Index] = true
		start, end := bounds(c.Index, s.TotalSize, s.ChunkSize)
		if c.Start != start || c.End != end {
			return fmt.Sprintf("chunk %d has boundaries %d-%d, expected %d-%d", c.Index, c.Start, c.End, start, end)
		}
		if c.Written < 0 || c.Written > c.Length() {
			return fmt.Sprintf("chunk %d records %d bytes for a %d byte range", c.Index, c.Written, c.Length())
		}
		if c.Complete && c.Written != c.Length() {
			return fmt.Sprintf("chunk %d is marked complete with %d of %d bytes", c.Index, c.Written, c.Length())
		}
		if c.Written > 0 && fileSize < c.Start+c.Written {
			return fmt.Sprintf("chunk %d claims bytes beyond the end of the file", c.Index)
		}
	}
	return ""
}

// DiscardCorrupted deletes the output file, its metadata and any
// single-stream scratch file.
func DiscardCorrupted(dest string) error {
	var errs []error
	for _, p := range []string{dest, SidecarPath(dest), PartPath(dest)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("error discarding partial download: %w", errors.Join(errs...))
	}
	log.Info().Str("op", "resume/store").Str("file", dest).Msg("Discarded partial download")
	return nil
}

func Inspect(dest string) (Status, error) {
	status := Status{Destination: dest}
	if _, err := os.Stat(PartPath(dest)); err == nil {
		status.StreamPartial = true
	}
	if !HasPartial(dest) {
		return status, nil
	}
	status.HasPartial = true
	size, err := PartialSize(dest)
	if err != nil {
		return status, err
	}
	status.PartialSize = size
	st, err := Load(dest)
	if err != nil {
		return status, nil
	}
	status.Valid = st.check(size, 0) == ""
	status.ConfirmedBytes = st.CompletedBytes()
	status.TotalSize = st.TotalSize
	status.ChunksTotal = len(st.Chunks)
	status.Source = st.Source
	status.UpdatedAt = st.UpdatedAt
	for _, c := range st.Chunks {
		if c.Complete {
			status.ChunksComplete++
		}
	}
	return status, nil
}

func chunkCount(total, chunkSize int64) int {
	if total <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((total + chunkSize - 1) / chunkSize)
}

func bounds(index int, total, chunkSize int64) (int64, int64) {
	start := int64(index) * chunkSize
	return start, min(start+chunkSize, total) - 1
}
