package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	MinChunkSize       int64 = 64 * 1024
	MaxChunkSize       int64 = 10 * 1024 * 1024
	DefaultChunkSize   int64 = 1024 * 1024
	DefaultConcurrency       = 4
	MaxConcurrency           = 8
	DefaultRetries           = 3
	DefaultTimeout           = 30 * time.Second
	DefaultConnect           = 10 * time.Second
	DefaultLargeSize   int64 = 100 * 1024 * 1024
)

type Settings struct {
	OutputDirectory        string        `yaml:"default_output_directory,omitempty"`
	DefaultQuality         string        `yaml:"default_quality,omitempty"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	ChunkSize              string        `yaml:"chunk_size"`
	AutoResume             bool          `yaml:"auto_resume"`
	ConfirmLargeDownloads  bool          `yaml:"confirm_large_downloads"`
	LargeDownloadThreshold string        `yaml:"large_download_threshold"`
	MaxRetries             int           `yaml:"max_retries"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	UserAgent              string        `yaml:"user_agent,omitempty"`
	LimitRate              string        `yaml:"limit_rate,omitempty"`
	PreferAudioOnly        bool          `yaml:"prefer_audio_only"`
}

func Default() Settings {
	return Settings{
		DefaultQuality:         "best",
		MaxConcurrentDownloads: DefaultConcurrency,
		ChunkSize:              "1MiB",
		AutoResume:             true,
		ConfirmLargeDownloads:  true,
		LargeDownloadThreshold: "100MiB",
		MaxRetries:             DefaultRetries,
		RequestTimeout:         DefaultTimeout,
		ConnectTimeout:         DefaultConnect,
	}
}

// DefaultPath is <user config dir>/vidzo/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find config directory: %w", err)
	}
	return filepath.Join(dir, "vidzo", "config.yaml"), nil
}

// Load reads settings from path (or the default location). A missing file
// yields the defaults; keys absent from the file keep their defaults.
func Load(path string) (Settings, error) {
	settings := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return settings, nil
		}
		path = p
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("op", "config/config").Str("path", path).Msg("No config file, using defaults")
		return settings, nil
	}
	if err != nil {
		return Default(), fmt.Errorf("error reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Default(), fmt.Errorf("error parsing config %s: %w", path, err)
	}
	log.Debug().Str("op", "config/config").Str("path", path).Msg("Loaded settings from config file")
	return settings, nil
}

func (s Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

const sampleConfig = `# vidzo configuration
# All settings are optional; remove a line to use the default value

# Directory where downloads are written (defaults to ~/Downloads/Vidzo)
# default_output_directory: /path/to/downloads

# Preferred quality: best, worst, 1080p, 720p, ...
default_quality: best

# Concurrent chunk downloads per file (1-8)
max_concurrent_downloads: 4

# Size of each chunk, e.g. 512KiB, 1MiB, 4MB (64KiB-10MiB)
chunk_size: 1MiB

# Continue interrupted downloads instead of starting over
auto_resume: true

# Warn before downloading files larger than the threshold
confirm_large_downloads: true
large_download_threshold: 100MiB

# Attempts per request before giving up
max_retries: 3

# Network timeouts
request_timeout: 30s
connect_timeout: 10s

# Bandwidth cap shared by all chunks, e.g. 5MB (empty for unlimited)
# limit_rate: 5MB

prefer_audio_only: false
`

// WriteSample creates a commented sample config; it refuses to overwrite.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0644)
}

// Validate returns warnings for values that will be adjusted or that are
// likely to cause trouble.
func (s Settings) Validate() []string {
	var warnings []string
	if s.MaxConcurrentDownloads <= 0 {
		warnings = append(warnings, "max_concurrent_downloads cannot be 0, using 1")
	} else if s.MaxConcurrentDownloads > MaxConcurrency {
		warnings = append(warnings, fmt.Sprintf("max_concurrent_downloads > %d may cause issues with some servers", MaxConcurrency))
	}
	if n, err := humanize.ParseBytes(s.ChunkSize); err != nil {
		warnings = append(warnings, fmt.Sprintf("chunk_size %q is not a size, using 1MiB", s.ChunkSize))
	} else if int64(n) < MinChunkSize {
		warnings = append(warnings, "chunk_size < 64KiB may result in too many HTTP requests")
	} else if int64(n) > MaxChunkSize {
		warnings = append(warnings, "chunk_size > 10MiB may use excessive memory")
	}
	if s.LimitRate != "" {
		if _, err := humanize.ParseBytes(s.LimitRate); err != nil {
			warnings = append(warnings, fmt.Sprintf("limit_rate %q is not a size, ignoring it", s.LimitRate))
		}
	}
	if s.RequestTimeout > 0 && s.RequestTimeout < 5*time.Second {
		warnings = append(warnings, "request_timeout < 5s may cause timeouts on slow connections")
	}
	if s.OutputDirectory != "" {
		if _, err := os.Stat(s.OutputDirectory); err != nil {
			warnings = append(warnings, fmt.Sprintf("output directory does not exist: %s", s.OutputDirectory))
		}
	}
	return warnings
}

func (s Settings) EffectiveConcurrency() int {
	n, _ := ClampConcurrency(s.MaxConcurrentDownloads)
	return n
}

func (s Settings) EffectiveChunkSize() int64 {
	n, err := humanize.ParseBytes(s.ChunkSize)
	if err != nil {
		return DefaultChunkSize
	}
	size, _ := ClampChunkSize(int64(n))
	return size
}

func (s Settings) EffectiveRetries() int {
	n, _ := ClampRetries(s.MaxRetries)
	return n
}

func (s Settings) EffectiveTimeout() time.Duration {
	d, _ := ClampTimeout(s.RequestTimeout)
	return d
}

func (s Settings) EffectiveConnectTimeout() time.Duration {
	if s.ConnectTimeout <= 0 {
		return DefaultConnect
	}
	return s.ConnectTimeout
}

// LimitRateBytes is 0 when unlimited or unparseable.
func (s Settings) LimitRateBytes() int64 {
	if s.LimitRate == "" {
		return 0
	}
	n, err := humanize.ParseBytes(s.LimitRate)
	if err != nil {
		return 0
	}
	return int64(n)
}

func (s Settings) LargeThreshold() int64 {
	n, err := humanize.ParseBytes(s.LargeDownloadThreshold)
	if err != nil || n == 0 {
		return DefaultLargeSize
	}
	return int64(n)
}

// OutputDir resolves the configured directory, defaulting to
// ~/Downloads/Vidzo.
func (s Settings) OutputDir() (string, error) {
	if s.OutputDirectory != "" {
		return s.OutputDirectory, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, "Downloads", "Vidzo"), nil
}

// IsLarge reports whether size crosses the confirmation threshold.
func (s Settings) IsLarge(size int64) bool {
	return s.ConfirmLargeDownloads && size > s.LargeThreshold()
}

func ClampChunkSize(n int64) (int64, []string) {
	switch {
	case n <= 0:
		return DefaultChunkSize, []string{fmt.Sprintf("chunk size %d is not positive, using %s", n, humanize.IBytes(uint64(DefaultChunkSize)))}
	case n < MinChunkSize:
		return MinChunkSize, []string{fmt.Sprintf("chunk size %s is below the 64KiB minimum, using 64KiB", humanize.IBytes(uint64(n)))}
	case n > MaxChunkSize:
		return MaxChunkSize, []string{fmt.Sprintf("chunk size %s is above the 10MiB maximum, using 10MiB", humanize.IBytes(uint64(n)))}
	}
	return n, nil
}

func ClampConcurrency(n int) (int, []string) {
	switch {
	case n <= 0:
		return 1, []string{fmt.Sprintf("concurrency %d is below 1, using 1", n)}
	case n > MaxConcurrency:
		return MaxConcurrency, []string{fmt.Sprintf("concurrency %d is above %d, using %d", n, MaxConcurrency, MaxConcurrency)}
	}
	return n, nil
}

func ClampRetries(n int) (int, []string) {
	if n < 1 {
		return 1, []string{fmt.Sprintf("retries %d is below 1, using 1", n)}
	}
	return n, nil
}

func ClampTimeout(d time.Duration) (time.Duration, []string) {
	if d <= 0 {
		return DefaultTimeout, []string{fmt.Sprintf("timeout %v is not positive, using %v", d, DefaultTimeout)}
	}
	return d, nil
}
