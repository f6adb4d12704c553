package media

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	if k == Audio {
		return "audio"
	}
	return "video"
}

// Format is one downloadable rendition of a video as supplied by an
// extraction step.
type Format struct {
	Quality     string
	Kind        Kind
	Extension   string
	DownloadURL string
	FileSize    int64 // 0 when unknown
	Bitrate     int   // kbps, 0 when unknown
	Codec       string
}

func NewFormat(quality string, kind Kind, ext, downloadURL string) Format {
	return Format{Quality: quality, Kind: kind, Extension: ext, DownloadURL: downloadURL}
}

// Height parses the vertical resolution from qualities such as "1080p"
// or "720p60"; it is 0 for anything else.
func (f Format) Height() int {
	q := strings.ToLower(f.Quality)
	idx := strings.IndexByte(q, 'p')
	if idx <= 0 {
		return 0
	}
	h, err := strconv.Atoi(q[:idx])
	if err != nil {
		return 0
	}
	return h
}

func (f Format) Description() string {
	var parts []string
	ext := strings.ToUpper(f.Extension)
	switch f.Kind {
	case Audio:
		if f.Bitrate > 0 {
			parts = append(parts, fmt.Sprintf("%dkbps", f.Bitrate))
		} else if f.Quality != "" {
			parts = append(parts, f.Quality)
		}
		parts = append(parts, ext, "audio")
	default:
		if f.Quality != "" {
			parts = append(parts, f.Quality)
		}
		parts = append(parts, ext, "video")
	}
	desc := strings.Join(slices.DeleteFunc(parts, func(s string) bool { return s == "" }), " ")
	var extra []string
	if f.Codec != "" {
		extra = append(extra, f.Codec)
	}
	if f.FileSize > 0 {
		extra = append(extra, humanize.IBytes(uint64(f.FileSize)))
	}
	if len(extra) > 0 {
		desc += " (" + strings.Join(extra, ", ") + ")"
	}
	return desc
}

// IsHighQuality is 720p and above for video, 192kbps and above for audio.
func (f Format) IsHighQuality() bool {
	if f.Kind == Audio {
		return f.Bitrate >= 192
	}
	return f.Height() >= 720
}

func (f Format) rank() int {
	if f.Kind == Audio {
		return f.Bitrate
	}
	return f.Height()
}

// SortFormats orders video before audio, best first within each kind.
func SortFormats(formats []Format) {
	slices.SortStableFunc(formats, func(a, b Format) int {
		if a.Kind != b.Kind {
			return cmp.Compare(a.Kind, b.Kind)
		}
		return cmp.Compare(b.rank(), a.rank())
	})
}

// Select picks a format for a quality preference: "best", "worst",
// "audio" or an exact quality such as "720p".
func Select(formats []Format, preference string) (Format, error) {
	if len(formats) == 0 {
		return Format{}, fmt.Errorf("no formats available")
	}
	sorted := slices.Clone(formats)
	SortFormats(sorted)
	var videos, audios []Format
	for _, f := range sorted {
		if f.Kind == Audio {
			audios = append(audios, f)
		} else {
			videos = append(videos, f)
		}
	}
	pref := strings.ToLower(strings.TrimSpace(preference))
	switch pref {
	case "", "best":
		if len(videos) > 0 {
			return videos[0], nil
		}
		return audios[0], nil
	case "worst":
		if len(videos) > 0 {
			return videos[len(videos)-1], nil
		}
		return audios[len(audios)-1], nil
	case "audio":
		if len(audios) == 0 {
			return Format{}, fmt.Errorf("no audio formats available")
		}
		return audios[0], nil
	}
	for _, f := range sorted {
		if strings.EqualFold(f.Quality, pref) {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("quality %s not available", preference)
}

// GenerateFilename produces "Title [quality].ext".
func GenerateFilename(title string, f Format) string {
	name := SanitizeFilename(title)
	if f.Quality != "" {
		name += " [" + SanitizeFilename(f.Quality) + "]"
	}
	ext := strings.TrimPrefix(f.Extension, ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}
