package utils

import (
	"context"

	"github.com/tanq16/vidzo/internal/progress"
)

type Downloader interface {
	ValidateJob(job *VidzoJob) error
	BuildJob(ctx context.Context, job *VidzoJob) error
	Download(ctx context.Context, job *VidzoJob) error
}

type VidzoJob struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	Connections      int
	ChunkSize        int64
	MaxRetries       int
	LimitRate        int64
	ProgressFunc     func(progress.Snapshot)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	URL        string `yaml:"link"`
	Type       string `yaml:"type,omitempty"`
	Title      string `yaml:"title,omitempty"`
	Quality    string `yaml:"quality,omitempty"`
	Extension  string `yaml:"ext,omitempty"`
	Page       string `yaml:"page,omitempty"`
	// Formats lists alternative renditions; one is picked by quality
	// preference and its link replaces URL.
	Formats []FormatEntry `yaml:"formats,omitempty"`
}

type FormatEntry struct {
	Link    string `yaml:"link"`
	Quality string `yaml:"quality,omitempty"`
	Ext     string `yaml:"ext,omitempty"`
	Audio   bool   `yaml:"audio,omitempty"`
	Bitrate int    `yaml:"bitrate,omitempty"`
	Codec   string `yaml:"codec,omitempty"`
	Size    int64  `yaml:"size,omitempty"`
}

// HeadInfo is what a metadata probe learned about a remote resource.
// TotalSize is -1 when the size is unknown.
type HeadInfo struct {
	TotalSize      int64
	SupportsRanges bool
	FileName       string
}
