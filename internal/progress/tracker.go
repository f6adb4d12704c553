package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	windowSize   = 10
	recentWindow = 3 * time.Second
)

// Snapshot is a point-in-time view of a running download.
type Snapshot struct {
	TotalSize  int64
	Downloaded int64
	Speed      float64 // bytes per second
	ETA        time.Duration
	Complete   bool
}

// Percentage is 0 when the total is unknown.
func (s Snapshot) Percentage() float64 {
	if s.TotalSize <= 0 {
		return 0
	}
	return float64(s.Downloaded) / float64(s.TotalSize) * 100
}

func (s Snapshot) SpeedString() string {
	if s.Speed <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(s.Speed)) + "/s"
}

func (s Snapshot) ETAString() string {
	if s.ETA <= 0 {
		if s.Complete {
			return "done"
		}
		return "--:--"
	}
	secs := int64(s.ETA.Round(time.Second) / time.Second)
	h, m, sec := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

type sample struct {
	at    time.Time
	bytes int64
}

// Tracker turns cumulative byte counts into speed and ETA estimates.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	started time.Time
	initial int64
	last    int64
	samples []sample
}

func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{
		now:     now,
		started: now(),
		samples: make([]sample, 0, windowSize),
	}
}

// Reset discards all samples and starts measuring from initial bytes,
// used when a resumed download already has data on disk.
func (t *Tracker) Reset(initial int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.started = now
	t.initial = initial
	t.last = initial
	t.samples = t.samples[:0]
	t.samples = append(t.samples, sample{at: now, bytes: initial})
}

func (t *Tracker) Update(downloaded, total int64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: t.now(), bytes: downloaded})
	if len(t.samples) > windowSize {
		t.samples = t.samples[len(t.samples)-windowSize:]
	}
	t.last = downloaded
	speed := t.speedLocked()
	snap := Snapshot{
		TotalSize:  total,
		Downloaded: downloaded,
		Speed:      speed,
		Complete:   total > 0 && downloaded >= total,
	}
	if speed > 0 && total > downloaded {
		snap.ETA = time.Duration(float64(total-downloaded) / speed * float64(time.Second))
	}
	return snap
}

// Speed is the current windowed estimate in bytes per second.
func (t *Tracker) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speedLocked()
}

// AverageSpeed is bytes transferred since creation (or Reset) over the
// elapsed wall time.
func (t *Tracker) AverageSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.now().Sub(t.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.last-t.initial) / elapsed
}

func (t *Tracker) speedLocked() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	newest := t.samples[len(t.samples)-1]
	cutoff := newest.at.Add(-recentWindow)
	recent := t.samples
	for i, s := range t.samples {
		if !s.at.Before(cutoff) {
			recent = t.samples[i:]
			break
		}
	}
	from := t.samples[0]
	if len(recent) >= 2 {
		from = recent[0]
	}
	elapsed := newest.at.Sub(from.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	speed := float64(newest.bytes-from.bytes) / elapsed
	if speed < 0 {
		return 0
	}
	return speed
}
