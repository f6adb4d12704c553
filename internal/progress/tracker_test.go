package progress

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSingleSampleHasNoSpeed(t *testing.T) {
	tr := newTrackerWithClock(newFakeClock().Now)
	snap := tr.Update(1000, 10000)
	if snap.Speed != 0 || snap.ETA != 0 {
		t.Errorf("expected zero speed and ETA, got %+v", snap)
	}
	if snap.Complete {
		t.Error("should not be complete")
	}
}

func TestSpeedAndETA(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(clock.Now)
	tr.Update(0, 10000)
	clock.Advance(time.Second)
	snap := tr.Update(1000, 10000)
	if math.Abs(snap.Speed-1000) > 0.001 {
		t.Errorf("expected 1000 B/s, got %f", snap.Speed)
	}
	if snap.ETA != 9*time.Second {
		t.Errorf("expected 9s ETA, got %v", snap.ETA)
	}
}

func TestSpeedUsesRecentSamples(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(clock.Now)
	// slow start, then fast for the last two seconds
	tr.Update(0, 1_000_000)
	clock.Advance(10 * time.Second)
	tr.Update(1000, 1_000_000)
	clock.Advance(time.Second)
	tr.Update(11000, 1_000_000)
	clock.Advance(time.Second)
	snap := tr.Update(21000, 1_000_000)
	// samples within 3s of the newest: t=10,11,12
	if math.Abs(snap.Speed-10000) > 0.001 {
		t.Errorf("expected 10000 B/s from recent samples, got %f", snap.Speed)
	}
}

func TestSpeedFallsBackToWholeWindow(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(clock.Now)
	tr.Update(0, 100000)
	clock.Advance(10 * time.Second)
	snap := tr.Update(5000, 100000)
	// only one sample within 3s, so oldest-to-newest is used
	if math.Abs(snap.Speed-500) > 0.001 {
		t.Errorf("expected 500 B/s, got %f", snap.Speed)
	}
}

func TestWindowKeepsLastTenSamples(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(clock.Now)
	for i := range 15 {
		tr.Update(int64(i*100), 100000)
		clock.Advance(10 * time.Second)
	}
	if len(tr.samples) != windowSize {
		t.Fatalf("expected %d samples, got %d", windowSize, len(tr.samples))
	}
	if tr.samples[0].bytes != 500 {
		t.Errorf("expected oldest retained sample at 500 bytes, got %d", tr.samples[0].bytes)
	}
}

func TestCompletion(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(clock.Now)
	tr.Update(0, 5000)
	clock.Advance(time.Second)
	snap := tr.Update(5000, 5000)
	if !snap.Complete {
		t.Error("expected complete")
	}
	if snap.ETA != 0 {
		t.Errorf("expected zero ETA when done, got %v", snap.ETA)
	}
	if snap.Percentage() != 100 {
		t.Errorf("expected 100%%, got %f", snap.Percentage())
	}

	unknown := tr.Update(5000, 0)
	if unknown.Complete {
		t.Error("unknown total must never be complete")
	}
	if unknown.Percentage() != 0 {
		t.Error("unknown total should report 0%")
	}
}

func TestResetAndAverageSpeed(t *testing.T) {
	clock := newFakeClock()
	tr := newTrackerWithClock(clock.Now)
	tr.Reset(4000)
	clock.Advance(2 * time.Second)
	tr.Update(6000, 10000)
	if avg := tr.AverageSpeed(); math.Abs(avg-1000) > 0.001 {
		t.Errorf("expected average of 1000 B/s excluding resumed bytes, got %f", avg)
	}
	if speed := tr.Speed(); math.Abs(speed-1000) > 0.001 {
		t.Errorf("expected windowed speed 1000 B/s, got %f", speed)
	}
}

func TestSnapshotStrings(t *testing.T) {
	tests := []struct {
		snap  Snapshot
		speed string
		eta   string
	}{
		{Snapshot{}, "0 B/s", "--:--"},
		{Snapshot{Speed: 2048, ETA: 75 * time.Second}, "2.0 KiB/s", "01:15"},
		{Snapshot{Speed: 5 * 1024 * 1024, ETA: 3725 * time.Second}, "5.0 MiB/s", "1:02:05"},
		{Snapshot{TotalSize: 10, Downloaded: 10, Complete: true}, "0 B/s", "done"},
	}
	for _, tt := range tests {
		if got := tt.snap.SpeedString(); got != tt.speed {
			t.Errorf("SpeedString() = %q, want %q", got, tt.speed)
		}
		if got := tt.snap.ETAString(); got != tt.eta {
			t.Errorf("ETAString() = %q, want %q", got, tt.eta)
		}
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				tr.Update(int64(n*100+j), 100000)
			}
		}(i)
	}
	wg.Wait()
	if len(tr.samples) != windowSize {
		t.Errorf("expected a full window, got %d", len(tr.samples))
	}
}
