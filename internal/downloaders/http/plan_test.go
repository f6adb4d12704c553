package vidzohttp

import "testing"

func TestPlanChunks(t *testing.T) {
	plan := PlanChunks(10_000_000, 2_000_000)
	if len(plan.Chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(plan.Chunks))
	}
	want := []ChunkSpec{
		{0, 0, 1_999_999},
		{1, 2_000_000, 3_999_999},
		{2, 4_000_000, 5_999_999},
		{3, 6_000_000, 7_999_999},
		{4, 8_000_000, 9_999_999},
	}
	for i, c := range plan.Chunks {
		if c != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestPlanChunksCoversRange(t *testing.T) {
	sizes := []int64{1, 2, 65535, 65536, 65537, 1_000_000, 10_000_001, 123_456_789}
	chunkSizes := []int64{1, 7, 64 * 1024, 1024 * 1024, 10 * 1024 * 1024}
	for _, total := range sizes {
		for _, cs := range chunkSizes {
			if total/cs > 1_000_000 {
				continue
			}
			plan := PlanChunks(total, cs)
			var next, sum int64
			for i, c := range plan.Chunks {
				if c.Index != i {
					t.Fatalf("total=%d cs=%d: chunk %d has index %d", total, cs, i, c.Index)
				}
				if c.Start != next {
					t.Fatalf("total=%d cs=%d: chunk %d starts at %d, want %d", total, cs, i, c.Start, next)
				}
				if c.Length() <= 0 || c.Length() > cs {
					t.Fatalf("total=%d cs=%d: chunk %d has length %d", total, cs, i, c.Length())
				}
				if i < len(plan.Chunks)-1 && c.Length() != cs {
					t.Fatalf("total=%d cs=%d: only the last chunk may be short", total, cs)
				}
				next = c.End + 1
				sum += c.Length()
			}
			if next != total || sum != total {
				t.Fatalf("total=%d cs=%d: plan covers %d bytes ending at %d", total, cs, sum, next)
			}
		}
	}
}

func TestPlanChunksEmpty(t *testing.T) {
	if n := len(PlanChunks(0, 1024).Chunks); n != 0 {
		t.Errorf("expected no chunks for empty file, got %d", n)
	}
	if n := len(PlanChunks(-1, 1024).Chunks); n != 0 {
		t.Errorf("expected no chunks for unknown size, got %d", n)
	}
	single := PlanChunks(500, 1024)
	if len(single.Chunks) != 1 || single.Chunks[0].End != 499 {
		t.Errorf("expected one short chunk, got %+v", single.Chunks)
	}
}
