package vidzohttp

// ChunkSpec is an inclusive byte range of the output.
type ChunkSpec struct {
	Index int
	Start int64
	End   int64
}

func (c ChunkSpec) Length() int64 {
	return c.End - c.Start + 1
}

type ChunkPlan struct {
	TotalSize int64
	ChunkSize int64
	Chunks    []ChunkSpec
}

// PlanChunks splits [0, total) into contiguous chunks of chunkSize bytes;
// the last chunk may be shorter.
func PlanChunks(total, chunkSize int64) ChunkPlan {
	plan := ChunkPlan{TotalSize: total, ChunkSize: chunkSize}
	if total <= 0 || chunkSize <= 0 {
		return plan
	}
	n := (total + chunkSize - 1) / chunkSize
	plan.Chunks = make([]ChunkSpec, 0, n)
	for i := range n {
		start := i * chunkSize
		plan.Chunks = append(plan.Chunks, ChunkSpec{
			Index: int(i),
			Start: start,
			End:   min(start+chunkSize, total) - 1,
		})
	}
	return plan
}
