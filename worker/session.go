package worker

// ChunkBuffer accumulates one job's output chunks in arrival order.
// Chunk order as received defines final byte order; chunks are never
// reordered.
type ChunkBuffer struct {
	chunks [][]byte
	total  int
}

// Append takes ownership of chunk and records it as the next output
// segment. The caller must not touch chunk afterwards.
func (b *ChunkBuffer) Append(chunk []byte) {
	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)
}

// Len returns the accumulated byte count.
func (b *ChunkBuffer) Len() int {
	return b.total
}

// Assemble concatenates all chunks into one buffer. Called once at job
// completion.
func (b *ChunkBuffer) Assemble() []byte {
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}
