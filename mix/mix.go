package mix

import "sort"

// ChunkSeconds is the output chunk duration used for parallel mixing.
const ChunkSeconds = 1

// Decoded is one audio source as interleaved float32 samples at the
// output rate and channel count. A zero value stands in for a source
// that was missing or failed to decode.
type Decoded struct {
	Samples []float32
	Frames  int
}

// EventRef is a validated, truncated sound event ready for mixing. End
// is always exclusive and greater than Start.
type EventRef struct {
	KeyID int
	Start int
	End   int
}

// Prepared holds the arranged events and the total interleaved output
// length they require.
type Prepared struct {
	Events   []EventRef
	TotalLen int
}

// PrepareEvents validates and arranges timeline events for mixing: each
// event gets its natural end from its source length, and events of the
// same source truncate at the next start of that source so a retrigger
// cuts the previous playback.
func PrepareEvents(events []SoundEvent, decoded []Decoded, channels int) Prepared {
	pre := make([]EventRef, 0, len(events))
	totalLen := 0
	for _, ev := range events {
		if ev.KeyID < 0 || ev.KeyID >= len(decoded) {
			continue
		}
		end := ev.Start + decoded[ev.KeyID].Frames*channels
		if ev.End >= 0 {
			end = ev.End
		}
		if end <= ev.Start {
			continue
		}
		pre = append(pre, EventRef{KeyID: ev.KeyID, Start: ev.Start, End: end})
		if end > totalLen {
			totalLen = end
		}
	}
	sort.SliceStable(pre, func(i, j int) bool { return pre[i].Start < pre[j].Start })

	// Walk backwards so each event sees the next start of its own
	// source.
	final := make([]EventRef, 0, len(pre))
	nextStart := make(map[int]int, len(pre))
	for i := len(pre) - 1; i >= 0; i-- {
		ev := pre[i]
		end := ev.End
		if ns, ok := nextStart[ev.KeyID]; ok && ns < end {
			end = ns
		}
		nextStart[ev.KeyID] = ev.Start
		if end > ev.Start {
			final = append(final, EventRef{KeyID: ev.KeyID, Start: ev.Start, End: end})
		}
	}
	for i, j := 0, len(final)-1; i < j; i, j = i+1, j-1 {
		final[i], final[j] = final[j], final[i]
	}
	return Prepared{Events: final, TotalLen: totalLen}
}

// ChunkSamples is the interleaved sample count of one full chunk.
func ChunkSamples(sampleRate, channels int) int {
	return sampleRate * channels * ChunkSeconds
}

// BucketizeEvents groups event indices into fixed-duration chunks.
// buckets[c] holds the indices of events intersecting chunk c.
func BucketizeEvents(events []EventRef, totalLen, chunkSamples int) (int, [][]int) {
	chunkCount := (totalLen + chunkSamples - 1) / chunkSamples
	buckets := make([][]int, chunkCount)
	for idx, ev := range events {
		startChunk := ev.Start / chunkSamples
		endChunk := (ev.End - 1) / chunkSamples
		if endChunk >= chunkCount {
			endChunk = chunkCount - 1
		}
		for c := startChunk; c <= endChunk; c++ {
			buckets[c] = append(buckets[c], idx)
		}
	}
	return chunkCount, buckets
}

// MixChunk mixes chunk ci into a fresh buffer by summing each
// intersecting event's overlapping span of source samples.
func MixChunk(ci int, events []EventRef, decoded []Decoded, bucket []int, totalLen, chunkSamples int) []float32 {
	start := ci * chunkSamples
	end := start + chunkSamples
	if end > totalLen {
		end = totalLen
	}
	buf := make([]float32, end-start)
	for _, evIdx := range bucket {
		ev := events[evIdx]
		src := decoded[ev.KeyID].Samples

		overlapStart := max(start, ev.Start)
		overlapEnd := min(min(end, ev.End), ev.Start+len(src))
		if overlapStart >= overlapEnd {
			continue
		}
		srcOff := overlapStart - ev.Start
		dstOff := overlapStart - start
		for i := 0; i < overlapEnd-overlapStart; i++ {
			buf[dstOff+i] += src[srcOff+i]
		}
	}
	return buf
}
