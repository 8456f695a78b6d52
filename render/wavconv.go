package render

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/cadenzalab/bmsrender/bms"
	"github.com/cadenzalab/bmsrender/log"
	"github.com/cadenzalab/bmsrender/metrics"
	"github.com/cadenzalab/bmsrender/mix"
	"github.com/cadenzalab/bmsrender/types"
)

// Conversion failure modes.
var (
	ErrNoSoundEvents = errors.New("no sound events found")
	ErrNothingToMix  = errors.New("nothing to mix")
)

// NewWAVConverter returns the reference Converter: it parses the entry
// chart, pulls the referenced audio sources through jio, mixes them on
// the tempo timeline, and emits a WAV stream (header first, then PCM
// chunks in order).
func NewWAVConverter(logger *log.Logger, collector *metrics.Collector) Converter {
	if logger == nil {
		logger = log.NewNop()
	}
	c := &wavConverter{logger: logger, collector: collector}
	return c.convert
}

type wavConverter struct {
	logger    *log.Logger
	collector *metrics.Collector
}

func (c *wavConverter) convert(ctx context.Context, entryText string, opts types.RenderOptions, jio JobIO) error {
	jio.ReportProgress(5, "Parsing BMS")
	chart, err := bms.Parse(entryText)
	if err != nil {
		return fmt.Errorf("BMS parse error: %w", err)
	}
	tm := mix.BuildTempoMap(chart)
	jio.ReportProgress(10, "Building tempo map")

	filenames := chart.AudioFileNames()
	filenameToID := make(map[string]int, len(filenames))
	for i, f := range filenames {
		filenameToID[f] = i
	}

	events := mix.ExtractSoundEvents(chart, tm, filenameToID, opts.SampleRate, opts.Channels)
	if len(events) == 0 {
		return ErrNoSoundEvents
	}

	// Request only the sources the timeline actually uses.
	usedIDs := make(map[int]struct{}, len(events))
	for _, ev := range events {
		usedIDs[ev.KeyID] = struct{}{}
	}
	orderedIDs := make([]int, 0, len(usedIDs))
	for id := range usedIDs {
		orderedIDs = append(orderedIDs, id)
	}
	sort.Ints(orderedIDs)
	paths := make([]string, len(orderedIDs))
	for i, id := range orderedIDs {
		paths[i] = filenames[id]
	}

	jio.ReportProgress(15, "Loading audio files")
	buffers, err := jio.GetManyBytes(ctx, paths)
	if err != nil {
		return fmt.Errorf("loading audio files: %w", err)
	}
	if len(buffers) != len(paths) {
		return fmt.Errorf("loading audio files: got %d buffers for %d paths", len(buffers), len(paths))
	}

	jio.ReportProgress(20, "Decoding audio files")
	decoded := c.decodeAll(orderedIDs, paths, buffers, len(filenames), opts)
	jio.ReportProgress(50, "Audio decoded")

	jio.ReportProgress(55, "Preparing events")
	prepared := mix.PrepareEvents(events, decoded, opts.Channels)
	if prepared.TotalLen == 0 {
		return ErrNothingToMix
	}
	chunkSamples := mix.ChunkSamples(opts.SampleRate, opts.Channels)
	chunkCount, buckets := mix.BucketizeEvents(prepared.Events, prepared.TotalLen, chunkSamples)
	jio.ReportProgress(60, "Mixing audio")

	floatFormat := opts.Format == types.SampleFormatFloat
	header, err := mix.EncodeWAVHeader(prepared.TotalLen, opts.SampleRate, opts.Channels, opts.BitDepth, floatFormat)
	if err != nil {
		return err
	}
	jio.EmitChunk(header)
	jio.ReportProgress(65, "Writing WAV header")

	c.mixAndEmit(prepared, decoded, buckets, chunkCount, chunkSamples, floatFormat, jio)
	return nil
}

// decodeAll decodes the fetched sources in parallel. Missing buffers
// and decode failures leave a zero Decoded slot so the timeline renders
// silence in their place.
func (c *wavConverter) decodeAll(orderedIDs []int, paths []string, buffers [][]byte, total int, opts types.RenderOptions) []mix.Decoded {
	decoded := make([]mix.Decoded, total)

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	for i, id := range orderedIDs {
		buf := buffers[i]
		if buf == nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id int, name string, buf []byte) {
			defer wg.Done()
			defer func() { <-sem }()
			d, err := mix.DecodeAudio(buf, opts.SampleRate, opts.Channels, opts.Resample)
			if err != nil {
				// Keep rendering without this source.
				c.collector.IncDecodeFailures()
				c.logger.Warn("audio decode failed", map[string]any{
					"file":  name,
					"error": err.Error(),
				})
				return
			}
			decoded[id] = d
		}(id, paths[i], buf)
	}
	wg.Wait()
	return decoded
}

// mixAndEmit mixes chunks on a bounded worker pool and emits them in
// index order through a reorder buffer.
func (c *wavConverter) mixAndEmit(prepared mix.Prepared, decoded []mix.Decoded, buckets [][]int, chunkCount, chunkSamples int, floatFormat bool, jio JobIO) {
	type mixed struct {
		ci      int
		samples []float32
	}
	results := make(chan mixed, runtime.GOMAXPROCS(0))

	go func() {
		var wg sync.WaitGroup
		sem := make(chan struct{}, runtime.GOMAXPROCS(0))
		for ci := 0; ci < chunkCount; ci++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(ci int) {
				defer wg.Done()
				defer func() { <-sem }()
				buf := mix.MixChunk(ci, prepared.Events, decoded, buckets[ci], prepared.TotalLen, chunkSamples)
				results <- mixed{ci: ci, samples: buf}
			}(ci)
		}
		wg.Wait()
		close(results)
	}()

	emit := func(samples []float32) {
		if floatFormat {
			jio.EmitChunk(mix.FloatChunkBytes(samples))
		} else {
			jio.EmitChunk(mix.Int16ChunkBytes(samples))
		}
	}

	pending := make(map[int][]float32)
	next := 0
	emitted := 0
	for r := range results {
		if r.ci != next {
			pending[r.ci] = r.samples
			continue
		}
		emit(r.samples)
		next++
		emitted++
		for {
			samples, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			emit(samples)
			next++
			emitted++
		}
		if emitted%10 == 0 || emitted == chunkCount {
			pct := 65 + int(float64(emitted)/float64(chunkCount)*30.0)
			jio.ReportProgress(pct, "Mixing audio")
		}
	}
}
