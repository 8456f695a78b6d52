package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cadenzalab/bmsrender/ipc"
	"github.com/cadenzalab/bmsrender/log"
	"github.com/cadenzalab/bmsrender/metrics"
	"github.com/cadenzalab/bmsrender/render"
	"github.com/cadenzalab/bmsrender/types"
)

// Worker runs the render side of the protocol. It reads controller
// messages from one framed stream, spawns one goroutine per RENDER job,
// and routes READ_FILES_RESPONSE messages to the suspended resolver of
// the matching job.
type Worker struct {
	dec       *ipc.Decoder
	messenger *Messenger
	cache     *CacheManager
	converter render.Converter
	logger    *log.Logger
	collector *metrics.Collector

	jobs sync.WaitGroup
}

// New creates a worker reading controller frames from r and writing its
// own messages to w. converter is the conversion capability; a nil
// converter makes capability bring-up fail.
func New(r io.Reader, w io.Writer, converter render.Converter, logger *log.Logger, collector *metrics.Collector) *Worker {
	return &Worker{
		dec:       ipc.NewDecoder(r),
		messenger: NewMessenger(w, logger),
		cache:     NewCacheManager(),
		converter: converter,
		logger:    logger,
		collector: collector,
	}
}

// Run executes the worker message loop until the controller closes its
// stream or a fatal frame error occurs. In-flight jobs are drained
// before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	defer w.jobs.Wait()

	for {
		payload, err := w.dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			w.logger.Error("frame error", map[string]any{
				"error": err.Error(),
			})
			return fmt.Errorf("frame error: %w", err)
		}

		msg, err := ipc.DecodeMessage(payload)
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				return fmt.Errorf("frame error: %w", err)
			}
			// Unknown kinds and decode failures degrade gracefully.
			w.logger.Warn("ignoring undecodable message", map[string]any{
				"error": err.Error(),
			})
			continue
		}

		switch msg := msg.(type) {
		case *types.Init:
			w.handleInit()
		case *types.Render:
			w.handleRender(ctx, msg)
		case *types.ReadFilesResponse:
			if !w.cache.ResolvePending(msg.ID, msg.Buffers) {
				w.collector.IncStaleResponses()
				w.logger.Warn("stale file response", map[string]any{
					"job_id":  msg.ID,
					"buffers": len(msg.Buffers),
				})
			}
		default:
			w.logger.Warn("unexpected message direction", map[string]any{
				"message": fmt.Sprintf("%T", msg),
			})
		}
	}
}

// handleInit performs capability bring-up. Failure is a global error
// with no correlation id.
func (w *Worker) handleInit() {
	if w.converter == nil {
		w.messenger.Send(&types.Error{
			Type:  types.KindError,
			Error: "render capability unavailable",
		})
		return
	}
	w.messenger.Send(&types.Init{Type: types.KindInit})
}

// handleRender starts one job goroutine. The goroutine owns the job's
// session cache and emits exactly one terminal RESULT or ERROR.
func (w *Worker) handleRender(ctx context.Context, msg *types.Render) {
	if err := msg.Options.Validate(); err != nil {
		w.messenger.Send(&types.Error{
			Type:  types.KindError,
			ID:    msg.ID,
			Error: fmt.Sprintf("invalid render options: %v", err),
		})
		return
	}

	w.jobs.Add(1)
	w.collector.IncJobStarted()
	go func() {
		defer w.jobs.Done()
		w.runJob(ctx, msg)
	}()
}

func (w *Worker) runJob(ctx context.Context, msg *types.Render) {
	logger := w.logger.WithJob(msg.ID)
	w.cache.CreateSession(msg.ID)
	defer w.cache.DeleteSession(msg.ID)

	jio := &jobIO{
		id:        msg.ID,
		resolver:  NewResolver(msg.ID, w.cache, w.messenger, w.collector),
		messenger: w.messenger,
		collector: w.collector,
		buffer:    &ChunkBuffer{},
	}

	err := w.convert(ctx, msg, jio)
	if err != nil {
		logger.Error("job failed", map[string]any{
			"error": err.Error(),
		})
		w.collector.IncJobFailed()
		w.messenger.Send(&types.Error{
			Type:  types.KindError,
			ID:    msg.ID,
			Error: err.Error(),
		})
		return
	}

	out := jio.buffer.Assemble()
	logger.Info("job completed", map[string]any{
		"bytes": len(out),
	})
	w.collector.IncJobCompleted()
	// The assembled buffer is moved to the controller.
	w.messenger.Send(&types.Result{
		Type:   types.KindResult,
		ID:     msg.ID,
		Buffer: out,
	})
}

// convert invokes the conversion routine, turning a panic into the
// job's terminal error.
func (w *Worker) convert(ctx context.Context, msg *types.Render, jio *jobIO) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	return w.converter(ctx, msg.EntryText, msg.Options, jio)
}

// jobIO adapts one job's worker-side machinery to the render.JobIO
// contract handed to the conversion routine.
type jobIO struct {
	id        string
	resolver  *Resolver
	messenger *Messenger
	collector *metrics.Collector
	buffer    *ChunkBuffer
}

func (j *jobIO) GetManyBytes(ctx context.Context, paths []string) ([][]byte, error) {
	return j.resolver.GetManyBytes(ctx, paths)
}

func (j *jobIO) EmitChunk(chunk []byte) {
	j.collector.AddChunk(int64(len(chunk)))
	j.buffer.Append(chunk)
}

func (j *jobIO) ReportProgress(pct int, stage string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.messenger.Send(&types.Progress{
		Type:     types.KindProgress,
		ID:       j.id,
		Progress: pct,
		Stage:    stage,
	})
}

var _ render.JobIO = (*jobIO)(nil)
