package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenzalab/bmsrender/ipc"
	"github.com/cadenzalab/bmsrender/log"
	"github.com/cadenzalab/bmsrender/metrics"
	"github.com/cadenzalab/bmsrender/types"
)

// Options configures a Dispatcher.
type Options struct {
	// Policy controls logical-name resolution. Zero value gets
	// DefaultResolvePolicy.
	Policy ResolvePolicy
	// Logger defaults to a stderr logger.
	Logger *log.Logger
	// Collector is optional; nil disables metrics.
	Collector *metrics.Collector
	// OnGlobalError receives job-independent worker failures (no
	// correlation id). Optional; such errors are always logged.
	OnGlobalError func(errText string)
}

// pendingJob pairs one submitted job with its settlement channel and
// its prepared file index. The entry stays registered after settlement
// (settled flips under the dispatcher lock) so a Wait that starts late
// still collects the outcome parked in done.
type pendingJob struct {
	item    *QueueItem
	index   *FileIndex
	done    chan error
	settled bool
}

// Dispatcher is the controller-side half of the protocol. It pairs
// outgoing RENDER requests with pending settlements keyed by correlation
// id, answers the worker's READ_FILES requests from the owning job's
// file set, and settles jobs when their terminal message arrives.
//
// Routing is purely by correlation id: no ordering is assumed across
// different jobs' messages.
type Dispatcher struct {
	enc       *ipc.Encoder
	dec       *ipc.Decoder
	policy    ResolvePolicy
	logger    *log.Logger
	collector *metrics.Collector
	onGlobal  func(string)

	mu      sync.Mutex
	pending map[string]*pendingJob

	initCh chan error
}

// NewDispatcher creates a dispatcher writing frames to the worker via w
// and reading the worker's messages from r.
func NewDispatcher(w io.Writer, r io.Reader, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger()
	}
	if opts.Policy.Extensions == nil {
		opts.Policy = DefaultResolvePolicy()
	}
	return &Dispatcher{
		enc:       ipc.NewEncoder(w),
		dec:       ipc.NewDecoder(r),
		policy:    opts.Policy,
		logger:    opts.Logger,
		collector: opts.Collector,
		onGlobal:  opts.OnGlobalError,
		pending:   make(map[string]*pendingJob),
		initCh:    make(chan error, 1),
	}
}

// Run executes the receive loop until the worker closes its stream or a
// fatal frame error occurs. Callers typically run it in its own
// goroutine alongside Init/Submit/Wait.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		payload, err := d.dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			d.logger.Error("frame error", map[string]any{
				"error": err.Error(),
			})
			return fmt.Errorf("frame error: %w", err)
		}

		msg, err := ipc.DecodeMessage(payload)
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				return fmt.Errorf("frame error: %w", err)
			}
			d.logger.Warn("ignoring undecodable message", map[string]any{
				"error": err.Error(),
			})
			continue
		}

		d.handleMessage(msg)
	}
}

func (d *Dispatcher) handleMessage(msg any) {
	switch msg := msg.(type) {
	case *types.Init:
		select {
		case d.initCh <- nil:
		default:
		}
	case *types.Warn:
		d.logger.Warn("worker advisory", map[string]any{
			"message": msg.Message,
		})
	case *types.Progress:
		d.handleProgress(msg)
	case *types.Result:
		d.handleResult(msg)
	case *types.Error:
		d.handleError(msg)
	case *types.ReadFiles:
		// File resolution is asynchronous: it must not stall routing of
		// other jobs' messages.
		go d.handleReadFiles(msg)
	default:
		d.logger.Warn("unexpected message direction", map[string]any{
			"message": fmt.Sprintf("%T", msg),
		})
	}
}

func (d *Dispatcher) handleProgress(msg *types.Progress) {
	p := d.getPending(msg.ID)
	if p == nil {
		d.logger.Debug("progress for unknown job", map[string]any{
			"job_id": msg.ID,
		})
		return
	}
	p.item.setProgress(msg.Progress, msg.Stage)
}

// handleResult settles a job as Completed. A RESULT for an id with no
// pending entry is a logged no-op — the job's settlement may already
// have happened or the job was discarded.
func (d *Dispatcher) handleResult(msg *types.Result) {
	p := d.takePending(msg.ID)
	if p == nil {
		d.logger.Warn("result for unknown job", map[string]any{
			"job_id": msg.ID,
			"bytes":  len(msg.Buffer),
		})
		return
	}
	p.item.complete(msg.Buffer)
	p.done <- nil
}

// handleError settles a job as Failed, or surfaces a job-independent
// failure globally when the message carries no id.
func (d *Dispatcher) handleError(msg *types.Error) {
	if msg.ID == "" {
		d.logger.Error("worker failure", map[string]any{
			"error": msg.Error,
		})
		// Bring-up failures reject a waiting Init.
		select {
		case d.initCh <- errors.New(msg.Error):
		default:
		}
		if d.onGlobal != nil {
			d.onGlobal(msg.Error)
		}
		return
	}

	p := d.takePending(msg.ID)
	if p == nil {
		d.logger.Warn("error for unknown job", map[string]any{
			"job_id": msg.ID,
			"error":  msg.Error,
		})
		return
	}
	p.item.fail(msg.Error)
	p.done <- errors.New(msg.Error)
}

// handleReadFiles resolves each requested logical name against the
// job's file set. Names with no match contribute an explicit nil entry
// and are recorded on the item; this is non-fatal.
func (d *Dispatcher) handleReadFiles(msg *types.ReadFiles) {
	p := d.getPending(msg.ID)
	if p == nil {
		// No response is possible without the job's file set; the
		// worker-side wait stays pending (the protocol has no
		// cancellation), so make the anomaly visible.
		d.logger.Warn("file request for unknown job", map[string]any{
			"job_id": msg.ID,
			"paths":  len(msg.Paths),
		})
		return
	}

	buffers := make([][]byte, len(msg.Paths))
	var missing []string
	for i, name := range msg.Paths {
		if buf, found := p.index.Resolve(name); found {
			buffers[i] = buf
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		p.item.recordMissing(missing)
		d.collector.AddFilesMissing(int64(len(missing)))
		d.logger.Warn("files not found", map[string]any{
			"job_id": msg.ID,
			"names":  missing,
		})
	}

	if err := d.enc.WriteMessage(&types.ReadFilesResponse{
		Type:    types.KindReadFilesResponse,
		ID:      msg.ID,
		Buffers: buffers,
	}); err != nil {
		d.logger.Error("failed to answer file request", map[string]any{
			"job_id": msg.ID,
			"error":  err.Error(),
		})
	}
}

// getPending returns the live entry for id, or nil when the id is
// unknown or the job already settled.
func (d *Dispatcher) getPending(id string) *pendingJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[id]
	if !ok || p.settled {
		return nil
	}
	return p
}

// takePending claims the pending entry for id, or nil when the id is
// unknown or already claimed. Flipping settled under the lock
// guarantees at-most-once settlement; the entry itself stays in the map
// until Wait collects the outcome, so a settlement that races ahead of
// Wait is never dropped.
func (d *Dispatcher) takePending(id string) *pendingJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[id]
	if !ok || p.settled {
		return nil
	}
	p.settled = true
	return p
}

// Init requests capability bring-up and waits for the worker's answer.
func (d *Dispatcher) Init(ctx context.Context) error {
	if err := d.enc.WriteMessage(&types.Init{Type: types.KindInit}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}
	select {
	case err := <-d.initCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit registers item under a fresh correlation id and sends RENDER.
// The returned id keys the job until Wait settles it.
func (d *Dispatcher) Submit(item *QueueItem, opts types.RenderOptions) (string, error) {
	id := uuid.New().String()

	p := &pendingJob{
		item:  item,
		index: d.policy.NewIndex(item.Files),
		done:  make(chan error, 1),
	}
	d.mu.Lock()
	d.pending[id] = p
	d.mu.Unlock()

	item.submit(id)

	if err := d.enc.WriteMessage(&types.Render{
		Type:      types.KindRender,
		ID:        id,
		EntryText: item.EntryText,
		Options:   opts,
	}); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		item.fail(err.Error())
		return "", fmt.Errorf("send render: %w", err)
	}

	d.logger.Info("job submitted", map[string]any{
		"job_id": id,
		"name":   item.Name,
		"files":  len(item.Files),
	})
	return id, nil
}

// Wait blocks until the job settles and returns its outcome, even when
// the terminal message arrived before Wait was called. Per the protocol
// there is no job-level timeout: a job that never receives a terminal
// message waits until ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, id string) error {
	d.mu.Lock()
	p, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("wait: unknown job %q", id)
	}
	select {
	case err := <-p.done:
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobReport is one job's outcome from RenderAll.
type JobReport struct {
	Item     *QueueItem
	ID       string
	Err      error
	Duration time.Duration
}

// RenderAll submits every item concurrently and waits until each has
// reached Completed or Failed. One job's failure does not cancel its
// siblings; the report order matches the input order.
func (d *Dispatcher) RenderAll(ctx context.Context, items []*QueueItem, opts types.RenderOptions) []JobReport {
	reports := make([]JobReport, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		start := time.Now()
		id, err := d.Submit(item, opts)
		if err != nil {
			reports[i] = JobReport{Item: item, Err: err, Duration: time.Since(start)}
			continue
		}
		wg.Add(1)
		go func(i int, item *QueueItem, id string, start time.Time) {
			defer wg.Done()
			err := d.Wait(ctx, id)
			reports[i] = JobReport{Item: item, ID: id, Err: err, Duration: time.Since(start)}
		}(i, item, id, start)
	}
	wg.Wait()
	return reports
}
