package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cadenzalab/bmsrender/adapter"
	adapterredis "github.com/cadenzalab/bmsrender/adapter/redis"
	adapterwebhook "github.com/cadenzalab/bmsrender/adapter/webhook"
	"github.com/cadenzalab/bmsrender/cli/config"
	clirender "github.com/cadenzalab/bmsrender/cli/render"
	"github.com/cadenzalab/bmsrender/controller"
	"github.com/cadenzalab/bmsrender/log"
	"github.com/cadenzalab/bmsrender/metrics"
	"github.com/cadenzalab/bmsrender/render"
	"github.com/cadenzalab/bmsrender/types"
	"github.com/cadenzalab/bmsrender/worker"
)

// Exit codes for the render command.
const (
	// ExitSuccess: every job completed.
	ExitSuccess = 0
	// ExitJobFailed: at least one job failed.
	ExitJobFailed = 1
	// ExitTransport: capability bring-up or the message transport broke.
	ExitTransport = 2
)

// RenderCommand returns the render command: it parses each chart,
// renders it to a WAV file next to it (or under --output-dir), and
// reports per-job outcomes.
func RenderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render BMS charts to WAV files",
		ArgsUsage: "<chart.bms> [<chart.bms>...]",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "Directory for output WAV files (default: next to each chart)",
			},
			&cli.IntFlag{
				Name:  "sample-rate",
				Usage: "Output sample rate in Hz",
			},
			&cli.IntFlag{
				Name:  "channels",
				Usage: "Output channel count (1 or 2)",
			},
			&cli.BoolFlag{
				Name:  "float",
				Usage: "Emit 32-bit float samples instead of 16-bit PCM",
			},
			&cli.StringFlag{
				Name:  "resample",
				Usage: "Resampling quality: linear or sinc",
			},
			&cli.StringSliceFlag{
				Name:  "resolve-ext",
				Usage: "Fallback extensions for audio file resolution, in priority order",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		}, ReadOnlyFlags()...),
		Action: renderAction,
	}
}

func renderAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("render requires at least one chart path", ExitJobFailed)
	}

	out, err := clirender.NewRenderer(c)
	if err != nil {
		return err
	}

	var cfg config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), ExitJobFailed)
		}
		cfg = *loaded
	}

	opts, err := renderOptions(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitJobFailed)
	}

	logger := log.NewLogger()
	if !c.Bool("verbose") {
		logger = log.NewNop()
	}
	collector := &metrics.Collector{}

	paths, err := expandChartArgs(c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), ExitJobFailed)
	}
	items := make([]*controller.QueueItem, 0, len(paths))
	for _, path := range paths {
		item, err := loadJob(path)
		if err != nil {
			return cli.Exit(err.Error(), ExitJobFailed)
		}
		items = append(items, item)
	}

	reports, err := runPipeline(c.Context, items, opts, resolvePolicy(c, cfg), logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("render pipeline: %v", err), ExitTransport)
	}

	bus, err := newAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(err.Error(), ExitJobFailed)
	}

	failed := 0
	rows := make(jobReportList, 0, len(reports))
	for i, rep := range reports {
		snap := rep.Item.Snapshot()
		row := jobRow{
			Name:     rep.Item.Name,
			JobID:    snap.ID,
			Status:   string(snap.Status),
			Missing:  snap.Missing,
			Duration: snap.Duration.Round(time.Millisecond).String(),
		}
		if rep.Err != nil {
			failed++
			row.Error = snap.Error
			if row.Error == "" {
				row.Error = rep.Err.Error()
			}
		} else {
			outPath := outputPath(c.String("output-dir"), cfg.OutputDir, paths[i])
			if err := os.WriteFile(outPath, rep.Item.Result(), 0o644); err != nil {
				failed++
				row.Status = string(controller.StatusFailed)
				row.Error = fmt.Sprintf("write output: %v", err)
			} else {
				row.Output = outPath
				row.Bytes = snap.OutputBytes
			}
		}
		rows = append(rows, row)
		publishEvent(c.Context, bus, row, snap.Duration)
	}
	if bus != nil {
		_ = bus.Close()
	}

	if err := out.Render(rows); err != nil {
		return err
	}
	if failed > 0 {
		return cli.Exit("", ExitJobFailed)
	}
	return nil
}

// runPipeline wires a worker and a dispatcher over in-process pipes and
// renders every item. The returned error covers transport and bring-up
// failures only; per-job outcomes live in the reports.
func runPipeline(ctx context.Context, items []*controller.QueueItem, opts types.RenderOptions, policy controller.ResolvePolicy, logger *log.Logger, collector *metrics.Collector) ([]controller.JobReport, error) {
	toWorkerR, toWorkerW := io.Pipe()
	toControllerR, toControllerW := io.Pipe()

	w := worker.New(toWorkerR, toControllerW, render.NewWAVConverter(logger.WithComponent("converter"), collector), logger.WithComponent("worker"), collector)
	d := controller.NewDispatcher(toWorkerW, toControllerR, controller.Options{
		Policy:    policy,
		Logger:    logger.WithComponent("controller"),
		Collector: collector,
	})

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(ctx)
		_ = toControllerW.Close()
	}()
	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- d.Run(ctx)
	}()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := d.Init(initCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("capability bring-up: %w", err)
	}

	reports := d.RenderAll(ctx, items, opts)

	// Closing the worker's inbound stream drains in-flight jobs and
	// shuts both loops down.
	_ = toWorkerW.Close()
	if err := <-workerDone; err != nil {
		return reports, err
	}
	if err := <-dispatcherDone; err != nil {
		return reports, err
	}
	return reports, nil
}

// expandChartArgs turns each argument into chart paths: a directory
// contributes every chart file directly inside it, sorted by name.
func expandChartArgs(args []string) ([]string, error) {
	chartExts := map[string]bool{".bms": true, ".bme": true, ".bml": true, ".pms": true}

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot stat %q: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot list %q: %w", arg, err)
		}
		found := 0
		for _, e := range entries {
			if e.IsDir() || !chartExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			paths = append(paths, filepath.Join(arg, e.Name()))
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("no chart files in %q", arg)
		}
	}
	return paths, nil
}

// loadJob reads the entry chart and indexes every file under its
// directory by slash-separated relative path.
func loadJob(path string) (*controller.QueueItem, error) {
	entryText, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read chart %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	files := make(map[string][]byte)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot index chart directory %q: %w", dir, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return controller.NewQueueItem(name, filepath.Base(path), string(entryText), files), nil
}

func renderOptions(c *cli.Context, cfg config.Config) (types.RenderOptions, error) {
	opts := types.DefaultRenderOptions()

	if cfg.Render.Channels > 0 {
		opts.Channels = cfg.Render.Channels
	}
	if cfg.Render.SampleRate > 0 {
		opts.SampleRate = cfg.Render.SampleRate
	}
	if cfg.Render.Format != "" {
		opts.Format = types.SampleFormat(cfg.Render.Format)
	}
	if cfg.Render.Resample != "" {
		opts.Resample = types.ResampleQuality(cfg.Render.Resample)
	}

	if c.IsSet("channels") {
		opts.Channels = c.Int("channels")
	}
	if c.IsSet("sample-rate") {
		opts.SampleRate = c.Int("sample-rate")
	}
	if c.Bool("float") {
		opts.Format = types.SampleFormatFloat
	}
	if c.IsSet("resample") {
		opts.Resample = types.ResampleQuality(c.String("resample"))
	}

	if opts.Format == types.SampleFormatFloat {
		opts.BitDepth = 32
	} else {
		opts.BitDepth = 16
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func resolvePolicy(c *cli.Context, cfg config.Config) controller.ResolvePolicy {
	policy := controller.DefaultResolvePolicy()
	if len(cfg.Resolve.Extensions) > 0 {
		policy.Extensions = cfg.Resolve.Extensions
	}
	policy.CaseSensitive = cfg.Resolve.CaseSensitive
	if exts := c.StringSlice("resolve-ext"); len(exts) > 0 {
		policy.Extensions = exts
	}
	return policy
}

func outputPath(flagDir, cfgDir, chartPath string) string {
	dir := filepath.Dir(chartPath)
	if cfgDir != "" {
		dir = cfgDir
	}
	if flagDir != "" {
		dir = flagDir
	}
	base := strings.TrimSuffix(filepath.Base(chartPath), filepath.Ext(chartPath))
	return filepath.Join(dir, base+".wav")
}

// newAdapter builds the configured event-bus adapter, or nil when none
// is configured.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		wcfg := adapterwebhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: adapterwebhook.DefaultRetries,
		}
		if retries >= 0 {
			wcfg.Retries = retries
		}
		return adapterwebhook.New(wcfg)
	case "redis":
		rcfg := adapterredis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: adapterredis.DefaultRetries,
		}
		if retries >= 0 {
			rcfg.Retries = retries
		}
		return adapterredis.New(rcfg)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

func publishEvent(ctx context.Context, bus adapter.Adapter, row jobRow, duration time.Duration) {
	if bus == nil {
		return
	}
	event := &adapter.JobCompletedEvent{
		EventType:   "job_completed",
		JobID:       row.JobID,
		Name:        row.Name,
		Status:      row.Status,
		OutputPath:  row.Output,
		OutputBytes: row.Bytes,
		Missing:     row.Missing,
		Error:       row.Error,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		DurationMs:  duration.Milliseconds(),
	}
	// Publishing is best-effort; a dead bus never fails the render.
	_ = bus.Publish(ctx, event)
}

// jobRow is one job's outcome in the render report.
type jobRow struct {
	Name     string   `json:"name"`
	JobID    string   `json:"job_id"`
	Status   string   `json:"status"`
	Output   string   `json:"output,omitempty"`
	Bytes    int      `json:"output_bytes,omitempty"`
	Missing  []string `json:"missing_files,omitempty"`
	Error    string   `json:"error,omitempty"`
	Duration string   `json:"duration"`
}

type jobReportList []jobRow

// TableData implements clirender.Tabular.
func (l jobReportList) TableData() ([]string, [][]string) {
	headers := []string{"NAME", "STATUS", "OUTPUT", "BYTES", "MISSING", "DURATION", "ERROR"}
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{
			r.Name,
			r.Status,
			r.Output,
			fmt.Sprintf("%d", r.Bytes),
			fmt.Sprintf("%d", len(r.Missing)),
			r.Duration,
			r.Error,
		})
	}
	return headers, rows
}
