package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cadenzalab/bmsrender/bms"
	"github.com/cadenzalab/bmsrender/cli/render"
	"github.com/cadenzalab/bmsrender/mix"
)

// ProbeResponse summarizes a parsed chart without rendering it.
type ProbeResponse struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Genre      string  `json:"genre"`
	BPM        float64 `json:"bpm"`
	PlayLevel  int     `json:"play_level"`
	Messages   int     `json:"messages"`
	AudioFiles int     `json:"audio_files"`
	Events     int     `json:"sound_events"`
	Duration   string  `json:"duration"`
}

// TableData implements render.Tabular.
func (p ProbeResponse) TableData() ([]string, [][]string) {
	headers := []string{"TITLE", "ARTIST", "BPM", "LEVEL", "AUDIO", "EVENTS", "DURATION"}
	rows := [][]string{{
		p.Title,
		p.Artist,
		fmt.Sprintf("%g", p.BPM),
		fmt.Sprintf("%d", p.PlayLevel),
		fmt.Sprintf("%d", p.AudioFiles),
		fmt.Sprintf("%d", p.Events),
		p.Duration,
	}}
	return headers, rows
}

// ProbeCommand returns the probe command: parse a chart and report its
// metadata and timeline shape without touching any audio.
func ProbeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "Parse a BMS chart and show its metadata",
		ArgsUsage: "<chart.bms>",
		Flags:     ReadOnlyFlags(),
		Action:    probeAction,
	}
}

func probeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("probe requires exactly one chart path", 1)
	}

	out, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read chart: %v", err), 1)
	}

	chart, err := bms.Parse(string(data))
	if err != nil {
		return cli.Exit(fmt.Sprintf("parse chart: %v", err), 1)
	}

	tm := mix.BuildTempoMap(chart)
	filenames := chart.AudioFileNames()
	filenameToID := make(map[string]int, len(filenames))
	for i, f := range filenames {
		filenameToID[f] = i
	}
	events := mix.ExtractSoundEvents(chart, tm, filenameToID, 44100, 2)

	// The end of the last measure bounds the chart duration from below;
	// a sample-accurate figure would need the decoded sources.
	maxMeasure := 0
	for _, m := range chart.Messages {
		if m.Measure > maxMeasure {
			maxMeasure = m.Measure
		}
	}
	duration := tm.Timestamp(maxMeasure+1, 0)

	resp := ProbeResponse{
		Title:      chart.Header.Title,
		Artist:     chart.Header.Artist,
		Genre:      chart.Header.Genre,
		BPM:        chart.Header.BPM,
		PlayLevel:  chart.Header.PlayLevel,
		Messages:   len(chart.Messages),
		AudioFiles: len(filenames),
		Events:     len(events),
		Duration:   fmt.Sprintf("%.1fs", duration),
	}
	return out.Render(resp)
}
