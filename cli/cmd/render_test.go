package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestExpandChartArgs_FilesPassThrough(t *testing.T) {
	dir := t.TempDir()
	chart := writeFile(t, dir, "song.bms", "#TITLE x")

	got, err := expandChartArgs([]string{chart})
	if err != nil {
		t.Fatalf("expandChartArgs failed: %v", err)
	}
	if len(got) != 1 || got[0] != chart {
		t.Errorf("paths = %v, want [%s]", got, chart)
	}
}

func TestExpandChartArgs_DirectoryCollectsCharts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.bme", "#TITLE b")
	writeFile(t, dir, "a.bms", "#TITLE a")
	writeFile(t, dir, "readme.txt", "not a chart")
	writeFile(t, dir, "kick.wav", "not a chart either")

	got, err := expandChartArgs([]string{dir})
	if err != nil {
		t.Fatalf("expandChartArgs failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.bms"), filepath.Join(dir, "b.bme")}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("paths = %v, want %v", got, want)
	}
}

func TestExpandChartArgs_EmptyDirectoryFails(t *testing.T) {
	if _, err := expandChartArgs([]string{t.TempDir()}); err == nil {
		t.Error("expected error for a directory with no charts")
	}
}

func TestExpandChartArgs_MissingPathFails(t *testing.T) {
	if _, err := expandChartArgs([]string{filepath.Join(t.TempDir(), "nope.bms")}); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name    string
		flagDir string
		cfgDir  string
		chart   string
		want    string
	}{
		{"next to chart", "", "", filepath.Join("songs", "night.bms"), filepath.Join("songs", "night.wav")},
		{"config dir", "", "out", filepath.Join("songs", "night.bms"), filepath.Join("out", "night.wav")},
		{"flag overrides config", "flagout", "out", filepath.Join("songs", "night.bms"), filepath.Join("flagout", "night.wav")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outputPath(tt.flagDir, tt.cfgDir, tt.chart); got != tt.want {
				t.Errorf("outputPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadJob_IndexesSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	chart := writeFile(t, dir, "night.bms", "#TITLE night")
	writeFile(t, dir, "kick.wav", "pcm")
	sub := filepath.Join(dir, "se")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "clap.wav", "pcm2")

	item, err := loadJob(chart)
	if err != nil {
		t.Fatalf("loadJob failed: %v", err)
	}
	if item.Name != "night" || item.EntryName != "night.bms" {
		t.Errorf("item = %q / %q, want night / night.bms", item.Name, item.EntryName)
	}
	if item.EntryText != "#TITLE night" {
		t.Errorf("entry text = %q", item.EntryText)
	}
	for _, want := range []string{"night.bms", "kick.wav", "se/clap.wav"} {
		if _, ok := item.Files[want]; !ok {
			t.Errorf("file set missing %q: %v", want, keys(item.Files))
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
