package bms

import (
	"errors"
	"strings"
	"testing"
)

const sampleChart = `
*---------------------- HEADER FIELD

#PLAYER 1
#GENRE Techno
#TITLE Night Drive
#ARTIST someone
#BPM 150
#PLAYLEVEL 7
#RANK 2
#TOTAL 300.5
#LNTYPE 1
#LNOBJ ZZ

#WAV01 kick.wav
#WAV02 snare.ogg
#OGG03 hat.ogg
#WAVZZ end.wav
#BPM01 180.5
#STOP01 192

*---------------------- MAIN DATA FIELD

#00001:01010101
#00102:0.5
#00103:4B
#00108:01
#00109:01
#00211:0102
`

func TestParse_Header(t *testing.T) {
	chart, err := Parse(sampleChart)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	h := chart.Header
	if h.Player != 1 {
		t.Errorf("Player = %d, want 1", h.Player)
	}
	if h.Title != "Night Drive" {
		t.Errorf("Title = %q", h.Title)
	}
	if h.Artist != "someone" {
		t.Errorf("Artist = %q", h.Artist)
	}
	if h.Genre != "Techno" {
		t.Errorf("Genre = %q", h.Genre)
	}
	if h.BPM != 150 {
		t.Errorf("BPM = %g, want 150", h.BPM)
	}
	if h.PlayLevel != 7 {
		t.Errorf("PlayLevel = %d, want 7", h.PlayLevel)
	}
	if h.Total != 300.5 {
		t.Errorf("Total = %g", h.Total)
	}
	if h.LNObj != "ZZ" {
		t.Errorf("LNObj = %q, want ZZ", h.LNObj)
	}
}

func TestParse_Tables(t *testing.T) {
	chart, err := Parse(sampleChart)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	h := chart.Header
	if got := h.AudioFiles["01"]; got != "kick.wav" {
		t.Errorf("WAV01 = %q", got)
	}
	if got := h.AudioFiles["02"]; got != "snare.ogg" {
		t.Errorf("WAV02 = %q", got)
	}
	if got := h.AudioFiles["03"]; got != "hat.ogg" {
		t.Errorf("OGG03 = %q", got)
	}
	if got := h.BPMTable["01"]; got != 180.5 {
		t.Errorf("BPM01 = %g", got)
	}
	if got := h.StopTable["01"]; got != 192 {
		t.Errorf("STOP01 = %g", got)
	}
}

func TestParse_MessagesAndMultipliers(t *testing.T) {
	chart, err := Parse(sampleChart)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// The channel-02 line is a measure multiplier, not a message.
	if got := chart.MeasureMultipliers[1]; got != 0.5 {
		t.Errorf("multiplier[1] = %g, want 0.5", got)
	}
	for _, m := range chart.Messages {
		if m.Channel == 2 {
			t.Error("channel 02 line must not appear as a message")
		}
	}

	first := chart.Messages[0]
	if first.Measure != 0 || first.Channel != 1 {
		t.Errorf("first message = measure %d channel %d", first.Measure, first.Channel)
	}
	if len(first.Objects) != 4 {
		t.Fatalf("objects = %d, want 4", len(first.Objects))
	}
	for _, obj := range first.Objects {
		if obj != "01" {
			t.Errorf("object = %q, want 01", obj)
		}
	}
}

func TestParse_Base36Channel(t *testing.T) {
	// Channel "11" in base 36 is 37 (1P key lane 1).
	msg, err := ParseMessage("#00211:0102")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.Channel != 37 {
		t.Errorf("channel = %d, want 37", msg.Channel)
	}
	if msg.Measure != 2 {
		t.Errorf("measure = %d, want 2", msg.Measure)
	}
}

func TestParseMessage_ChannelOverflow(t *testing.T) {
	// The channel field is a single byte. "99" overflows base 36 (333)
	// and falls back to its decimal reading; "ZZ" fits neither base and
	// lands on channel 0.
	msg, err := ParseMessage("#00499:0102")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.Channel != 99 {
		t.Errorf("channel = %d, want decimal fallback 99", msg.Channel)
	}

	msg, err = ParseMessage("#004ZZ:0102")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.Channel != 0 {
		t.Errorf("channel = %d, want 0", msg.Channel)
	}
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"no hash", "00001:0101", ErrInvalidFormat},
		{"too short", "#001:", ErrInvalidFormat},
		{"no colon", "#000010101", ErrInvalidFormat},
		{"bad measure", "#xyz01:0101", ErrInvalidMeasure},
		{"odd objects", "#00001:010", ErrInvalidObjectData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage(tt.line)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseMessage(%q) = %v, want %v", tt.line, err, tt.want)
			}
		})
	}
}

func TestParse_IgnoresUnknownSections(t *testing.T) {
	text := strings.Join([]string{
		"*---------------------- EXPANSION FIELD",
		"#TITLE should not apply",
		"*---------------------- HEADER FIELD",
		"#TITLE real",
	}, "\n")

	chart, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if chart.Header.Title != "real" {
		t.Errorf("Title = %q, want %q", chart.Header.Title, "real")
	}
}

func TestParse_InvalidBPMDefaultsTo120(t *testing.T) {
	text := strings.Join([]string{
		"*---------------------- HEADER FIELD",
		"#BPM garbage",
	}, "\n")

	chart, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if chart.Header.BPM != 120 {
		t.Errorf("BPM = %g, want default 120", chart.Header.BPM)
	}
}

func TestAudioFileNames_SortedDeduped(t *testing.T) {
	text := strings.Join([]string{
		"*---------------------- HEADER FIELD",
		"#WAV01 kick.wav",
		"#WAV02 kick.wav",
		"#WAV03 bass.wav",
	}, "\n")

	chart, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	names := chart.AudioFileNames()
	want := []string{"bass.wav", "kick.wav"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		line string
		want Field
	}{
		{"*---------------------- HEADER FIELD", FieldHeader},
		{"*---------------------- MAIN DATA FIELD", FieldData},
		{"*---------------------- EXPANSION FIELD", FieldUnknown},
		{"#TITLE x", FieldUnknown},
	}
	for _, tt := range tests {
		if got := ParseField(tt.line); got != tt.want {
			t.Errorf("ParseField(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
