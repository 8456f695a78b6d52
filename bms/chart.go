// Package bms parses BMS chart text: the header metadata and lookup
// tables, the per-measure per-channel timeline messages, and the
// measure length multipliers the tempo map needs.
package bms

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FieldPrefix marks section header lines in a BMS file.
const FieldPrefix = "*---------------------- "

// Field is a BMS section kind.
type Field int

// BMS section kinds.
const (
	FieldUnknown Field = iota
	FieldHeader
	FieldData
)

// ParseField parses a full section header line into a Field.
func ParseField(line string) Field {
	rest, ok := strings.CutPrefix(line, FieldPrefix)
	if !ok {
		return FieldUnknown
	}
	switch rest {
	case "HEADER FIELD":
		return FieldHeader
	case "MAIN DATA FIELD":
		return FieldData
	default:
		return FieldUnknown
	}
}

// Line parse errors.
var (
	ErrInvalidFormat     = errors.New("invalid BMS line format")
	ErrInvalidMeasure    = errors.New("invalid measure")
	ErrInvalidObjectData = errors.New("invalid object data (must be pairs of two chars)")
)

// Header holds a chart's metadata and lookup tables.
type Header struct {
	Player     int
	Genre      string
	Title      string
	Artist     string
	BPM        float64
	PlayLevel  int
	Rank       int
	StageFile  string
	Banner     string
	Difficulty int
	Total      float64
	LNType     int
	LNObj      string

	// AudioFiles maps object ids to audio file names (WAVxx / OGGxx).
	AudioFiles map[string]string
	// BPMTable maps BPMxx ids to BPM values.
	BPMTable map[string]float64
	// StopTable maps STOPxx ids to stop durations in 1/192nd notes.
	StopTable map[string]float64
}

func newHeader() Header {
	return Header{
		AudioFiles: make(map[string]string),
		BPMTable:   make(map[string]float64),
		StopTable:  make(map[string]float64),
	}
}

// parseLine consumes one header line. Malformed lines are ignored.
func (h *Header) parseLine(line string) {
	if !strings.HasPrefix(line, "#") {
		return
	}
	key, value, ok := strings.Cut(line[1:], " ")
	if !ok {
		return
	}
	key = strings.ToUpper(key)
	value = strings.Trim(strings.TrimSpace(value), `"`)

	switch {
	case key == "PLAYER":
		h.Player = atoiOr(value, h.Player)
	case key == "GENRE":
		h.Genre = value
	case key == "TITLE":
		h.Title = value
	case key == "ARTIST":
		h.Artist = value
	case key == "BPM":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			h.BPM = v
		} else {
			h.BPM = 120
		}
	case key == "PLAYLEVEL":
		h.PlayLevel = atoiOr(value, h.PlayLevel)
	case key == "RANK":
		h.Rank = atoiOr(value, h.Rank)
	case key == "STAGEFILE":
		h.StageFile = value
	case key == "BANNER":
		h.Banner = value
	case key == "DIFFICULTY":
		h.Difficulty = atoiOr(value, h.Difficulty)
	case key == "TOTAL":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			h.Total = v
		}
	case key == "LNTYPE":
		h.LNType = atoiOr(value, h.LNType)
	case key == "LNOBJ":
		h.LNObj = strings.ToUpper(value)
	case strings.HasPrefix(key, "WAV") || strings.HasPrefix(key, "OGG"):
		h.AudioFiles[key[3:]] = value
	case strings.HasPrefix(key, "BPM") && len(key) > 3:
		if v, err := strconv.ParseFloat(value, 64); err == nil && !isNonFinite(v) && v > 0 {
			h.BPMTable[strings.ToUpper(key[3:])] = v
		}
	case strings.HasPrefix(key, "STOP") && len(key) > 4:
		if v, err := strconv.ParseFloat(value, 64); err == nil && !isNonFinite(v) && v >= 0 {
			h.StopTable[strings.ToUpper(key[4:])] = v
		}
	}
}

func atoiOr(s string, fallback int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return fallback
}

func isNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Message is a per-measure, per-channel timeline line holding a list of
// 2-character object tokens.
type Message struct {
	Measure int
	Channel int
	Objects []string
}

// ParseMessage parses a "#mmmcc:oo..." data line. The channel field is
// base-36 (falling back to decimal), the object run must be an even
// number of characters.
func ParseMessage(line string) (Message, error) {
	if !strings.HasPrefix(line, "#") || len(line) < 7 || !strings.Contains(line, ":") {
		return Message{}, ErrInvalidFormat
	}

	measureStr := line[1:4]
	channelStr := line[4:6]
	_, objectsStr, _ := strings.Cut(line, ":")

	measure, err := strconv.Atoi(measureStr)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMeasure, err)
	}

	// The channel field is a single byte: a base-36 reading that does
	// not fit falls back to decimal, and garbage becomes channel 0.
	channel64, err := strconv.ParseUint(channelStr, 36, 8)
	if err != nil {
		if channel64, err = strconv.ParseUint(channelStr, 10, 8); err != nil {
			channel64 = 0
		}
	}
	channel := int(channel64)

	if len(objectsStr)%2 != 0 {
		return Message{}, ErrInvalidObjectData
	}
	objects := make([]string, 0, len(objectsStr)/2)
	for i := 0; i+2 <= len(objectsStr); i += 2 {
		objects = append(objects, objectsStr[i:i+2])
	}

	return Message{Measure: measure, Channel: channel, Objects: objects}, nil
}

// Chart is a fully parsed BMS file.
type Chart struct {
	Header   Header
	Messages []Message
	// MeasureMultipliers holds channel-02 measure length changes.
	MeasureMultipliers map[int]float64
}

// Parse parses BMS chart text. Unparseable data lines are skipped, so
// the result is best-effort rather than all-or-nothing.
func Parse(data string) (*Chart, error) {
	chart := &Chart{
		Header:             newHeader(),
		MeasureMultipliers: make(map[int]float64),
	}
	field := FieldUnknown

	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, FieldPrefix) {
			field = ParseField(line)
			continue
		}

		switch field {
		case FieldHeader:
			chart.Header.parseLine(line)
		case FieldData:
			if strings.HasPrefix(line, "#") && len(line) >= 7 && strings.EqualFold(line[4:6], "02") {
				if _, rest, ok := strings.Cut(line, ":"); ok {
					if measure, err := strconv.Atoi(line[1:4]); err == nil {
						if mult, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil && !isNonFinite(mult) && mult > 0 {
							chart.MeasureMultipliers[measure] = mult
						}
					}
					continue
				}
			}
			if msg, err := ParseMessage(line); err == nil {
				chart.Messages = append(chart.Messages, msg)
			}
		}
	}
	return chart, nil
}

// AudioFileNames returns the chart's referenced audio file names,
// deduplicated and sorted.
func (c *Chart) AudioFileNames() []string {
	seen := make(map[string]struct{}, len(c.Header.AudioFiles))
	names := make([]string, 0, len(c.Header.AudioFiles))
	for _, name := range c.Header.AudioFiles {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
