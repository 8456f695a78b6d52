package mix

import (
	"strings"

	"github.com/cadenzalab/bmsrender/bms"
)

// SoundEvent schedules one audio source at an absolute sample offset in
// the interleaved output. End, when non-negative, truncates the source.
type SoundEvent struct {
	KeyID int
	Start int
	// End is the exclusive end sample, or -1 for the source's natural
	// length.
	End int
}

// playableChannel reports whether a channel carries key sounds: BGM
// (channel 01), the visible note lanes, and the long-note lanes.
func playableChannel(ch int) bool {
	switch {
	case ch == 1:
		return true
	case ch >= 37 && ch <= 45:
		return true
	case ch >= 73 && ch <= 81:
		return true
	case ch >= 181 && ch <= 189:
		return true
	case ch >= 217 && ch <= 225:
		return true
	}
	return false
}

func isLongNoteChannel(ch int) bool {
	return (ch >= 181 && ch <= 189) || (ch >= 217 && ch <= 225)
}

// ExtractSoundEvents walks the chart's playable channels and schedules
// one SoundEvent per object that maps to a known audio source.
// Long-note lanes sound only at the note head: LNTYPE 2 and LNOBJ end
// markers suppress the tail, and the toggle convention pairs repeated
// ids so the second occurrence closes the note silently.
func ExtractSoundEvents(chart *bms.Chart, tm *TempoMap, filenameToID map[string]int, sampleRate, channels int) []SoundEvent {
	var events []SoundEvent
	lnActive := make(map[int]struct{})
	lnOpenIDs := make(map[int]map[string]struct{})
	lnEndID := chart.Header.LNObj
	audio := chart.Header.AudioFiles

	for _, msg := range chart.Messages {
		if !playableChannel(msg.Channel) {
			continue
		}
		n := float64(len(msg.Objects))
		if n == 0 {
			continue
		}

		for i, obj := range msg.Objects {
			position := float64(i) / n
			startSample := tm.TimestampSamples(msg.Measure, position, sampleRate) * channels

			if isLongNoteChannel(msg.Channel) {
				lnType := chart.Header.LNType
				if lnType == 0 {
					lnType = 1
				}
				isZero := strings.EqualFold(obj, "00")

				if lnType == 2 {
					if lnEndID != "" && strings.EqualFold(obj, lnEndID) {
						delete(lnActive, msg.Channel)
						continue
					}
					if isZero {
						delete(lnActive, msg.Channel)
						continue
					}
					filename, known := audio[obj]
					if known {
						if _, open := lnActive[msg.Channel]; !open {
							lnActive[msg.Channel] = struct{}{}
						}
						if kid, ok := filenameToID[filename]; ok {
							events = append(events, SoundEvent{KeyID: kid, Start: startSample, End: -1})
						}
					}
					continue
				}

				if isZero {
					continue
				}
				open := lnOpenIDs[msg.Channel]
				if open == nil {
					open = make(map[string]struct{})
					lnOpenIDs[msg.Channel] = open
				}
				id := strings.ToUpper(obj)
				if _, dup := open[id]; dup {
					// Second occurrence closes the long note.
					delete(open, id)
					continue
				}
				if filename, known := audio[obj]; known {
					if kid, ok := filenameToID[filename]; ok {
						events = append(events, SoundEvent{KeyID: kid, Start: startSample, End: -1})
					}
				}
				open[id] = struct{}{}
				continue
			}

			if filename, known := audio[obj]; known {
				if kid, ok := filenameToID[filename]; ok {
					events = append(events, SoundEvent{KeyID: kid, Start: startSample, End: -1})
				}
			}
		}
	}
	return events
}
