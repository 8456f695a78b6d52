// Package mix turns a parsed chart into PCM audio: it builds the tempo
// timeline, schedules sound events at sample-accurate offsets, and
// mixes decoded sources into fixed-duration output chunks.
package mix

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cadenzalab/bmsrender/bms"
)

// TempoEvent is a point on the integrated tempo timeline with its
// absolute timestamp.
type TempoEvent struct {
	Measure   int
	Position  float64
	BPM       float64
	Timestamp float64
}

// TempoMap is a precomputed tempo timeline converting musical positions
// to seconds or samples. Stops and measure length multipliers are
// already folded into the event timestamps.
type TempoMap struct {
	BaseMeasure int
	Events      []TempoEvent

	multipliers map[int]float64
	// Dense multipliers indexed from BaseMeasure, with a prefix sum for
	// span queries between measures.
	multVec []float64
	cumMult []float64
}

type rawTempoChange struct {
	measure  int
	position float64
	bpm      float64
}

type stopEvent struct {
	measure  int
	position float64
	// Duration in 1/192nd notes, per the STOP convention.
	duration192 float64
}

// BuildTempoMap builds a TempoMap from a parsed chart: the header BPM
// seeds the timeline, channel 03 carries hex BPM changes, channel 08
// references the BPM table, channel 09 references the stop table.
func BuildTempoMap(chart *bms.Chart) *TempoMap {
	baseMeasure := 0
	maxMeasure := 0
	for i, m := range chart.Messages {
		if i == 0 || m.Measure < baseMeasure {
			baseMeasure = m.Measure
		}
		if m.Measure > maxMeasure {
			maxMeasure = m.Measure
		}
	}
	for m := range chart.MeasureMultipliers {
		if m > maxMeasure {
			maxMeasure = m
		}
	}

	multVec := make([]float64, 0, maxMeasure-baseMeasure+1)
	for m := baseMeasure; m <= maxMeasure; m++ {
		mult := 1.0
		if v, ok := chart.MeasureMultipliers[m]; ok {
			mult = v
		}
		multVec = append(multVec, mult)
	}
	cumMult := make([]float64, 0, len(multVec))
	acc := 0.0
	for _, v := range multVec {
		cumMult = append(cumMult, acc)
		acc += v
	}

	changes := []rawTempoChange{{
		measure:  baseMeasure,
		position: 0,
		bpm:      chart.Header.BPM,
	}}
	for _, msg := range chart.Messages {
		n := float64(len(msg.Objects))
		if n == 0 {
			continue
		}
		for i, obj := range msg.Objects {
			position := float64(i) / n
			switch msg.Channel {
			case 3:
				// Channel 03: literal hex BPM (01-FF).
				if strings.EqualFold(obj, "00") {
					continue
				}
				if v, err := strconv.ParseUint(obj, 16, 8); err == nil && v > 0 {
					changes = append(changes, rawTempoChange{msg.Measure, position, float64(v)})
				}
			case 8:
				if strings.EqualFold(obj, "00") {
					continue
				}
				if bpm, ok := chart.Header.BPMTable[obj]; ok {
					changes = append(changes, rawTempoChange{msg.Measure, position, bpm})
				}
			}
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].measure != changes[j].measure {
			return changes[i].measure < changes[j].measure
		}
		return changes[i].position < changes[j].position
	})

	var stops []stopEvent
	for _, msg := range chart.Messages {
		if msg.Channel != 9 {
			continue
		}
		n := float64(len(msg.Objects))
		if n == 0 {
			continue
		}
		for i, obj := range msg.Objects {
			if strings.EqualFold(obj, "00") {
				continue
			}
			if dur, ok := chart.Header.StopTable[obj]; ok {
				stops = append(stops, stopEvent{msg.Measure, float64(i) / n, dur})
			}
		}
	}
	sort.SliceStable(stops, func(i, j int) bool {
		if stops[i].measure != stops[j].measure {
			return stops[i].measure < stops[j].measure
		}
		return stops[i].position < stops[j].position
	})

	tm := &TempoMap{
		BaseMeasure: baseMeasure,
		multipliers: chart.MeasureMultipliers,
		multVec:     multVec,
		cumMult:     cumMult,
	}
	tm.Events = tm.integrate(changes, stops)
	return tm
}

// integrate walks the ordered tempo changes, interleaving stop events,
// accumulating absolute timestamps as it goes.
func (tm *TempoMap) integrate(changes []rawTempoChange, stops []stopEvent) []TempoEvent {
	if len(changes) == 0 {
		return nil
	}

	var events []TempoEvent
	currentTime := 0.0
	currentMeasure := tm.BaseMeasure
	currentPosition := 0.0
	currentBPM := changes[0].bpm
	stopIdx := 0

	for _, change := range changes {
		if change.measure > currentMeasure ||
			(change.measure == currentMeasure && change.position > currentPosition) {
			for stopIdx < len(stops) {
				stop := stops[stopIdx]
				if stop.measure > change.measure ||
					(stop.measure == change.measure && stop.position >= change.position) {
					break
				}
				currentTime += tm.timeBetween(currentMeasure, currentPosition, stop.measure, stop.position, currentBPM)
				// A stop of N 1/192nds lasts N/48 beats at the current tempo.
				currentTime += (stop.duration192 / 48.0) * (60.0 / currentBPM)
				currentMeasure = stop.measure
				currentPosition = stop.position
				events = append(events, TempoEvent{
					Measure:   currentMeasure,
					Position:  currentPosition,
					BPM:       currentBPM,
					Timestamp: currentTime,
				})
				stopIdx++
			}
			currentTime += tm.timeBetween(currentMeasure, currentPosition, change.measure, change.position, currentBPM)
		}

		events = append(events, TempoEvent{
			Measure:   change.measure,
			Position:  change.position,
			BPM:       change.bpm,
			Timestamp: currentTime,
		})
		currentMeasure = change.measure
		currentPosition = change.position
		currentBPM = change.bpm
	}
	return events
}

// timeBetween is the wall time between two musical positions at a
// constant BPM, honoring measure multipliers. A 4/4 measure at mult 1
// spans four beats.
func (tm *TempoMap) timeBetween(fromMeasure int, fromPosition float64, toMeasure int, toPosition, bpm float64) float64 {
	baseMeasureSec := 4.0 * 60.0 / bpm
	if fromMeasure == toMeasure {
		return (toPosition - fromPosition) * baseMeasureSec * tm.multiplier(fromMeasure)
	}

	idxFrom := fromMeasure - tm.BaseMeasure
	idxTo := toMeasure - tm.BaseMeasure
	spanBetween := 0.0
	if idxTo > idxFrom+1 && idxTo < len(tm.cumMult) {
		spanBetween = tm.cumMult[idxTo] - tm.cumMult[idxFrom+1]
	}
	delta := (1.0-fromPosition)*tm.multAt(idxFrom) + spanBetween + toPosition*tm.multAt(idxTo)
	return delta * baseMeasureSec
}

func (tm *TempoMap) multiplier(measure int) float64 {
	if v, ok := tm.multipliers[measure]; ok {
		return v
	}
	return 1.0
}

func (tm *TempoMap) multAt(idx int) float64 {
	if idx >= 0 && idx < len(tm.multVec) {
		return tm.multVec[idx]
	}
	return 1.0
}

// Timestamp converts a musical position to seconds from the timeline
// origin.
func (tm *TempoMap) Timestamp(measure int, position float64) float64 {
	if measure < tm.BaseMeasure || len(tm.Events) == 0 {
		return 0
	}

	// Last event at or before the query position.
	idx := sort.Search(len(tm.Events), func(i int) bool {
		e := tm.Events[i]
		if e.Measure != measure {
			return e.Measure > measure
		}
		return e.Position > position
	})
	if idx == 0 {
		idx = 1
	}
	event := tm.Events[idx-1]

	if event.Measure == measure && event.Position == position {
		return event.Timestamp
	}
	return event.Timestamp + tm.timeBetween(event.Measure, event.Position, measure, position, event.BPM)
}

// TimestampSamples converts a musical position to a frame offset at the
// given sample rate.
func (tm *TempoMap) TimestampSamples(measure int, position float64, sampleRate int) int {
	sec := tm.Timestamp(measure, position)
	return int(sec*float64(sampleRate) + 0.5)
}
