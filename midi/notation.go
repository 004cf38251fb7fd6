// Package midi connects MIDI to the engine: standard MIDI files are imported
// as notations and live note messages start and release voices.
package midi

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/gsequencer/ags"
	"gitlab.com/gomidi/midi/v2/smf"
)

// KeyMap maps MIDI keys to pads: key BaseKey plays pad 0, BaseKey+1 pad 1
// and so on. Keys outside the pads are ignored, unless Fold is set: then
// every key above BaseKey wraps around the pads.
type KeyMap struct {
	BaseKey byte
	Pads    int
	Fold    bool
}

func (m KeyMap) Pad(key byte) (int, bool) {
	pad := int(key) - int(m.BaseKey)
	if m.Fold && m.Pads > 0 && pad >= 0 {
		pad %= m.Pads
	}
	return pad, pad >= 0 && pad < m.Pads
}

// ReadNotation reads the notes of all tracks of a standard MIDI file. Note
// positions are converted to steps of the given delay factor; zero means
// ags.DefaultDelayFactor.
func ReadNotation(path string, keys KeyMap, delayFactor float64) (ags.Notation, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return ags.Notation{}, fmt.Errorf("could not read %s: %w", path, err)
	}
	return Notation(s, keys, delayFactor)
}

// Notation converts the notes of a parsed MIDI file. Notes still sounding at
// the end of their track end there.
func Notation(s *smf.SMF, keys KeyMap, delayFactor float64) (ags.Notation, error) {
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return ags.Notation{}, fmt.Errorf("unsupported MIDI time format %v", s.TimeFormat)
	}
	if delayFactor <= 0 {
		delayFactor = ags.DefaultDelayFactor
	}
	stepsPerBeat := ags.StepsPerTact * delayFactor
	toStep := func(tick uint64) uint64 {
		return uint64(math.Round(float64(tick) * stepsPerBeat / float64(ticks.Resolution())))
	}
	type pending struct {
		start    uint64
		velocity byte
	}
	var n ags.Notation
	for _, track := range s.Tracks {
		var tick uint64
		sounding := map[byte]pending{}
		end := func(key byte, at uint64) {
			p, ok := sounding[key]
			if !ok {
				return
			}
			delete(sounding, key)
			pad, _ := keys.Pad(key)
			x0, x1 := toStep(p.start), toStep(at)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			n.Notes = append(n.Notes, ags.Note{X0: x0, X1: x1, Y: pad, Key: key, Velocity: p.velocity})
		}
		for _, ev := range track {
			tick += uint64(ev.Delta)
			var channel, key, velocity uint8
			switch {
			case ev.Message.GetNoteOn(&channel, &key, &velocity) && velocity > 0:
				if _, ok := keys.Pad(key); !ok {
					continue
				}
				end(key, tick)
				sounding[key] = pending{start: tick, velocity: velocity}
			case ev.Message.GetNoteOn(&channel, &key, &velocity), ev.Message.GetNoteOff(&channel, &key, &velocity):
				end(key, tick)
			}
		}
		for _, key := range slices.Sorted(maps.Keys(sounding)) {
			end(key, tick)
		}
	}
	slices.SortStableFunc(n.Notes, func(a, b ags.Note) int {
		if c := cmp.Compare(a.X0, b.X0); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	return n, nil
}
