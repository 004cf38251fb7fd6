package midi_test

import (
	"path/filepath"
	"testing"

	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/engine"
	agsmidi "github.com/gsequencer/ags/midi"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

func writeSMF(t *testing.T) string {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
	var tr smf.Track
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(24, midi.NoteOff(0, 60))
	tr.Add(0, midi.NoteOn(0, 62, 80))
	tr.Add(0, midi.NoteOn(0, 90, 80)) // outside the pads
	tr.Add(48, midi.NoteOn(0, 62, 0))
	tr.Add(0, midi.NoteOn(0, 61, 90))
	tr.Close(96)
	if err := s.Add(tr); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "notes.mid")
	if err := s.WriteFile(path); err != nil {
		t.Fatalf("could not write midi file: %v", err)
	}
	return path
}

func TestReadNotation(t *testing.T) {
	n, err := agsmidi.ReadNotation(writeSMF(t), agsmidi.KeyMap{BaseKey: 60, Pads: 3}, 0)
	if err != nil {
		t.Fatalf("could not read notation: %v", err)
	}
	// a quarter note is 4 steps at the default delay factor
	want := []ags.Note{
		{X0: 0, X1: 1, Y: 0, Key: 60, Velocity: 100},
		{X0: 1, X1: 3, Y: 2, Key: 62, Velocity: 80},
		{X0: 3, X1: 7, Y: 1, Key: 61, Velocity: 90},
	}
	if len(n.Notes) != len(want) {
		t.Fatalf("expected %d notes, got %+v", len(want), n.Notes)
	}
	for i, w := range want {
		if n.Notes[i] != w {
			t.Errorf("note %d: expected %+v, got %+v", i, w, n.Notes[i])
		}
	}
	if n.Length() != 7 {
		t.Errorf("expected length 7, got %d", n.Length())
	}
}

func TestReadNotationMissingFile(t *testing.T) {
	if _, err := agsmidi.ReadNotation(filepath.Join(t.TempDir(), "none.mid"), agsmidi.KeyMap{Pads: 1}, 0); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestKeyMap(t *testing.T) {
	m := agsmidi.KeyMap{BaseKey: 36, Pads: 8}
	if pad, ok := m.Pad(38); !ok || pad != 2 {
		t.Errorf("expected pad 2, got %d (%v)", pad, ok)
	}
	for _, key := range []byte{35, 44} {
		if _, ok := m.Pad(key); ok {
			t.Errorf("key %d should be outside the pads", key)
		}
	}
	m.Fold = true
	if pad, ok := m.Pad(44); !ok || pad != 0 {
		t.Errorf("expected key 44 to fold to pad 0, got %d (%v)", pad, ok)
	}
	if _, ok := m.Pad(35); ok {
		t.Error("keys below the base key should not fold")
	}
}

func voices(e *engine.Engine) map[byte]int {
	keys := map[byte]int{}
	for _, a := range e.Snapshot().Audios {
		for _, id := range a.RecallIDs {
			if id.Voice {
				keys[id.Key]++
			}
		}
	}
	return keys
}

func TestPlayer(t *testing.T) {
	e := engine.New(engine.Options{BufferSize: 64})
	defer e.Close()
	a := e.NewAudio("keys", 1, 2)
	for _, spec := range []ags.PluginSpec{
		{Name: "ags-synth", Params: map[string]float64{"attack": 0, "release": 0}},
		{Name: "ags-play"},
	} {
		if _, err := e.Attach(a, spec); err != nil {
			t.Fatalf("could not attach %s: %v", spec.Name, err)
		}
	}
	p := agsmidi.NewPlayer(e, a, agsmidi.KeyMap{BaseKey: 48, Pads: 2}, nil)
	out := make(ags.AudioBuffer, 64)
	p.HandleMessage(midi.NoteOn(0, 49, 100), 0)
	p.HandleMessage(midi.NoteOn(0, 60, 100), 0) // no such pad
	if err := e.Tick(out); err != nil {
		t.Fatal(err)
	}
	if v := voices(e); len(v) != 1 || v[49] != 1 {
		t.Fatalf("expected one voice on key 49, got %v", v)
	}
	p.HandleMessage(midi.NoteOff(0, 49), 0)
	for i := 0; i < 8; i++ {
		if err := e.Tick(out); err != nil {
			t.Fatal(err)
		}
	}
	if v := voices(e); len(v) != 0 {
		t.Fatalf("expected the released voice to be removed, got %v", v)
	}
}
