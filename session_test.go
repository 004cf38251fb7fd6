package ags_test

import (
	"testing"

	"github.com/gsequencer/ags"
	"gopkg.in/yaml.v3"
)

const testSession = `
bpm: 140
audios:
  - name: drums
    pads: 2
    recalls:
      - name: ags-synth
      - name: ags-volume
        lines: [1]
        params: {volume: 0.5}
    pattern:
      lines: ["x...x...", "..x...x."]
      loop: true
    start: [sequencer]
`

func TestSessionUnmarshal(t *testing.T) {
	var s ags.Session
	if err := yaml.Unmarshal([]byte(testSession), &s); err != nil {
		t.Fatalf("could not unmarshal session: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("session does not validate: %v", err)
	}
	a := s.Audios[0]
	if len(a.Start) != 1 || a.Start[0] != ags.ScopeSequencer {
		t.Fatalf("expected start [sequencer], got %v", a.Start)
	}
	if a.Recalls[1].Params["volume"] != 0.5 || a.Recalls[1].Lines[0] != 1 {
		t.Fatalf("recall spec not read: %+v", a.Recalls[1])
	}
	if a.Pattern.Length() != 8 || !a.Pattern.Step(1, 2) || a.Pattern.Step(0, 1) {
		t.Fatalf("pattern not read: %+v", a.Pattern)
	}
}

func TestSessionValidate(t *testing.T) {
	tests := map[string]ags.Session{
		"bpm":      {BPM: 0},
		"pads":     {BPM: 120, Audios: []ags.AudioSpec{{Name: "a"}}},
		"dupe":     {BPM: 120, Audios: []ags.AudioSpec{{Name: "a", Pads: 1}, {Name: "a", Pads: 1}}},
		"note pad": {BPM: 120, Audios: []ags.AudioSpec{{Name: "a", Pads: 1, Notation: ags.Notation{Notes: []ags.Note{{X0: 0, X1: 1, Y: 1}}}}}},
		"note len": {BPM: 120, Audios: []ags.AudioSpec{{Name: "a", Pads: 1, Notation: ags.Notation{Notes: []ags.Note{{X0: 2, X1: 2}}}}}},
		"pattern":  {BPM: 120, Audios: []ags.AudioSpec{{Name: "a", Pads: 1, Pattern: ags.Pattern{Lines: []string{"x", "x"}}}}},
	}
	for name, s := range tests {
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestSoundScopeText(t *testing.T) {
	var s ags.SoundScope
	if err := s.UnmarshalText([]byte("Notation")); err != nil || s != ags.ScopeNotation {
		t.Fatalf("expected notation, got %v (%v)", s, err)
	}
	if err := s.UnmarshalText([]byte("midi")); err == nil {
		t.Fatal("expected an unknown scope to fail")
	}
	if !ags.AllScopes.Has(ags.ScopePlayback) || ags.ScopeSequencer.Mask().Has(ags.ScopeNotation) {
		t.Fatal("unexpected scope mask")
	}
}
