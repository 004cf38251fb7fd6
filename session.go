package ags

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// SoundScope is the kind of activation a RecallID stands for.
	SoundScope int

	// SoundScopeMask is a set of sound scopes.
	SoundScopeMask uint8

	// Session describes a complete setup: the audios, the effects attached
	// to them and the material they play. It is what the ags-render command
	// loads from .yml or .json files.
	Session struct {
		BPM         float64     `yaml:"bpm" json:"bpm"`
		DelayFactor float64     `yaml:"delay-factor,omitempty" json:"delay-factor,omitempty"`
		Audios      []AudioSpec `yaml:"audios" json:"audios"`
	}

	// AudioSpec describes one audio (an instrument or machine) of a
	// session. It has Pads pads of AudioChannels channel lines each; an
	// AudioChannels of 0 means mono.
	AudioSpec struct {
		Name          string       `yaml:"name" json:"name"`
		AudioChannels int          `yaml:"audio-channels,omitempty" json:"audio-channels,omitempty"`
		Pads          int          `yaml:"pads" json:"pads"`
		Recalls       []PluginSpec `yaml:"recalls" json:"recalls"`
		Notation      Notation     `yaml:"notation,omitempty" json:"notation,omitempty"`
		Pattern       Pattern      `yaml:"pattern,omitempty" json:"pattern,omitempty"`
		Start         []SoundScope `yaml:"start,omitempty" json:"start,omitempty"`
	}

	// PluginSpec requests one effect. Name is either a built-in recall name
	// such as "ags-volume" or a plugin URI such as "lv2://uri" or
	// "ladspa://file.so/effect".
	PluginSpec struct {
		Name       string                       `yaml:"name" json:"name"`
		Lines      []int                        `yaml:"lines,omitempty" json:"lines,omitempty"`
		Params     map[string]float64           `yaml:"params,omitempty" json:"params,omitempty"`
		Automation map[string][]AutomationPoint `yaml:"automation,omitempty" json:"automation,omitempty"`
		File       string                       `yaml:"file,omitempty" json:"file,omitempty"`
		Bypass     bool                         `yaml:"bypass,omitempty" json:"bypass,omitempty"`
	}

	// Note is one note of a notation. X0 and X1 are step offsets; the note
	// sounds on pad Y.
	Note struct {
		X0       uint64 `yaml:"x0" json:"x0"`
		X1       uint64 `yaml:"x1" json:"x1"`
		Y        int    `yaml:"y" json:"y"`
		Key      byte   `yaml:"key,omitempty" json:"key,omitempty"`
		Velocity byte   `yaml:"velocity,omitempty" json:"velocity,omitempty"`
	}

	Notation struct {
		Notes     []Note `yaml:"notes,omitempty" json:"notes,omitempty"`
		Loop      bool   `yaml:"loop,omitempty" json:"loop,omitempty"`
		LoopStart uint64 `yaml:"loop-start,omitempty" json:"loop-start,omitempty"`
		LoopEnd   uint64 `yaml:"loop-end,omitempty" json:"loop-end,omitempty"`
	}

	// Pattern holds one string per pad; an 'x' at position i sets step i.
	Pattern struct {
		Lines []string `yaml:"lines,omitempty" json:"lines,omitempty"`
		Loop  bool     `yaml:"loop,omitempty" json:"loop,omitempty"`
		Key   byte     `yaml:"key,omitempty" json:"key,omitempty"`
	}
)

const (
	ScopePlayback SoundScope = iota
	ScopeSequencer
	ScopeNotation
	NumSoundScopes
)

const AllScopes SoundScopeMask = 1<<NumSoundScopes - 1

var soundScopeNames = [NumSoundScopes]string{"playback", "sequencer", "notation"}

func (s SoundScope) String() string {
	if s >= 0 && s < NumSoundScopes {
		return soundScopeNames[s]
	}
	return fmt.Sprintf("SoundScope(%d)", int(s))
}

func (s SoundScope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SoundScope) UnmarshalText(text []byte) error {
	for i, n := range soundScopeNames {
		if strings.EqualFold(n, string(text)) {
			*s = SoundScope(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sound scope %q", text)
}

func (s SoundScope) Mask() SoundScopeMask { return 1 << s }

func (m SoundScopeMask) Has(s SoundScope) bool { return m&s.Mask() != 0 }

// Length returns the number of steps of the pattern.
func (p Pattern) Length() int {
	l := 0
	for _, line := range p.Lines {
		l = max(l, len(line))
	}
	return l
}

// Step reports whether the given step of a pad is set.
func (p Pattern) Step(pad, step int) bool {
	if pad < 0 || pad >= len(p.Lines) || step < 0 || step >= len(p.Lines[pad]) {
		return false
	}
	c := p.Lines[pad][step]
	return c == 'x' || c == 'X'
}

// Length returns the offset just past the last note end.
func (n Notation) Length() uint64 {
	var l uint64
	for _, note := range n.Notes {
		l = max(l, note.X1)
	}
	return l
}

// Validate checks the session for errors that would make it unplayable.
func (s *Session) Validate() error {
	if s.BPM <= 0 {
		return errors.New("bpm should be > 0")
	}
	if s.DelayFactor < 0 {
		return errors.New("delay-factor should be >= 0")
	}
	names := map[string]bool{}
	for i, a := range s.Audios {
		if a.Pads <= 0 {
			return fmt.Errorf("audio %d (%s): pads should be > 0", i, a.Name)
		}
		if a.AudioChannels < 0 {
			return fmt.Errorf("audio %d (%s): audio-channels should be >= 0", i, a.Name)
		}
		if names[a.Name] {
			return fmt.Errorf("audio %d: duplicate name %q", i, a.Name)
		}
		names[a.Name] = true
		for _, n := range a.Notation.Notes {
			if n.X1 <= n.X0 {
				return fmt.Errorf("audio %s: note at %d has non-positive length", a.Name, n.X0)
			}
			if n.Y < 0 || n.Y >= a.Pads {
				return fmt.Errorf("audio %s: note at %d plays pad %d, audio has %d pads", a.Name, n.X0, n.Y, a.Pads)
			}
		}
		if len(a.Pattern.Lines) > a.Pads {
			return fmt.Errorf("audio %s: pattern has %d lines, audio has %d pads", a.Name, len(a.Pattern.Lines), a.Pads)
		}
	}
	return nil
}
