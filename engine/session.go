package engine

import (
	"github.com/gsequencer/ags"
	"github.com/pkg/errors"
)

// LoadSession creates the audios of a session, attaches their recalls and
// starts the requested sound scopes. On error the audios created so far
// stay in the engine; the engine should be discarded.
func (e *Engine) LoadSession(s *ags.Session) ([]*Audio, error) {
	if err := s.Validate(); err != nil {
		return nil, &ags.ConfigError{Op: "load session", Err: err}
	}
	tact := s.DelayFactor
	if tact == 0 {
		tact = ags.DefaultDelayFactor
	}
	audios := make([]*Audio, 0, len(s.Audios))
	for _, as := range s.Audios {
		a := e.NewAudio(as.Name, as.AudioChannels, as.Pads)
		a.SetNotation(as.Notation)
		a.SetPattern(as.Pattern)
		for _, spec := range as.Recalls {
			if _, err := e.Attach(a, spec); err != nil {
				return nil, errors.Wrapf(err, "audio %s", as.Name)
			}
		}
		if d := a.Template(delayName); d != nil {
			d.Port("bpm").SetFloat(s.BPM)
			d.Port("tact").SetFloat(tact)
		}
		if c := a.Template(countBeatsName); c != nil {
			n := as.Notation
			c.Port("notation-loop").SetBool(n.Loop)
			c.Port("notation-loop-start").SetUint(n.LoopStart)
			c.Port("notation-loop-end").SetUint(n.LoopEnd)
			c.Port("sequencer-loop").SetBool(as.Pattern.Loop)
		}
		audios = append(audios, a)
	}
	for i, as := range s.Audios {
		for _, scope := range as.Start {
			e.Start(audios[i], scope)
		}
	}
	return audios, nil
}
