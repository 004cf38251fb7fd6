package engine

import (
	"github.com/gsequencer/ags"
)

type (
	// Snapshot is a description of the recall graph at a tick boundary.
	Snapshot struct {
		Tick   uint64
		Audios []AudioInfo
	}

	AudioInfo struct {
		Name          string
		AudioChannels int
		Pads          int
		Templates     []RecallInfo
		Runs          []RecallInfo
		RecallIDs     []RecallIDInfo
	}

	RecallInfo struct {
		Name     string
		Effect   string
		Scope    Scope
		State    State
		Flags    Flags
		Line     int // -1 at audio scope
		RecallID string
		Ports    []PortInfo
	}

	PortInfo struct {
		Name       string
		Value      string
		OutOfRange bool
	}

	RecallIDInfo struct {
		UUID   string
		Scope  ags.SoundScope
		State  State
		Voice  bool
		Key    byte
		Parent string
	}
)

// Snapshot describes the graph. It must be called from the goroutine that
// ticks the engine, or while the engine is not ticking.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{Tick: e.tickIndex}
	for _, a := range e.audios {
		l := a.layout.Load()
		info := AudioInfo{Name: a.name, AudioChannels: l.audioChannels, Pads: l.pads}
		for _, tpl := range a.templates {
			info.Templates = append(info.Templates, recallInfo(tpl, -1, true))
			for _, run := range tpl.order {
				info.Runs = append(info.Runs, recallInfo(run, -1, false))
			}
		}
		for _, c := range l.channels {
			for _, ct := range c.chain {
				info.Templates = append(info.Templates, recallInfo(ct, c.line, true))
				for _, cr := range ct.order {
					info.Runs = append(info.Runs, recallInfo(cr, c.line, false))
					if cr.recycling == nil {
						continue
					}
					info.Runs = append(info.Runs, recallInfo(cr.recycling, c.line, false))
					for _, sr := range cr.recycling.signals {
						info.Runs = append(info.Runs, recallInfo(sr, c.line, false))
					}
				}
			}
		}
		for _, id := range e.ids {
			if id.audio != a {
				continue
			}
			ri := RecallIDInfo{UUID: id.uuid.String(), Scope: id.scope, State: id.State(), Voice: id.voice != nil}
			if id.voice != nil {
				ri.Key = id.voice.Key
			}
			if id.parent != nil {
				ri.Parent = id.parent.uuid.String()
			}
			info.RecallIDs = append(info.RecallIDs, ri)
		}
		s.Audios = append(s.Audios, info)
	}
	return s
}

func recallInfo(r Recall, line int, withPorts bool) RecallInfo {
	b := r.base()
	ri := RecallInfo{Name: r.Name(), Effect: b.plugin.Effect, Scope: r.Scope(), State: r.State(), Flags: r.Flags(), Line: line}
	if id := r.RecallID(); id != nil {
		ri.RecallID = id.uuid.String()
	}
	if withPorts {
		for _, p := range r.Ports() {
			ri.Ports = append(ri.Ports, PortInfo{Name: p.Name(), Value: p.Get().String(), OutOfRange: outOfRange(p)})
		}
	}
	return ri
}

func outOfRange(p *ags.Port) bool {
	if !p.Bounded() {
		return false
	}
	lo, hi := p.Spec().Lower, p.Spec().Upper
	if p.Kind() == ags.KindFloatSlice {
		for _, v := range p.Floats() {
			if v < lo || v > hi {
				return true
			}
		}
		return false
	}
	v, err := p.Number()
	return err == nil && (v < lo || v > hi)
}

// Count returns the number of runs at the given scope and state over all
// audios.
func (s Snapshot) Count(scope Scope, state State) int {
	n := 0
	for _, a := range s.Audios {
		for _, r := range a.Runs {
			if r.Scope == scope && r.State == state {
				n++
			}
		}
	}
	return n
}

// Templates returns the number of templates at the given scope.
func (s Snapshot) Templates(scope Scope) int {
	n := 0
	for _, a := range s.Audios {
		for _, r := range a.Templates {
			if r.Scope == scope {
				n++
			}
		}
	}
	return n
}

// PortsOutOfRange returns the number of template ports holding a value
// outside their bounds.
func (s Snapshot) PortsOutOfRange() int {
	n := 0
	for _, a := range s.Audios {
		for _, r := range a.Templates {
			for _, p := range r.Ports {
				if p.OutOfRange {
					n++
				}
			}
		}
	}
	return n
}

func (s Scope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Playing returns the number of transports and free voices still in the
// graph.
func (s Snapshot) Playing() int {
	n := 0
	for _, a := range s.Audios {
		for _, id := range a.RecallIDs {
			if id.Parent == "" {
				n++
			}
		}
	}
	return n
}
