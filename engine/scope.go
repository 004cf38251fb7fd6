package engine

import (
	"github.com/gsequencer/ags"
)

type (
	// RecallAudio is the audio scope template of an effect. It owns the
	// effect's audio scope ports and, per RecallID, one RecallAudioRun.
	RecallAudio struct {
		recallBase
		attachment *Attachment
		audio      *Audio
		ports      []*ags.Port
		channels   []*RecallChannel
		data       any

		runs  map[*RecallID]*RecallAudioRun
		order []*RecallAudioRun
	}

	// RecallChannel is the channel scope template of an effect on one
	// channel. Its position in the channel's chain decides when its runs
	// process audio.
	RecallChannel struct {
		recallBase
		attachment *Attachment
		channel    *Channel
		audio      *RecallAudio // nil for effects without an audio scope
		ports      []*ags.Port
		data       any
		local      any // realtime state shared by the runs on this channel

		runs  map[*RecallID]*RecallChannelRun
		order []*RecallChannelRun
	}

	// RecallAudioRun holds the audio scope state of one RecallID.
	RecallAudioRun struct {
		recallBase
		template *RecallAudio
		children []*RecallChannelRun
	}

	// RecallChannelRun holds the channel scope state of one RecallID on one
	// channel.
	RecallChannelRun struct {
		recallBase
		template  *RecallChannel
		parent    *RecallAudioRun
		recycling *RecallRecycling
	}

	// RecallRecycling is bound to the recycling of its channel.
	RecallRecycling struct {
		recallBase
		recycling *Recycling
		parent    *RecallChannelRun
		signals   []*RecallAudioSignal
	}

	// RecallAudioSignal is bound to the AudioSignal of its RecallID in the
	// recycling. This is where samples are generated or transformed.
	RecallAudioSignal struct {
		recallBase
		signal *AudioSignal
		parent *RecallRecycling
	}
)

func (r *RecallAudio) Scope() Scope { return ScopeAudio }
func (r *RecallAudio) Ports() []*ags.Port { return r.ports }
func (r *RecallAudio) Parent() Recall { return nil }
func (r *RecallAudio) Audio() *Audio { return r.audio }
func (r *RecallAudio) Data() any { return r.data }
func (r *RecallAudio) Attachment() *Attachment { return r.attachment }
func (r *RecallAudio) Port(name string) *ags.Port {
	return ags.FindPort(r.ports, name)
}

func (r *RecallAudio) Children() []Recall {
	ret := make([]Recall, len(r.channels))
	for i, c := range r.channels {
		ret[i] = c
	}
	return ret
}

// ChannelTemplates returns the channel scope templates created together
// with this template, one per channel line.
func (r *RecallAudio) ChannelTemplates() []*RecallChannel { return r.channels }

func (r *RecallChannel) Scope() Scope { return ScopeChannel }
func (r *RecallChannel) Ports() []*ags.Port { return r.ports }
func (r *RecallChannel) Channel() *Channel { return r.channel }
func (r *RecallChannel) Data() any { return r.data }
func (r *RecallChannel) Attachment() *Attachment { return r.attachment }
func (r *RecallChannel) Children() []Recall { return nil }

func (r *RecallChannel) Parent() Recall {
	if r.audio == nil {
		return nil
	}
	return r.audio
}

// Port returns the named port of the channel template, falling back to
// the audio template.
func (r *RecallChannel) Port(name string) *ags.Port {
	if r.audio == nil {
		return ags.FindPort(r.ports, name)
	}
	return findPort(name, r.ports, r.audio.ports)
}

// localState returns the per-channel realtime state of a template,
// creating it on first use. Only the worker processing the template's
// channel touches it.
func localState[T any](r *RecallChannel, init func() *T) *T {
	if s, ok := r.local.(*T); ok {
		return s
	}
	s := init()
	r.local = s
	return s
}

func (r *RecallAudioRun) Scope() Scope { return ScopeAudio }
func (r *RecallAudioRun) Ports() []*ags.Port { return r.template.ports }
func (r *RecallAudioRun) Parent() Recall { return nil }
func (r *RecallAudioRun) Template() *RecallAudio { return r.template }
func (r *RecallAudioRun) Audio() *Audio { return r.template.audio }
func (r *RecallAudioRun) Port(n string) *ags.Port { return r.template.Port(n) }

func (r *RecallAudioRun) Children() []Recall {
	ret := make([]Recall, len(r.children))
	for i, c := range r.children {
		ret[i] = c
	}
	return ret
}

// Sibling returns the audio scope run of the named effect for the same
// RecallID, resolving dependencies between timing recalls.
func (r *RecallAudioRun) Sibling(name string) *RecallAudioRun {
	for _, t := range r.template.audio.templates {
		if t.plugin.Name == name {
			if run := t.runs[r.id]; run != nil {
				return run
			}
		}
	}
	return nil
}

// Runner returns the behaviour object of the run.
func (r *RecallAudioRun) Runner() Runner { return r.runner }

func (r *RecallChannelRun) Scope() Scope { return ScopeChannel }
func (r *RecallChannelRun) Ports() []*ags.Port { return r.template.ports }
func (r *RecallChannelRun) Template() *RecallChannel { return r.template }
func (r *RecallChannelRun) Channel() *Channel { return r.template.channel }
func (r *RecallChannelRun) Port(n string) *ags.Port { return r.template.Port(n) }

func (r *RecallChannelRun) Parent() Recall {
	if r.parent == nil {
		return nil
	}
	return r.parent
}

func (r *RecallChannelRun) Children() []Recall {
	if r.recycling == nil {
		return nil
	}
	return []Recall{r.recycling}
}

func (r *RecallRecycling) Scope() Scope { return ScopeRecycling }
func (r *RecallRecycling) Ports() []*ags.Port { return r.parent.template.ports }
func (r *RecallRecycling) Parent() Recall { return r.parent }
func (r *RecallRecycling) Recycling() *Recycling { return r.recycling }
func (r *RecallRecycling) ChannelRun() *RecallChannelRun { return r.parent }

func (r *RecallRecycling) Children() []Recall {
	ret := make([]Recall, len(r.signals))
	for i, s := range r.signals {
		ret[i] = s
	}
	return ret
}

func (r *RecallAudioSignal) Scope() Scope { return ScopeAudioSignal }
func (r *RecallAudioSignal) Ports() []*ags.Port { return r.parent.Ports() }
func (r *RecallAudioSignal) Parent() Recall { return r.parent }
func (r *RecallAudioSignal) Children() []Recall { return nil }
func (r *RecallAudioSignal) Signal() *AudioSignal { return r.signal }
func (r *RecallAudioSignal) ChannelRun() *RecallChannelRun { return r.parent.parent }
func (r *RecallAudioSignal) Channel() *Channel { return r.parent.recycling.channel }

// Port returns the named port visible to the signal: the channel
// template's ports first, then the audio template's.
func (r *RecallAudioSignal) Port(name string) *ags.Port {
	return r.parent.parent.template.Port(name)
}

// Template returns the channel template this signal run descends from.
func (r *RecallAudioSignal) Template() *RecallChannel { return r.parent.parent.template }

// Voice returns the voice the signal plays, nil for transport RecallIDs.
func (r *RecallAudioSignal) Voice() *Voice { return r.id.voice }
