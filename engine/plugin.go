package engine

import (
	"slices"

	"github.com/gsequencer/ags"
)

type (
	// Plugin describes an effect: which scopes it has templates at, the
	// ports of those templates and how its runs are created. Built-in
	// effects and bridged plugins are both described this way.
	Plugin struct {
		Name string
		// Effect is the URI of a bridged plugin, empty for built-ins.
		Effect string

		// AudioScope and ChannelScope select the template scopes created on
		// attach. An effect without an audio scope has independent channel
		// templates.
		AudioScope   bool
		ChannelScope bool

		// SoundScopes masks the sound scopes runs are created for, zero
		// meaning all of them.
		SoundScopes ags.SoundScopeMask
		Target      Target
		Flags       Flags

		AudioPorts   []ags.PortSpec
		ChannelPorts []ags.PortSpec

		// Setup runs once when the effect is attached, off the realtime
		// thread. The returned value is stored as Data of all the templates.
		Setup func(spec ags.PluginSpec, env SetupEnv) (any, error)

		NewAudioRun     func(r *RecallAudioRun) (Runner, error)
		NewChannelRun   func(r *RecallChannelRun) (Runner, error)
		NewRecyclingRun func(r *RecallRecycling) (Runner, error)
		NewSignalRun    func(r *RecallAudioSignal) (Runner, error)
	}

	// Target selects the kind of RecallIDs an effect creates runs for.
	Target int

	// SetupEnv is passed to Plugin.Setup.
	SetupEnv struct {
		SampleRate int
		BufferSize int
		Lines      []int
	}

	// Attachment is one effect attached to an audio: its audio scope
	// template, if any, and its channel scope templates.
	Attachment struct {
		Plugin *Plugin
		Spec   ags.PluginSpec
		Audio  *RecallAudio

		audio    *Audio
		data     any
		initial  []*RecallChannel
		channels []*RecallChannel // guarded by audio.mu
	}
)

const (
	// TargetAll creates runs for transports and voices.
	TargetAll Target = iota
	// TargetTransport creates runs only for transport RecallIDs. Sequencing
	// recalls use it.
	TargetTransport
	// TargetVoice creates runs only for voices. Generators use it.
	TargetVoice
)

func (p *Plugin) accepts(id *RecallID) bool {
	if p.SoundScopes != 0 && !p.SoundScopes.Has(id.scope) {
		return false
	}
	switch p.Target {
	case TargetTransport:
		return !id.IsVoice()
	case TargetVoice:
		return id.IsVoice()
	}
	return true
}

// Channels returns the channel scope templates of the attachment.
func (at *Attachment) Channels() []*RecallChannel {
	at.audio.mu.Lock()
	defer at.audio.mu.Unlock()
	return slices.Clone(at.channels)
}

// Channel returns the channel scope template on the given line, or nil.
func (at *Attachment) Channel(line int) *RecallChannel {
	for _, c := range at.Channels() {
		if c.channel.line == line {
			return c
		}
	}
	return nil
}

// Templates returns all templates of the attachment, the audio scope one
// first.
func (at *Attachment) Templates() []Recall {
	chs := at.Channels()
	ret := make([]Recall, 0, len(chs)+1)
	if at.Audio != nil {
		ret = append(ret, at.Audio)
	}
	for _, c := range chs {
		ret = append(ret, c)
	}
	return ret
}

func (at *Attachment) addChannel(c *RecallChannel) {
	at.audio.mu.Lock()
	at.channels = append(at.channels, c)
	at.audio.mu.Unlock()
}

func (at *Attachment) dropChannel(c *RecallChannel) {
	at.audio.mu.Lock()
	defer at.audio.mu.Unlock()
	if i := slices.Index(at.channels, c); i >= 0 {
		at.channels = slices.Delete(at.channels, i, i+1)
	}
}

func sortedNotes(notes []ags.Note) []ags.Note {
	ret := slices.Clone(notes)
	slices.SortStableFunc(ret, func(a, b ags.Note) int {
		if a.X0 != b.X0 {
			if a.X0 < b.X0 {
				return -1
			}
			return 1
		}
		return a.Y - b.Y
	})
	return ret
}
