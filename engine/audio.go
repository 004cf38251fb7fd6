package engine

import (
	"sync"
	"sync/atomic"

	"github.com/gsequencer/ags"
)

type (
	// Audio is one instrument or machine: pads of audioChannels channels
	// each, sharing the audio scope recalls attached to it.
	Audio struct {
		name     string
		engine   *Engine
		layout   atomic.Pointer[layout]
		notation atomic.Pointer[ags.Notation]
		pattern  atomic.Pointer[ags.Pattern]

		mu       sync.Mutex // guards attached, never taken on the realtime thread
		attached []*Attachment

		// owned by the realtime thread
		templates []*RecallAudio
	}

	layout struct {
		audioChannels, pads int
		channels            []*Channel
	}

	// Channel is one line of an audio. It owns a recycling and the ordered
	// chain of channel scope templates attached to it.
	Channel struct {
		audio        *Audio
		pad          int
		audioChannel int
		line         int
		recycling    *Recycling
		chain        []*RecallChannel

		// out is mixed into the engine output at the end of the current
		// tick, next at the end of the following one.
		out, next []float32
	}

	// Recycling groups the audio signals of one channel, one per RecallID
	// playing on it.
	Recycling struct {
		channel *Channel
		signals map[*RecallID]*AudioSignal
	}

	// AudioSignal is the sample stream of one RecallID in a recycling, a
	// ring of fixed size buffers. The current buffer is cleared at the start
	// of each tick.
	AudioSignal struct {
		recycling *Recycling
		id        *RecallID
		ring      [][]float32
		index     int
		frames    int
		finished  bool
		position  int64
	}
)

func (a *Audio) Name() string { return a.name }

// Channels returns the current channels ordered by line. The slice must not
// be modified.
func (a *Audio) Channels() []*Channel { return a.layout.Load().channels }

func (a *Audio) AudioChannels() int { return a.layout.Load().audioChannels }
func (a *Audio) Pads() int { return a.layout.Load().pads }

func (a *Audio) Notation() ags.Notation {
	if n := a.notation.Load(); n != nil {
		return *n
	}
	return ags.Notation{}
}

func (a *Audio) Pattern() ags.Pattern {
	if p := a.pattern.Load(); p != nil {
		return *p
	}
	return ags.Pattern{}
}

// SetNotation replaces the notation played by ags-play-notation. Notes are
// kept sorted by onset.
func (a *Audio) SetNotation(n ags.Notation) {
	n.Notes = sortedNotes(n.Notes)
	a.notation.Store(&n)
}

func (a *Audio) SetPattern(p ags.Pattern) { a.pattern.Store(&p) }

// Attachments returns the effects attached to the audio in attach order.
func (a *Audio) Attachments() []*Attachment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Attachment(nil), a.attached...)
}

// Template returns the audio scope template of the first attached effect
// with the given name, or nil.
func (a *Audio) Template(name string) *RecallAudio {
	for _, at := range a.Attachments() {
		if at.Audio != nil && at.Plugin.Name == name {
			return at.Audio
		}
	}
	return nil
}

// ChannelTemplate returns the channel scope template of the first attached
// effect with the given name on line, or nil.
func (a *Audio) ChannelTemplate(name string, line int) *RecallChannel {
	for _, at := range a.Attachments() {
		if at.Plugin.Name != name {
			continue
		}
		if c := at.Channel(line); c != nil {
			return c
		}
	}
	return nil
}

func (a *Audio) register(at *Attachment) {
	a.mu.Lock()
	a.attached = append(a.attached, at)
	a.mu.Unlock()
}

func (a *Audio) unregister(at *Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, x := range a.attached {
		if x == at {
			a.attached = append(a.attached[:i], a.attached[i+1:]...)
			return
		}
	}
}

// newLayout builds the channels of a pads x audioChannels layout, reusing
// the channels of old that keep their pad and audio channel.
func newLayout(a *Audio, old *layout, audioChannels, pads, frames int) *layout {
	l := &layout{audioChannels: audioChannels, pads: pads, channels: make([]*Channel, 0, audioChannels*pads)}
	for p := 0; p < pads; p++ {
		for ac := 0; ac < audioChannels; ac++ {
			var c *Channel
			if old != nil && p < old.pads && ac < old.audioChannels {
				// the line of a live channel changes when the layout is swapped
				c = old.channels[p*old.audioChannels+ac]
			} else {
				c = newChannel(a, p, ac, frames)
				c.line = len(l.channels)
			}
			l.channels = append(l.channels, c)
		}
	}
	return l
}

func newChannel(a *Audio, pad, audioChannel, frames int) *Channel {
	c := &Channel{
		audio:        a,
		pad:          pad,
		audioChannel: audioChannel,
		out:          make([]float32, frames),
		next:         make([]float32, frames),
	}
	c.recycling = &Recycling{channel: c, signals: map[*RecallID]*AudioSignal{}}
	return c
}

func (c *Channel) Line() int { return c.line }
func (c *Channel) Pad() int { return c.pad }
func (c *Channel) AudioChannel() int { return c.audioChannel }
func (c *Channel) Audio() *Audio { return c.audio }
func (c *Channel) Recycling() *Recycling { return c.recycling }

// Chain returns the channel scope templates in processing order.
func (c *Channel) Chain() []*RecallChannel { return c.chain }

// Output returns the buffer mixed into the engine output at the end of the
// current tick.
func (c *Channel) Output() []float32 { return c.out }

// Delayed returns the buffer mixed into the engine output one tick later.
func (c *Channel) Delayed() []float32 { return c.next }

func (c *Channel) rotate(frames int) {
	c.out, c.next = c.next, c.out
	c.next = c.next[:frames]
	clear(c.next)
	c.out = c.out[:frames]
}

// Signal returns the audio signal of the RecallID in this recycling, or nil.
func (r *Recycling) Signal(id *RecallID) *AudioSignal { return r.signals[id] }

func (r *Recycling) Channel() *Channel { return r.channel }

func (r *Recycling) signal(id *RecallID, ringSize int) *AudioSignal {
	if s, ok := r.signals[id]; ok {
		return s
	}
	s := &AudioSignal{recycling: r, id: id, ring: make([][]float32, ringSize)}
	r.signals[id] = s
	return s
}

// Buffer returns the buffer of the current tick's frame window.
func (s *AudioSignal) Buffer() []float32 { return s.ring[s.index][:s.frames] }

// Previous returns the buffer of the previous tick.
func (s *AudioSignal) Previous() []float32 {
	return s.ring[(s.index+len(s.ring)-1)%len(s.ring)][:s.frames]
}

func (s *AudioSignal) RecallID() *RecallID { return s.id }

// Finish marks the end of the stream. The signal scope runs bound to it
// become DONE at the end of the tick.
func (s *AudioSignal) Finish() { s.finished = true }

func (s *AudioSignal) Finished() bool { return s.finished }

// Position returns the number of frames played before the current buffer.
func (s *AudioSignal) Position() int64 { return s.position }

func (s *AudioSignal) advance(frames int) {
	if s.frames > 0 {
		s.position += int64(s.frames)
	}
	s.index = (s.index + 1) % len(s.ring)
	for i, b := range s.ring {
		if cap(b) < frames {
			s.ring[i] = make([]float32, frames)
		}
	}
	s.frames = frames
	clear(s.ring[s.index][:frames])
}
