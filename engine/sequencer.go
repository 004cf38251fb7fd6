package engine

import (
	"math"
	"sort"

	"github.com/gsequencer/ags"
)

type (
	// delayRun turns the tempo into steps: each tick it counts how many
	// steps start, keeping the fractional remainder so long runs don't
	// drift.
	delayRun struct {
		NopRunner
		run                      *RecallAudioRun
		bpm, tact                *ags.Port
		seqDelay, notationDelay  *ags.Port
		seqDuration, notDuration *ags.Port

		version uint64
		delay   float64
		acc     float64 // buffers left until the next step
		span    float64 // buffers covered by the current tick
		tick    uint64
		steps   int
		// maxSteps bounds the steps of one tick, from the shortest delay
		// the bpm and tact ports allow.
		maxSteps int
	}

	countBeatsRun struct {
		NopRunner
		run              *RecallAudioRun
		loop, start, end *ags.Port
		delay            *delayRun
		counter          uint64
		ended            bool
	}

	playNotationRun struct {
		NopRunner
		run *RecallAudioRun
	}

	copyPatternRun struct {
		NopRunner
		run *RecallAudioRun
	}
)

var delayPlugin = &Plugin{
	Name:        delayName,
	AudioScope:  true,
	Target:      TargetTransport,
	Flags:       FlagPersistent,
	SoundScopes: ags.AllScopes,
	AudioPorts: []ags.PortSpec{
		{Name: "bpm", Kind: ags.KindFloat, Lower: 1, Upper: 999, Default: ags.DefaultBPM},
		{Name: "tact", Kind: ags.KindFloat, Lower: 1.0 / 16, Upper: 16, Default: ags.DefaultDelayFactor},
		{Name: "sequencer-delay", Kind: ags.KindFloat, Flags: ags.PortOutput},
		{Name: "notation-delay", Kind: ags.KindFloat, Flags: ags.PortOutput},
		{Name: "sequencer-duration", Kind: ags.KindUint, Flags: ags.PortOutput},
		{Name: "notation-duration", Kind: ags.KindUint, Flags: ags.PortOutput},
	},
	NewAudioRun: func(r *RecallAudioRun) (Runner, error) {
		return &delayRun{
			run:           r,
			bpm:           r.Port("bpm"),
			tact:          r.Port("tact"),
			seqDelay:      r.Port("sequencer-delay"),
			notationDelay: r.Port("notation-delay"),
			seqDuration:   r.Port("sequencer-duration"),
			notDuration:   r.Port("notation-duration"),
		}, nil
	},
}

var countBeatsPlugin = &Plugin{
	Name:        countBeatsName,
	AudioScope:  true,
	Target:      TargetTransport,
	Flags:       FlagPersistent,
	SoundScopes: ags.AllScopes,
	AudioPorts: []ags.PortSpec{
		{Name: "sequencer-loop", Kind: ags.KindBool},
		{Name: "sequencer-loop-start", Kind: ags.KindUint},
		{Name: "sequencer-loop-end", Kind: ags.KindUint},
		{Name: "notation-loop", Kind: ags.KindBool},
		{Name: "notation-loop-start", Kind: ags.KindUint},
		{Name: "notation-loop-end", Kind: ags.KindUint},
	},
	NewAudioRun: func(r *RecallAudioRun) (Runner, error) {
		prefix := "notation-"
		if r.id.scope == ags.ScopeSequencer {
			prefix = "sequencer-"
		}
		return &countBeatsRun{
			run:   r,
			loop:  r.Port(prefix + "loop"),
			start: r.Port(prefix + "loop-start"),
			end:   r.Port(prefix + "loop-end"),
		}, nil
	},
}

var playNotationPlugin = &Plugin{
	Name:        playNotationName,
	AudioScope:  true,
	Target:      TargetTransport,
	Flags:       FlagPersistent,
	SoundScopes: ags.ScopeNotation.Mask() | ags.ScopePlayback.Mask(),
	NewAudioRun: func(r *RecallAudioRun) (Runner, error) {
		return &playNotationRun{run: r}, nil
	},
}

var copyPatternPlugin = &Plugin{
	Name:        copyPatternName,
	AudioScope:  true,
	Target:      TargetTransport,
	Flags:       FlagPersistent,
	SoundScopes: ags.ScopeSequencer.Mask(),
	AudioPorts: []ags.PortSpec{
		{Name: "key", Kind: ags.KindUint, Upper: 127, Default: 69},
	},
	NewAudioRun: func(r *RecallAudioRun) (Runner, error) {
		return &copyPatternRun{run: r}, nil
	},
}

func (d *delayRun) RunPre(t *Tick) error {
	d.advance(t)
	return nil
}

// advance counts the steps starting in this tick. It is idempotent within
// a tick so count-beats can call it regardless of attach order.
func (d *delayRun) advance(t *Tick) {
	if d.tick == t.Index {
		return
	}
	d.tick = t.Index
	if v := d.bpm.Version() + d.tact.Version(); v != d.version || d.delay == 0 {
		d.version = v
		d.recompute(t)
	}
	d.steps = 0
	d.span = 0
	if d.delay <= 0 || t.BufferSize <= 0 {
		return
	}
	// a partial tick covers only its share of a buffer
	d.span = float64(t.Frames) / float64(t.BufferSize)
	for d.acc < d.span && d.steps < d.maxSteps {
		d.steps++
		d.acc += d.delay
	}
	// Steps beyond maxSteps stay overdue (acc < 0) and start in the
	// following ticks.
	d.acc -= d.span
}

func (d *delayRun) recompute(t *Tick) {
	bpm, _ := d.bpm.Float()
	tact, _ := d.tact.Float()
	delay := ags.AbsoluteDelay(t.SampleRate, t.BufferSize, bpm, tact)
	if d.maxSteps == 0 {
		d.maxSteps = maxSteps(t, d.bpm.Spec().Upper, d.tact.Spec().Upper)
	}
	if delay == d.delay {
		return
	}
	if d.delay > 0 {
		// keep the position within the current step
		d.acc *= delay / d.delay
	}
	d.delay = delay
	seqDuration := ags.Duration(ags.StepsPerTact, delay)
	notDuration := ags.Duration(ags.NotationDefaultLength, delay)
	d.seqDelay.SetFloat(delay)
	d.notationDelay.SetFloat(delay)
	d.seqDuration.SetUint(seqDuration)
	d.notDuration.SetUint(notDuration)
	name := d.run.Audio().name
	t.Emit(DurationChangedEvent{Audio: name, Scope: ags.ScopeSequencer, Delay: delay, Duration: seqDuration})
	t.Emit(DurationChangedEvent{Audio: name, Scope: ags.ScopeNotation, Delay: delay, Duration: notDuration})
}

// maxSteps returns the number of steps a full buffer can hold at the given
// tempo and tact.
func maxSteps(t *Tick, bpm, tact float64) int {
	delay := ags.AbsoluteDelay(t.SampleRate, t.BufferSize, bpm, tact)
	if delay <= 0 {
		return 1
	}
	return int(math.Ceil(1/delay)) + 1
}

// Delay returns the current number of buffers per step.
func (d *delayRun) Delay() float64 { return d.delay }

// RunPre publishes the beat of the transport for this tick.
func (c *countBeatsRun) RunPre(t *Tick) error {
	id := c.run.id
	b := &id.beat
	b.Steps = 0
	if c.delay == nil {
		if s := c.run.Sibling(delayName); s != nil {
			c.delay, _ = s.runner.(*delayRun)
		}
		if c.delay == nil {
			return nil
		}
	}
	c.delay.advance(t)
	b.Delay = c.delay.delay
	if len(b.Offsets) < c.delay.maxSteps {
		b.Offsets = make([]uint64, c.delay.maxSteps)
	}
	loop, start, end := c.bounds()
	for i := 0; i < c.delay.steps && !c.ended; i++ {
		b.Offsets[b.Steps] = c.counter
		b.Steps++
		c.counter++
		if end > 0 && c.counter >= end {
			if loop {
				c.counter = start
				continue
			}
			c.ended = true
			t.Stop(id)
		}
	}
	// acc counts from the end of this tick
	b.Position = float64(c.counter)
	if b.Delay > 0 {
		b.Position = math.Max(b.Position-(c.delay.acc+c.delay.span)/b.Delay, 0)
	}
	return nil
}

// bounds returns the loop settings for the sound scope of the transport.
// An end of 0 means the length of the material.
func (c *countBeatsRun) bounds() (loop bool, start, end uint64) {
	a := c.run.Audio()
	loop, _ = c.loop.Bool()
	start, _ = c.start.Uint()
	end, _ = c.end.Uint()
	if end == 0 {
		if c.run.id.scope == ags.ScopeSequencer {
			end = uint64(a.Pattern().Length())
		} else {
			end = a.Notation().Length()
		}
	}
	if start >= end {
		start = 0
	}
	return
}

// RunInter spawns a voice for every note starting at one of the steps of
// this tick.
func (p *playNotationRun) RunInter(t *Tick) error {
	id := p.run.id
	b := id.Beat()
	if b.Steps == 0 {
		return nil
	}
	n := p.run.Audio().Notation()
	for _, offset := range b.Offsets[:b.Steps] {
		i := sort.Search(len(n.Notes), func(i int) bool { return n.Notes[i].X0 >= offset })
		for ; i < len(n.Notes) && n.Notes[i].X0 == offset; i++ {
			note := n.Notes[i]
			t.SpawnVoice(id, []int{note.Y}, &Voice{
				Key:      note.Key,
				Velocity: note.Velocity,
				Sustain:  sustainFrames(note.X1-note.X0, b.Delay, t.BufferSize),
			})
		}
	}
	return nil
}

// RunInter spawns a one step voice for every pad whose pattern has the
// current step set.
func (c *copyPatternRun) RunInter(t *Tick) error {
	id := c.run.id
	b := id.Beat()
	if b.Steps == 0 {
		return nil
	}
	pat := c.run.Audio().Pattern()
	length := pat.Length()
	if length == 0 {
		return nil
	}
	key := pat.Key
	if key == 0 {
		k, _ := c.run.Port("key").Uint()
		key = byte(k)
	}
	pads := c.run.Audio().Pads()
	for _, offset := range b.Offsets[:b.Steps] {
		step := int(offset % uint64(length))
		for pad := 0; pad < pads; pad++ {
			if pat.Step(pad, step) {
				t.SpawnVoice(id, []int{pad}, &Voice{Key: key, Velocity: 127, Sustain: sustainFrames(1, b.Delay, t.BufferSize)})
			}
		}
	}
	return nil
}

func sustainFrames(steps uint64, delay float64, bufferSize int) int {
	return max(int(math.Round(float64(steps)*delay*float64(bufferSize))), 1)
}
