package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/config"
)

type (
	// Engine owns the recall graph of a set of audios and renders it one
	// tick at a time. Tick, Render and the AudioSource returned by Source
	// must be called from a single goroutine, the realtime thread. All other
	// methods are safe to call from any goroutine: structural changes are
	// queued and applied at the start of the next tick.
	Engine struct {
		opts       Options
		log        *slog.Logger
		factory    *Factory
		dispatcher *ags.Dispatcher

		mu     sync.Mutex // guards ops
		ops    []func()
		spare  []func()
		resize sync.Mutex // serializes layout changes

		spawnMu sync.Mutex // guards spawned
		spawned []*RecallID

		events        chan Event
		errs          chan *ags.RealtimeProcessError
		xruns         chan *ags.XrunError
		droppedEvents atomic.Uint64
		xrunCount     atomic.Uint64
		closeOnce     sync.Once

		// owned by the realtime thread
		audios       []*Audio
		ids          []*RecallID
		removed      []Recall
		graphVersion uint64
		tickIndex    uint64
		tick         Tick
		pool         *workerPool
		left, right  []float32
	}

	// Options configure an Engine. Zero fields take their defaults.
	Options struct {
		SampleRate int
		BufferSize int
		// BufferCount is the number of buffers in each audio signal's
		// ring, at least 2.
		BufferCount int
		// EngineMode "performance" resolves ags-play to ags-copy, anything
		// else to ags-buffer.
		EngineMode string
		// Threaded processes the channels of each stage on a worker pool of
		// Workers goroutines, GOMAXPROCS when Workers is 0.
		Threaded       bool
		Workers        int
		StrictPorts    bool
		EventQueueSize int
		Loaders        map[Format]PluginLoader
		Logger         *slog.Logger
	}
)

const (
	EngineModePerformance = "performance"
	EngineModeBuffer      = "buffer"
)

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = ags.DefaultSampleRate
	}
	if o.BufferSize <= 0 {
		o.BufferSize = ags.DefaultBufferSize
	}
	o.BufferCount = max(o.BufferCount, 2)
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = 256
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// OptionsFromConfig maps the configuration groups to engine options.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		SampleRate:     c.SoundCard.SampleRate,
		BufferSize:     c.SoundCard.BufferSize,
		BufferCount:    c.Recall.BufferCount,
		EngineMode:     c.Generic.EngineMode,
		Threaded:       c.Thread.Model == config.ThreadModelMulti,
		Workers:        c.Thread.Workers,
		StrictPorts:    c.Recall.StrictPorts,
		EventQueueSize: c.Recall.EventQueueSize,
	}
}

func New(opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		opts:       opts,
		log:        opts.Logger,
		dispatcher: ags.NewDispatcher(opts.EventQueueSize),
		events:     make(chan Event, opts.EventQueueSize),
		errs:       make(chan *ags.RealtimeProcessError, opts.EventQueueSize),
		xruns:      make(chan *ags.XrunError, 16),
		left:       make([]float32, opts.BufferSize),
		right:      make([]float32, opts.BufferSize),
	}
	e.factory = newFactory(e)
	if opts.Threaded {
		e.pool = e.startWorkers(opts.Workers)
	}
	return e
}

func NewFromConfig(c *config.Config, logger *slog.Logger, loaders map[Format]PluginLoader) *Engine {
	opts := OptionsFromConfig(c)
	opts.Logger = logger
	opts.Loaders = loaders
	return New(opts)
}

func (e *Engine) SampleRate() int { return e.opts.SampleRate }
func (e *Engine) BufferSize() int { return e.opts.BufferSize }
func (e *Engine) Factory() *Factory { return e.factory }

// Events returns the channel outbound events are delivered on. Events are
// dropped when the channel is full.
func (e *Engine) Events() <-chan Event { return e.events }

// DroppedEvents returns the number of events dropped because nobody drained
// Events in time.
func (e *Engine) DroppedEvents() uint64 { return e.droppedEvents.Load() }

func (e *Engine) Xruns() uint64 { return e.xrunCount.Load() }

// Watch logs recall failures and xruns reported by the realtime thread and
// forwards them as events. It also delivers port change notifications to
// port subscribers. It returns when ctx is done.
func (e *Engine) Watch(ctx context.Context) {
	go e.dispatcher.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-e.errs:
			e.log.Error("recall failed", "recall", err.Recall, "recall-id", err.RecallID, "stage", err.Stage, "err", err.Err)
			e.emit(ErrorEvent{Err: err})
		case x := <-e.xruns:
			e.log.Warn("xrun", "elapsed", x.Elapsed, "deadline", x.Deadline)
			e.emit(XrunEvent{Err: x})
		}
	}
}

// NewAudio creates an audio of pads pads with audioChannels lines each.
func (e *Engine) NewAudio(name string, audioChannels, pads int) *Audio {
	a := &Audio{name: name, engine: e}
	a.layout.Store(newLayout(a, nil, max(audioChannels, 1), max(pads, 1), e.opts.BufferSize))
	e.queue(func() {
		e.audios = append(e.audios, a)
		e.graphVersion++
	})
	return a
}

// Attach instantiates an effect on the audio. The templates are created and
// configured immediately; they join the graph at the next tick boundary.
// On error nothing is attached.
func (e *Engine) Attach(a *Audio, spec ags.PluginSpec) (*Attachment, error) {
	at, err := e.factory.Create(a, spec)
	if err != nil {
		return nil, err
	}
	a.register(at)
	e.queue(func() { e.commit(at) })
	return at, nil
}

// Remove detaches a template together with all its runs. Removing an audio
// scope template removes its channel templates too.
func (e *Engine) Remove(r Recall) error {
	if !r.base().hasFlag(FlagTemplate) {
		return fmt.Errorf("remove %s: %w", r.Name(), ags.ErrNotTemplate)
	}
	switch t := r.(type) {
	case *RecallAudio:
		if at := t.attachment; at != nil {
			t.audio.unregister(at)
		}
	case *RecallChannel:
		if at := t.attachment; at != nil {
			at.dropChannel(t)
		}
	}
	e.queue(func() { e.removeTemplate(r) })
	return nil
}

// SetPort writes a value to the named port of a recall.
func (e *Engine) SetPort(r Recall, name string, v ags.Value) error {
	p := findPort(name, r.Ports())
	if p == nil {
		return fmt.Errorf("%s: port %q: %w", r.Name(), name, ags.ErrNoSuchPort)
	}
	return p.Set(v)
}

// Start creates a transport RecallID playing the audio in the given sound
// scope on all of its pads.
func (e *Engine) Start(a *Audio, scope ags.SoundScope) *RecallID {
	id := newRecallID(a, scope, &RecyclingContext{}, nil, nil)
	e.queue(func() { e.addID(id) })
	return id
}

// Cancel removes the RecallID, its voices and all their runs at the next
// tick boundary.
func (e *Engine) Cancel(id *RecallID) {
	id.cancelled.Store(true)
}

// NoteOn starts a voice on a pad outside of any transport.
func (e *Engine) NoteOn(a *Audio, pad int, key, velocity byte) (*RecallID, error) {
	if pad < 0 || pad >= a.Pads() {
		return nil, fmt.Errorf("note on %s: pad %d out of range [0, %d)", a.name, pad, a.Pads())
	}
	id := newRecallID(a, ags.ScopePlayback, &RecyclingContext{Pads: []int{pad}}, nil, &Voice{Key: key, Velocity: velocity})
	e.queue(func() { e.addID(id) })
	return id, nil
}

// NoteOff releases a voice started by NoteOn. The voice is removed once its
// runs are done.
func (e *Engine) NoteOff(id *RecallID) {
	if id.voice != nil {
		id.voice.Release()
	}
}

// ChangeBPM sets the tempo of the audio's ags-delay recall.
func (e *Engine) ChangeBPM(a *Audio, bpm float64) error {
	return e.setDelayPort(a, "bpm", bpm)
}

// ChangeTact sets the delay factor of the audio's ags-delay recall.
func (e *Engine) ChangeTact(a *Audio, factor float64) error {
	return e.setDelayPort(a, "tact", factor)
}

func (e *Engine) setDelayPort(a *Audio, name string, v float64) error {
	t := a.Template(delayName)
	if t == nil {
		return fmt.Errorf("%s: no %s attached", a.name, delayName)
	}
	return t.Port(name).SetFloat(v)
}

// ResizeAudioChannels changes the number of lines per pad.
func (e *Engine) ResizeAudioChannels(a *Audio, n int) error {
	return e.relayout(a, n, a.Pads(), ResizeAudioChannels)
}

func (e *Engine) ResizePads(a *Audio, n int) error {
	return e.relayout(a, a.AudioChannels(), n, ResizePads)
}

// relayout builds the new channels and the templates of effects attached to
// all lines off the realtime thread and queues the swap.
func (e *Engine) relayout(a *Audio, audioChannels, pads int, kind ResizeKind) error {
	if audioChannels <= 0 || pads <= 0 {
		return fmt.Errorf("resize %s: %d pads of %d audio channels", a.name, pads, audioChannels)
	}
	e.resize.Lock()
	defer e.resize.Unlock()
	old := a.layout.Load()
	l := newLayout(a, old, audioChannels, pads, e.opts.BufferSize)
	keep := make(map[*Channel]bool, len(l.channels))
	for _, c := range l.channels {
		keep[c] = true
	}
	fresh := map[*Channel]bool{}
	for _, c := range l.channels {
		if !containsChannel(old.channels, c) {
			fresh[c] = true
		}
	}
	var added, dropped []*RecallChannel
	for _, at := range a.Attachments() {
		for _, ct := range at.Channels() {
			if !keep[ct.channel] {
				dropped = append(dropped, ct)
			}
		}
		if !at.Plugin.ChannelScope || at.Spec.Lines != nil {
			continue
		}
		for _, c := range l.channels {
			if !fresh[c] {
				continue
			}
			ct, err := e.factory.channelTemplate(at, c)
			if err != nil {
				return err
			}
			added = append(added, ct)
		}
	}
	for _, ct := range dropped {
		ct.attachment.dropChannel(ct)
	}
	for _, ct := range added {
		ct.attachment.addChannel(ct)
	}
	oldN, newN := old.pads, pads
	if kind == ResizeAudioChannels {
		oldN, newN = old.audioChannels, audioChannels
	}
	e.queue(func() {
		a.layout.Store(l)
		for i, c := range l.channels {
			c.line = i
		}
		for _, ct := range dropped {
			e.removeTemplate(ct)
		}
		for _, ct := range added {
			ct.channel.chain = append(ct.channel.chain, ct)
			if ct.audio != nil {
				ct.audio.channels = append(ct.audio.channels, ct)
			}
			ct.setState(StateRunning)
		}
		e.graphVersion++
		e.emit(ResizeEvent{Audio: a.name, Kind: kind, Old: oldN, New: newN})
	})
	return nil
}

func containsChannel(chs []*Channel, c *Channel) bool {
	for _, x := range chs {
		if x == c {
			return true
		}
	}
	return false
}

// Render fills out by ticking as many times as needed, in chunks of at most
// the buffer size.
func (e *Engine) Render(out ags.AudioBuffer) error {
	for len(out) > 0 {
		n := min(len(out), e.opts.BufferSize)
		if err := e.Tick(out[:n]); err != nil {
			return err
		}
		out = out[n:]
	}
	return nil
}

// Source returns an AudioSource for a soundcard backend. It reports an xrun
// whenever filling a buffer takes longer than playing it.
func (e *Engine) Source() ags.AudioSource {
	return func(buf ags.AudioBuffer) error {
		start := time.Now()
		err := e.Render(buf)
		deadline := time.Duration(len(buf)) * time.Second / time.Duration(e.opts.SampleRate)
		if elapsed := time.Since(start); elapsed > deadline {
			e.xrunCount.Add(1)
			ags.TrySend(e.xruns, &ags.XrunError{Elapsed: elapsed, Deadline: deadline})
		}
		return err
	}
}

// Close stops the worker pool and closes the runners of the whole graph. It
// must not be called while the engine is ticking.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.pool != nil {
			e.pool.close()
		}
		e.applyOps()
		for _, id := range e.ids {
			e.detach(id)
		}
		e.ids = nil
	})
}

func (e *Engine) queue(op func()) {
	e.mu.Lock()
	e.ops = append(e.ops, op)
	e.mu.Unlock()
}

func (e *Engine) applyOps() {
	e.mu.Lock()
	ops := e.ops
	e.ops = e.spare[:0]
	e.mu.Unlock()
	for i, op := range ops {
		op()
		ops[i] = nil
	}
	e.spare = ops[:0]
}

func (e *Engine) emit(ev Event) {
	if !ags.TrySend(e.events, ev) {
		e.droppedEvents.Add(1)
	}
}

func newRecallID(a *Audio, scope ags.SoundScope, ctx *RecyclingContext, parent *RecallID, v *Voice) *RecallID {
	return &RecallID{uuid: uuid.New(), audio: a, scope: scope, context: ctx, parent: parent, voice: v}
}

func (e *Engine) addID(id *RecallID) {
	if id.parent != nil && id.parent.State() != StateRunning {
		id.state.Store(int32(StateRemoved))
		return
	}
	id.state.Store(int32(StateRunning))
	e.ids = append(e.ids, id)
	if id.parent != nil {
		id.parent.children = append(id.parent.children, id)
	}
}

func (e *Engine) commit(at *Attachment) {
	if at.Audio != nil {
		at.audio.templates = append(at.audio.templates, at.Audio)
		at.Audio.setState(StateRunning)
	}
	for _, ct := range at.initial {
		ct.channel.chain = append(ct.channel.chain, ct)
		ct.setState(StateRunning)
	}
	e.graphVersion++
}
