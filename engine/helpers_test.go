package engine_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/engine"
)

// recorder collects the stage calls and closes of recordRunners.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	lines  map[int][]string
	closed int
}

type recordRunner struct {
	rec   *recorder
	label string
	line  int // -1 at audio scope
}

func newRecorder() *recorder {
	return &recorder{lines: map[int][]string{}}
}

func (r *recorder) add(line int, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	if line >= 0 {
		r.lines[line] = append(r.lines[line], s)
	}
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.lines = map[int][]string{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordRunner) RunPre(t *engine.Tick) error {
	r.rec.add(r.line, r.label+" pre")
	return nil
}

func (r *recordRunner) RunInter(t *engine.Tick) error {
	r.rec.add(r.line, r.label+" inter")
	return nil
}

func (r *recordRunner) RunPost(t *engine.Tick) error {
	r.rec.add(r.line, r.label+" post")
	return nil
}

func (r *recordRunner) Close() error {
	r.rec.mu.Lock()
	r.rec.closed++
	r.rec.mu.Unlock()
	return nil
}

// recordPlugin creates an effect whose every run records its stage calls.
func recordPlugin(name string, rec *recorder, audioScope bool, target engine.Target) *engine.Plugin {
	p := &engine.Plugin{
		Name:         name,
		AudioScope:   audioScope,
		ChannelScope: true,
		Target:       target,
		ChannelPorts: []ags.PortSpec{{Name: "level", Kind: ags.KindFloat, Lower: 0, Upper: 1, Default: 0.5}},
		NewChannelRun: func(r *engine.RecallChannelRun) (engine.Runner, error) {
			l := r.Channel().Line()
			return &recordRunner{rec: rec, label: fmt.Sprintf("%s channel %d", name, l), line: l}, nil
		},
		NewRecyclingRun: func(r *engine.RecallRecycling) (engine.Runner, error) {
			l := r.Recycling().Channel().Line()
			return &recordRunner{rec: rec, label: fmt.Sprintf("%s recycling %d", name, l), line: l}, nil
		},
		NewSignalRun: func(r *engine.RecallAudioSignal) (engine.Runner, error) {
			l := r.Channel().Line()
			return &recordRunner{rec: rec, label: fmt.Sprintf("%s signal %d", name, l), line: l}, nil
		},
	}
	if audioScope {
		p.NewAudioRun = func(r *engine.RecallAudioRun) (engine.Runner, error) {
			return &recordRunner{rec: rec, label: name + " audio", line: -1}, nil
		}
	}
	return p
}

// genConfig describes a test generator: it adds value to its signal every
// tick and ends the stream or fails after the given number of ticks.
type genConfig struct {
	name        string
	audioScope  bool
	target      engine.Target
	value       float32
	finishAfter int
	failAfter   int
	panics      bool
}

type genRunner struct {
	engine.NopRunner
	cfg    genConfig
	signal *engine.RecallAudioSignal
	n      int
}

var errGenerator = errors.New("generator failed")

func genPlugin(cfg genConfig) *engine.Plugin {
	p := &engine.Plugin{
		Name:         cfg.name,
		AudioScope:   cfg.audioScope,
		ChannelScope: true,
		Target:       cfg.target,
		NewSignalRun: func(r *engine.RecallAudioSignal) (engine.Runner, error) {
			return &genRunner{cfg: cfg, signal: r}, nil
		},
	}
	if cfg.audioScope {
		p.NewAudioRun = func(r *engine.RecallAudioRun) (engine.Runner, error) {
			return engine.NopRunner{}, nil
		}
	}
	return p
}

func (g *genRunner) RunInter(t *engine.Tick) error {
	g.n++
	if g.cfg.failAfter > 0 && g.n >= g.cfg.failAfter {
		if g.cfg.panics {
			panic("generator exploded")
		}
		return errGenerator
	}
	buf := g.signal.Signal().Buffer()
	for i := range buf {
		buf[i] += g.cfg.value
	}
	if g.cfg.finishAfter > 0 && g.n >= g.cfg.finishAfter {
		g.signal.Signal().Finish()
	}
	return nil
}

func newEngine(t *testing.T, opts engine.Options) *engine.Engine {
	t.Helper()
	if opts.BufferSize == 0 {
		opts.BufferSize = 64
	}
	e := engine.New(opts)
	t.Cleanup(e.Close)
	return e
}

func attach(t *testing.T, e *engine.Engine, a *engine.Audio, spec ags.PluginSpec) *engine.Attachment {
	t.Helper()
	at, err := e.Attach(a, spec)
	if err != nil {
		t.Fatalf("could not attach %s: %v", spec.Name, err)
	}
	return at
}

// tick renders n buffers and returns the last one.
func tick(t *testing.T, e *engine.Engine, n int) ags.AudioBuffer {
	t.Helper()
	out := make(ags.AudioBuffer, e.BufferSize())
	for i := 0; i < n; i++ {
		if err := e.Tick(out); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}
	return out
}

func drain(e *engine.Engine) []engine.Event {
	var ret []engine.Event
	for {
		select {
		case ev := <-e.Events():
			ret = append(ret, ev)
		default:
			return ret
		}
	}
}

func doneEvents(events []engine.Event) []engine.DoneEvent {
	var ret []engine.DoneEvent
	for _, ev := range events {
		if d, ok := ev.(engine.DoneEvent); ok {
			ret = append(ret, d)
		}
	}
	return ret
}

func portFloat(t *testing.T, p *ags.Port) float64 {
	t.Helper()
	if p == nil {
		t.Fatal("port not found")
	}
	v, err := p.Float()
	if err != nil {
		t.Fatal(err)
	}
	return v
}
