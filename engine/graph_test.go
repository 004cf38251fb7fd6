package engine_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/engine"
)

func TestBufferRunsPerLine(t *testing.T) {
	e := newEngine(t, engine.Options{})
	a := e.NewAudio("a", 2, 1)
	attach(t, e, a, ags.PluginSpec{Name: "ags-buffer"})
	e.Start(a, ags.ScopeNotation)
	tick(t, e, 1)
	s := e.Snapshot()
	for _, scope := range []engine.Scope{engine.ScopeChannel, engine.ScopeRecycling, engine.ScopeAudioSignal} {
		if n := s.Count(scope, engine.StateRunning); n != 2 {
			t.Errorf("expected 2 running %v runs, got %d", scope, n)
		}
	}
	if n := s.Count(engine.ScopeAudio, engine.StateRunning); n != 1 {
		t.Errorf("expected 1 running audio run, got %d", n)
	}
	if n := s.PortsOutOfRange(); n != 0 {
		t.Errorf("expected no port out of range, got %d", n)
	}
}

func TestHierarchyIsComplete(t *testing.T) {
	e := newEngine(t, engine.Options{})
	rec := newRecorder()
	e.Factory().Register(recordPlugin("rec", rec, true, engine.TargetAll))
	a := e.NewAudio("a", 2, 2)
	at := attach(t, e, a, ags.PluginSpec{Name: "rec"})
	id := e.Start(a, ags.ScopePlayback)
	tick(t, e, 1)
	s := e.Snapshot()
	want := map[engine.Scope]int{engine.ScopeAudio: 1, engine.ScopeChannel: 4, engine.ScopeRecycling: 4, engine.ScopeAudioSignal: 4}
	for scope, n := range want {
		if got := s.Count(scope, engine.StateRunning); got != n {
			t.Errorf("expected %d running %v runs, got %d", n, scope, got)
		}
	}
	for _, r := range s.Audios[0].Runs {
		if r.RecallID != id.UUID().String() {
			t.Errorf("run %s at %v belongs to %s, expected %s", r.Name, r.Scope, r.RecallID, id.UUID())
		}
	}
	if s.Templates(engine.ScopeAudio) != 1 || s.Templates(engine.ScopeChannel) != 4 {
		t.Errorf("unexpected templates: %d audio, %d channel", s.Templates(engine.ScopeAudio), s.Templates(engine.ScopeChannel))
	}
	children := at.Audio.Children()
	if len(children) != 4 {
		t.Fatalf("expected 4 channel templates under the audio template, got %d", len(children))
	}
	for _, c := range children {
		if c.Parent() != engine.Recall(at.Audio) {
			t.Errorf("channel template %v does not point back to its audio template", c)
		}
	}
	if id.State() != engine.StateRunning {
		t.Errorf("expected the transport to run, got %v", id.State())
	}
}

func TestDonePropagatesOneScopePerTick(t *testing.T) {
	e := newEngine(t, engine.Options{})
	e.Factory().Register(genPlugin(genConfig{name: "gen", audioScope: true, target: engine.TargetVoice, value: 0.1, finishAfter: 1}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "gen"})
	id, err := e.NoteOn(a, 0, 60, 100)
	if err != nil {
		t.Fatal(err)
	}
	type counts struct{ audio, channel, recycling, signal engine.State }
	steps := []counts{
		{engine.StateRunning, engine.StateRunning, engine.StateRunning, engine.StateDone},
		{engine.StateRunning, engine.StateRunning, engine.StateDone, engine.StateDone},
		{engine.StateRunning, engine.StateDone, engine.StateDone, engine.StateDone},
	}
	for i, c := range steps {
		tick(t, e, 1)
		s := e.Snapshot()
		for scope, state := range map[engine.Scope]engine.State{
			engine.ScopeAudio:       c.audio,
			engine.ScopeChannel:     c.channel,
			engine.ScopeRecycling:   c.recycling,
			engine.ScopeAudioSignal: c.signal,
		} {
			if s.Count(scope, state) != 1 {
				t.Errorf("tick %d: expected the %v run to be %v", i+1, scope, state)
			}
		}
		if d := doneEvents(drain(e)); len(d) != 0 {
			t.Fatalf("tick %d: voice removed too early", i+1)
		}
	}
	tick(t, e, 1)
	d := doneEvents(drain(e))
	if len(d) != 1 || !d[0].Voice || d[0].Reason != engine.DoneFinished || d[0].RecallID != id.UUID() {
		t.Fatalf("expected the voice to finish at tick 4, got %+v", d)
	}
	if id.State() != engine.StateRemoved {
		t.Errorf("expected the voice to be removed, got %v", id.State())
	}
	if n := len(e.Snapshot().Audios[0].Runs); n != 0 {
		t.Errorf("expected no runs left, got %d", n)
	}
}

func TestCancelRemovesTreeAtNextTick(t *testing.T) {
	e := newEngine(t, engine.Options{})
	rec := newRecorder()
	e.Factory().Register(recordPlugin("rec", rec, true, engine.TargetAll))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "rec"})
	id := e.Start(a, ags.ScopePlayback)
	tick(t, e, 1)
	if n := rec.count(); n != 12 {
		t.Fatalf("expected 4 runs called in 3 stages, got %d calls", n)
	}
	rec.reset()
	e.Cancel(id)
	tick(t, e, 1)
	if n := rec.count(); n != 0 {
		t.Errorf("expected no run of a cancelled tree to be called, got %v", rec.calls)
	}
	if rec.closed != 4 {
		t.Errorf("expected 4 runners closed, got %d", rec.closed)
	}
	d := doneEvents(drain(e))
	if len(d) != 1 || d[0].Reason != engine.DoneCancelled {
		t.Fatalf("expected one cancelled DoneEvent, got %+v", d)
	}
	if id.State() != engine.StateRemoved {
		t.Errorf("expected the transport to be removed, got %v", id.State())
	}
	s := e.Snapshot()
	if len(s.Audios[0].Runs) != 0 || len(s.Audios[0].RecallIDs) != 0 {
		t.Errorf("expected an empty graph, got %+v", s.Audios[0])
	}
	if s.Templates(engine.ScopeAudio) != 1 || s.Templates(engine.ScopeChannel) != 1 {
		t.Errorf("cancelling should keep the templates")
	}
}

func TestCancelTransportRemovesVoices(t *testing.T) {
	e := newEngine(t, engine.Options{})
	e.Factory().Register(genPlugin(genConfig{name: "gen", target: engine.TargetVoice, value: 0.1}))
	a := e.NewAudio("a", 1, 1)
	for _, n := range []string{"ags-delay", "ags-count-beats", "ags-play-notation", "gen", "ags-play"} {
		attach(t, e, a, ags.PluginSpec{Name: n})
	}
	a.SetNotation(ags.Notation{Notes: []ags.Note{{X0: 0, X1: 100, Key: 60}}})
	id := e.Start(a, ags.ScopeNotation)
	tick(t, e, 2)
	if n := len(e.Snapshot().Audios[0].RecallIDs); n != 2 {
		t.Fatalf("expected the transport and one voice, got %d RecallIDs", n)
	}
	drain(e)
	e.Cancel(id)
	tick(t, e, 1)
	d := doneEvents(drain(e))
	if len(d) != 2 {
		t.Fatalf("expected the transport and its voice to be removed, got %+v", d)
	}
	for _, ev := range d {
		if ev.Reason != engine.DoneCancelled {
			t.Errorf("expected reason cancelled, got %v", ev.Reason)
		}
	}
}

func stageOrder(plugins []string, line int) []string {
	var ret []string
	for _, stage := range []string{"pre", "inter", "post"} {
		for _, p := range plugins {
			for _, scope := range []string{"channel", "recycling", "signal"} {
				ret = append(ret, fmt.Sprintf("%s %s %d %s", p, scope, line, stage))
			}
		}
	}
	return ret
}

func audioOrder(plugins []string) []string {
	var ret []string
	for _, stage := range []string{"pre", "inter", "post"} {
		for _, p := range plugins {
			ret = append(ret, fmt.Sprintf("%s audio %s", p, stage))
		}
	}
	return ret
}

func TestStageOrdering(t *testing.T) {
	e := newEngine(t, engine.Options{})
	rec := newRecorder()
	for _, n := range []string{"A", "B"} {
		e.Factory().Register(recordPlugin(n, rec, true, engine.TargetAll))
	}
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "A"})
	attach(t, e, a, ags.PluginSpec{Name: "B"})
	e.Start(a, ags.ScopePlayback)
	tick(t, e, 1)
	var want []string
	audio, chain := audioOrder([]string{"A", "B"}), stageOrder([]string{"A", "B"}, 0)
	for i := 0; i < 3; i++ {
		want = append(want, audio[2*i:2*i+2]...)
		want = append(want, chain[6*i:6*i+6]...)
	}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("unexpected call order:\ngot  %v\nwant %v", rec.calls, want)
	}
}

func TestThreadedKeepsChainOrder(t *testing.T) {
	e := newEngine(t, engine.Options{Threaded: true, Workers: 3})
	rec := newRecorder()
	for _, n := range []string{"A", "B"} {
		e.Factory().Register(recordPlugin(n, rec, true, engine.TargetAll))
	}
	a := e.NewAudio("a", 1, 4)
	attach(t, e, a, ags.PluginSpec{Name: "A"})
	attach(t, e, a, ags.PluginSpec{Name: "B"})
	e.Start(a, ags.ScopePlayback)
	tick(t, e, 1)
	for line := 0; line < 4; line++ {
		want := stageOrder([]string{"A", "B"}, line)
		if !reflect.DeepEqual(rec.lines[line], want) {
			t.Errorf("line %d: unexpected call order:\ngot  %v\nwant %v", line, rec.lines[line], want)
		}
	}
	var audio []string
	for _, c := range rec.calls {
		if len(c) > 8 && c[2:7] == "audio" {
			audio = append(audio, c)
		}
	}
	if want := audioOrder([]string{"A", "B"}); !reflect.DeepEqual(audio, want) {
		t.Errorf("unexpected audio scope order:\ngot  %v\nwant %v", audio, want)
	}
}

func TestThreadedRendersLikeSerial(t *testing.T) {
	render := func(threaded bool) ags.AudioBuffer {
		e := newEngine(t, engine.Options{Threaded: threaded, EngineMode: engine.EngineModePerformance})
		e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetAll, value: 0.125}))
		a := e.NewAudio("a", 2, 3)
		attach(t, e, a, ags.PluginSpec{Name: "dc"})
		attach(t, e, a, ags.PluginSpec{Name: "ags-volume", Lines: []int{1}, Params: map[string]float64{"volume": 0.5}})
		attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
		e.Start(a, ags.ScopePlayback)
		return tick(t, e, 3)
	}
	serial, threaded := render(false), render(true)
	if !reflect.DeepEqual(serial, threaded) {
		t.Fatalf("threaded output differs from serial output")
	}
	// three even lines on the left, the odd ones on the right, line 1 at half volume
	if serial[0] != [2]float32{0.375, 0.3125} {
		t.Fatalf("unexpected mix %v", serial[0])
	}
}

func TestFailureIsIsolated(t *testing.T) {
	for _, panics := range []bool{false, true} {
		t.Run(fmt.Sprintf("panics=%v", panics), func(t *testing.T) {
			e := newEngine(t, engine.Options{})
			rec := newRecorder()
			e.Factory().Register(recordPlugin("rec", rec, true, engine.TargetTransport))
			e.Factory().Register(genPlugin(genConfig{name: "bad", target: engine.TargetVoice, failAfter: 1, panics: panics}))
			a := e.NewAudio("a", 1, 2)
			attach(t, e, a, ags.PluginSpec{Name: "rec"})
			attach(t, e, a, ags.PluginSpec{Name: "bad"})
			transport := e.Start(a, ags.ScopePlayback)
			tick(t, e, 1)
			voice, err := e.NoteOn(a, 1, 60, 127)
			if err != nil {
				t.Fatal(err)
			}
			tick(t, e, 2)
			d := doneEvents(drain(e))
			if len(d) != 1 || d[0].RecallID != voice.UUID() || d[0].Reason != engine.DoneFailed {
				t.Fatalf("expected the voice to fail, got %+v", d)
			}
			var rpe *ags.RealtimeProcessError
			if !errors.As(d[0].Err, &rpe) || rpe.Recall != "bad" || rpe.Stage != "run-inter" {
				t.Fatalf("expected a RealtimeProcessError from bad in run-inter, got %v", d[0].Err)
			}
			if !panics && !errors.Is(d[0].Err, errGenerator) {
				t.Errorf("expected the generator error to be wrapped, got %v", d[0].Err)
			}
			if voice.Err() == nil {
				t.Errorf("expected the voice to keep its error")
			}
			if transport.State() != engine.StateRunning || transport.Err() != nil {
				t.Fatalf("the transport should be unaffected, got %v %v", transport.State(), transport.Err())
			}
			rec.reset()
			tick(t, e, 1)
			if rec.count() != 21 {
				t.Errorf("expected the transport to keep running on both pads, got %d calls", rec.count())
			}
		})
	}
}

func TestInitErrorFailsRecallID(t *testing.T) {
	e := newEngine(t, engine.Options{})
	e.Factory().Register(&engine.Plugin{
		Name:         "broken",
		ChannelScope: true,
		NewSignalRun: func(r *engine.RecallAudioSignal) (engine.Runner, error) {
			return nil, errGenerator
		},
	})
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "broken"})
	id := e.Start(a, ags.ScopePlayback)
	tick(t, e, 2)
	d := doneEvents(drain(e))
	if len(d) != 1 || d[0].Reason != engine.DoneFailed {
		t.Fatalf("expected the transport to fail, got %+v", d)
	}
	if !errors.Is(id.Err(), errGenerator) || id.Err().Stage != "init" {
		t.Fatalf("expected an init error, got %v", id.Err())
	}
}

func TestBypassAndRemove(t *testing.T) {
	e := newEngine(t, engine.Options{EngineMode: engine.EngineModePerformance})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetAll, value: 1}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "dc"})
	vol := attach(t, e, a, ags.PluginSpec{Name: "ags-volume", Params: map[string]float64{"volume": 0}})
	mute := attach(t, e, a, ags.PluginSpec{Name: "ags-mute", Bypass: true})
	attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
	e.Start(a, ags.ScopePlayback)
	if out := tick(t, e, 1); out[0] != [2]float32{0, 0} {
		t.Fatalf("expected silence at volume 0, got %v", out[0])
	}
	engine.SetBypass(vol.Channel(0), true)
	if out := tick(t, e, 1); out[0] != [2]float32{1, 1} {
		t.Fatalf("expected the bypassed volume to pass the signal, got %v", out[0])
	}
	if err := e.SetPort(mute.Audio, "muted", ags.BoolValue(true)); err != nil {
		t.Fatal(err)
	}
	if out := tick(t, e, 1); out[0] != [2]float32{1, 1} {
		t.Fatalf("expected the bypassed mute to do nothing, got %v", out[0])
	}
	engine.SetBypass(mute.Audio, false)
	engine.SetBypass(mute.Channel(0), false)
	if out := tick(t, e, 1); out[0] != [2]float32{0, 0} {
		t.Fatalf("expected the audio scope mute to silence the channel, got %v", out[0])
	}
	if err := e.Remove(mute.Audio); err != nil {
		t.Fatal(err)
	}
	if a.Template("ags-mute") != nil {
		t.Errorf("expected the removed template to be unregistered at once")
	}
	if out := tick(t, e, 1); out[0] != [2]float32{1, 1} {
		t.Fatalf("expected the signal back after removing the mute, got %v", out[0])
	}
	s := e.Snapshot()
	if s.Templates(engine.ScopeAudio) != 1 || s.Templates(engine.ScopeChannel) != 3 {
		t.Errorf("expected the mute templates gone, got %d audio and %d channel templates", s.Templates(engine.ScopeAudio), s.Templates(engine.ScopeChannel))
	}
	if err := e.SetPort(vol.Channel(0), "nope", ags.FloatValue(1)); !errors.Is(err, ags.ErrNoSuchPort) {
		t.Errorf("expected ErrNoSuchPort, got %v", err)
	}
}

func TestRemoveRejectsRuns(t *testing.T) {
	e := newEngine(t, engine.Options{})
	var run *engine.RecallAudioRun
	e.Factory().Register(&engine.Plugin{
		Name:       "capture",
		AudioScope: true,
		NewAudioRun: func(r *engine.RecallAudioRun) (engine.Runner, error) {
			run = r
			return engine.NopRunner{}, nil
		},
	})
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "capture"})
	e.Start(a, ags.ScopePlayback)
	tick(t, e, 1)
	if run == nil {
		t.Fatal("audio run not built")
	}
	if err := e.Remove(run); !errors.Is(err, ags.ErrNotTemplate) {
		t.Fatalf("expected ErrNotTemplate, got %v", err)
	}
	if run.Parent() != nil || run.Template().Attachment().Plugin.Name != "capture" {
		t.Errorf("unexpected run hierarchy")
	}
}

func TestDroppedEvents(t *testing.T) {
	e := newEngine(t, engine.Options{EventQueueSize: 1})
	e.Factory().Register(genPlugin(genConfig{name: "gen", target: engine.TargetVoice, value: 0.1, finishAfter: 1}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "gen"})
	for i := 0; i < 3; i++ {
		if _, err := e.NoteOn(a, 0, byte(60+i), 100); err != nil {
			t.Fatal(err)
		}
	}
	tick(t, e, 4)
	if len(drain(e)) != 1 {
		t.Fatalf("expected the queue to hold one event")
	}
	if e.DroppedEvents() != 2 {
		t.Fatalf("expected 2 dropped events, got %d", e.DroppedEvents())
	}
}

func TestTickTooLong(t *testing.T) {
	e := newEngine(t, engine.Options{BufferSize: 16})
	if err := e.Tick(make(ags.AudioBuffer, 17)); err == nil {
		t.Fatal("expected a tick larger than the buffer size to fail")
	}
	if err := e.Render(make(ags.AudioBuffer, 40)); err != nil {
		t.Fatalf("render should split into ticks: %v", err)
	}
}
