package engine_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/engine"
)

func TestPeak(t *testing.T) {
	e := newEngine(t, engine.Options{})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetAll, value: -0.75}))
	a := e.NewAudio("a", 1, 2)
	attach(t, e, a, ags.PluginSpec{Name: "dc", Lines: []int{1}})
	peak := attach(t, e, a, ags.PluginSpec{Name: "ags-peak"})
	e.Start(a, ags.ScopePlayback)
	tick(t, e, 2)
	if v := portFloat(t, peak.Channel(0).Port("peak")); v != 0 {
		t.Errorf("expected a silent line to peak at 0, got %v", v)
	}
	if v := portFloat(t, peak.Channel(1).Port("peak")); v != 0.75 {
		t.Errorf("expected a peak of 0.75, got %v", v)
	}
}

func TestPeakFallsWhenSignalEnds(t *testing.T) {
	e := newEngine(t, engine.Options{})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetAll, value: 0.5, finishAfter: 2}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "dc"})
	peak := attach(t, e, a, ags.PluginSpec{Name: "ags-peak"})
	id := e.Start(a, ags.ScopePlayback)
	tick(t, e, 2)
	if v := portFloat(t, peak.Channel(0).Port("peak")); v != 0.5 {
		t.Fatalf("expected a peak of 0.5, got %v", v)
	}
	runUntil(t, e, id, 10)
	tick(t, e, 1)
	if v := portFloat(t, peak.Channel(0).Port("peak")); v != 0 {
		t.Fatalf("expected the meter to fall once the signal ended, got %v", v)
	}
}

func TestAnalyse(t *testing.T) {
	e := newEngine(t, engine.Options{})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetAll, value: 0.5}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "dc"})
	an := attach(t, e, a, ags.PluginSpec{Name: "ags-analyse", Params: map[string]float64{"smooth": 0}})
	e.Start(a, ags.ScopePlayback)
	tick(t, e, 2)
	bands := an.Channel(0).Port("spectrum").Floats()
	if len(bands) != engine.AnalyseBands {
		t.Fatalf("expected %d bands, got %d", engine.AnalyseBands, len(bands))
	}
	if bands[0] <= 0 || bands[0] <= bands[engine.AnalyseBands-1] {
		t.Fatalf("expected the energy of a constant signal in the lowest band, got %v", bands)
	}
}

func writeWav(t *testing.T, frames int, value int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, 44100, 16, 1, 1)
	data := make([]int, frames)
	for i := range data {
		data[i] = value
	}
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: 44100}, Data: data, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPlayWave(t *testing.T) {
	path := writeWav(t, 100, 16384)
	e := newEngine(t, engine.Options{SampleRate: 44100, EngineMode: engine.EngineModePerformance})
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "ags-play-wave", File: path})
	attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
	id, err := e.NoteOn(a, 0, 60, 127)
	if err != nil {
		t.Fatal(err)
	}
	out := tick(t, e, 1)
	if out[0][0] != 0.5 || out[63][1] != 0.5 {
		t.Fatalf("expected the sample at 0.5, got %v and %v", out[0], out[63])
	}
	out = tick(t, e, 1)
	if out[34][0] != 0.5 || out[35][0] != 0 {
		t.Fatalf("expected the sample to end after 99 frames, got %v and %v", out[34], out[35])
	}
	d := doneEvents(runUntil(t, e, id, 10))
	if len(d) != 1 || d[0].Reason != engine.DoneFinished {
		t.Fatalf("expected the voice to finish, got %+v", d)
	}
}

func TestEnvelopeReleasesVoice(t *testing.T) {
	e := newEngine(t, engine.Options{EngineMode: engine.EngineModePerformance})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetVoice, value: 1}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "dc"})
	attach(t, e, a, ags.PluginSpec{Name: "ags-envelope", Params: map[string]float64{"attack": 0, "decay": 0, "sustain": 0.5, "release": 0}})
	attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
	id, err := e.NoteOn(a, 0, 60, 127)
	if err != nil {
		t.Fatal(err)
	}
	if out := tick(t, e, 1); out[10] != [2]float32{0.5, 0.5} {
		t.Fatalf("expected the sustain level, got %v", out[10])
	}
	e.NoteOff(id)
	if out := tick(t, e, 1); out[10] != [2]float32{0, 0} {
		t.Fatalf("expected silence after the release, got %v", out[10])
	}
	runUntil(t, e, id, 10)
}

func TestTremolo(t *testing.T) {
	e := newEngine(t, engine.Options{EngineMode: engine.EngineModePerformance})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetVoice, value: 1}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "dc"})
	tr := attach(t, e, a, ags.PluginSpec{Name: "ags-tremolo", Params: map[string]float64{"tremolo-gain": 0.5, "tremolo-lfo-freq": 20}})
	attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
	if _, err := e.NoteOn(a, 0, 60, 127); err != nil {
		t.Fatal(err)
	}
	if out := tick(t, e, 1); out[10] != [2]float32{0.5, 0.5} {
		t.Fatalf("expected the tremolo gain without depth, got %v", out[10])
	}
	if err := tr.Channel(0).Port("tremolo-lfo-depth").SetFloat(1); err != nil {
		t.Fatal(err)
	}
	// a quarter of a 20 Hz period is longer than both ticks, so the gain
	// rises across them
	first := tick(t, e, 1)
	second := tick(t, e, 1)
	if first[0][0] <= 0.25 || first[0][0] >= 0.5 {
		t.Fatalf("expected the modulated gain between 0.25 and 0.5, got %v", first[0][0])
	}
	if first[len(first)-1][0] <= first[0][0] || second[0][0] <= first[len(first)-1][0] {
		t.Fatalf("expected the LFO to continue across ticks, got %v, %v, %v", first[0][0], first[len(first)-1][0], second[0][0])
	}
}

func TestEq10(t *testing.T) {
	e := newEngine(t, engine.Options{EngineMode: engine.EngineModePerformance})
	e.Factory().Register(genPlugin(genConfig{name: "dc", target: engine.TargetVoice, value: 1}))
	a := e.NewAudio("a", 1, 1)
	attach(t, e, a, ags.PluginSpec{Name: "dc"})
	eq := attach(t, e, a, ags.PluginSpec{Name: "ags-eq10", Params: map[string]float64{"peak-1792hz": -12, "pressure": 0.5}})
	attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
	if v := portFloat(t, eq.Channel(0).Port("peak-1792hz")); math.Abs(v-math.Pow(10, -12.0/20)) > 1e-9 {
		t.Fatalf("expected -12 dB stored as linear gain, got %v", v)
	}
	if err := eq.Channel(0).Port("peak-14336hz").SetFloat(100); err != nil {
		t.Fatal(err)
	}
	if v := portFloat(t, eq.Channel(0).Port("peak-14336hz")); v != 2 {
		t.Fatalf("expected the gain clamped to 2, got %v", v)
	}
	if _, err := e.NoteOn(a, 0, 60, 127); err != nil {
		t.Fatal(err)
	}
	// peaking filters leave DC untouched
	out := tick(t, e, 20)
	if math.Abs(float64(out[10][0])-0.5) > 1e-3 {
		t.Fatalf("expected DC scaled by the pressure only, got %v", out[10])
	}
}

func TestSynthPlaysOnItsPad(t *testing.T) {
	e := newEngine(t, engine.Options{EngineMode: engine.EngineModePerformance})
	a := e.NewAudio("a", 1, 2)
	attach(t, e, a, ags.PluginSpec{Name: "ags-synth", Params: map[string]float64{"wave": float64(engine.WaveSquare), "attack": 0, "release": 0}})
	attach(t, e, a, ags.PluginSpec{Name: "ags-play"})
	if _, err := e.NoteOn(a, 2, 60, 127); err == nil {
		t.Fatal("expected a pad out of range to fail")
	}
	id, err := e.NoteOn(a, 1, 69, 127)
	if err != nil {
		t.Fatal(err)
	}
	out := tick(t, e, 1)
	if math.Abs(float64(out[0][0])-0.5) > 1e-6 {
		t.Fatalf("expected a square wave at gain 0.5, got %v", out[0])
	}
	for _, r := range e.Snapshot().Audios[0].Runs {
		if r.Name == "ags-synth" && r.Line != 1 {
			t.Errorf("expected the synth to run on line 1 only, got a run on line %d", r.Line)
		}
	}
	e.NoteOff(id)
	runUntil(t, e, id, 10)
}

func TestResize(t *testing.T) {
	e := newEngine(t, engine.Options{})
	a := e.NewAudio("a", 2, 1)
	vol := attach(t, e, a, ags.PluginSpec{Name: "ags-volume"})
	mute := attach(t, e, a, ags.PluginSpec{Name: "ags-mute", Lines: []int{0}})
	e.Start(a, ags.ScopePlayback)
	tick(t, e, 1)
	if err := e.ResizePads(a, 0); err == nil {
		t.Fatal("expected resizing to no pads to fail")
	}

	if err := e.ResizePads(a, 3); err != nil {
		t.Fatal(err)
	}
	tick(t, e, 1)
	checkResize(t, e, engine.ResizeEvent{Audio: "a", Kind: engine.ResizePads, Old: 1, New: 3})
	if len(a.Channels()) != 6 || len(vol.Channels()) != 6 {
		t.Fatalf("expected 6 lines with a volume each, got %d and %d", len(a.Channels()), len(vol.Channels()))
	}
	for i, c := range a.Channels() {
		if c.Line() != i || c.Pad() != i/2 || c.AudioChannel() != i%2 {
			t.Errorf("channel %d has line %d, pad %d, audio channel %d", i, c.Line(), c.Pad(), c.AudioChannel())
		}
	}
	s := e.Snapshot()
	if s.Templates(engine.ScopeChannel) != 7 || s.Count(engine.ScopeChannel, engine.StateRunning) != 7 {
		t.Fatalf("expected 7 channel templates and runs, got %d and %d", s.Templates(engine.ScopeChannel), s.Count(engine.ScopeChannel, engine.StateRunning))
	}

	if err := e.ResizeAudioChannels(a, 1); err != nil {
		t.Fatal(err)
	}
	tick(t, e, 1)
	checkResize(t, e, engine.ResizeEvent{Audio: "a", Kind: engine.ResizeAudioChannels, Old: 2, New: 1})
	s = e.Snapshot()
	if s.Templates(engine.ScopeChannel) != 4 || s.Count(engine.ScopeChannel, engine.StateRunning) != 4 {
		t.Fatalf("expected 4 channel templates and runs, got %d and %d", s.Templates(engine.ScopeChannel), s.Count(engine.ScopeChannel, engine.StateRunning))
	}
	if mute.Channel(0) == nil || len(mute.Channels()) != 1 {
		t.Fatalf("expected the mute to stay on line 0 only")
	}
}

func checkResize(t *testing.T, e *engine.Engine, want engine.ResizeEvent) {
	t.Helper()
	for _, ev := range drain(e) {
		if r, ok := ev.(engine.ResizeEvent); ok {
			if r != want {
				t.Fatalf("expected %+v, got %+v", want, r)
			}
			return
		}
	}
	t.Fatalf("expected a resize event")
}
