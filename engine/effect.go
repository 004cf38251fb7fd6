package engine

import (
	"math"
	"math/cmplx"

	"github.com/gsequencer/ags"
	"github.com/maddyblue/go-dsp/dsputils"
	"github.com/maddyblue/go-dsp/fft"
	"github.com/maddyblue/go-dsp/window"
	"github.com/viterin/vek/vek32"
)

const (
	delayName        = "ags-delay"
	countBeatsName   = "ags-count-beats"
	playNotationName = "ags-play-notation"
	copyPatternName  = "ags-copy-pattern"
	synthName        = "ags-synth"
	playWaveName     = "ags-play-wave"
	volumeName       = "ags-volume"
	muteName         = "ags-mute"
	envelopeName     = "ags-envelope"
	peakName         = "ags-peak"
	analyseName      = "ags-analyse"
	copyName         = "ags-copy"
	bufferName       = "ags-buffer"
	playName         = "ags-play"
)

// AnalyseBands is the number of bands of the ags-analyse spectrum port.
const AnalyseBands = 16

type (
	volumeRun struct {
		NopRunner
		signal *RecallAudioSignal
		volume *ags.Port
	}

	muteRun struct {
		NopRunner
		signal     *RecallAudioSignal
		muted      *ags.Port
		audioMuted *ags.Port
	}

	envelopeRun struct {
		NopRunner
		signal                          *RecallAudioSignal
		attack, decay, sustain, release *ags.Port
		level                           float64
	}

	// peakState is shared by the peak runs of one channel: the largest
	// absolute sample of all signals in the current tick.
	peakState struct {
		tick uint64
		peak float32
		tmp  []float32
	}

	peakRun struct {
		NopRunner
		signal *RecallAudioSignal
		peak   *ags.Port
	}

	// peakChannelRun resets the meter once per tick, before the signal runs
	// of the channel add to it.
	peakChannelRun struct {
		NopRunner
		run  *RecallChannelRun
		peak *ags.Port
	}

	// analyseState sums the signals of one channel over a tick and turns
	// the sum into a smoothed power spectrum when the next tick starts.
	analyseState struct {
		tick   uint64
		mix    []float64
		window []float64
		power  []float32
		tmp    []float32
		bands  []float64
		frames int
		// in-place transform for power of two sizes
		re, im   []float64
		cos, sin []float64
	}

	analyseRun struct {
		NopRunner
		signal   *RecallAudioSignal
		spectrum *ags.Port
		smooth   *ags.Port
	}

	// copyRun adds the signal into the channel output, of this tick for
	// ags-copy and of the next one for ags-buffer.
	copyRun struct {
		NopRunner
		signal  *RecallAudioSignal
		delayed bool
	}
)

func builtins() []*Plugin {
	return []*Plugin{
		delayPlugin,
		countBeatsPlugin,
		playNotationPlugin,
		copyPatternPlugin,
		synthPlugin,
		playWavePlugin,
		volumePlugin,
		mutePlugin,
		envelopePlugin,
		tremoloPlugin,
		eq10Plugin,
		peakPlugin,
		analysePlugin,
		routePlugin(copyName, false),
		routePlugin(bufferName, true),
	}
}

var volumePlugin = &Plugin{
	Name:         volumeName,
	ChannelScope: true,
	ChannelPorts: []ags.PortSpec{
		{Name: "volume", Kind: ags.KindFloat, Lower: 0, Upper: 2, Default: 1},
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		return &volumeRun{signal: r, volume: r.Port("volume")}, nil
	},
}

var mutePlugin = &Plugin{
	Name:         muteName,
	AudioScope:   true,
	ChannelScope: true,
	AudioPorts: []ags.PortSpec{
		{Name: "muted", Kind: ags.KindBool},
	},
	ChannelPorts: []ags.PortSpec{
		{Name: "muted", Kind: ags.KindBool},
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		m := &muteRun{signal: r, muted: r.Port("muted")}
		if a := r.Template().audio; a != nil {
			m.audioMuted = a.Port("muted")
		}
		return m, nil
	},
}

var envelopePlugin = &Plugin{
	Name:         envelopeName,
	ChannelScope: true,
	Target:       TargetVoice,
	ChannelPorts: []ags.PortSpec{
		{Name: "attack", Kind: ags.KindFloat, Lower: 0, Upper: 10, Default: 0.01},
		{Name: "decay", Kind: ags.KindFloat, Lower: 0, Upper: 10, Default: 0.1},
		{Name: "sustain", Kind: ags.KindFloat, Lower: 0, Upper: 1, Default: 0.8},
		{Name: "release", Kind: ags.KindFloat, Lower: 0, Upper: 10, Default: 0.2},
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		return &envelopeRun{
			signal:  r,
			attack:  r.Port("attack"),
			decay:   r.Port("decay"),
			sustain: r.Port("sustain"),
			release: r.Port("release"),
		}, nil
	},
}

var peakPlugin = &Plugin{
	Name:         peakName,
	ChannelScope: true,
	ChannelPorts: []ags.PortSpec{
		{Name: "peak", Kind: ags.KindFloat, Flags: ags.PortOutput},
	},
	NewChannelRun: func(r *RecallChannelRun) (Runner, error) {
		return &peakChannelRun{run: r, peak: r.Port("peak")}, nil
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		return &peakRun{signal: r, peak: r.Port("peak")}, nil
	},
}

var analysePlugin = &Plugin{
	Name:         analyseName,
	ChannelScope: true,
	ChannelPorts: []ags.PortSpec{
		{Name: "spectrum", Kind: ags.KindFloatSlice, Length: AnalyseBands, Flags: ags.PortOutput},
		{Name: "smooth", Kind: ags.KindFloat, Lower: 0, Upper: 1, Default: 0.5},
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		return &analyseRun{signal: r, spectrum: r.Port("spectrum"), smooth: r.Port("smooth")}, nil
	},
}

func routePlugin(name string, delayed bool) *Plugin {
	return &Plugin{
		Name:         name,
		AudioScope:   true,
		ChannelScope: true,
		Flags:        FlagOutputOriented,
		NewAudioRun: func(r *RecallAudioRun) (Runner, error) {
			return NopRunner{}, nil
		},
		NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
			return &copyRun{signal: r, delayed: delayed}, nil
		},
	}
}

func (v *volumeRun) RunInter(t *Tick) error {
	vol, _ := v.volume.Float()
	if vol != 1 {
		vek32.MulNumber_Inplace(v.signal.Signal().Buffer(), float32(vol))
	}
	return nil
}

func (m *muteRun) RunInter(t *Tick) error {
	muted, _ := m.muted.Bool()
	if !muted && m.audioMuted != nil {
		muted, _ = m.audioMuted.Bool()
	}
	if muted {
		buf := m.signal.Signal().Buffer()
		vek32.Zeros_Into(buf, len(buf))
	}
	return nil
}

// RunInter shapes the voice with an attack-decay-sustain-release curve and
// ends the stream when the release is over.
func (e *envelopeRun) RunInter(t *Tick) error {
	v := e.signal.Voice()
	sig := e.signal.Signal()
	buf := sig.Buffer()
	attack, _ := e.attack.Float()
	decay, _ := e.decay.Float()
	sustain, _ := e.sustain.Float()
	release, _ := e.release.Float()
	sr := float64(t.SampleRate)
	released := v.Released()
	elapsed := float64(v.Elapsed())
	for i := range buf {
		pos := (elapsed + float64(i)) / sr
		switch {
		case released:
			e.level -= rampStep(release, sr)
		case pos < attack:
			e.level += rampStep(attack, sr)
		case pos < attack+decay:
			e.level -= (1 - sustain) * rampStep(decay, sr)
		default:
			e.level = sustain
		}
		e.level = math.Min(math.Max(e.level, 0), 1)
		buf[i] *= float32(e.level)
	}
	if released && e.level == 0 {
		sig.Finish()
	}
	return nil
}

func peakOf(r *RecallChannel, t *Tick) *peakState {
	return localState(r, func() *peakState {
		return &peakState{tmp: make([]float32, t.BufferSize)}
	})
}

func (p *peakChannelRun) RunPre(t *Tick) error {
	st := peakOf(p.run.Template(), t)
	if st.tick != t.Index {
		st.tick = t.Index
		if st.peak != 0 {
			st.peak = 0
			p.peak.SetFloat(0)
		}
	}
	return nil
}

// Close drops the meter when the run is removed. Runs still playing on the
// channel raise it again on their next tick.
func (p *peakChannelRun) Close() error {
	if st, ok := p.run.Template().local.(*peakState); ok {
		st.peak = 0
	}
	return p.peak.SetFloat(0)
}

func (p *peakRun) RunPost(t *Tick) error {
	st := peakOf(p.signal.Template(), t)
	buf := p.signal.Signal().Buffer()
	if len(buf) == 0 {
		return nil
	}
	tmp := st.tmp[:len(buf)]
	copy(tmp, buf)
	vek32.Abs_Inplace(tmp)
	if m := vek32.Max(tmp); m > st.peak {
		st.peak = m
		p.peak.SetFloat(float64(m))
	}
	return nil
}

func (a *analyseRun) RunPost(t *Tick) error {
	st := localState(a.signal.Template(), func() *analyseState {
		return newAnalyseState(t.BufferSize)
	})
	if st.tick != t.Index {
		if st.frames > 0 {
			smooth, _ := a.smooth.Float()
			a.spectrum.SetFloats(st.analyse(smooth))
		}
		st.tick = t.Index
		clear(st.mix)
		st.frames = 0
	}
	buf := a.signal.Signal().Buffer()
	for i, s := range buf {
		st.mix[i] += float64(s)
	}
	st.frames = max(st.frames, len(buf))
	return nil
}

func newAnalyseState(n int) *analyseState {
	st := &analyseState{
		mix:    make([]float64, n),
		window: window.Hann(n),
		power:  make([]float32, n/2),
		tmp:    make([]float32, n/2),
		bands:  make([]float64, AnalyseBands),
	}
	if dsputils.IsPowerOf2(n) {
		st.re = make([]float64, n)
		st.im = make([]float64, n)
		st.cos = make([]float64, n/2)
		st.sin = make([]float64, n/2)
		for k := range st.cos {
			st.cos[k] = math.Cos(-2 * math.Pi * float64(k) / float64(n))
			st.sin[k] = math.Sin(-2 * math.Pi * float64(k) / float64(n))
		}
	}
	return st
}

// analyse windows the mix, takes its power spectrum, smooths it against the
// previous one and sums it into bands of equal width.
func (st *analyseState) analyse(smooth float64) []float64 {
	for i := range st.mix {
		st.mix[i] *= st.window[i]
	}
	m := len(st.power)
	t := st.tmp[:m]
	if st.re != nil {
		st.transform()
		for i := range t {
			t[i] = float32(math.Hypot(st.re[1+i], st.im[1+i]))
		}
	} else {
		c := fft.FFTReal(st.mix)
		for i := range t {
			t[i] = float32(cmplx.Abs(c[1+i]))
		}
	}
	vek32.Mul_Inplace(t, t)
	vek32.DivNumber_Inplace(t, float32(len(st.mix)))
	vek32.Sub_Inplace(t, st.power)
	vek32.MulNumber_Inplace(t, float32(1-smooth))
	vek32.Add_Inplace(st.power, t)
	per := max(m/len(st.bands), 1)
	for b := range st.bands {
		lo := min(b*per, m)
		hi := min(lo+per, m)
		if lo == hi {
			st.bands[b] = 0
			continue
		}
		st.bands[b] = float64(vek32.Mean(st.power[lo:hi]))
	}
	return st.bands
}

// transform is an iterative radix-2 FFT of mix into re and im, using the
// twiddle factors computed by newAnalyseState.
func (st *analyseState) transform() {
	n := len(st.re)
	copy(st.re, st.mix)
	clear(st.im)
	for i, j := 0, 0; i < n; i++ {
		if i < j {
			st.re[i], st.re[j] = st.re[j], st.re[i]
		}
		m := n >> 1
		for m >= 1 && j >= m {
			j -= m
			m >>= 1
		}
		j += m
	}
	for size := 2; size <= n; size <<= 1 {
		half, stride := size/2, n/size
		for k := 0; k < n; k += size {
			for j := 0; j < half; j++ {
				wr, wi := st.cos[j*stride], st.sin[j*stride]
				a, b := k+j, k+j+half
				tr := wr*st.re[b] - wi*st.im[b]
				ti := wr*st.im[b] + wi*st.re[b]
				st.re[b], st.im[b] = st.re[a]-tr, st.im[a]-ti
				st.re[a] += tr
				st.im[a] += ti
			}
		}
	}
}

func (c *copyRun) RunPost(t *Tick) error {
	ch := c.signal.Channel()
	dst := ch.out
	if c.delayed {
		dst = ch.next
	}
	buf := c.signal.Signal().Buffer()
	vek32.Add_Inplace(dst, buf)
	// a released voice that has gone silent ends even without a generator
	if v := c.signal.Voice(); v != nil && v.Released() && silent(buf) {
		c.signal.Signal().Finish()
	}
	return nil
}

func silent(buf []float32) bool {
	for _, s := range buf {
		if s != 0 {
			return false
		}
	}
	return true
}
