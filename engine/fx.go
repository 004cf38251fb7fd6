package engine

import (
	"math"
	"strconv"

	"github.com/gsequencer/ags"
	"github.com/viterin/vek/vek32"
)

const (
	tremoloName = "ags-tremolo"
	eq10Name    = "ags-eq10"
)

// Eq10Bands are the center frequencies of the ags-eq10 bands, one octave
// apart. Their gain ports are named peak-<frequency>hz.
var Eq10Bands = [10]float64{28, 56, 112, 224, 448, 896, 1792, 3584, 7168, 14336}

// eq10Q gives each peaking filter a bandwidth of one octave.
const eq10Q = math.Sqrt2

type (
	// tremoloRun modulates the amplitude of its signal with a sine LFO. The
	// phase is kept per run so a voice's tremolo is continuous over ticks.
	tremoloRun struct {
		NopRunner
		signal               *RecallAudioSignal
		enabled, gain, depth *ags.Port
		freq, tuning         *ags.Port
		phase                float64
		lfo                  []float32
	}

	// biquad is one peaking filter in transposed direct form II.
	biquad struct {
		b0, b1, b2, a1, a2 float64
		z1, z2             float64
		flat               bool
	}

	eq10Run struct {
		NopRunner
		signal   *RecallAudioSignal
		peaks    [len(Eq10Bands)]*ags.Port
		pressure *ags.Port
		bands    [len(Eq10Bands)]biquad
		version  uint64
		rate     int
	}
)

var tremoloPlugin = &Plugin{
	Name:         tremoloName,
	ChannelScope: true,
	ChannelPorts: []ags.PortSpec{
		{Name: "tremolo-enabled", Kind: ags.KindBool, Default: 1},
		{Name: "tremolo-gain", Kind: ags.KindFloat, Lower: 0, Upper: 1, Default: 1},
		{Name: "tremolo-lfo-depth", Kind: ags.KindFloat, Lower: 0, Upper: 1},
		{Name: "tremolo-lfo-freq", Kind: ags.KindFloat, Lower: 0.01, Upper: 20, Default: 6},
		{Name: "tremolo-tuning", Kind: ags.KindFloat, Lower: -1200, Upper: 1200},
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		return &tremoloRun{
			signal:  r,
			enabled: r.Port("tremolo-enabled"),
			gain:    r.Port("tremolo-gain"),
			depth:   r.Port("tremolo-lfo-depth"),
			freq:    r.Port("tremolo-lfo-freq"),
			tuning:  r.Port("tremolo-tuning"),
		}, nil
	},
}

var eq10Plugin = &Plugin{
	Name:         eq10Name,
	ChannelScope: true,
	ChannelPorts: eq10Ports(),
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		e := &eq10Run{signal: r, pressure: r.Port("pressure")}
		for i, f := range Eq10Bands {
			e.peaks[i] = r.Port(eq10PortName(f))
		}
		return e, nil
	},
}

// eq10Ports declares one gain port per band, written in decibels and stored
// as linear gain, and the output gain.
func eq10Ports() []ags.PortSpec {
	ret := make([]ags.PortSpec, 0, len(Eq10Bands)+1)
	for _, f := range Eq10Bands {
		ret = append(ret, ags.PortSpec{
			Name:       eq10PortName(f),
			Kind:       ags.KindFloat,
			Lower:      0,
			Upper:      2,
			Default:    1,
			Flags:      ags.PortConvertAlways,
			Conversion: ags.DecibelConversion{},
		})
	}
	return append(ret, ags.PortSpec{Name: "pressure", Kind: ags.KindFloat, Lower: 0, Upper: 2, Default: 1})
}

func eq10PortName(f float64) string {
	return "peak-" + strconv.FormatFloat(f, 'f', -1, 64) + "hz"
}

func (tr *tremoloRun) RunInter(t *Tick) error {
	if on, _ := tr.enabled.Bool(); !on {
		return nil
	}
	buf := tr.signal.Signal().Buffer()
	if cap(tr.lfo) < len(buf) {
		tr.lfo = make([]float32, t.BufferSize)
	}
	lfo := tr.lfo[:len(buf)]
	gain, _ := tr.gain.Float()
	depth, _ := tr.depth.Float()
	freq, _ := tr.freq.Float()
	tuning, _ := tr.tuning.Float()
	inc := 2 * math.Pi * freq * math.Exp2(tuning/1200) / float64(t.SampleRate)
	for i := range lfo {
		lfo[i] = float32(gain * (1 - depth*0.5*(1-math.Sin(tr.phase))))
		tr.phase += inc
		if tr.phase >= 2*math.Pi {
			tr.phase -= 2 * math.Pi
		}
	}
	vek32.Mul_Inplace(buf, lfo)
	return nil
}

// peaking sets the coefficients of a peaking filter with the given linear
// amplitude gain at f0.
func (b *biquad) peaking(sampleRate int, f0, gain float64) {
	if gain == 1 || f0 >= float64(sampleRate)/2 {
		b.flat = true
		return
	}
	b.flat = false
	a := math.Sqrt(math.Max(gain, 1e-6))
	w0 := 2 * math.Pi * f0 / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * eq10Q)
	cos := math.Cos(w0)
	a0 := 1 + alpha/a
	b.b0 = (1 + alpha*a) / a0
	b.b1 = -2 * cos / a0
	b.b2 = (1 - alpha*a) / a0
	b.a1 = -2 * cos / a0
	b.a2 = (1 - alpha/a) / a0
}

func (b *biquad) process(buf []float32) {
	for i, s := range buf {
		x := float64(s)
		y := b.b0*x + b.z1
		b.z1 = b.b1*x - b.a1*y + b.z2
		b.z2 = b.b2*x - b.a2*y
		buf[i] = float32(y)
	}
}

func (e *eq10Run) RunInter(t *Tick) error {
	var v uint64
	for _, p := range e.peaks {
		v += p.Version()
	}
	if v != e.version || e.rate != t.SampleRate {
		e.version, e.rate = v, t.SampleRate
		for i, p := range e.peaks {
			g, _ := p.Float()
			e.bands[i].peaking(t.SampleRate, Eq10Bands[i], g)
		}
	}
	buf := e.signal.Signal().Buffer()
	for i := range e.bands {
		if !e.bands[i].flat {
			e.bands[i].process(buf)
		}
	}
	if p, _ := e.pressure.Float(); p != 1 {
		vek32.MulNumber_Inplace(buf, float32(p))
	}
	return nil
}
