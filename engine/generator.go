package engine

import (
	"math"
	"os"

	"github.com/go-audio/wav"
	"github.com/gsequencer/ags"
	"github.com/pkg/errors"
)

type (
	Waveform int

	synthRun struct {
		NopRunner
		signal           *RecallAudioSignal
		wave, tune, gain *ags.Port
		attack, release  *ags.Port
		phase            float64
		level            float64
	}

	// sample is a decoded wave file, one slice per channel.
	sample struct {
		channels   [][]float32
		sampleRate int
	}

	playWaveRun struct {
		NopRunner
		signal *RecallAudioSignal
		data   []float32
		step   float64 // sample frames per output frame
		pos    float64
		gain   *ags.Port
	}
)

const (
	WaveSine Waveform = iota
	WaveSaw
	WaveSquare
	WaveTriangle
	NumWaveforms
)

var synthPlugin = &Plugin{
	Name:         synthName,
	ChannelScope: true,
	Target:       TargetVoice,
	Flags:        FlagInputOriented,
	ChannelPorts: []ags.PortSpec{
		{Name: "wave", Kind: ags.KindUint, Upper: float64(NumWaveforms - 1)},
		{Name: "tune", Kind: ags.KindFloat, Lower: -48, Upper: 48},
		{Name: "gain", Kind: ags.KindFloat, Lower: 0, Upper: 2, Default: 0.5},
		{Name: "attack", Kind: ags.KindFloat, Lower: 0, Upper: 10, Default: 0.005},
		{Name: "release", Kind: ags.KindFloat, Lower: 0, Upper: 10, Default: 0.05},
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		return &synthRun{
			signal:  r,
			wave:    r.Port("wave"),
			tune:    r.Port("tune"),
			gain:    r.Port("gain"),
			attack:  r.Port("attack"),
			release: r.Port("release"),
		}, nil
	},
}

var playWavePlugin = &Plugin{
	Name:         playWaveName,
	ChannelScope: true,
	Target:       TargetVoice,
	Flags:        FlagInputOriented,
	ChannelPorts: []ags.PortSpec{
		{Name: "gain", Kind: ags.KindFloat, Lower: 0, Upper: 2, Default: 1},
	},
	Setup: func(spec ags.PluginSpec, env SetupEnv) (any, error) {
		if spec.File == "" {
			return nil, errors.New("no file given")
		}
		return loadSample(spec.File)
	},
	NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
		s, ok := r.Template().Data().(*sample)
		if !ok || len(s.channels) == 0 {
			return nil, errors.New("no sample loaded")
		}
		e := r.Channel().audio.engine
		return &playWaveRun{
			signal: r,
			data:   s.channels[r.Channel().audioChannel%len(s.channels)],
			step:   float64(s.sampleRate) / float64(e.opts.SampleRate),
			gain:   r.Port("gain"),
		}, nil
	},
}

// RunInter adds one buffer of the oscillator into the signal. After the
// voice is released the level falls to zero within the release time and the
// stream ends.
func (s *synthRun) RunInter(t *Tick) error {
	v := s.signal.Voice()
	buf := s.signal.Signal().Buffer()
	tune, _ := s.tune.Float()
	gain, _ := s.gain.Float()
	wave, _ := s.wave.Uint()
	attack, _ := s.attack.Float()
	release, _ := s.release.Float()
	sr := float64(t.SampleRate)
	inc := v.Frequency(tune) / sr
	up := rampStep(attack, sr)
	down := rampStep(release, sr)
	released := v.Released()
	g := gain * float64(v.Gain())
	for i := range buf {
		if released {
			s.level -= down
		} else {
			s.level += up
		}
		s.level = math.Min(math.Max(s.level, 0), 1)
		buf[i] += float32(oscillator(Waveform(wave), s.phase) * s.level * g)
		s.phase += inc
		s.phase -= math.Floor(s.phase)
	}
	if released && s.level == 0 {
		s.signal.Signal().Finish()
	}
	return nil
}

func rampStep(seconds, sampleRate float64) float64 {
	if seconds <= 0 {
		return 1
	}
	return 1 / (seconds * sampleRate)
}

func oscillator(w Waveform, phase float64) float64 {
	switch w {
	case WaveSaw:
		return 2*phase - 1
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveTriangle:
		return 1 - 4*math.Abs(phase-0.5)
	}
	return math.Sin(2 * math.Pi * phase)
}

// RunInter adds the next buffer of the sample, resampled linearly. The
// stream ends with the sample.
func (p *playWaveRun) RunInter(t *Tick) error {
	buf := p.signal.Signal().Buffer()
	gain, _ := p.gain.Float()
	n := float64(len(p.data))
	for i := range buf {
		if p.pos >= n-1 {
			p.signal.Signal().Finish()
			return nil
		}
		j := int(p.pos)
		f := float32(p.pos - float64(j))
		buf[i] += (p.data[j] + f*(p.data[j+1]-p.data[j])) * float32(gain)
		p.pos += p.step
	}
	return nil
}

// loadSample decodes a PCM wave file into float channels.
func loadSample(path string) (*sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, errors.Errorf("%s: not a valid wave file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	chs := buf.Format.NumChannels
	if chs <= 0 {
		return nil, errors.Errorf("%s: no channels", path)
	}
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float32(math.Exp2(float64(depth - 1)))
	frames := len(buf.Data) / chs
	s := &sample{channels: make([][]float32, chs), sampleRate: buf.Format.SampleRate}
	for c := range s.channels {
		s.channels[c] = make([]float32, frames)
		for i := 0; i < frames; i++ {
			s.channels[c][i] = float32(buf.Data[i*chs+c]) / scale
		}
	}
	return s, nil
}
