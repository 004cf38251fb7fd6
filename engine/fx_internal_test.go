package engine

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/maddyblue/go-dsp/fft"
)

func sine(n, sampleRate int, freq float64) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return buf
}

func maxAbs(buf []float32) float64 {
	m := 0.0
	for _, s := range buf {
		m = math.Max(m, math.Abs(float64(s)))
	}
	return m
}

func TestPeakingGainAtCenter(t *testing.T) {
	for _, gain := range []float64{2, 0.5} {
		var b biquad
		b.peaking(48000, 448, gain)
		buf := sine(48000, 48000, 448)
		b.process(buf)
		if got := maxAbs(buf[43200:]); math.Abs(got-gain) > 0.02*gain {
			t.Errorf("expected a gain of %v at the center frequency, got %v", gain, got)
		}
	}
	var b biquad
	b.peaking(22050, 14336, 2)
	if !b.flat {
		t.Errorf("expected a band above nyquist to be skipped")
	}
}

func TestTransformMatchesFFT(t *testing.T) {
	st := newAnalyseState(64)
	if st.re == nil {
		t.Fatal("expected an in-place transform for 64 frames")
	}
	for i := range st.mix {
		st.mix[i] = math.Sin(float64(i)*0.3) + 0.25*math.Cos(float64(i)*1.7)
	}
	want := fft.FFTReal(st.mix)
	st.transform()
	for i, c := range want {
		if cmplx.Abs(c-complex(st.re[i], st.im[i])) > 1e-9 {
			t.Fatalf("bin %d: expected %v, got %v", i, c, complex(st.re[i], st.im[i]))
		}
	}
	if newAnalyseState(48).re != nil {
		t.Errorf("expected 48 frames to use the fallback transform")
	}
}
