package ags

import "io"

type (
	// AudioBuffer is a buffer of stereo frames, the format every soundcard
	// backend and exporter works with.
	AudioBuffer [][2]float32

	// AudioSource fills the whole buffer with the next frames. The engine's
	// Tick method is an AudioSource.
	AudioSource func(buf AudioBuffer) error

	// AudioContext is a soundcard backend. Play starts pulling buffers from
	// the source on the backend's own thread.
	AudioContext interface {
		Play(src AudioSource) CloserWaiter
		Close() error
	}

	// CloserWaiter is a playing stream: Close stops it, Wait blocks until it
	// has stopped, either closed or because the source returned io.EOF.
	CloserWaiter interface {
		Close() error
		Wait()
	}
)

// Source returns an AudioSource that plays the buffer once and then
// reports io.EOF.
func (b AudioBuffer) Source() AudioSource {
	pos := 0
	return func(buf AudioBuffer) error {
		n := buf.Fill(b[pos:])
		pos += n
		if n == 0 {
			return io.EOF
		}
		return nil
	}
}

// Fill clears the buffer and copies frames from src, returning the number
// of frames copied.
func (b AudioBuffer) Fill(src AudioBuffer) int {
	n := copy(b, src)
	clear(b[n:])
	return n
}

// Interleaved appends the buffer as interleaved L,R float32 samples to dst.
func (b AudioBuffer) Interleaved(dst []float32) []float32 {
	for _, f := range b {
		dst = append(dst, f[0], f[1])
	}
	return dst
}
