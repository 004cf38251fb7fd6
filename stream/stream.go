// Package stream adapts ags audio sources to github.com/gopxl/beep
// streamers, so they can be played on beep's speaker, mixed with other
// streamers or encoded to files.
package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"
	"github.com/gsequencer/ags"
)

type (
	// Streamer pulls buffers from an AudioSource. It ends when the source
	// reports io.EOF or an error, or when it is stopped.
	Streamer struct {
		src     ags.AudioSource
		buf     ags.AudioBuffer
		pos     int
		err     error
		ended   bool
		stopped atomic.Bool
	}

	// Context is an ags.AudioContext that plays on beep's speaker.
	Context struct {
		bufferSize int
	}

	player struct {
		streamer *Streamer
		done     chan struct{}
		once     sync.Once
	}
)

func New(src ags.AudioSource, bufferSize int) *Streamer {
	return &Streamer{src: src, buf: make(ags.AudioBuffer, bufferSize), pos: bufferSize}
}

func (s *Streamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if s.stopped.Load() {
			s.ended = true
		}
		if s.ended {
			break
		}
		if s.pos >= len(s.buf) {
			if err := s.src(s.buf); err != nil {
				s.ended = true
				if !errors.Is(err, io.EOF) {
					s.err = err
				}
				break
			}
			s.pos = 0
		}
		for ; s.pos < len(s.buf) && n < len(samples); s.pos++ {
			samples[n][0] = float64(s.buf[s.pos][0])
			samples[n][1] = float64(s.buf[s.pos][1])
			n++
		}
	}
	return n, n > 0 || !s.ended
}

func (s *Streamer) Err() error { return s.err }

// Stop ends the stream at the next call to Stream.
func (s *Streamer) Stop() { s.stopped.Store(true) }

// NewContext initializes the speaker. The speaker is process wide, so only
// one context should be open at a time.
func NewContext(sampleRate, bufferSize int) (*Context, error) {
	if bufferSize <= 0 {
		bufferSize = ags.DefaultBufferSize
	}
	if err := speaker.Init(beep.SampleRate(sampleRate), bufferSize); err != nil {
		return nil, fmt.Errorf("cannot initialize speaker: %w", err)
	}
	return &Context{bufferSize: bufferSize}, nil
}

func (c *Context) Play(src ags.AudioSource) ags.CloserWaiter {
	p := &player{streamer: New(src, c.bufferSize), done: make(chan struct{})}
	speaker.Play(beep.Seq(p.streamer, beep.Callback(p.finish)))
	return p
}

func (c *Context) Close() error {
	speaker.Close()
	return nil
}

func (p *player) finish() { p.once.Do(func() { close(p.done) }) }

func (p *player) Close() error {
	p.streamer.Stop()
	return p.streamer.Err()
}

func (p *player) Wait() { <-p.done }

// Encode renders frames frames of the source into a .wav file. pcm16
// selects 16-bit samples, otherwise 24-bit samples are written.
func Encode(w io.WriteSeeker, src ags.AudioSource, sampleRate, bufferSize, frames int, pcm16 bool) error {
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 2, Precision: 3}
	if pcm16 {
		format.Precision = 2
	}
	s := New(src, bufferSize)
	if err := wav.Encode(w, beep.Take(frames, s), format); err != nil {
		return fmt.Errorf("could not encode .wav: %w", err)
	}
	return s.Err()
}
