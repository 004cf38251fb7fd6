// Package oto plays an ags.AudioSource on the default soundcard through
// github.com/ebitengine/oto/v3.
package oto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gsequencer/ags"
)

type (
	OtoContext struct {
		context    *oto.Context
		bufferSize int
	}

	// OtoOutput is one playing source. It implements io.Reader for the oto
	// player, pulling a buffer from the source whenever the player asks for
	// more bytes.
	OtoOutput struct {
		player *oto.Player
		src    ags.AudioSource
		buf    ags.AudioBuffer
		done   chan struct{}
		once   sync.Once
		mu     sync.Mutex // guards err
		err    error
	}
)

const bytesPerFrame = 8 // two float32 samples

// NewContext opens the soundcard. Only one context can be opened per
// process.
func NewContext(sampleRate, bufferSize int) (*OtoContext, error) {
	if sampleRate <= 0 {
		sampleRate = ags.DefaultSampleRate
	}
	if bufferSize <= 0 {
		bufferSize = ags.DefaultBufferSize
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(bufferSize) * time.Second / time.Duration(sampleRate),
	}
	context, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{context: context, bufferSize: bufferSize}, nil
}

func (c *OtoContext) Play(src ags.AudioSource) ags.CloserWaiter {
	o := &OtoOutput{
		src:  src,
		buf:  make(ags.AudioBuffer, c.bufferSize),
		done: make(chan struct{}),
	}
	o.player = c.context.NewPlayer(o)
	o.player.SetBufferSize(c.bufferSize * bytesPerFrame)
	o.player.Play()
	return o
}

// Close suspends the soundcard. oto contexts cannot be released.
func (c *OtoContext) Close() error {
	if err := c.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (o *OtoOutput) Read(p []byte) (int, error) {
	select {
	case <-o.done:
		return 0, io.EOF
	default:
	}
	frames := min(len(p)/bytesPerFrame, len(o.buf))
	if frames == 0 {
		return 0, nil
	}
	buf := o.buf[:frames]
	err := o.src(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		o.finish(err)
		return 0, err
	}
	for i, f := range buf {
		binary.LittleEndian.PutUint32(p[i*bytesPerFrame:], math.Float32bits(f[0]))
		binary.LittleEndian.PutUint32(p[i*bytesPerFrame+4:], math.Float32bits(f[1]))
	}
	if err != nil {
		o.finish(nil)
	}
	return frames * bytesPerFrame, nil
}

func (o *OtoOutput) finish(err error) {
	o.once.Do(func() {
		o.mu.Lock()
		o.err = err
		o.mu.Unlock()
		close(o.done)
	})
}

// Err returns the error that stopped the source, if any.
func (o *OtoOutput) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *OtoOutput) Wait() {
	<-o.done
	for o.player.IsPlaying() {
		time.Sleep(time.Millisecond)
	}
}

func (o *OtoOutput) Close() error {
	o.finish(nil)
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
