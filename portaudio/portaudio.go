//go:build portaudio

// Package portaudio plays an ags.AudioSource through PortAudio. It needs cgo
// and the PortAudio library, so it is only built with the portaudio tag.
package portaudio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/gsequencer/ags"
)

type (
	Context struct {
		sampleRate int
		bufferSize int
	}

	Output struct {
		stream   *portaudio.Stream
		src      ags.AudioSource
		buf      ags.AudioBuffer
		eof      chan struct{}
		done     chan struct{}
		eofOnce  sync.Once
		doneOnce sync.Once
		err      error
	}
)

func NewContext(sampleRate, bufferSize int) (*Context, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("cannot initialize portaudio: %w", err)
	}
	return &Context{sampleRate: sampleRate, bufferSize: bufferSize}, nil
}

func (c *Context) Play(src ags.AudioSource) ags.CloserWaiter {
	o := &Output{
		src:  src,
		buf:  make(ags.AudioBuffer, c.bufferSize),
		eof:  make(chan struct{}),
		done: make(chan struct{}),
	}
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(c.sampleRate), c.bufferSize, o.process)
	if err != nil {
		o.err = fmt.Errorf("cannot open portaudio stream: %w", err)
		close(o.done)
		return o
	}
	o.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		o.err = fmt.Errorf("cannot start portaudio stream: %w", err)
		close(o.done)
		return o
	}
	go func() {
		select {
		case <-o.eof:
			o.stop()
		case <-o.done:
		}
	}()
	return o
}

func (c *Context) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio termination error: %w", err)
	}
	return nil
}

func (o *Output) process(out [][]float32) {
	n := min(len(out[0]), len(o.buf))
	buf := o.buf[:n]
	if err := o.src(buf); err != nil {
		if !errors.Is(err, io.EOF) {
			o.err = err
		}
		o.eofOnce.Do(func() { close(o.eof) })
	}
	for i, f := range buf {
		out[0][i], out[1][i] = f[0], f[1]
	}
	clear(out[0][n:])
	clear(out[1][n:])
}

func (o *Output) stop() error {
	var err error
	o.doneOnce.Do(func() {
		if e := o.stream.Stop(); e != nil {
			err = e
		}
		if e := o.stream.Close(); e != nil && err == nil {
			err = e
		}
		close(o.done)
	})
	return err
}

// Close stops the stream. It returns the error that prevented the stream
// from opening, if any.
func (o *Output) Close() error {
	if o.stream == nil {
		return o.err
	}
	return o.stop()
}

func (o *Output) Wait() { <-o.done }
