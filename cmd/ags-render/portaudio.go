//go:build portaudio

package main

import (
	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/portaudio"
)

func init() {
	Backends["portaudio"] = func(sampleRate, bufferSize int) (ags.AudioContext, error) {
		c, err := portaudio.NewContext(sampleRate, bufferSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
