package main

import (
	"fmt"
	"sort"

	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/config"
	"github.com/gsequencer/ags/engine"
	"github.com/gsequencer/ags/oto"
	"github.com/gsequencer/ags/stream"
)

type backendFunc func(sampleRate, bufferSize int) (ags.AudioContext, error)

// Backends maps the soundcard backend names of the configuration to their
// constructors. Optional backends add themselves in init.
var Backends = map[string]backendFunc{
	"oto": func(sampleRate, bufferSize int) (ags.AudioContext, error) {
		c, err := oto.NewContext(sampleRate, bufferSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
	"beep": func(sampleRate, bufferSize int) (ags.AudioContext, error) {
		c, err := stream.NewContext(sampleRate, bufferSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
}

// Loaders bridge plugin formats to the engine. Loaders built with cgo add
// themselves in init.
var Loaders = map[engine.Format]engine.PluginLoader{}

func newAudioContext(cfg *config.Config) (ags.AudioContext, error) {
	name := cfg.SoundCard.Backend
	if name == "" {
		name = "oto"
	}
	f, ok := Backends[name]
	if !ok {
		names := make([]string, 0, len(Backends))
		for n := range Backends {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown soundcard backend %q, available: %v", name, names)
	}
	return f(cfg.SoundCard.SampleRate, cfg.SoundCard.BufferSize)
}
