//go:build plugin

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gsequencer/ags"
	"github.com/gsequencer/ags/config"
	"github.com/gsequencer/ags/engine"
	"github.com/gsequencer/ags/midi"
	"pipelined.dev/audio/vst2"
)

var (
	pluginID   = [4]byte{'A', 'G', 'S', 'q'}
	pluginName = "ags"
)

// defaultSession plays every key on one synth voice per note.
var defaultSession = ags.Session{
	BPM: ags.DefaultBPM,
	Audios: []ags.AudioSpec{{
		Name: "synth",
		Pads: 1,
		Recalls: []ags.PluginSpec{
			{Name: "ags-delay"},
			{Name: "ags-synth", Params: map[string]float64{"wave": float64(engine.WaveSaw)}},
			{Name: "ags-envelope", Params: map[string]float64{"attack": 0.01, "decay": 0.1, "sustain": 0.7, "release": 0.2}},
			{Name: "ags-volume"},
			{Name: "ags-play"},
		},
	}},
}

// loadSession reads vsti.yml from the user's gsequencer config directory,
// falling back to the default session.
func loadSession(logger *slog.Logger) *ags.Session {
	s := defaultSession
	dir, err := os.UserConfigDir()
	if err != nil {
		return &s
	}
	data, err := os.ReadFile(filepath.Join(dir, "gsequencer", "vsti.yml"))
	if err != nil {
		return &s
	}
	var user ags.Session
	if err := yaml.Unmarshal(data, &user); err != nil {
		logger.Warn("could not parse vsti.yml, using the default session", "err", err)
		return &s
	}
	return &user
}

type processContext struct {
	host    vst2.Host
	engine  *engine.Engine
	audios  []*engine.Audio
	players []*midi.Player
	bpm     float64
}

func (c *processContext) processEvents(events []vst2.MIDIEvent) {
	for _, ev := range events {
		channel := int(ev.Data[0] & 0x0f)
		if channel >= len(c.players) {
			continue
		}
		switch {
		case ev.Data[0] >= 0x80 && ev.Data[0] < 0x90:
			c.players[channel].NoteOff(ev.Data[1])
		case ev.Data[0] >= 0x90 && ev.Data[0] < 0xA0 && ev.Data[2] > 0:
			c.players[channel].NoteOn(ev.Data[1], ev.Data[2])
		case ev.Data[0] >= 0x90 && ev.Data[0] < 0xA0:
			c.players[channel].NoteOff(ev.Data[1])
		default:
			// ignore all other MIDI messages
		}
	}
}

func (c *processContext) syncBPM() {
	timeInfo := c.host.GetTimeInfo(vst2.TempoValid)
	if timeInfo == nil || timeInfo.Flags&vst2.TempoValid == 0 || timeInfo.Tempo == 0 || timeInfo.Tempo == c.bpm {
		return
	}
	c.bpm = timeInfo.Tempo
	for _, a := range c.audios {
		c.engine.ChangeBPM(a, c.bpm)
	}
}

func init() {
	var (
		version = int32(100)
	)
	vst2.PluginAllocator = func(h vst2.Host) (vst2.Plugin, vst2.Dispatcher) {
		cfg, _, err := config.LoadUser()
		if err != nil {
			cfg = config.Default()
		}
		level, _ := cfg.Level()
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		e := engine.NewFromConfig(cfg, logger, nil)
		audios, err := e.LoadSession(loadSession(logger))
		if err != nil {
			logger.Error("could not load the session", "err", err)
		}
		context := &processContext{host: h, engine: e, audios: audios}
		// one MIDI channel per audio
		for _, a := range audios {
			context.players = append(context.players, midi.NewPlayer(e, a, midi.KeyMap{Pads: a.Pads(), Fold: true}, logger))
		}
		var events []vst2.MIDIEvent
		buf := make(ags.AudioBuffer, 1024)
		return vst2.Plugin{
				UniqueID:       pluginID,
				Version:        version,
				InputChannels:  0,
				OutputChannels: 2,
				Name:           pluginName,
				Vendor:         "gsequencer/ags",
				Category:       vst2.PluginCategorySynth,
				Flags:          vst2.PluginIsSynth,
				ProcessFloatFunc: func(in, out vst2.FloatBuffer) {
					left := out.Channel(0)
					right := out.Channel(1)
					if len(buf) < out.Frames {
						buf = append(buf, make(ags.AudioBuffer, out.Frames-len(buf))...)
					}
					buf = buf[:out.Frames]
					context.syncBPM()
					context.processEvents(events)
					events = events[:0] // reset buffer, but keep the allocated memory
					if err := e.Render(buf); err != nil {
						clear(buf)
					}
					for i := 0; i < out.Frames; i++ {
						left[i], right[i] = buf[i][0], buf[i][1]
					}
				},
			}, vst2.Dispatcher{
				CanDoFunc: func(pcds vst2.PluginCanDoString) vst2.CanDoResponse {
					switch pcds {
					case vst2.PluginCanReceiveEvents, vst2.PluginCanReceiveMIDIEvent, vst2.PluginCanReceiveTimeInfo:
						return vst2.YesCanDo
					}
					return vst2.NoCanDo
				},
				ProcessEventsFunc: func(ev *vst2.EventsPtr) {
					for i := 0; i < ev.NumEvents(); i++ {
						a := ev.Event(i)
						switch v := a.(type) {
						case *vst2.MIDIEvent:
							events = append(events, *v)
						}
					}
				},
				CloseFunc: func() {
					for _, p := range context.players {
						p.AllNotesOff()
					}
					e.Close()
				},
			}
	}
}

func main() {}
