package midi

import (
	"log/slog"
	"sync"

	"github.com/gsequencer/ags/engine"
	"gitlab.com/gomidi/midi/v2"
)

// Player turns live note messages into voices of one audio. Its
// HandleMessage method has the signature of a gomidi listener and can be
// called from any goroutine.
type Player struct {
	engine *engine.Engine
	audio  *engine.Audio
	keys   KeyMap
	log    *slog.Logger

	mu     sync.Mutex
	voices map[byte]*engine.RecallID
}

func NewPlayer(e *engine.Engine, a *engine.Audio, keys KeyMap, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{engine: e, audio: a, keys: keys, log: logger, voices: map[byte]*engine.RecallID{}}
}

func (p *Player) HandleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity) && velocity > 0:
		p.NoteOn(key, velocity)
	case msg.GetNoteOn(&channel, &key, &velocity), msg.GetNoteOff(&channel, &key, &velocity):
		p.NoteOff(key)
	}
}

// NoteOn starts a voice for the key, releasing the voice the key already
// plays.
func (p *Player) NoteOn(key, velocity byte) {
	pad, ok := p.keys.Pad(key)
	if !ok {
		return
	}
	id, err := p.engine.NoteOn(p.audio, pad, key, velocity)
	if err != nil {
		p.log.Warn("midi note on failed", "key", key, "err", err)
		return
	}
	p.mu.Lock()
	old := p.voices[key]
	p.voices[key] = id
	p.mu.Unlock()
	if old != nil {
		p.engine.NoteOff(old)
	}
}

func (p *Player) NoteOff(key byte) {
	p.mu.Lock()
	id := p.voices[key]
	delete(p.voices, key)
	p.mu.Unlock()
	if id != nil {
		p.engine.NoteOff(id)
	}
}

// AllNotesOff releases every sounding voice.
func (p *Player) AllNotesOff() {
	p.mu.Lock()
	voices := p.voices
	p.voices = map[byte]*engine.RecallID{}
	p.mu.Unlock()
	for _, id := range voices {
		p.engine.NoteOff(id)
	}
}
