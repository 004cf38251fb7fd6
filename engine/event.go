package engine

import (
	"github.com/google/uuid"
	"github.com/gsequencer/ags"
)

type (
	// Event is sent from the engine to the application through the channel
	// returned by Engine.Events. It is one of DurationChangedEvent,
	// ResizeEvent, DoneEvent, StopEvent, ErrorEvent or XrunEvent.
	Event interface {
		event()
	}

	// DurationChangedEvent is sent when a tempo change alters the delay of
	// a sound scope.
	DurationChangedEvent struct {
		Audio    string
		Scope    ags.SoundScope
		Delay    float64 // buffers per step
		Duration uint64  // buffers
	}

	ResizeEvent struct {
		Audio    string
		Kind     ResizeKind
		Old, New int
	}

	// DoneEvent is sent after a RecallID has been removed from the graph.
	DoneEvent struct {
		Audio    string
		RecallID uuid.UUID
		Scope    ags.SoundScope
		Voice    bool
		Reason   DoneReason
		Err      error
	}

	// StopEvent is sent when a non-looping transport reaches its end.
	StopEvent struct {
		Audio    string
		RecallID uuid.UUID
		Scope    ags.SoundScope
	}

	ErrorEvent struct {
		Err *ags.RealtimeProcessError
	}

	XrunEvent struct {
		Err *ags.XrunError
	}

	ResizeKind int
	DoneReason int
)

const (
	ResizeAudioChannels ResizeKind = iota
	ResizePads
)

const (
	DoneFinished DoneReason = iota
	DoneCancelled
	DoneStopped
	DoneFailed
)

func (DurationChangedEvent) event() {}
func (ResizeEvent) event() {}
func (DoneEvent) event() {}
func (StopEvent) event() {}
func (ErrorEvent) event() {}
func (XrunEvent) event() {}

func (r DoneReason) String() string {
	switch r {
	case DoneFinished:
		return "finished"
	case DoneCancelled:
		return "cancelled"
	case DoneStopped:
		return "stopped"
	case DoneFailed:
		return "failed"
	}
	return "unknown"
}

func (k ResizeKind) String() string {
	if k == ResizePads {
		return "pads"
	}
	return "audio-channels"
}
