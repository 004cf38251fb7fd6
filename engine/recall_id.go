package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gsequencer/ags"
)

type (
	// RecallID identifies one activation of an audio: a transport started
	// for a sound scope, or a voice spawned by a note. Every run in the
	// graph is keyed by its RecallID; the RecallID itself owns nothing.
	RecallID struct {
		uuid    uuid.UUID
		audio   *Audio
		scope   ags.SoundScope
		context *RecyclingContext
		parent  *RecallID
		voice   *Voice

		state     atomic.Int32
		failed    atomic.Bool
		cancelled atomic.Bool
		stopping  atomic.Bool
		err       atomic.Pointer[ags.RealtimeProcessError]

		// the fields below are owned by the realtime thread
		children     []*RecallID
		top          []Recall
		builtVersion uint64
		beat         Beat
		reason       DoneReason
	}

	// RecyclingContext lists the pads whose recyclings a RecallID plays on.
	// A nil Pads covers every pad, including pads added later.
	RecyclingContext struct {
		Pads   []int
		Parent *RecyclingContext
	}

	// Voice is the note a voice RecallID plays.
	Voice struct {
		Key      byte
		Velocity byte
		// Sustain is the number of frames the note is held; 0 holds the
		// note until Release is called.
		Sustain  int
		released atomic.Bool
		elapsed  atomic.Int64
	}

	// Beat is the sequencing position published once per tick by the
	// count-beats recall of a transport RecallID. Nested recalls read it
	// instead of recomputing it.
	Beat struct {
		// Offsets of the steps that started during this tick, Steps of them.
		// The slice is reused by the next tick.
		Offsets []uint64
		Steps   int
		// Delay is the current number of buffers per step.
		Delay float64
		// Position is the fractional step position at the start of the tick.
		Position float64
	}
)

func (id *RecallID) UUID() uuid.UUID { return id.uuid }
func (id *RecallID) Audio() *Audio { return id.audio }
func (id *RecallID) SoundScope() ags.SoundScope { return id.scope }
func (id *RecallID) Context() *RecyclingContext { return id.context }
func (id *RecallID) Parent() *RecallID { return id.parent }
func (id *RecallID) Voice() *Voice { return id.voice }
func (id *RecallID) State() State { return State(id.state.Load()) }
func (id *RecallID) Err() *ags.RealtimeProcessError { return id.err.Load() }
func (id *RecallID) IsVoice() bool { return id.voice != nil }

// Beat returns the beat published for the transport this RecallID belongs
// to during the current tick.
func (id *RecallID) Beat() Beat {
	return id.Transport().beat
}

// Transport returns the root of the RecallID's parent chain.
func (id *RecallID) Transport() *RecallID {
	for id.parent != nil {
		id = id.parent
	}
	return id
}

func (id *RecallID) String() string {
	if id.voice != nil {
		return fmt.Sprintf("%s/%s voice %d (%s)", id.audio.name, id.scope, id.voice.Key, id.uuid)
	}
	return fmt.Sprintf("%s/%s (%s)", id.audio.name, id.scope, id.uuid)
}

func (id *RecallID) covers(c *Channel) bool {
	if id.context.Pads == nil {
		return true
	}
	for _, p := range id.context.Pads {
		if p == c.pad {
			return true
		}
	}
	return false
}

// record stores the first error of the RecallID and marks it failed. The
// whole tree is removed at the next tick boundary.
func (id *RecallID) record(err *ags.RealtimeProcessError) bool {
	id.failed.Store(true)
	return id.err.CompareAndSwap(nil, err)
}

// Release lets the voice enter its release phase.
func (v *Voice) Release() { v.released.Store(true) }

// Released reports whether the note has been released, either explicitly
// or because its sustain time elapsed.
func (v *Voice) Released() bool {
	return v.released.Load() || (v.Sustain > 0 && v.elapsed.Load() >= int64(v.Sustain))
}

// Elapsed returns the number of frames played since the voice started.
func (v *Voice) Elapsed() int { return int(v.elapsed.Load()) }

// Frequency returns the equal tempered frequency of the voice's key.
func (v *Voice) Frequency(tune float64) float64 {
	return 440 * math.Exp2((float64(v.Key)-69+tune)/12)
}

// Gain returns the velocity as a linear gain in [0, 1].
func (v *Voice) Gain() float32 {
	if v.Velocity == 0 {
		return 1
	}
	return float32(v.Velocity) / 127
}
