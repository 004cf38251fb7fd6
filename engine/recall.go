package engine

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gsequencer/ags"
)

type (
	// Recall is one effect instance attached at some scope of the graph. It
	// is implemented by exactly six types: the templates RecallAudio and
	// RecallChannel, and the runs RecallAudioRun, RecallChannelRun,
	// RecallRecycling and RecallAudioSignal.
	Recall interface {
		Name() string
		Scope() Scope
		State() State
		Flags() Flags
		// RecallID is nil for templates.
		RecallID() *RecallID
		Ports() []*ags.Port
		Parent() Recall
		Children() []Recall
		base() *recallBase
	}

	Scope int
	State int32
	Flags uint32

	// Runner is the per-RecallID behaviour of a recall at one scope. Each
	// run gets its own Runner, so state kept in it is never shared between
	// two RecallIDs.
	Runner interface {
		RunPre(t *Tick) error
		RunInter(t *Tick) error
		RunPost(t *Tick) error
	}

	// NopRunner implements Runner doing nothing; embed it to implement only
	// the stages needed.
	NopRunner struct{}

	// Stage is one of the three passes of a tick.
	Stage int

	recallBase struct {
		plugin *Plugin
		flags  atomic.Uint32
		state  atomic.Int32
		id     *RecallID
		runner Runner
	}
)

const (
	ScopeAudio Scope = iota
	ScopeChannel
	ScopeRecycling
	ScopeAudioSignal
	NumScopes
)

const (
	StateInit State = iota
	StateRunning
	StateDone
	StateRemoving
	StateRemoved
)

const (
	FlagTemplate Flags = 1 << iota
	FlagPersistent
	FlagInputOriented
	FlagOutputOriented
	FlagBypass
	FlagPropagateDone
)

const (
	StagePre Stage = iota
	StageInter
	StagePost
)

func (NopRunner) RunPre(t *Tick) error { return nil }
func (NopRunner) RunInter(t *Tick) error { return nil }
func (NopRunner) RunPost(t *Tick) error { return nil }

var scopeNames = [NumScopes]string{"audio", "channel", "recycling", "audio-signal"}

func (s Scope) String() string {
	if s >= 0 && s < NumScopes {
		return scopeNames[s]
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateRemoving:
		return "removing"
	case StateRemoved:
		return "removed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var flagNames = []string{"template", "persistent", "input-oriented", "output-oriented", "bypass", "propagate-done"}

// String lists the set flags separated by '|'.
func (f Flags) String() string {
	var names []string
	for i, n := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, "|")
}

func (s Stage) String() string {
	switch s {
	case StagePre:
		return "run-pre"
	case StageInter:
		return "run-inter"
	case StagePost:
		return "run-post"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

func (b *recallBase) base() *recallBase { return b }

func (b *recallBase) Name() string { return b.plugin.Name }
func (b *recallBase) State() State { return State(b.state.Load()) }
func (b *recallBase) Flags() Flags { return Flags(b.flags.Load()) }
func (b *recallBase) RecallID() *RecallID { return b.id }
func (b *recallBase) Plugin() *Plugin { return b.plugin }
func (b *recallBase) setState(s State) { b.state.Store(int32(s)) }
func (b *recallBase) hasFlag(f Flags) bool { return b.Flags()&f != 0 }

func (b *recallBase) setFlag(f Flags, on bool) {
	for {
		old := b.flags.Load()
		n := old | uint32(f)
		if !on {
			n = old &^ uint32(f)
		}
		if b.flags.CompareAndSwap(old, n) {
			return
		}
	}
}

// Done marks a running instance DONE. It is called by runners on the
// realtime thread, typically by a signal scope run whose stream ended.
// Persistent and template recalls ignore it.
func (b *recallBase) Done() {
	if b.hasFlag(FlagPersistent|FlagTemplate) {
		return
	}
	b.state.CompareAndSwap(int32(StateRunning), int32(StateDone))
}

// SetBypass switches bypassing on a template: runs of a bypassed template
// keep their place in the graph but their runners are not called.
func SetBypass(r Recall, bypass bool) {
	r.base().setFlag(FlagBypass, bypass)
}

// active reports whether the run should be dispatched this tick.
func (b *recallBase) active() bool {
	return b.State() == StateRunning && !b.id.failed.Load()
}

func (b *recallBase) run(stage Stage, t *Tick) error {
	if b.runner == nil {
		return nil
	}
	switch stage {
	case StagePre:
		return b.runner.RunPre(t)
	case StageInter:
		return b.runner.RunInter(t)
	default:
		return b.runner.RunPost(t)
	}
}

func (b *recallBase) closeRunner() {
	if c, ok := b.runner.(interface{ Close() error }); ok {
		c.Close()
	}
}

// findPort looks a port up by name in the given port lists, in order.
func findPort(name string, lists ...[]*ags.Port) *ags.Port {
	for _, l := range lists {
		if p := ags.FindPort(l, name); p != nil {
			return p
		}
	}
	return nil
}
