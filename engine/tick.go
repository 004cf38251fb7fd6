package engine

import (
	"fmt"
	"slices"

	"github.com/gsequencer/ags"
	"github.com/viterin/vek/vek32"
)

// Tick is passed to runners. It describes the frame window being rendered
// and lets runners request graph changes, which take effect at the next
// tick boundary.
type Tick struct {
	Index      uint64
	Frames     int
	SampleRate int
	BufferSize int

	engine *Engine
}

// Emit sends an event to the application without blocking.
func (t *Tick) Emit(ev Event) { t.engine.emit(ev) }

// SpawnVoice creates a voice under a transport, playing on the given pads.
// Its runs are built at the start of the next tick.
func (t *Tick) SpawnVoice(parent *RecallID, pads []int, v *Voice) *RecallID {
	e := t.engine
	id := newRecallID(parent.audio, parent.scope, &RecyclingContext{Pads: pads, Parent: parent.context}, parent, v)
	e.spawnMu.Lock()
	e.spawned = append(e.spawned, id)
	e.spawnMu.Unlock()
	return id
}

// Stop ends a transport once all of its voices are gone.
func (t *Tick) Stop(id *RecallID) { id.Transport().stopping.Store(true) }

// Cancel removes a RecallID tree at the next tick boundary.
func (t *Tick) Cancel(id *RecallID) { id.cancelled.Store(true) }

// Tick renders one buffer of at most BufferSize frames.
//
// Structural changes queued since the previous tick are applied first, then
// RecallIDs that failed, were cancelled or finished are marked for removal,
// and missing runs are built. The three stages run over the audio scope
// serially and then over every channel, each channel walking its chain in
// order. Finally the channel outputs are mixed into out and the removed
// trees are detached.
func (e *Engine) Tick(out ags.AudioBuffer) error {
	frames := len(out)
	if frames > e.opts.BufferSize {
		return fmt.Errorf("tick of %d frames exceeds buffer size %d", frames, e.opts.BufferSize)
	}
	e.tickIndex++
	t := &e.tick
	*t = Tick{Index: e.tickIndex, Frames: frames, SampleRate: e.opts.SampleRate, BufferSize: e.opts.BufferSize, engine: e}

	e.applyOps()
	e.applySpawned()
	e.applyRemovals()
	e.propagateDone()
	e.build()
	e.prepare(frames)
	for stage := StagePre; stage <= StagePost; stage++ {
		e.runAudioScope(stage, t)
		e.runChannels(stage, t)
		if stage == StagePre {
			e.automate()
		}
	}
	e.mix(out)
	e.finalize()
	for _, id := range e.ids {
		if id.voice != nil {
			id.voice.elapsed.Add(int64(frames))
		}
	}
	return nil
}

func (e *Engine) applySpawned() {
	e.spawnMu.Lock()
	spawned := e.spawned
	e.spawned = nil
	e.spawnMu.Unlock()
	for _, id := range spawned {
		e.addID(id)
	}
}

// applyRemovals marks failed, cancelled and stopped trees REMOVING. A tree
// is removed as a whole: no run of it is dispatched in this tick.
func (e *Engine) applyRemovals() {
	for _, id := range e.ids {
		if id.State() != StateRunning {
			continue
		}
		switch {
		case id.failed.Load():
			e.markRemoving(id, DoneFailed)
		case id.cancelled.Load():
			e.markRemoving(id, DoneCancelled)
		case id.stopping.Load() && !hasLiveVoices(id):
			e.markRemoving(id, DoneStopped)
			e.emit(StopEvent{Audio: id.audio.name, RecallID: id.uuid, Scope: id.scope})
		}
	}
}

func hasLiveVoices(id *RecallID) bool {
	for _, c := range id.children {
		if c.State() == StateRunning {
			return true
		}
	}
	return false
}

func (e *Engine) markRemoving(id *RecallID, reason DoneReason) {
	if id.State() == StateRemoving || id.State() == StateRemoved {
		return
	}
	id.state.Store(int32(StateRemoving))
	id.reason = reason
	for _, r := range id.top {
		markTree(r, StateRemoving)
	}
	for _, c := range id.children {
		e.markRemoving(c, reason)
	}
}

func markTree(r Recall, s State) {
	switch r := r.(type) {
	case *RecallAudioRun:
		r.setState(s)
		for _, c := range r.children {
			markTree(c, s)
		}
	case *RecallChannelRun:
		r.setState(s)
		if r.recycling != nil {
			markTree(r.recycling, s)
		}
	case *RecallRecycling:
		r.setState(s)
		for _, sig := range r.signals {
			sig.setState(s)
		}
	case *RecallAudioSignal:
		r.setState(s)
	}
}

// propagateDone walks every tree top-down: a run becomes DONE when all of
// its children were DONE at the end of the previous tick. A RecallID whose
// top level runs are all DONE is finished and removed.
func (e *Engine) propagateDone() {
	for _, id := range e.ids {
		if id.State() != StateRunning || id.builtVersion == 0 {
			continue
		}
		for _, r := range id.top {
			propagate(r)
		}
		if idDone(id) {
			e.markRemoving(id, DoneFinished)
		}
	}
}

func idDone(id *RecallID) bool {
	n := 0
	for _, r := range id.top {
		if r.base().hasFlag(FlagPersistent) {
			continue
		}
		if r.State() != StateDone {
			return false
		}
		n++
	}
	return n > 0 || (id.voice != nil && !hasLiveVoices(id))
}

func propagate(r Recall) {
	switch r := r.(type) {
	case *RecallAudioRun:
		if canFinish(&r.recallBase) && len(r.children) > 0 && allDone(r.children) {
			r.setState(StateDone)
		}
		for _, c := range r.children {
			propagate(c)
		}
	case *RecallChannelRun:
		if canFinish(&r.recallBase) && r.recycling != nil && r.recycling.State() == StateDone {
			r.setState(StateDone)
		}
		if r.recycling != nil {
			propagate(r.recycling)
		}
	case *RecallRecycling:
		if canFinish(&r.recallBase) && len(r.signals) > 0 && allDone(r.signals) {
			r.setState(StateDone)
		}
	}
}

func canFinish(b *recallBase) bool {
	return b.State() == StateRunning && !b.hasFlag(FlagPersistent)
}

func allDone[T Recall](rs []T) bool {
	for _, r := range rs {
		if r.State() != StateDone && !r.base().hasFlag(FlagPersistent) {
			return false
		}
	}
	return true
}

// build creates the runs missing since the graph last changed.
func (e *Engine) build() {
	for _, id := range e.ids {
		if id.State() != StateRunning || id.builtVersion == e.graphVersion {
			continue
		}
		e.buildID(id)
		id.builtVersion = e.graphVersion
	}
}

func (e *Engine) buildID(id *RecallID) {
	a := id.audio
	for _, tpl := range a.templates {
		if tpl.State() != StateRunning || !tpl.plugin.accepts(id) {
			continue
		}
		run := tpl.runs[id]
		if run == nil {
			run = &RecallAudioRun{template: tpl}
			if tpl.runs == nil {
				tpl.runs = map[*RecallID]*RecallAudioRun{}
			}
			tpl.runs[id] = run
			tpl.order = append(tpl.order, run)
			id.top = append(id.top, run)
			e.initRun(&run.recallBase, tpl.plugin, tpl.Flags(), id, run, func() (Runner, error) {
				if tpl.plugin.NewAudioRun == nil {
					return nil, nil
				}
				return tpl.plugin.NewAudioRun(run)
			})
		}
		for _, ct := range tpl.channels {
			if ct.State() == StateRunning && id.covers(ct.channel) {
				e.ensureChannelRun(ct, id, run)
			}
		}
	}
	for _, c := range a.Channels() {
		if !id.covers(c) {
			continue
		}
		for _, ct := range c.chain {
			if ct.audio == nil && ct.State() == StateRunning && ct.plugin.accepts(id) {
				e.ensureChannelRun(ct, id, nil)
			}
		}
	}
}

func (e *Engine) ensureChannelRun(ct *RecallChannel, id *RecallID, parent *RecallAudioRun) {
	cr := ct.runs[id]
	if cr == nil {
		cr = &RecallChannelRun{template: ct, parent: parent}
		if ct.runs == nil {
			ct.runs = map[*RecallID]*RecallChannelRun{}
		}
		ct.runs[id] = cr
		ct.order = append(ct.order, cr)
		if parent != nil {
			parent.children = append(parent.children, cr)
		} else {
			id.top = append(id.top, cr)
		}
		e.initRun(&cr.recallBase, ct.plugin, ct.Flags(), id, cr, func() (Runner, error) {
			if ct.plugin.NewChannelRun == nil {
				return nil, nil
			}
			return ct.plugin.NewChannelRun(cr)
		})
	}
	if cr.recycling == nil {
		rr := &RecallRecycling{recycling: ct.channel.recycling, parent: cr}
		cr.recycling = rr
		e.initRun(&rr.recallBase, ct.plugin, ct.Flags(), id, rr, func() (Runner, error) {
			if ct.plugin.NewRecyclingRun == nil {
				return nil, nil
			}
			return ct.plugin.NewRecyclingRun(rr)
		})
	}
	rr := cr.recycling
	if len(rr.signals) == 0 {
		sr := &RecallAudioSignal{signal: rr.recycling.signal(id, e.opts.BufferCount), parent: rr}
		rr.signals = append(rr.signals, sr)
		e.initRun(&sr.recallBase, ct.plugin, ct.Flags(), id, sr, func() (Runner, error) {
			if ct.plugin.NewSignalRun == nil {
				return nil, nil
			}
			return ct.plugin.NewSignalRun(sr)
		})
	}
}

func (e *Engine) initRun(b *recallBase, p *Plugin, flags Flags, id *RecallID, r Recall, newRunner func() (Runner, error)) {
	b.plugin = p
	b.id = id
	b.flags.Store(uint32(flags &^ (FlagTemplate | FlagBypass)))
	b.setState(StateInit)
	runner, err := safeNewRunner(newRunner)
	if err != nil {
		e.fail(r, "init", err)
	}
	b.runner = runner
	b.setState(StateRunning)
}

func safeNewRunner(f func() (Runner, error)) (r Runner, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return f()
}

// prepare rotates the channel outputs and moves every audio signal to its
// next ring buffer.
func (e *Engine) prepare(frames int) {
	for _, a := range e.audios {
		for _, c := range a.Channels() {
			c.rotate(frames)
			for _, s := range c.recycling.signals {
				s.advance(frames)
			}
		}
	}
}

func (e *Engine) runAudioScope(stage Stage, t *Tick) {
	for _, a := range e.audios {
		for _, tpl := range a.templates {
			if tpl.hasFlag(FlagBypass) {
				continue
			}
			for _, r := range tpl.order {
				if r.active() {
					e.call(r, stage, t)
				}
			}
		}
	}
}

func (e *Engine) runChannels(stage Stage, t *Tick) {
	if e.pool != nil {
		e.pool.run(e.audios, stage, t)
		return
	}
	for _, a := range e.audios {
		for _, c := range a.Channels() {
			e.processChannel(c, stage, t)
		}
	}
}

// processChannel dispatches one stage over the channel's chain. Within a
// template the channel run goes first, then its recycling, then its
// signals.
func (e *Engine) processChannel(c *Channel, stage Stage, t *Tick) {
	for _, ct := range c.chain {
		if ct.hasFlag(FlagBypass) || (ct.audio != nil && ct.audio.hasFlag(FlagBypass)) {
			continue
		}
		for _, cr := range ct.order {
			if cr.active() {
				e.call(cr, stage, t)
			}
			rr := cr.recycling
			if rr == nil {
				continue
			}
			if rr.active() {
				e.call(rr, stage, t)
			}
			for _, sr := range rr.signals {
				if sr.active() {
					e.call(sr, stage, t)
				}
			}
		}
	}
	if stage == StagePost {
		finishSignals(c)
	}
}

// finishSignals marks the signal runs of ended streams DONE.
func finishSignals(c *Channel) {
	for _, ct := range c.chain {
		for _, cr := range ct.order {
			if cr.recycling == nil {
				continue
			}
			for _, sr := range cr.recycling.signals {
				if sr.signal.finished {
					sr.Done()
				}
			}
		}
	}
}

func (e *Engine) call(r Recall, stage Stage, t *Tick) {
	defer func() {
		if p := recover(); p != nil {
			e.fail(r, stage.String(), fmt.Errorf("panic: %v", p))
		}
	}()
	if err := r.base().run(stage, t); err != nil {
		e.fail(r, stage.String(), err)
	}
}

// fail records the first error of a RecallID; the tree is removed at the
// next tick boundary.
func (e *Engine) fail(r Recall, stage string, err error) {
	id := r.RecallID()
	rpe := &ags.RealtimeProcessError{RecallID: id.uuid.String(), Recall: r.Name(), Stage: stage, Err: err}
	if id.record(rpe) {
		ags.TrySend(e.errs, rpe)
	}
}

// automate applies the automation curves of all templates at the current
// notation position of the playing transports.
func (e *Engine) automate() {
	for _, id := range e.ids {
		if id.parent != nil || id.State() != StateRunning || id.beat.Delay == 0 {
			continue
		}
		offset := id.beat.Position
		for _, tpl := range id.audio.templates {
			automatePorts(tpl.ports, offset)
			for _, ct := range tpl.channels {
				automatePorts(ct.ports, offset)
			}
		}
		for _, c := range id.audio.Channels() {
			for _, ct := range c.chain {
				if ct.audio == nil {
					automatePorts(ct.ports, offset)
				}
			}
		}
	}
}

func automatePorts(ports []*ags.Port, offset float64) {
	for _, p := range ports {
		p.Automate(offset)
	}
}

// mix sums the channel outputs into out. Mono audios go to both sides;
// otherwise even audio channels go left and odd ones right.
func (e *Engine) mix(out ags.AudioBuffer) {
	frames := len(out)
	left, right := e.left[:frames], e.right[:frames]
	clear(left)
	clear(right)
	for _, a := range e.audios {
		l := a.layout.Load()
		for _, c := range l.channels {
			switch {
			case l.audioChannels == 1:
				vek32.Add_Inplace(left, c.out)
				vek32.Add_Inplace(right, c.out)
			case c.audioChannel%2 == 0:
				vek32.Add_Inplace(left, c.out)
			default:
				vek32.Add_Inplace(right, c.out)
			}
		}
	}
	for i := range out {
		out[i] = [2]float32{left[i], right[i]}
	}
}

// finalize detaches the trees and templates marked REMOVING during this
// tick and reports them.
func (e *Engine) finalize() {
	n := 0
	for _, id := range e.ids {
		if id.State() != StateRemoving {
			e.ids[n] = id
			n++
			continue
		}
		e.detach(id)
		id.state.Store(int32(StateRemoved))
		var err error
		if rpe := id.err.Load(); rpe != nil {
			err = rpe
		}
		e.emit(DoneEvent{Audio: id.audio.name, RecallID: id.uuid, Scope: id.scope, Voice: id.voice != nil, Reason: id.reason, Err: err})
	}
	clear(e.ids[n:])
	e.ids = e.ids[:n]
	if len(e.removed) > 0 {
		e.finalizeTemplates()
	}
}

// detach removes every run of the RecallID from the templates and the
// recyclings, closing their runners.
func (e *Engine) detach(id *RecallID) {
	for _, r := range id.top {
		closeTree(r)
	}
	id.top = nil
	a := id.audio
	for _, tpl := range a.templates {
		if run, ok := tpl.runs[id]; ok {
			delete(tpl.runs, id)
			tpl.order = deleteRun(tpl.order, run)
		}
	}
	for _, c := range a.Channels() {
		for _, ct := range c.chain {
			if run, ok := ct.runs[id]; ok {
				delete(ct.runs, id)
				ct.order = deleteRun(ct.order, run)
			}
		}
		delete(c.recycling.signals, id)
	}
	if p := id.parent; p != nil {
		if i := slices.Index(p.children, id); i >= 0 {
			p.children = slices.Delete(p.children, i, i+1)
		}
	}
}

func deleteRun[T comparable](s []T, v T) []T {
	if i := slices.Index(s, v); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}

func closeTree(r Recall) {
	switch r := r.(type) {
	case *RecallAudioRun:
		for _, c := range r.children {
			closeTree(c)
		}
	case *RecallChannelRun:
		if r.recycling != nil {
			closeTree(r.recycling)
		}
	case *RecallRecycling:
		for _, s := range r.signals {
			closeTree(s)
		}
	}
	b := r.base()
	b.setState(StateRemoved)
	b.closeRunner()
}

// removeTemplate marks a template and all of its runs REMOVING. They are
// detached at the end of the tick.
func (e *Engine) removeTemplate(r Recall) {
	switch t := r.(type) {
	case *RecallAudio:
		for _, run := range t.order {
			markTree(run, StateRemoving)
		}
		for _, ct := range t.channels {
			e.removeTemplate(ct)
		}
	case *RecallChannel:
		for _, run := range t.order {
			markTree(run, StateRemoving)
		}
	}
	r.base().setState(StateRemoving)
	e.removed = append(e.removed, r)
	e.graphVersion++
}

func (e *Engine) finalizeTemplates() {
	for _, r := range e.removed {
		switch t := r.(type) {
		case *RecallAudio:
			for _, run := range t.order {
				closeTree(run)
			}
			t.runs, t.order = nil, nil
			t.audio.templates = deleteRun(t.audio.templates, t)
		case *RecallChannel:
			for _, run := range t.order {
				closeTree(run)
			}
			t.runs, t.order = nil, nil
			t.channel.chain = deleteRun(t.channel.chain, t)
			if t.audio != nil {
				t.audio.channels = deleteRun(t.audio.channels, t)
			}
		}
		r.base().setState(StateRemoved)
	}
	clear(e.removed)
	e.removed = e.removed[:0]
	for _, id := range e.ids {
		id.top = slices.DeleteFunc(id.top, removed)
		for _, r := range id.top {
			if run, ok := r.(*RecallAudioRun); ok {
				run.children = slices.DeleteFunc(run.children, func(c *RecallChannelRun) bool { return removed(c) })
			}
		}
	}
}

func removed(r Recall) bool { return r.State() == StateRemoved }
