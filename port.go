package ags

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

type (
	// Port is a named, typed parameter cell shared between the realtime
	// thread and the rest of the application. Scalar values are stored in a
	// single atomic word, so reads never block; slice values are copied in
	// and out under a short lock.
	Port struct {
		spec  PortSpec
		flags atomic.Uint32 // spec.Flags, switched at runtime

		bits   atomic.Uint64
		mu     sync.Mutex // guards floats
		floats []float64

		version  atomic.Uint64
		notifier atomic.Pointer[notifierBox]

		subMu  sync.Mutex
		subs   []subscriber
		nextID int
		nsubs  atomic.Int32

		automation atomic.Pointer[[]AutomationPoint]
	}

	// PortSpec declares a port: its kind, bounds and flags. A port is
	// bounded when Lower < Upper.
	PortSpec struct {
		Name       string     `yaml:"name"`
		Kind       PortKind   `yaml:"kind"`
		Lower      float64    `yaml:"lower,omitempty"`
		Upper      float64    `yaml:"upper,omitempty"`
		Default    float64    `yaml:"default,omitempty"`
		Length     int        `yaml:"length,omitempty"` // initial length of FloatSlice ports
		Flags      PortFlags  `yaml:"flags,omitempty"`
		Conversion Conversion `yaml:"-"`
	}

	PortKind  int
	PortFlags uint32

	// Conversion converts between the units a user writes (for example
	// decibels) and the units stored in the port.
	Conversion interface {
		ToPort(v float64) float64
		FromPort(v float64) float64
	}

	// PortChange is queued to a Notifier whenever a port with subscribers
	// is written.
	PortChange struct {
		Port    *Port
		Version uint64
	}

	// Notifier receives port change notifications. Notify must never block.
	Notifier interface {
		Notify(c PortChange) bool
	}

	// AutomationPoint is one breakpoint of a port's automation curve, Offset
	// given in notation steps.
	AutomationPoint struct {
		Offset float64 `yaml:"offset"`
		Value  float64 `yaml:"value"`
	}

	subscriber struct {
		id int
		fn func(PortChange)
	}

	notifierBox struct{ n Notifier }
)

const (
	KindBool PortKind = iota
	KindInt
	KindUint
	KindFloat
	KindFloatSlice
)

const (
	PortPlayback PortFlags = 1 << iota
	PortOutput
	PortStrict
	PortToggled
	PortInteger
	PortConvertAlways
)

func (k PortKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int64"
	case KindUint:
		return "uint64"
	case KindFloat:
		return "float64"
	case KindFloatSlice:
		return "float64[]"
	}
	return fmt.Sprintf("PortKind(%d)", int(k))
}

// NewPort creates a port holding the default value of the spec.
func NewPort(spec PortSpec) *Port {
	p := &Port{spec: spec}
	p.flags.Store(uint32(spec.Flags))
	switch spec.Kind {
	case KindBool:
		if spec.Default != 0 {
			p.bits.Store(1)
		}
	case KindInt:
		p.bits.Store(uint64(int64(p.clamp(spec.Default))))
	case KindUint:
		p.bits.Store(uint64(math.Max(0, p.clamp(spec.Default))))
	case KindFloat:
		p.bits.Store(math.Float64bits(p.clamp(spec.Default)))
	case KindFloatSlice:
		p.floats = make([]float64, spec.Length)
		for i := range p.floats {
			p.floats[i] = p.clamp(spec.Default)
		}
	}
	return p
}

// NewPorts creates one port per spec, in order.
func NewPorts(specs []PortSpec) []*Port {
	ret := make([]*Port, len(specs))
	for i, s := range specs {
		ret[i] = NewPort(s)
	}
	return ret
}

// FindPort returns the port with the given name, or nil.
func FindPort(ports []*Port, name string) *Port {
	for _, p := range ports {
		if p.spec.Name == name {
			return p
		}
	}
	return nil
}

func (p *Port) Name() string { return p.spec.Name }
func (p *Port) Spec() PortSpec {
	s := p.spec
	s.Flags = p.Flags()
	return s
}

func (p *Port) Flags() PortFlags { return PortFlags(p.flags.Load()) }
func (p *Port) Kind() PortKind { return p.spec.Kind }
func (p *Port) IsOutput() bool { return p.Flags()&PortOutput != 0 }
func (p *Port) Version() uint64 { return p.version.Load() }
func (p *Port) Bounded() bool { return p.spec.Lower < p.spec.Upper }
func (p *Port) SetStrict(s bool) { p.setFlag(PortStrict, s) }

func (p *Port) setFlag(f PortFlags, on bool) {
	if on {
		p.flags.Or(uint32(f))
	} else {
		p.flags.And(^uint32(f))
	}
}

// SetNotifier routes change notifications of this port to n. A port
// without a notifier records subscribers but delivers nothing.
func (p *Port) SetNotifier(n Notifier) {
	if n == nil {
		p.notifier.Store(nil)
		return
	}
	p.notifier.Store(&notifierBox{n: n})
}

// Subscribe registers fn to be called, from the notifier's goroutine, after
// each write. The returned function removes the subscription.
func (p *Port) Subscribe(fn func(PortChange)) (cancel func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscriber{id: id, fn: fn})
	p.nsubs.Store(int32(len(p.subs)))
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				p.nsubs.Store(int32(len(p.subs)))
				return
			}
		}
	}
}

// Deliver calls the subscribers of the changed port. It is called by the
// Notifier on its own goroutine, never on the audio thread.
func (c PortChange) Deliver() {
	c.Port.subMu.Lock()
	subs := append([]subscriber(nil), c.Port.subs...)
	c.Port.subMu.Unlock()
	for _, s := range subs {
		s.fn(c)
	}
}

func (p *Port) Get() Value {
	switch p.spec.Kind {
	case KindFloatSlice:
		return FloatsValue(p.Floats())
	default:
		return Value{kind: p.spec.Kind, bits: p.bits.Load()}
	}
}

func (p *Port) Bool() (bool, error) {
	if p.spec.Kind != KindBool {
		return false, p.typeError(KindBool)
	}
	return p.bits.Load() != 0, nil
}

func (p *Port) Int() (int64, error) {
	if p.spec.Kind != KindInt {
		return 0, p.typeError(KindInt)
	}
	return int64(p.bits.Load()), nil
}

func (p *Port) Uint() (uint64, error) {
	if p.spec.Kind != KindUint {
		return 0, p.typeError(KindUint)
	}
	return p.bits.Load(), nil
}

func (p *Port) Float() (float64, error) {
	if p.spec.Kind != KindFloat {
		return 0, p.typeError(KindFloat)
	}
	return math.Float64frombits(p.bits.Load()), nil
}

// Floats returns a copy of a FloatSlice port's value. It returns nil for
// ports of other kinds.
func (p *Port) Floats() []float64 {
	if p.spec.Kind != KindFloatSlice {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.floats...)
}

// Number returns any scalar port value widened to float64. Bool ports
// read as 0 or 1.
func (p *Port) Number() (float64, error) {
	bits := p.bits.Load()
	switch p.spec.Kind {
	case KindBool:
		if bits != 0 {
			return 1, nil
		}
		return 0, nil
	case KindInt:
		return float64(int64(bits)), nil
	case KindUint:
		return float64(bits), nil
	case KindFloat:
		return math.Float64frombits(bits), nil
	}
	return 0, p.typeError(KindFloat)
}

// Set writes v, which must have the port's kind.
func (p *Port) Set(v Value) error {
	if v.kind != p.spec.Kind {
		return p.typeError(v.kind)
	}
	switch v.kind {
	case KindBool:
		return p.SetBool(v.bits != 0)
	case KindInt:
		return p.SetInt(int64(v.bits))
	case KindUint:
		return p.SetUint(v.bits)
	case KindFloat:
		return p.SetFloat(math.Float64frombits(v.bits))
	default:
		return p.SetFloats(v.floats)
	}
}

func (p *Port) SetBool(b bool) error {
	if p.spec.Kind != KindBool {
		return p.typeError(KindBool)
	}
	var bits uint64
	if b {
		bits = 1
	}
	p.bits.Store(bits)
	p.changed()
	return nil
}

// SetInt stores v as is on unbounded ports. Bounds are compared as
// integers, so values beyond 2^53 keep their precision.
func (p *Port) SetInt(v int64) error {
	if p.spec.Kind != KindInt {
		return p.typeError(KindInt)
	}
	if p.Bounded() {
		lo, hi := intBound(math.Ceil(p.spec.Lower)), intBound(math.Floor(p.spec.Upper))
		if v < lo || v > hi {
			if err := p.rangeError(float64(v)); err != nil {
				return err
			}
			v = min(max(v, lo), hi)
		}
	}
	p.bits.Store(uint64(v))
	p.changed()
	return nil
}

func (p *Port) SetUint(v uint64) error {
	if p.spec.Kind != KindUint {
		return p.typeError(KindUint)
	}
	if p.Bounded() {
		lo, hi := uintBound(math.Ceil(p.spec.Lower)), uintBound(math.Floor(p.spec.Upper))
		if v < lo || v > hi {
			if err := p.rangeError(float64(v)); err != nil {
				return err
			}
			v = min(max(v, lo), hi)
		}
	}
	p.bits.Store(v)
	p.changed()
	return nil
}

func (p *Port) SetFloat(v float64) error {
	if p.spec.Kind != KindFloat {
		return p.typeError(KindFloat)
	}
	if p.Flags()&PortConvertAlways != 0 && p.spec.Conversion != nil {
		v = p.spec.Conversion.ToPort(v)
	}
	f, ok, err := p.checkRange(v)
	if !ok {
		return err
	}
	p.bits.Store(math.Float64bits(f))
	p.changed()
	return nil
}

// SetFloats replaces a FloatSlice port's value. Every element is checked
// against the bounds; in strict mode nothing is written if any element is
// out of range.
func (p *Port) SetFloats(v []float64) error {
	if p.spec.Kind != KindFloatSlice {
		return p.typeError(KindFloatSlice)
	}
	if p.Flags()&PortStrict != 0 {
		for _, f := range v {
			if _, ok, err := p.checkRange(f); !ok {
				return err
			}
		}
	}
	p.mu.Lock()
	old := len(p.floats)
	if cap(p.floats) < len(v) {
		p.floats = append(p.floats[:cap(p.floats)], make([]float64, len(v)-cap(p.floats))...)
	}
	p.floats = p.floats[:len(v)]
	for i, f := range v {
		switch {
		case !math.IsNaN(f) || !p.Bounded():
			p.floats[i] = p.clamp(f)
		case i >= old:
			// a NaN keeps the previous element, or the default for new ones
			p.floats[i] = p.clamp(p.spec.Default)
		}
	}
	p.mu.Unlock()
	p.changed()
	return nil
}

// SetNumber writes a float64 to any scalar port, converting it to the
// port's kind. Integer kinds are rounded.
func (p *Port) SetNumber(v float64) error {
	if math.IsNaN(v) && (p.spec.Kind == KindInt || p.spec.Kind == KindUint) {
		return p.rangeError(v)
	}
	switch p.spec.Kind {
	case KindBool:
		return p.SetBool(v != 0)
	case KindInt:
		return p.SetInt(int64(math.Round(v)))
	case KindUint:
		return p.SetUint(uint64(math.Max(0, math.Round(v))))
	case KindFloat:
		return p.SetFloat(v)
	}
	return p.typeError(KindFloat)
}

// SetAutomation replaces the automation curve. Points are sorted by
// offset; an empty slice clears the automation.
func (p *Port) SetAutomation(points []AutomationPoint) {
	if len(points) == 0 {
		p.automation.Store(nil)
		return
	}
	pts := append([]AutomationPoint(nil), points...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Offset < pts[j].Offset })
	p.automation.Store(&pts)
}

// Automate writes the automation curve's value at offset, interpolating
// linearly between breakpoints. It returns false if the port has no
// automation.
func (p *Port) Automate(offset float64) (bool, error) {
	ptr := p.automation.Load()
	if ptr == nil {
		return false, nil
	}
	pts := *ptr
	var v float64
	switch {
	case offset <= pts[0].Offset:
		v = pts[0].Value
	case offset >= pts[len(pts)-1].Offset:
		v = pts[len(pts)-1].Value
	default:
		i := sort.Search(len(pts), func(i int) bool { return pts[i].Offset > offset })
		a, b := pts[i-1], pts[i]
		t := (offset - a.Offset) / (b.Offset - a.Offset)
		v = a.Value + t*(b.Value-a.Value)
	}
	if cur, err := p.Number(); err == nil && cur == v {
		return true, nil
	}
	return true, p.SetNumber(v)
}

// checkRange returns the value to store for v. ok is false when nothing
// should be written: v is out of range on a strict port, or NaN on a
// bounded one. err is nil for a NaN dropped in clamp mode.
func (p *Port) checkRange(v float64) (f float64, ok bool, err error) {
	if !p.Bounded() || (v >= p.spec.Lower && v <= p.spec.Upper) {
		return v, true, nil
	}
	if err := p.rangeError(v); err != nil {
		return 0, false, err
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return p.clamp(v), true, nil
}

// rangeError returns a PortRangeError for v in strict mode, nil otherwise.
func (p *Port) rangeError(v float64) error {
	if p.Flags()&PortStrict == 0 {
		return nil
	}
	return &PortRangeError{Port: p.spec.Name, Value: v, Lower: p.spec.Lower, Upper: p.spec.Upper}
}

func intBound(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func uintBound(f float64) uint64 {
	switch {
	case f <= 0:
		return 0
	case f >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(f)
}

func (p *Port) clamp(v float64) float64 {
	if !p.Bounded() {
		return v
	}
	return math.Min(math.Max(v, p.spec.Lower), p.spec.Upper)
}

func (p *Port) changed() {
	ver := p.version.Add(1)
	box := p.notifier.Load()
	if box == nil || p.nsubs.Load() == 0 {
		return
	}
	box.n.Notify(PortChange{Port: p, Version: ver})
}

func (p *Port) typeError(want PortKind) error {
	return fmt.Errorf("port %q holds %v, not %v: %w", p.spec.Name, p.spec.Kind, want, ErrInvalidType)
}
