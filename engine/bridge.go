package engine

import (
	"fmt"
	"strings"

	"github.com/gsequencer/ags"
	"github.com/pkg/errors"
)

type (
	// Format is a plugin standard the engine can bridge.
	Format int

	// PluginLoader loads plugin descriptors of one format. Load runs off the
	// realtime thread, when an effect is attached.
	PluginLoader interface {
		Load(uri string) (*PluginDescriptor, error)
	}

	// PluginDescriptor describes a loaded plugin: its parameters and how to
	// create instances of it.
	PluginDescriptor struct {
		Format Format
		URI    string
		Name   string
		Params []PluginParam
		// Instantiate creates an activated instance. It is called when a
		// signal scope run is built.
		Instantiate func(sampleRate, bufferSize int) (PluginInstance, error)
	}

	PluginParam struct {
		Name                  string
		Lower, Upper, Default float64
		Toggled               bool
		Integer               bool
		Output                bool
	}

	// PluginInstance processes one mono stream in place.
	PluginInstance interface {
		// Controls returns the control buffer of the instance, one value
		// per descriptor param in order.
		Controls() ControlBuffer
		Process(buf []float32) error
		Close() error
	}

	// ControlBuffer is the control port memory of an instance, narrowed to
	// the value type of the plugin format.
	ControlBuffer interface {
		Len() int
		Get(i int) float64
		Set(i int, v float64)
	}

	Float32Controls []float32
	Float64Controls []float64

	bridgeRun struct {
		NopRunner
		signal *RecallAudioSignal
		inst   PluginInstance
		ctl    ControlBuffer
		ports  []*ags.Port
	}
)

const (
	FormatLADSPA Format = iota
	FormatDSSI
	FormatLV2
	FormatVST3
	FormatVST2
	NumFormats
)

var formatNames = [NumFormats]string{"ladspa", "dssi", "lv2", "vst3", "vst2"}

func (f Format) String() string {
	if f >= 0 && f < NumFormats {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat returns the format of a URI scheme.
func ParseFormat(scheme string) (Format, error) {
	for i, n := range formatNames {
		if strings.EqualFold(n, scheme) {
			return Format(i), nil
		}
	}
	return 0, errors.Wrapf(ags.ErrUnknownPlugin, "unknown plugin format %q", scheme)
}

// NewControls allocates the control buffer of n values for a format: VST3
// parameters are doubles, the other formats use floats.
func NewControls(f Format, n int) ControlBuffer {
	if f == FormatVST3 {
		return make(Float64Controls, n)
	}
	return make(Float32Controls, n)
}

func (c Float32Controls) Len() int { return len(c) }
func (c Float32Controls) Get(i int) float64 { return float64(c[i]) }
func (c Float32Controls) Set(i int, v float64) { c[i] = float32(v) }
func (c Float64Controls) Len() int { return len(c) }
func (c Float64Controls) Get(i int) float64 { return c[i] }
func (c Float64Controls) Set(i int, v float64) { c[i] = v }

// loadPorts maps the descriptor params to port specs.
func loadPorts(desc *PluginDescriptor) []ags.PortSpec {
	specs := make([]ags.PortSpec, len(desc.Params))
	for i, p := range desc.Params {
		s := ags.PortSpec{Name: p.Name, Kind: ags.KindFloat, Lower: p.Lower, Upper: p.Upper, Default: p.Default}
		if p.Toggled {
			s.Flags |= ags.PortToggled
		}
		if p.Integer {
			s.Flags |= ags.PortInteger
		}
		if p.Output {
			s.Flags |= ags.PortOutput
		}
		specs[i] = s
	}
	return specs
}

// bridgePlugin turns a loaded descriptor into an effect with one channel
// template per line and one instance per signal.
func bridgePlugin(desc *PluginDescriptor) *Plugin {
	return &Plugin{
		Name:         "ags-" + desc.Format.String(),
		Effect:       desc.URI,
		ChannelScope: true,
		ChannelPorts: loadPorts(desc),
		Flags:        FlagInputOriented,
		NewSignalRun: func(r *RecallAudioSignal) (Runner, error) {
			if desc.Instantiate == nil {
				return nil, errors.Errorf("%s: not instantiable", desc.URI)
			}
			e := r.Channel().audio.engine
			inst, err := desc.Instantiate(e.opts.SampleRate, e.opts.BufferSize)
			if err != nil {
				return nil, err
			}
			b := &bridgeRun{signal: r, inst: inst, ctl: inst.Controls()}
			b.ports = make([]*ags.Port, b.ctl.Len())
			for i := range b.ports {
				if i < len(desc.Params) {
					b.ports[i] = r.Template().Port(desc.Params[i].Name)
				}
			}
			return b, nil
		},
	}
}

func (b *bridgeRun) RunInter(t *Tick) error {
	for i, p := range b.ports {
		if p == nil || p.IsOutput() {
			continue
		}
		if v, err := p.Number(); err == nil {
			b.ctl.Set(i, v)
		}
	}
	if err := b.inst.Process(b.signal.Signal().Buffer()); err != nil {
		return err
	}
	for i, p := range b.ports {
		if p != nil && p.IsOutput() {
			p.SetFloat(b.ctl.Get(i))
		}
	}
	return nil
}

func (b *bridgeRun) Close() error { return b.inst.Close() }
