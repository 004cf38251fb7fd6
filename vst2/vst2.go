//go:build vst2

// Package vst2 loads VST2 plugins for the ags-vst2 bridge recall. It
// needs cgo and is only built with the vst2 tag.
package vst2

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gsequencer/ags/engine"
	"pipelined.dev/audio/vst2"
)

type (
	// Loader opens VST2 libraries by path and keeps them open until it is
	// closed.
	Loader struct {
		mu   sync.Mutex
		vsts map[string]*vst2.VST
	}

	instance struct {
		plugin  *vst2.Plugin
		ctl     engine.Float32Controls
		sent    []float32
		in, out vst2.FloatBuffer
	}
)

const channels = 2

func NewLoader() *Loader {
	return &Loader{vsts: map[string]*vst2.VST{}}
}

func hostCallback(op vst2.HostOpcode, index int32, value int64, ptr unsafe.Pointer, opt float32) int64 {
	switch op {
	case vst2.HostGetVendorVersion:
		return 1
	}
	return 0
}

func (l *Loader) open(path string) (*vst2.VST, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.vsts[path]; ok {
		return v, nil
	}
	v, err := vst2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open vst2 %s: %w", path, err)
	}
	l.vsts[path] = v
	return v, nil
}

// Load probes the plugin for its parameters. VST2 parameters are
// normalized to [0, 1]; their defaults are the values of a fresh instance.
func (l *Loader) Load(path string) (*engine.PluginDescriptor, error) {
	v, err := l.open(path)
	if err != nil {
		return nil, err
	}
	probe := v.Plugin(hostCallback)
	if probe == nil {
		return nil, fmt.Errorf("vst2 %s: plugin instance creation failed", path)
	}
	defer probe.Close()
	desc := &engine.PluginDescriptor{Format: engine.FormatVST2, URI: path, Name: v.Name}
	for i := 0; i < probe.NumParams(); i++ {
		desc.Params = append(desc.Params, engine.PluginParam{
			Name:    probe.ParamName(i),
			Upper:   1,
			Default: float64(probe.ParamValue(i)),
		})
	}
	desc.Instantiate = func(sampleRate, bufferSize int) (engine.PluginInstance, error) {
		p := v.Plugin(hostCallback)
		if p == nil {
			return nil, fmt.Errorf("vst2 %s: plugin instance creation failed", path)
		}
		p.SetSampleRate(sampleRate)
		p.SetBufferSize(bufferSize)
		p.Start()
		n := p.NumParams()
		inst := &instance{
			plugin: p,
			ctl:    make(engine.Float32Controls, n),
			sent:   make([]float32, n),
			in:     vst2.NewFloatBuffer(channels, bufferSize),
			out:    vst2.NewFloatBuffer(channels, bufferSize),
		}
		for i := range n {
			inst.ctl[i] = p.ParamValue(i)
			inst.sent[i] = inst.ctl[i]
		}
		return inst, nil
	}
	return desc, nil
}

// Close releases every opened library. Instances must be closed first.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for path, v := range l.vsts {
		if err := v.Close(); err != nil && first == nil {
			first = fmt.Errorf("could not close vst2 %s: %w", path, err)
		}
		delete(l.vsts, path)
	}
	return first
}

func (i *instance) Controls() engine.ControlBuffer { return i.ctl }

// Process feeds the mono line to both plugin inputs and keeps the left
// output.
func (i *instance) Process(buf []float32) error {
	for k, v := range i.ctl {
		if v != i.sent[k] {
			i.plugin.SetParamValue(k, v)
			i.sent[k] = v
		}
	}
	for c := 0; c < channels; c++ {
		copy(i.in.Channel(c), buf)
	}
	i.plugin.ProcessFloat(i.in, i.out)
	copy(buf, i.out.Channel(0))
	return nil
}

func (i *instance) Close() error {
	i.plugin.Stop()
	i.plugin.Close()
	i.in.Free()
	i.out.Free()
	return nil
}
