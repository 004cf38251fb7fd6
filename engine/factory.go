package engine

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/gsequencer/ags"
	"github.com/pkg/errors"
)

// Factory resolves effect names to plugins and builds their templates.
type Factory struct {
	engine *Engine

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

func newFactory(e *Engine) *Factory {
	f := &Factory{engine: e, plugins: map[string]*Plugin{}}
	for _, p := range builtins() {
		f.plugins[p.Name] = p
	}
	return f
}

// Register adds or replaces an effect that can then be attached by name.
func (f *Factory) Register(p *Plugin) {
	f.mu.Lock()
	f.plugins[p.Name] = p
	f.mu.Unlock()
}

// Names returns the names of all registered effects, sorted.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ret := make([]string, 0, len(f.plugins))
	for n := range f.plugins {
		ret = append(ret, n)
	}
	sort.Strings(ret)
	return ret
}

// Resolve finds the plugin for an effect name. Names of the form
// "format://uri" are loaded through the loader of the format; ags-play
// resolves to ags-copy in performance mode and to ags-buffer otherwise.
func (f *Factory) Resolve(name string) (*Plugin, error) {
	if name == playName {
		name = bufferName
		if f.engine.opts.EngineMode == EngineModePerformance {
			name = copyName
		}
	}
	if scheme, uri, ok := strings.Cut(name, "://"); ok {
		format, err := ParseFormat(scheme)
		if err != nil {
			return nil, err
		}
		loader := f.engine.opts.Loaders[format]
		if loader == nil {
			return nil, errors.Wrapf(ags.ErrUnknownPlugin, "no loader for %s", format)
		}
		desc, err := loader.Load(uri)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", name)
		}
		return bridgePlugin(desc), nil
	}
	f.mu.RLock()
	p, ok := f.plugins[name]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ags.ErrUnknownPlugin, "%q", name)
	}
	return p, nil
}

// Create builds the templates of an effect on the audio and applies the
// params and automation of the spec. The templates are not part of the
// graph until committed by the engine.
func (f *Factory) Create(a *Audio, spec ags.PluginSpec) (*Attachment, error) {
	at, err := f.create(a, spec)
	if err != nil {
		return nil, &ags.ConfigError{Op: "attach", Spec: spec.Name, Err: err}
	}
	return at, nil
}

func (f *Factory) create(a *Audio, spec ags.PluginSpec) (*Attachment, error) {
	p, err := f.Resolve(spec.Name)
	if err != nil {
		return nil, err
	}
	if !p.AudioScope && !p.ChannelScope {
		return nil, errors.Errorf("effect %s has no template scope", p.Name)
	}
	chs, err := selectChannels(a.Channels(), spec.Lines)
	if err != nil {
		return nil, err
	}
	at := &Attachment{Plugin: p, Spec: spec, audio: a}
	if p.Setup != nil {
		lines := make([]int, len(chs))
		for i, c := range chs {
			lines[i] = c.line
		}
		env := SetupEnv{SampleRate: f.engine.opts.SampleRate, BufferSize: f.engine.opts.BufferSize, Lines: lines}
		if at.data, err = p.Setup(spec, env); err != nil {
			return nil, errors.Wrap(err, "setup")
		}
	}
	if p.AudioScope {
		at.Audio = &RecallAudio{attachment: at, audio: a, ports: f.ports(p.AudioPorts), data: at.data}
		f.initTemplate(&at.Audio.recallBase, p, spec)
		if err := configure(spec, at.Audio.ports); err != nil {
			return nil, err
		}
	}
	if p.ChannelScope {
		for _, c := range chs {
			ct, err := f.channelTemplate(at, c)
			if err != nil {
				return nil, err
			}
			at.initial = append(at.initial, ct)
		}
	}
	at.channels = slices.Clone(at.initial)
	if at.Audio != nil {
		at.Audio.channels = slices.Clone(at.initial)
	}
	if err := checkParams(spec, at); err != nil {
		return nil, err
	}
	return at, nil
}

// channelTemplate creates the channel scope template of an attachment on
// one channel.
func (f *Factory) channelTemplate(at *Attachment, c *Channel) (*RecallChannel, error) {
	ct := &RecallChannel{attachment: at, channel: c, audio: at.Audio, ports: f.ports(at.Plugin.ChannelPorts), data: at.data}
	f.initTemplate(&ct.recallBase, at.Plugin, at.Spec)
	if err := configure(at.Spec, ct.ports); err != nil {
		return nil, err
	}
	return ct, nil
}

func (f *Factory) initTemplate(b *recallBase, p *Plugin, spec ags.PluginSpec) {
	b.plugin = p
	flags := FlagTemplate | p.Flags
	if spec.Bypass {
		flags |= FlagBypass
	}
	b.flags.Store(uint32(flags))
	b.setState(StateInit)
}

func (f *Factory) ports(specs []ags.PortSpec) []*ags.Port {
	ports := ags.NewPorts(specs)
	for _, p := range ports {
		if f.engine.opts.StrictPorts {
			p.SetStrict(true)
		}
		p.SetNotifier(f.engine.dispatcher)
	}
	return ports
}

func selectChannels(chs []*Channel, lines []int) ([]*Channel, error) {
	if lines == nil {
		return chs, nil
	}
	if len(lines) == 0 {
		return nil, errors.New("empty line selection")
	}
	ret := make([]*Channel, 0, len(lines))
	seen := map[int]bool{}
	for _, l := range lines {
		if l < 0 || l >= len(chs) {
			return nil, errors.Errorf("line %d out of range [0, %d)", l, len(chs))
		}
		if seen[l] {
			return nil, errors.Errorf("line %d selected twice", l)
		}
		seen[l] = true
		ret = append(ret, chs[l])
	}
	return ret, nil
}

// configure applies the params and automation of the spec to the ports it
// names among ports.
func configure(spec ags.PluginSpec, ports []*ags.Port) error {
	for _, name := range sortedKeys(spec.Params) {
		if p := ags.FindPort(ports, name); p != nil {
			if err := p.SetNumber(spec.Params[name]); err != nil {
				return errors.Wrapf(err, "param %q", name)
			}
		}
	}
	for _, name := range sortedKeys(spec.Automation) {
		if p := ags.FindPort(ports, name); p != nil {
			p.SetAutomation(spec.Automation[name])
		}
	}
	return nil
}

// checkParams fails if a param or automation names a port no template of
// the attachment has.
func checkParams(spec ags.PluginSpec, at *Attachment) error {
	has := func(name string) bool {
		if at.Audio != nil && ags.FindPort(at.Audio.ports, name) != nil {
			return true
		}
		for _, c := range at.initial {
			if ags.FindPort(c.ports, name) != nil {
				return true
			}
		}
		return false
	}
	for _, name := range sortedKeys(spec.Params) {
		if !has(name) {
			return errors.Wrapf(ags.ErrNoSuchPort, "param %q", name)
		}
	}
	for _, name := range sortedKeys(spec.Automation) {
		if !has(name) {
			return errors.Wrapf(ags.ErrNoSuchPort, "automation %q", name)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
