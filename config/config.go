// Package config reads the engine configuration. It is organised in the
// groups of the gsequencer configuration file: generic, thread, soundcard
// and recall. Unset keys keep the defaults of the embedded config.yml.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gsequencer/ags"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Generic   Generic   `yaml:"generic"`
		Thread    Thread    `yaml:"thread"`
		SoundCard SoundCard `yaml:"soundcard"`
		Recall    Recall    `yaml:"recall"`
	}

	Generic struct {
		// EngineMode "performance" plays with ags-copy, anything else with
		// ags-buffer.
		EngineMode string `yaml:"engine-mode"`
		LogLevel   string `yaml:"log-level"`
	}

	Thread struct {
		Model   string `yaml:"model"`
		Workers int    `yaml:"workers"`
	}

	SoundCard struct {
		Backend     string `yaml:"backend"`
		Device      string `yaml:"device"`
		SampleRate  int    `yaml:"samplerate"`
		BufferSize  int    `yaml:"buffer-size"`
		PCMChannels int    `yaml:"pcm-channels"`
	}

	Recall struct {
		BufferCount    int  `yaml:"buffer-count"`
		StrictPorts    bool `yaml:"strict-ports"`
		EventQueueSize int  `yaml:"event-queue-size"`
	}
)

const (
	ThreadModelSingle = "single"
	ThreadModelMulti  = "multi"
)

// FileName is the name of the user configuration file inside the
// application's config directory.
const FileName = "ags.yml"

//go:embed config.yml
var defaultConfigYaml []byte

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	if err := yaml.Unmarshal(defaultConfigYaml, &c); err != nil {
		panic(fmt.Errorf("failed to unmarshal default config: %w", err))
	}
	return &c
}

// Parse reads a configuration over the defaults. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ags.ConfigError{Op: "parse config", Err: err}
	}
	if err := c.Validate(); err != nil {
		return nil, &ags.ConfigError{Op: "parse config", Err: err}
	}
	return c, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ags.ConfigError{Op: "load config", Spec: path, Err: err}
	}
	c, err := Parse(data)
	if err != nil {
		var ce *ags.ConfigError
		if errors.As(err, &ce) {
			ce.Spec = path
		}
		return nil, err
	}
	return c, nil
}

// LoadUser reads the configuration from the user's config directory. A
// missing file yields the defaults and exists == false.
func LoadUser() (c *Config, exists bool, err error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return Default(), false, nil
	}
	path := filepath.Join(dir, "gsequencer", FileName)
	if _, err := os.Stat(path); err != nil {
		return Default(), false, nil
	}
	c, err = Load(path)
	return c, true, err
}

func (c *Config) Validate() error {
	switch {
	case c.SoundCard.SampleRate <= 0:
		return errors.Errorf("soundcard samplerate should be > 0, got %d", c.SoundCard.SampleRate)
	case c.SoundCard.BufferSize <= 0:
		return errors.Errorf("soundcard buffer-size should be > 0, got %d", c.SoundCard.BufferSize)
	case c.SoundCard.PCMChannels <= 0:
		return errors.Errorf("soundcard pcm-channels should be > 0, got %d", c.SoundCard.PCMChannels)
	case c.Thread.Model != ThreadModelSingle && c.Thread.Model != ThreadModelMulti:
		return errors.Errorf("unknown thread model %q", c.Thread.Model)
	case c.Thread.Workers < 0:
		return errors.Errorf("thread workers should be >= 0, got %d", c.Thread.Workers)
	case c.Recall.BufferCount < 2:
		return errors.Errorf("recall buffer-count should be >= 2, got %d", c.Recall.BufferCount)
	case c.Recall.EventQueueSize < 0:
		return errors.Errorf("recall event-queue-size should be >= 0, got %d", c.Recall.EventQueueSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by generic.log-level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.Generic.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Generic.LogLevel)); err != nil {
		return 0, errors.Wrap(err, "generic log-level")
	}
	return l, nil
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
