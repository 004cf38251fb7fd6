package ags

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidType   = errors.New("invalid port value type")
	ErrOutOfRange    = errors.New("port value out of range")
	ErrUnknownPlugin = errors.New("unknown plugin")
	ErrNoSuchPort    = errors.New("no such port")
	ErrNotTemplate   = errors.New("recall is not a template")
	ErrXrun          = errors.New("xrun")
)

type (
	// ConfigError is returned when a plugin spec, a config file or a
	// session cannot be used. Attaching an effect that fails with a
	// ConfigError leaves the graph unchanged.
	ConfigError struct {
		Op   string
		Spec string
		Err  error
	}

	// RealtimeProcessError is recorded when a recall fails during a tick.
	// The RecallID it belongs to is removed at the next tick boundary.
	RealtimeProcessError struct {
		RecallID string
		Recall   string
		Stage    string
		Err      error
	}

	// PortRangeError is returned by strict ports for values outside their
	// bounds.
	PortRangeError struct {
		Port         string
		Value        float64
		Lower, Upper float64
	}

	// XrunError reports a tick that took longer than the buffer it
	// rendered.
	XrunError struct {
		Elapsed  time.Duration
		Deadline time.Duration
	}
)

func (e *ConfigError) Error() string {
	if e.Spec == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Spec, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *RealtimeProcessError) Error() string {
	return fmt.Sprintf("recall %s (%s) failed in %s: %v", e.Recall, e.RecallID, e.Stage, e.Err)
}

func (e *RealtimeProcessError) Unwrap() error { return e.Err }

func (e *PortRangeError) Error() string {
	return fmt.Sprintf("port %q: value %v outside [%v, %v]", e.Port, e.Value, e.Lower, e.Upper)
}

func (e *PortRangeError) Unwrap() error { return ErrOutOfRange }

func (e *XrunError) Error() string {
	return fmt.Sprintf("xrun: tick took %v, deadline %v", e.Elapsed, e.Deadline)
}

func (e *XrunError) Unwrap() error { return ErrXrun }
