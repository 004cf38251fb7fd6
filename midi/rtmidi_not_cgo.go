//go:build !cgo

package midi

import "errors"

// Input is unavailable without cgo; Listen always fails.
type Input struct{}

var errNoCgo = errors.New("midi input needs cgo")

func InputDevices() ([]string, error) { return nil, errNoCgo }

func Listen(namePrefix string, p *Player) (*Input, error) { return nil, errNoCgo }

func (i *Input) String() string { return "" }

func (i *Input) Close() error { return nil }
