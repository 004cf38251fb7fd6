//go:build cgo

package midi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Input listens to one MIDI input device.
type Input struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

// InputDevices lists the names of the available input devices.
func InputDevices() ([]string, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("could not open midi driver: %w", err)
	}
	defer driver.Close()
	ins, err := driver.Ins()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return names, nil
}

// Listen opens the first input device whose name starts with namePrefix and
// sends its messages to p. An empty prefix takes the first device.
func Listen(namePrefix string, p *Player) (*Input, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("could not open midi driver: %w", err)
	}
	ins, err := driver.Ins()
	if err != nil {
		driver.Close()
		return nil, err
	}
	for _, in := range ins {
		if !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		if err := in.Open(); err != nil {
			driver.Close()
			return nil, fmt.Errorf("opening MIDI input failed: %w", err)
		}
		stop, err := midi.ListenTo(in, p.HandleMessage)
		if err != nil {
			in.Close()
			driver.Close()
			return nil, fmt.Errorf("could not listen to %s: %w", in, err)
		}
		return &Input{driver: driver, in: in, stop: stop}, nil
	}
	driver.Close()
	if namePrefix == "" {
		return nil, errors.New("could not find any MIDI input")
	}
	return nil, fmt.Errorf("could not find a MIDI input starting with %q", namePrefix)
}

func (i *Input) String() string { return i.in.String() }

func (i *Input) Close() error {
	i.stop()
	if i.in.IsOpen() {
		i.in.Close()
	}
	return i.driver.Close()
}
