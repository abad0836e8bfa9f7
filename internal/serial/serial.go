// Package serial asks a running application to restart into the HID
// bootloader through its serial port.
package serial

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

// DefaultBaudRate is used when the caller does not pick one. The
// application only watches DTR and the magic string, so the rate rarely
// matters.
const DefaultBaudRate = 115200

// toggleDelay separates each DTR edge and the magic string.
const toggleDelay = 200 * time.Millisecond

// Port is the part of a serial port the trigger needs.
type Port interface {
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens a serial port by name.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Trigger runs the DTR/RTS reset sequence.
type Trigger struct {
	BaudRate int
	// Settle is slept after the port is closed, giving the target time to
	// re-enumerate.
	Settle time.Duration
	Log    logrus.FieldLogger

	open  Opener
	sleep func(time.Duration)
}

// NewTrigger returns a Trigger that talks to real ports.
func NewTrigger(baudRate int, settle time.Duration) *Trigger {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Trigger{
		BaudRate: baudRate,
		Settle:   settle,
		Log:      logrus.StandardLogger(),
		open:     openPort,
		sleep:    time.Sleep,
	}
}

// EnterBootloader opens name, toggles DTR twice with RTS held off, sends
// the magic string and closes the port. The application stores the magic
// word and resets into the bootloader.
//
// A port that cannot be opened is not an error: the board may already be
// in update mode. The returned bool reports whether the sequence ran.
func (t *Trigger) EnterBootloader(name string) (bool, error) {
	mode := &serial.Mode{
		BaudRate: t.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := t.open(name, mode)
	if err != nil {
		t.Log.Warnf("cannot open %s, skipping bootloader trigger: %v", name, err)
		return false, nil
	}

	if err := t.toggle(port); err != nil {
		port.Close()
		return false, errors.Wrapf(err, "trigger bootloader on %s", name)
	}
	if err := port.Close(); err != nil {
		return false, errors.Wrapf(err, "close %s", name)
	}

	if t.Settle > 0 {
		t.Log.Debugf("waiting %v for the device to restart", t.Settle)
		t.sleep(t.Settle)
	}
	return true, nil
}

func (t *Trigger) toggle(port Port) error {
	if err := port.SetRTS(false); err != nil {
		return errors.Wrap(err, "clear RTS")
	}
	for _, dtr := range []bool{true, false, true, false} {
		if err := port.SetDTR(dtr); err != nil {
			return errors.Wrapf(err, "set DTR %t", dtr)
		}
		t.sleep(toggleDelay)
	}
	if _, err := port.Write([]byte(protocol.TriggerMagic)); err != nil {
		return errors.Wrap(err, "send magic")
	}
	t.sleep(toggleDelay)
	return nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	return ports, nil
}
