package haltest

import (
	"time"

	"github.com/pkg/errors"

	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

// Device exposes the virtual host as a HID handle with hidapi semantics:
// Write takes a report prefixed with its report ID and ReadWithTimeout
// returns the next input report, or nothing when the endpoint NAKs.
type Device struct {
	Host *Host

	Writes int
	Reads  int
	Closed bool

	// FailWrites makes the next n writes fail without sending anything.
	FailWrites int
	// ShortWrite makes the next write report fewer bytes than requested.
	ShortWrite bool
}

// NewDevice wraps h.
func NewDevice(h *Host) *Device {
	return &Device{Host: h}
}

func (d *Device) Write(p []byte) (int, error) {
	if d.Closed {
		return 0, errors.New("haltest: device closed")
	}
	if len(p) < 2 {
		return 0, errors.New("haltest: empty report")
	}
	if d.FailWrites > 0 {
		d.FailWrites--
		return 0, ErrNAK
	}
	report := make([]byte, protocol.ReportSize)
	copy(report, p[1:])
	if d.ShortWrite {
		d.ShortWrite = false
		if err := d.Host.WriteReport(report[:protocol.ReportSize/2]); err != nil {
			return 0, err
		}
		d.Writes++
		return len(p) / 2, nil
	}
	if err := d.Host.WriteReport(report); err != nil {
		return 0, err
	}
	d.Writes++
	return len(p), nil
}

func (d *Device) ReadWithTimeout(p []byte, _ time.Duration) (int, error) {
	if d.Closed {
		return 0, errors.New("haltest: device closed")
	}
	pkt, err := d.Host.ReadReport()
	if errors.Cause(err) == ErrNAK {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	d.Reads++
	return copy(p, pkt), nil
}

func (d *Device) Close() error {
	d.Closed = true
	return nil
}
