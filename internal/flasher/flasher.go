// Package flasher streams a firmware image to the HID bootloader.
package flasher

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

var (
	// ErrPartialWrite is returned when the HID layer accepted only part of
	// a report.
	ErrPartialWrite = errors.New("partial report write")
	// ErrWriteRetries is returned when a report could not be sent at all.
	ErrWriteRetries = errors.New("report write retries exhausted")
	// ErrAckTimeout is returned when the device does not acknowledge a
	// page in time.
	ErrAckTimeout = errors.New("timed out waiting for page acknowledgment")
	// ErrEmptyFirmware is returned for a zero-length image.
	ErrEmptyFirmware = errors.New("firmware image is empty")
)

// Defaults
const (
	DefaultRetries    = 20
	DefaultRetryDelay = 100 * time.Millisecond
	DefaultAckTimeout = 5 * time.Second

	// chunkDelay spaces the output reports of one page.
	chunkDelay = 500 * time.Microsecond
	// ackPoll bounds a single read while waiting for the acknowledgment.
	ackPoll = 100 * time.Millisecond
)

// Device is an open HID handle. Write takes a report prefixed with its
// report ID. ReadWithTimeout returns 0 bytes and no error when nothing
// arrived in time.
type Device interface {
	Write(p []byte) (int, error)
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// ProgressCallback is called after each acknowledged page.
type ProgressCallback func(current, total int)

// Option configures a Flasher.
type Option func(*Flasher)

// WithRetries sets how many times a report write is attempted.
func WithRetries(n int) Option {
	return func(f *Flasher) {
		if n > 0 {
			f.retries = n
		}
	}
}

// WithRetryDelay sets the pause between write attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Flasher) { f.retryDelay = d }
}

// WithAckTimeout sets how long to wait for each page acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(f *Flasher) {
		if d > 0 {
			f.ackTimeout = d
		}
	}
}

// WithLogger sets the logger for retry and page detail.
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Flasher) {
		if l != nil {
			f.log = l
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(f *Flasher) { f.progress = cb }
}

// Flasher drives one bootloader session.
type Flasher struct {
	dev        Device
	retries    int
	retryDelay time.Duration
	ackTimeout time.Duration
	log        logrus.FieldLogger
	progress   ProgressCallback

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a Flasher for dev.
func New(dev Device, opts ...Option) *Flasher {
	f := &Flasher{
		dev:        dev,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		ackTimeout: DefaultAckTimeout,
		log:        logrus.StandardLogger(),
		sleep:      time.Sleep,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// Flash uploads firmware page by page and asks the device to reboot. A
// failed reboot request is logged and not returned, since every page has
// been written by then.
func (f *Flasher) Flash(firmware []byte) error {
	if len(firmware) == 0 {
		return ErrEmptyFirmware
	}

	if err := f.ResetPages(); err != nil {
		return err
	}

	pages := protocol.Pages(firmware)
	for i, page := range pages {
		if err := f.WritePage(page); err != nil {
			return errors.Wrapf(err, "page %d of %d", i+1, len(pages))
		}
		f.log.Debugf("page %d of %d acknowledged", i+1, len(pages))
		f.reportProgress(i+1, len(pages))
	}

	if err := f.Reboot(); err != nil {
		f.log.Warnf("reboot request failed: %v", err)
	}
	return nil
}

// ResetPages tells the device to start writing at its first application
// page.
func (f *Flasher) ResetPages() error {
	return errors.Wrap(f.command(protocol.OpResetPages), "reset pages")
}

// Reboot tells the device the upload is complete.
func (f *Flasher) Reboot() error {
	return errors.Wrap(f.command(protocol.OpReboot), "reboot")
}

func (f *Flasher) command(op byte) error {
	f.log.Debugf("sending %s command", protocol.OpName(op))
	return f.writeReport(protocol.CommandFrame(op))
}

// WritePage sends one full page as consecutive output reports and waits
// for the acknowledgment.
func (f *Flasher) WritePage(page []byte) error {
	if len(page) != protocol.PageSize {
		return errors.Errorf("page is %d bytes, want %d", len(page), protocol.PageSize)
	}
	for off := 0; off < len(page); off += protocol.ReportSize {
		if err := f.writeReport(page[off : off+protocol.ReportSize]); err != nil {
			return errors.Wrapf(err, "offset %d", off)
		}
		f.sleep(chunkDelay)
	}
	return f.waitAck()
}

// writeReport sends one 64-byte output report behind report ID 0. Writes
// that send nothing are retried. A short write aborts.
func (f *Flasher) writeReport(data []byte) error {
	var buf [protocol.ReportSize + 1]byte
	copy(buf[1:], data)

	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		n, err := f.dev.Write(buf[:])
		if err == nil {
			if n < len(buf) {
				return errors.Wrapf(ErrPartialWrite, "%d of %d bytes", n, len(buf))
			}
			return nil
		}
		lastErr = err
		f.log.Debugf("write attempt %d/%d failed: %v", attempt, f.retries, err)
		if attempt < f.retries {
			f.sleep(f.retryDelay)
		}
	}
	return errors.Wrapf(ErrWriteRetries, "%d attempts, last error: %v", f.retries, lastErr)
}

func (f *Flasher) waitAck() error {
	buf := make([]byte, protocol.AckSize+1)
	deadline := f.now().Add(f.ackTimeout)

	for {
		remaining := deadline.Sub(f.now())
		if remaining <= 0 {
			return ErrAckTimeout
		}
		if remaining > ackPoll {
			remaining = ackPoll
		}

		n, err := f.dev.ReadWithTimeout(buf, remaining)
		if err != nil {
			return errors.Wrap(err, "read acknowledgment")
		}
		if n > 0 && protocol.IsAck(buf[:n]) {
			return nil
		}
		if n > 0 {
			f.log.Debugf("ignoring input report % X", buf[:n])
		}
	}
}
