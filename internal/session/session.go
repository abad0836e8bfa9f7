// Package session holds the state shared between the boot loop and the USB
// interrupt path for one bootloader run.
package session

import "sync/atomic"

// Progress carries the upload flags. The HID handler sets them from
// interrupt context and the boot loop polls them.
type Progress struct {
	started  atomic.Bool
	finished atomic.Bool
}

// MarkStarted records that the host issued reset-pages.
func (p *Progress) MarkStarted() { p.started.Store(true) }

// MarkFinished records that the host issued reboot.
func (p *Progress) MarkFinished() { p.finished.Store(true) }

func (p *Progress) Started() bool  { return p.started.Load() }
func (p *Progress) Finished() bool { return p.finished.Load() }

// Reset clears both flags.
func (p *Progress) Reset() {
	p.started.Store(false)
	p.finished.Store(false)
}

// Session is the bootloader session aggregate. Each component is handed
// only the part it needs.
type Session struct {
	Progress Progress
}
