package haltest

import (
	"fmt"

	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// System is a fake for the core, clock, backup and GPIO operations. Calls
// that would not return on silicon (Jump, Reset) are recorded instead.
type System struct {
	// Backup is the battery-backed magic word register.
	Backup uint16
	// Pin is the level of the boot-select pin.
	Pin bool
	LED bool

	VTOR       uint32
	JumpSP     uint32
	JumpPC     uint32
	Jumped     bool
	ResetCount int
	LEDToggles int
	DelayTotal uint64

	// OnDelay, if set, runs on every Delay call. Tests use it to drive the
	// USB host while the boot loop is waiting.
	OnDelay func(n uint32)

	// Events logs every call in order.
	Events []string
}

var _ hal.System = (*System)(nil)

func (s *System) log(format string, args ...interface{}) {
	s.Events = append(s.Events, fmt.Sprintf(format, args...))
}

func (s *System) ConfigureClock()    { s.log("clock") }
func (s *System) InstallRAMVectors() { s.log("ram-vectors") }
func (s *System) InitPins()          { s.log("pins") }

func (s *System) ReadBackup() uint16 {
	s.log("backup-read 0x%04X", s.Backup)
	return s.Backup
}

func (s *System) WriteBackup(v uint16) {
	s.log("backup-write 0x%04X", v)
	s.Backup = v
}

func (s *System) BootPin() bool { return s.Pin }

func (s *System) SetLED(on bool) {
	if s.LED != on {
		s.LEDToggles++
	}
	s.LED = on
}

func (s *System) Delay(n uint32) {
	s.DelayTotal += uint64(n)
	if s.OnDelay != nil {
		s.OnDelay(n)
	}
}

func (s *System) DisableClocks() { s.log("clocks-off") }

func (s *System) SetVectorTable(addr uint32) {
	s.log("vtor 0x%08X", addr)
	s.VTOR = addr
}

func (s *System) Jump(sp, pc uint32) {
	s.log("jump sp=0x%08X pc=0x%08X", sp, pc)
	s.JumpSP, s.JumpPC = sp, pc
	s.Jumped = true
}

func (s *System) Reset() {
	s.log("reset")
	s.ResetCount++
}
