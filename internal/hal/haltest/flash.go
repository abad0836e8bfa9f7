package haltest

import (
	"encoding/binary"

	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// Erase records one page erase.
type Erase struct {
	Addr uint32
}

// Program records one halfword program.
type Program struct {
	Addr  uint32
	Value uint16
}

// Flash is a fake flash controller with its array. The array starts erased
// (0xFF) and the controller starts locked.
type Flash struct {
	Base     uint32
	Mem      []byte
	PageSize uint32

	// BusyReads makes the next operations report BSY for this many SR reads.
	BusyReads int

	Erases   []Erase
	Programs []Program
	// Unlocks counts successful key sequences.
	Unlocks int
	// Faulted is set after a wrong key sequence; the controller stays locked
	// until the next reset, as on silicon.
	Faulted bool
	// Violations counts writes that the controller rejected.
	Violations int

	sr       uint32
	cr       uint32
	ar       uint32
	keyStage int
	busy     int
}

var _ hal.Flash = (*Flash)(nil)

// NewFlash returns size bytes of erased flash at base.
func NewFlash(base, size, pageSize uint32) *Flash {
	f := &Flash{
		Base:     base,
		Mem:      make([]byte, size),
		PageSize: pageSize,
		cr:       hal.FLASH_CR_LOCK,
	}
	for i := range f.Mem {
		f.Mem[i] = 0xFF
	}
	return f
}

// Locked reports whether the controller is locked.
func (f *Flash) Locked() bool { return f.cr&hal.FLASH_CR_LOCK != 0 }

// Page returns a copy of the page starting at addr.
func (f *Flash) Page(addr uint32) []byte {
	off := addr - f.Base
	out := make([]byte, f.PageSize)
	copy(out, f.Mem[off:off+f.PageSize])
	return out
}

// Load copies data into the array at addr, bypassing the controller.
func (f *Flash) Load(addr uint32, data []byte) {
	copy(f.Mem[addr-f.Base:], data)
}

func (f *Flash) inRange(addr uint32, n uint32) bool {
	return addr >= f.Base && addr-f.Base+n <= uint32(len(f.Mem))
}

func (f *Flash) Read32(addr uint32) uint32 {
	if !f.inRange(addr, 4) {
		return 0xFFFFFFFF
	}
	return binary.LittleEndian.Uint32(f.Mem[addr-f.Base:])
}

func (f *Flash) SetKEYR(v uint32) {
	if f.Faulted || !f.Locked() {
		return
	}
	switch {
	case f.keyStage == 0 && v == hal.FLASH_KEY1:
		f.keyStage = 1
	case f.keyStage == 1 && v == hal.FLASH_KEY2:
		f.keyStage = 0
		f.cr &^= hal.FLASH_CR_LOCK
		f.Unlocks++
	default:
		f.keyStage = 0
		f.Faulted = true
	}
}

func (f *Flash) SR() uint32 {
	sr := f.sr
	if f.busy > 0 {
		f.busy--
		sr |= hal.FLASH_SR_BSY
	}
	return sr
}

func (f *Flash) CR() uint32 { return f.cr }

func (f *Flash) SetCR(v uint32) {
	if f.Locked() {
		if v != hal.FLASH_CR_LOCK {
			f.Violations++
		}
		return
	}
	f.cr = v &^ hal.FLASH_CR_STRT
	if v&hal.FLASH_CR_STRT != 0 && v&hal.FLASH_CR_PER != 0 {
		f.erase(f.ar)
	}
}

func (f *Flash) SetAR(v uint32) {
	if f.Locked() {
		f.Violations++
		return
	}
	f.ar = v
}

func (f *Flash) erase(addr uint32) {
	page := addr &^ (f.PageSize - 1)
	if !f.inRange(page, f.PageSize) {
		f.Violations++
		return
	}
	off := page - f.Base
	for i := uint32(0); i < f.PageSize; i++ {
		f.Mem[off+i] = 0xFF
	}
	f.Erases = append(f.Erases, Erase{Addr: page})
	f.sr |= hal.FLASH_SR_EOP
	f.busy = f.BusyReads
}

// Write16 programs a halfword. Programming a location that is not erased
// with a non-zero value sets PGERR and leaves the array untouched.
func (f *Flash) Write16(addr uint32, v uint16) {
	if f.Locked() || f.cr&hal.FLASH_CR_PG == 0 || addr&1 != 0 || !f.inRange(addr, 2) {
		f.Violations++
		return
	}
	off := addr - f.Base
	cur := binary.LittleEndian.Uint16(f.Mem[off:])
	if cur != 0xFFFF && v != 0 {
		f.sr |= hal.FLASH_SR_PGERR
		return
	}
	binary.LittleEndian.PutUint16(f.Mem[off:], v)
	f.Programs = append(f.Programs, Program{Addr: addr, Value: v})
	f.sr |= hal.FLASH_SR_EOP
	f.busy = f.BusyReads
}
