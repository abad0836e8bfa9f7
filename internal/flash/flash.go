// Package flash erases and programs internal flash pages through the
// STM32F1 flash controller.
package flash

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// Programmer drives the flash controller register sequence.
type Programmer struct {
	hw hal.Flash
}

// New creates a Programmer on top of hw.
func New(hw hal.Flash) *Programmer {
	return &Programmer{hw: hw}
}

// WritePage unlocks the controller, erases the page at addr and programs
// data into it one halfword at a time, then locks the controller again.
// A trailing odd byte is programmed with 0xFF in the high half.
//
// Every wait spins on BSY without a bound. A controller that never clears
// BSY hangs the caller.
func (p *Programmer) WritePage(addr uint32, data []byte) {
	p.unlock()
	p.wait()

	p.hw.SetCR(p.hw.CR() | hal.FLASH_CR_PER)
	p.hw.SetAR(addr)
	p.hw.SetCR(p.hw.CR() | hal.FLASH_CR_STRT)
	p.wait()
	p.hw.SetCR(p.hw.CR() &^ hal.FLASH_CR_PER)
	p.wait()

	p.hw.SetCR(p.hw.CR() | hal.FLASH_CR_PG)
	for i := 0; i < len(data); i += 2 {
		v := uint16(data[i])
		if i+1 < len(data) {
			v |= uint16(data[i+1]) << 8
		} else {
			v |= 0xFF00
		}
		p.hw.Write16(addr+uint32(i), v)
		p.wait()
	}
	p.hw.SetCR(p.hw.CR() &^ hal.FLASH_CR_PG)

	p.hw.SetCR(p.hw.CR() | hal.FLASH_CR_LOCK)
}

func (p *Programmer) unlock() {
	p.hw.SetKEYR(hal.FLASH_KEY1)
	p.hw.SetKEYR(hal.FLASH_KEY2)
}

func (p *Programmer) wait() {
	for p.hw.SR()&hal.FLASH_SR_BSY != 0 {
	}
}
