//go:build tinygo && stm32f103

package stm32f1

import (
	"device/arm"
	"unsafe"

	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// vectorCount covers the core exceptions and every F103 interrupt line.
const vectorCount = 16 + 60

// VTOR needs the table aligned to its size rounded up to a power of two.
const vectorAlign = 512

var ramVectors [vectorCount + vectorAlign/4]uint32

// System implements hal.System for one board.
type System struct {
	Board Board
}

var _ hal.System = (*System)(nil)

// ConfigureClock runs SYSCLK from the PLL at HSE x 9. It does nothing when
// the PLL already drives the core.
func (s *System) ConfigureClock() {
	if rcc(offsetRCC_CFGR).Get()&rccCFGR_SWS_MASK == rccCFGR_SWS_PLL {
		return
	}

	rcc(offsetRCC_CR).SetBits(rccCR_HSEON)
	for rcc(offsetRCC_CR).Get()&rccCR_HSERDY == 0 {
	}

	reg32(flashBase + offsetFLASH_ACR).SetBits(flashACR_PRFTBE | flashACR_LATENCY_2)
	rcc(offsetRCC_CFGR).SetBits(rccCFGR_PPRE1_DIV2 | rccCFGR_PLLSRC_HSE | rccCFGR_PLLMULL9)

	rcc(offsetRCC_CR).SetBits(rccCR_PLLON)
	for rcc(offsetRCC_CR).Get()&rccCR_PLLRDY == 0 {
	}

	rcc(offsetRCC_CFGR).SetBits(rccCFGR_SW_PLL)
	for rcc(offsetRCC_CFGR).Get()&rccCFGR_SWS_MASK != rccCFGR_SWS_PLL {
	}
}

// InstallRAMVectors copies the active vector table into SRAM and points
// VTOR at the copy.
func (s *System) InstallRAMVectors() {
	vtor := reg32(scbVTOR)
	src := uintptr(vtor.Get())

	base := uintptr(unsafe.Pointer(&ramVectors[0]))
	skip := ((base+vectorAlign-1)&^(vectorAlign-1) - base) / 4
	table := ramVectors[skip : skip+vectorCount]
	for i := range table {
		table[i] = reg32(src + uintptr(i)*4).Get()
	}
	vtor.Set(uint32(uintptr(unsafe.Pointer(&table[0]))))
}

// InitPins configures the LED, the D+ switch if present and BOOT1.
func (s *System) InitPins() {
	b := &s.Board
	b.LED.configure(modeOutputPushPull)
	b.setLED(false)
	if b.Disc != nil {
		b.Disc.configure(modeOutputOpenDrain)
		b.Disc.low()
	}
	BootPin.configure(modeInputFloating)
}

// ReadBackup returns BKP_DR4.
func (s *System) ReadBackup() uint16 {
	rcc(offsetRCC_APB1ENR).SetBits(rccAPB1ENR_BKPEN | rccAPB1ENR_PWREN)
	v := uint16(reg32(bkpBase + offsetBKP_DR4).Get())
	rcc(offsetRCC_APB1ENR).ClearBits(rccAPB1ENR_BKPEN | rccAPB1ENR_PWREN)
	return v
}

// WriteBackup stores v in BKP_DR4 with backup domain writes enabled only
// for the store.
func (s *System) WriteBackup(v uint16) {
	rcc(offsetRCC_APB1ENR).SetBits(rccAPB1ENR_BKPEN | rccAPB1ENR_PWREN)
	reg32(pwrBase).SetBits(pwrCR_DBP)
	reg32(bkpBase + offsetBKP_DR4).Set(uint32(v))
	reg32(pwrBase).ClearBits(pwrCR_DBP)
	rcc(offsetRCC_APB1ENR).ClearBits(rccAPB1ENR_BKPEN | rccAPB1ENR_PWREN)
}

func (s *System) BootPin() bool  { return BootPin.get() }
func (s *System) SetLED(on bool) { s.Board.setLED(on) }

func (s *System) Delay(n uint32) {
	for i := uint32(0); i < n; i++ {
		arm.Asm("nop")
	}
}

func (s *System) DisableClocks() {
	rcc(offsetRCC_APB2ENR).ClearBits(s.Board.clockMask() | rccAPB2ENR_IOPAEN)
}

func (s *System) SetVectorTable(addr uint32) { reg32(scbVTOR).Set(addr) }

// Jump loads MSP and branches to the application reset handler.
func (s *System) Jump(sp, pc uint32) {
	arm.AsmFull(`
		msr msp, {sp}
		bx {pc}
	`, map[string]interface{}{
		"sp": sp,
		"pc": pc,
	})
}

func (s *System) Reset() { arm.SystemReset() }
