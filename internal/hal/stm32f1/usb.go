//go:build tinygo && stm32f103

package stm32f1

import (
	"runtime/interrupt"

	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// USB is the USB FS device peripheral.
type USB struct {
	irq interrupt.Interrupt
}

var _ hal.USB = (*USB)(nil)

// usbISR is the routine installed by EnableIRQ.
var usbISR func()

func handleUSB(interrupt.Interrupt) {
	if usbISR != nil {
		usbISR()
	}
}

// NewUSB registers the USB low-priority interrupt. The line stays masked
// until EnableIRQ.
func NewUSB() *USB {
	return &USB{irq: interrupt.New(irqUSBLowPriority, handleUSB)}
}

func (u *USB) CNTR() uint16        { return reg16(usbBase + offsetCNTR).Get() }
func (u *USB) SetCNTR(v uint16)    { reg16(usbBase + offsetCNTR).Set(v) }
func (u *USB) ISTR() uint16        { return reg16(usbBase + offsetISTR).Get() }
func (u *USB) SetISTR(v uint16)    { reg16(usbBase + offsetISTR).Set(v) }
func (u *USB) DADDR() uint16       { return reg16(usbBase + offsetDADDR).Get() }
func (u *USB) SetDADDR(v uint16)   { reg16(usbBase + offsetDADDR).Set(v) }
func (u *USB) SetBTABLE(v uint16)  { reg16(usbBase + offsetBTABLE).Set(v) }
func (u *USB) EPR(ep uint8) uint16 { return reg16(usbBase + offsetEPR + uintptr(ep)*4).Get() }

func (u *USB) SetEPR(ep uint8, v uint16) {
	reg16(usbBase + offsetEPR + uintptr(ep)*4).Set(v)
}

// Packet memory is 16 bits wide on a 32-bit stride.
func (u *USB) ReadPMA(off uint16) uint16 {
	return reg16(pmaBase + uintptr(off)*2).Get()
}

func (u *USB) WritePMA(off uint16, v uint16) {
	reg16(pmaBase + uintptr(off)*2).Set(v)
}

func (u *USB) EnableClock()  { rcc(offsetRCC_APB1ENR).SetBits(rccAPB1ENR_USBEN) }
func (u *USB) DisableClock() { rcc(offsetRCC_APB1ENR).ClearBits(rccAPB1ENR_USBEN) }

func (u *USB) EnableIRQ(isr func()) {
	usbISR = isr
	u.irq.Enable()
}

func (u *USB) DisableIRQ() { u.irq.Disable() }

// ReleaseDataLine floats PA12 so the macrocell owns it.
func (u *USB) ReleaseDataLine() {
	USBDataPlus.configure(modeInputFloating)
}

// ForceDataLineLow sinks PA12 to ground through an open-drain output.
func (u *USB) ForceDataLineLow() {
	USBDataPlus.configure(modeOutputOpenDrain)
	USBDataPlus.low()
}
