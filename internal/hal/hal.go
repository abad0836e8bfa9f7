// Package hal is the register-access boundary between the bootloader core
// and the STM32F1 peripherals it drives. The core only talks to these
// interfaces. The TinyGo build binds them to memory-mapped registers in
// hal/stm32f1. Host tests bind them to the fakes in hal/haltest.
//
// Register semantics are the hardware's, not a cleaned-up model: EPnR bits
// toggle or clear on write exactly as described in RM0008, and the driver
// code above is responsible for writing the right patterns.
package hal

// USB is the full-speed USB device macrocell, its packet memory, interrupt
// line and D+ pin.
type USB interface {
	CNTR() uint16
	SetCNTR(v uint16)
	ISTR() uint16
	SetISTR(v uint16)
	DADDR() uint16
	SetDADDR(v uint16)
	SetBTABLE(v uint16)

	// EPR and SetEPR access endpoint register n (0-7).
	EPR(ep uint8) uint16
	SetEPR(ep uint8, v uint16)

	// ReadPMA and WritePMA access one 16-bit word of packet memory at a
	// byte offset as seen by the USB peripheral.
	ReadPMA(off uint16) uint16
	WritePMA(off uint16, v uint16)

	EnableClock()
	DisableClock()

	// EnableIRQ routes the USB low-priority interrupt to isr and unmasks it.
	EnableIRQ(isr func())
	DisableIRQ()

	// ReleaseDataLine returns D+ to the peripheral. ForceDataLineLow drives
	// it to ground so the host sees a disconnect.
	ReleaseDataLine()
	ForceDataLineLow()
}

// Memory reads words from the memory map.
type Memory interface {
	Read32(addr uint32) uint32
}

// Flash is the embedded flash controller plus the flash array it programs.
type Flash interface {
	Memory

	SetKEYR(v uint32)
	SR() uint32
	CR() uint32
	SetCR(v uint32)
	SetAR(v uint32)

	// Write16 performs a halfword store into the flash array.
	Write16(addr uint32, v uint16)
}

// System groups the core, clock, backup domain and GPIO operations used by
// the boot decision.
type System interface {
	// ConfigureClock switches SYSCLK to the 72 MHz PLL.
	ConfigureClock()
	// InstallRAMVectors points VTOR at a RAM table that can service the
	// USB interrupt before the application's table is installed.
	InstallRAMVectors()
	// InitPins configures the LED, optional DISC pin and the boot-select
	// pin.
	InitPins()

	ReadBackup() uint16
	WriteBackup(v uint16)

	// BootPin reports whether the boot-select pin (BOOT1/PB2) is high.
	BootPin() bool
	SetLED(on bool)

	// Delay burns roughly n core cycles.
	Delay(n uint32)

	// DisableClocks turns off GPIO clocks enabled for the decision.
	DisableClocks()
	SetVectorTable(addr uint32)

	// Jump loads MSP with sp and branches to pc. It does not return on
	// hardware.
	Jump(sp, pc uint32)
	// Reset requests a system reset through AIRCR. It does not return on
	// hardware.
	Reset()
}
