//go:build tinygo && stm32f103

// Package stm32f1 binds the hal interfaces to the STM32F103 memory map.
package stm32f1

import (
	"runtime/volatile"
	"unsafe"
)

// Peripheral base addresses
const (
	usbBase   uintptr = 0x40005C00
	pmaBase   uintptr = 0x40006000
	bkpBase   uintptr = 0x40006C00
	pwrBase   uintptr = 0x40007000
	gpioABase uintptr = 0x40010800
	gpioBBase uintptr = 0x40010C00
	gpioCBase uintptr = 0x40011000
	rccBase   uintptr = 0x40021000
	flashBase uintptr = 0x40022000
	scbVTOR   uintptr = 0xE000ED08
)

// USB register offsets
const (
	offsetEPR    = 0x00
	offsetCNTR   = 0x40
	offsetISTR   = 0x44
	offsetDADDR  = 0x4C
	offsetBTABLE = 0x50
)

// RCC register offsets and bits
const (
	offsetRCC_CR      = 0x00
	offsetRCC_CFGR    = 0x04
	offsetRCC_APB2ENR = 0x18
	offsetRCC_APB1ENR = 0x1C

	rccCR_HSEON  = 1 << 16
	rccCR_HSERDY = 1 << 17
	rccCR_PLLON  = 1 << 24
	rccCR_PLLRDY = 1 << 25

	rccCFGR_SW_PLL     = 0x2
	rccCFGR_SWS_PLL    = 0x8
	rccCFGR_SWS_MASK   = 0xC
	rccCFGR_PPRE1_DIV2 = 0x4 << 8
	rccCFGR_PLLSRC_HSE = 1 << 16
	rccCFGR_PLLMULL9   = 0x7 << 18

	rccAPB2ENR_IOPAEN = 1 << 2
	rccAPB2ENR_IOPBEN = 1 << 3
	rccAPB2ENR_IOPCEN = 1 << 4

	rccAPB1ENR_USBEN = 1 << 23
	rccAPB1ENR_BKPEN = 1 << 27
	rccAPB1ENR_PWREN = 1 << 28
)

// Flash controller register offsets
const (
	offsetFLASH_ACR  = 0x00
	offsetFLASH_KEYR = 0x04
	offsetFLASH_SR   = 0x0C
	offsetFLASH_CR   = 0x10
	offsetFLASH_AR   = 0x14

	flashACR_LATENCY_2 = 0x2
	flashACR_PRFTBE    = 1 << 4
)

// Backup domain
const (
	offsetBKP_DR4 = 0x10
	pwrCR_DBP     = 1 << 8
)

// GPIO register offsets
const (
	offsetGPIO_CRL  = 0x00
	offsetGPIO_CRH  = 0x04
	offsetGPIO_IDR  = 0x08
	offsetGPIO_BSRR = 0x10
	offsetGPIO_BRR  = 0x14
)

// irqUSBLowPriority is USB_LP_CAN1_RX0.
const irqUSBLowPriority = 20

func reg16(addr uintptr) *volatile.Register16 {
	return (*volatile.Register16)(unsafe.Pointer(addr))
}

func reg32(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

func rcc(offset uintptr) *volatile.Register32 { return reg32(rccBase + offset) }
