//go:build tinygo && stm32f103

package stm32f1

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// Flash is the embedded flash controller.
type Flash struct{}

var _ hal.Flash = Flash{}

func (Flash) Read32(addr uint32) uint32 { return reg32(uintptr(addr)).Get() }
func (Flash) SetKEYR(v uint32)          { reg32(flashBase + offsetFLASH_KEYR).Set(v) }
func (Flash) SR() uint32                { return reg32(flashBase + offsetFLASH_SR).Get() }
func (Flash) CR() uint32                { return reg32(flashBase + offsetFLASH_CR).Get() }
func (Flash) SetCR(v uint32)            { reg32(flashBase + offsetFLASH_CR).Set(v) }
func (Flash) SetAR(v uint32)            { reg32(flashBase + offsetFLASH_AR).Set(v) }

func (Flash) Write16(addr uint32, v uint16) {
	reg16(uintptr(addr)).Set(v)
}
