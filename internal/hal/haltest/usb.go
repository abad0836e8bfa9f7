// Package haltest provides host-side fakes for the hal interfaces. The fakes
// model the STM32F1 register write rules closely enough that the driver code
// running against them issues the same register patterns it would on
// silicon.
package haltest

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

const numEndpoints = 8

// USB is a fake USB FS device peripheral.
type USB struct {
	cntr   uint16
	istr   uint16
	daddr  uint16
	btable uint16
	epr    [numEndpoints]uint16
	pma    [hal.PMASize]byte

	ClockEnabled  bool
	IRQEnabled    bool
	DataLineLow   bool
	ClockToggles  int
	InterruptRuns int

	isr   func()
	inISR bool
}

var _ hal.USB = (*USB)(nil)

// NewUSB returns a powered-down peripheral, as after a system reset.
func NewUSB() *USB {
	return &USB{cntr: hal.USB_CNTR_FRES | hal.USB_CNTR_PDWN}
}

func (u *USB) CNTR() uint16 { return u.cntr }

// SetCNTR writes the control register. Releasing FRES latches a bus reset
// event in ISTR the way the macrocell does when it comes out of reset.
func (u *USB) SetCNTR(v uint16) {
	wasReset := u.cntr&hal.USB_CNTR_FRES != 0
	u.cntr = v
	if wasReset && v&hal.USB_CNTR_FRES == 0 {
		u.istr |= hal.USB_ISTR_RESET
	}
}

// ISTR returns the latched event flags combined with the CTR summary of the
// lowest-numbered endpoint that has a completed transfer.
func (u *USB) ISTR() uint16 {
	v := u.istr &^ (hal.USB_ISTR_CTR | hal.USB_ISTR_DIR | hal.USB_ISTR_EP_ID)
	for ep := uint16(0); ep < numEndpoints; ep++ {
		r := u.epr[ep]
		if r&(hal.USB_EP_CTR_RX|hal.USB_EP_CTR_TX) == 0 {
			continue
		}
		v |= hal.USB_ISTR_CTR | ep
		if r&hal.USB_EP_CTR_RX != 0 {
			v |= hal.USB_ISTR_DIR
		}
		break
	}
	return v
}

// SetISTR clears every event flag written as zero.
func (u *USB) SetISTR(v uint16) {
	u.istr &= v | hal.USB_ISTR_CTR | hal.USB_ISTR_DIR | hal.USB_ISTR_EP_ID
}

func (u *USB) DADDR() uint16       { return u.daddr }
func (u *USB) SetDADDR(v uint16)   { u.daddr = v & (hal.USB_DADDR_EF | hal.USB_DADDR_ADD) }
func (u *USB) SetBTABLE(v uint16)  { u.btable = v &^ 7 }
func (u *USB) BTABLE() uint16      { return u.btable }
func (u *USB) EPR(ep uint8) uint16 { return u.epr[ep] }

// SetEPR applies the EPnR write rules: CTR bits only clear when written as
// zero, DTOG and STAT bits toggle when written as one, SETUP is read-only,
// and type, kind and address are plain read/write fields.
func (u *USB) SetEPR(ep uint8, v uint16) {
	old := u.epr[ep]
	n := v & (hal.USB_EP_TYPE | hal.USB_EP_KIND | hal.USB_EP_EA)
	n |= old & v & (hal.USB_EP_CTR_RX | hal.USB_EP_CTR_TX)
	n |= (old ^ v) & (hal.USB_EP_DTOG_RX | hal.USB_EP_STAT_RX | hal.USB_EP_DTOG_TX | hal.USB_EP_STAT_TX)
	n |= old & hal.USB_EP_SETUP
	u.epr[ep] = n
}

func (u *USB) ReadPMA(off uint16) uint16 {
	off &= hal.PMASize - 2
	return uint16(u.pma[off]) | uint16(u.pma[off+1])<<8
}

func (u *USB) WritePMA(off uint16, v uint16) {
	off &= hal.PMASize - 2
	u.pma[off] = byte(v)
	u.pma[off+1] = byte(v >> 8)
}

func (u *USB) EnableClock() {
	u.ClockEnabled = true
	u.ClockToggles++
}

func (u *USB) DisableClock() {
	u.ClockEnabled = false
	u.ClockToggles++
}

func (u *USB) EnableIRQ(isr func()) {
	u.isr = isr
	u.IRQEnabled = true
}

func (u *USB) DisableIRQ() { u.IRQEnabled = false }

func (u *USB) ReleaseDataLine()  { u.DataLineLow = false }
func (u *USB) ForceDataLineLow() { u.DataLineLow = true }

// TxStatus returns the STAT_TX field of endpoint ep.
func (u *USB) TxStatus(ep uint8) uint16 { return u.epr[ep] & hal.USB_EP_STAT_TX }

// RxStatus returns the STAT_RX field of endpoint ep.
func (u *USB) RxStatus(ep uint8) uint16 { return u.epr[ep] & hal.USB_EP_STAT_RX }

// Raise latches event flags in ISTR and delivers the interrupt.
func (u *USB) Raise(flags uint16) {
	u.istr |= flags
	u.deliver()
}

// deliver runs the installed handler if the line is enabled and an unmasked
// source is pending. Nested delivery is suppressed like on a single NVIC
// priority level.
func (u *USB) deliver() {
	if !u.IRQEnabled || u.isr == nil || u.inISR {
		return
	}
	if u.ISTR()&u.cntr&(hal.USB_ISTR_CTR|hal.USB_ISTR_RESET|hal.USB_ISTR_SUSP|hal.USB_ISTR_WKUP) == 0 {
		return
	}
	u.inISR = true
	u.InterruptRuns++
	u.isr()
	u.inISR = false
}

func (u *USB) bufferEntry(ep uint8, field uint16) uint16 {
	return u.ReadPMA(u.btable + uint16(ep)*hal.USB_BTABLE_ENTRY + field)
}

func (u *USB) setBufferEntry(ep uint8, field, v uint16) {
	u.WritePMA(u.btable+uint16(ep)*hal.USB_BTABLE_ENTRY+field, v)
}

// rxCapacity decodes the buffer size configured in COUNT_RX.
func (u *USB) rxCapacity(ep uint8) int {
	c := u.bufferEntry(ep, hal.USB_BTABLE_COUNT_RX)
	blocks := int(c>>hal.USB_COUNT_RX_NUMBLOCK) & 0x1F
	if c&hal.USB_COUNT_RX_BLSIZE != 0 {
		return (blocks + 1) * 32
	}
	return blocks * 2
}

func (u *USB) storeRx(ep uint8, data []byte) {
	addr := u.bufferEntry(ep, hal.USB_BTABLE_ADDR_RX)
	for i := 0; i < len(data); i += 2 {
		v := uint16(data[i])
		if i+1 < len(data) {
			v |= uint16(data[i+1]) << 8
		}
		u.WritePMA(addr+uint16(i), v)
	}
	c := u.bufferEntry(ep, hal.USB_BTABLE_COUNT_RX)
	u.setBufferEntry(ep, hal.USB_BTABLE_COUNT_RX, c&^hal.USB_COUNT_RX_MASK|uint16(len(data)))
}

func (u *USB) loadTx(ep uint8) []byte {
	addr := u.bufferEntry(ep, hal.USB_BTABLE_ADDR_TX)
	n := int(u.bufferEntry(ep, hal.USB_BTABLE_COUNT_TX) & hal.USB_COUNT_RX_MASK)
	out := make([]byte, n)
	for i := 0; i < n; i += 2 {
		v := u.ReadPMA(addr + uint16(i))
		out[i] = byte(v)
		if i+1 < n {
			out[i+1] = byte(v >> 8)
		}
	}
	return out
}

// setStat writes a STAT field directly, the way the hardware does after a
// transaction.
func (u *USB) setStat(ep uint8, mask, v uint16) {
	u.epr[ep] = u.epr[ep]&^mask | v
}
