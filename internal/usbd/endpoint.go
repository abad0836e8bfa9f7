package usbd

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// EPnR accessors. STAT and DTOG fields toggle when written as 1 and CTR
// flags clear when written as 0, so every write starts from the current
// value masked down to the bits that are safe to write back.

func (d *Driver) setTxStatus(ep uint8, stat uint16) {
	v := d.hw.EPR(ep) & hal.USB_EPTX_DTOGMASK
	v ^= stat
	d.hw.SetEPR(ep, v|hal.USB_EP_CTR_RX|hal.USB_EP_CTR_TX)
}

func (d *Driver) setRxStatus(ep uint8, stat uint16) {
	v := d.hw.EPR(ep) & hal.USB_EPRX_DTOGMASK
	v ^= stat
	d.hw.SetEPR(ep, v|hal.USB_EP_CTR_RX|hal.USB_EP_CTR_TX)
}

func (d *Driver) setType(ep uint8, typ uint16) {
	v := d.hw.EPR(ep) & hal.USB_EPREG_MASK &^ hal.USB_EP_TYPE
	d.hw.SetEPR(ep, v|typ|hal.USB_EP_CTR_RX|hal.USB_EP_CTR_TX)
}

func (d *Driver) setEndpointAddress(ep, addr uint8) {
	v := d.hw.EPR(ep) & hal.USB_EPREG_MASK &^ hal.USB_EP_EA
	d.hw.SetEPR(ep, v|uint16(addr)&hal.USB_EP_EA|hal.USB_EP_CTR_RX|hal.USB_EP_CTR_TX)
}

func (d *Driver) clearKind(ep uint8) {
	v := d.hw.EPR(ep) & hal.USB_EPREG_MASK &^ hal.USB_EP_KIND
	d.hw.SetEPR(ep, v|hal.USB_EP_CTR_RX|hal.USB_EP_CTR_TX)
}

func (d *Driver) clearCTRRX(ep uint8) {
	v := d.hw.EPR(ep) & hal.USB_EPREG_MASK &^ hal.USB_EP_CTR_RX
	d.hw.SetEPR(ep, v|hal.USB_EP_CTR_TX)
}

func (d *Driver) clearCTRTX(ep uint8) {
	v := d.hw.EPR(ep) & hal.USB_EPREG_MASK &^ hal.USB_EP_CTR_TX
	d.hw.SetEPR(ep, v|hal.USB_EP_CTR_RX)
}

// Buffer descriptor table accessors.

func (d *Driver) descriptor(ep uint8, field uint16) uint16 {
	return d.btable + uint16(ep)*hal.USB_BTABLE_ENTRY + field
}

func (d *Driver) setTxAddr(ep uint8, addr uint16) {
	d.hw.WritePMA(d.descriptor(ep, hal.USB_BTABLE_ADDR_TX), addr&^1)
}

func (d *Driver) txAddr(ep uint8) uint16 {
	return d.hw.ReadPMA(d.descriptor(ep, hal.USB_BTABLE_ADDR_TX))
}

func (d *Driver) setTxCount(ep uint8, n int) {
	d.hw.WritePMA(d.descriptor(ep, hal.USB_BTABLE_COUNT_TX), uint16(n))
}

func (d *Driver) setRxAddr(ep uint8, addr uint16) {
	d.hw.WritePMA(d.descriptor(ep, hal.USB_BTABLE_ADDR_RX), addr&^1)
}

func (d *Driver) rxAddr(ep uint8) uint16 {
	return d.hw.ReadPMA(d.descriptor(ep, hal.USB_BTABLE_ADDR_RX))
}

// setRxCount encodes the RX buffer size. Sizes up to 62 bytes use 2-byte
// blocks, larger sizes use 32-byte blocks.
func (d *Driver) setRxCount(ep uint8, n int) {
	var v uint16
	if n > 62 {
		blocks := n / 32
		if n%32 == 0 {
			blocks--
		}
		v = uint16(blocks)<<hal.USB_COUNT_RX_NUMBLOCK | hal.USB_COUNT_RX_BLSIZE
	} else {
		blocks := n / 2
		if n&1 != 0 {
			blocks++
		}
		v = uint16(blocks) << hal.USB_COUNT_RX_NUMBLOCK
	}
	d.hw.WritePMA(d.descriptor(ep, hal.USB_BTABLE_COUNT_RX), v)
}

func (d *Driver) rxCount(ep uint8) int {
	return int(d.hw.ReadPMA(d.descriptor(ep, hal.USB_BTABLE_COUNT_RX)) & hal.USB_COUNT_RX_MASK)
}

// Packet memory copies. PMA is accessed one halfword at a time.

func (d *Driver) copyFromPMA(dst []byte, addr uint16) {
	for i := 0; i < len(dst); i += 2 {
		v := d.hw.ReadPMA(addr + uint16(i))
		dst[i] = byte(v)
		if i+1 < len(dst) {
			dst[i+1] = byte(v >> 8)
		}
	}
}

func (d *Driver) copyToPMA(addr uint16, src []byte) {
	for i := 0; i < len(src); i += 2 {
		v := uint16(src[i])
		if i+1 < len(src) {
			v |= uint16(src[i+1]) << 8
		}
		d.hw.WritePMA(addr+uint16(i), v)
	}
}
