package hal

// USB_CNTR bits
const (
	USB_CNTR_CTRM   = 0x8000
	USB_CNTR_WKUPM  = 0x1000
	USB_CNTR_SUSPM  = 0x0800
	USB_CNTR_RESETM = 0x0400
	USB_CNTR_PDWN   = 0x0002
	USB_CNTR_FRES   = 0x0001
)

// USB_ISTR bits. Event flags are rc_w0; CTR, DIR and EP_ID are read-only
// and follow the endpoint registers.
const (
	USB_ISTR_CTR   = 0x8000
	USB_ISTR_WKUP  = 0x1000
	USB_ISTR_SUSP  = 0x0800
	USB_ISTR_RESET = 0x0400
	USB_ISTR_DIR   = 0x0010
	USB_ISTR_EP_ID = 0x000F
)

// USB_DADDR bits
const (
	USB_DADDR_EF  = 0x80
	USB_DADDR_ADD = 0x7F
)

// USB_EPnR bits
const (
	USB_EP_CTR_RX  = 0x8000
	USB_EP_DTOG_RX = 0x4000
	USB_EP_STAT_RX = 0x3000
	USB_EP_SETUP   = 0x0800
	USB_EP_TYPE    = 0x0600
	USB_EP_KIND    = 0x0100
	USB_EP_CTR_TX  = 0x0080
	USB_EP_DTOG_TX = 0x0040
	USB_EP_STAT_TX = 0x0030
	USB_EP_EA      = 0x000F

	// Bits preserved by a write that should not toggle anything.
	USB_EPREG_MASK = USB_EP_CTR_RX | USB_EP_SETUP | USB_EP_TYPE | USB_EP_KIND | USB_EP_CTR_TX | USB_EP_EA
	// Masks used before XOR-ing a new STAT value in.
	USB_EPTX_DTOGMASK = USB_EP_STAT_TX | USB_EPREG_MASK
	USB_EPRX_DTOGMASK = USB_EP_STAT_RX | USB_EPREG_MASK
)

// Endpoint types (EP_TYPE field)
const (
	USB_EP_BULK      = 0x0000
	USB_EP_CONTROL   = 0x0200
	USB_EP_ISOCHRON  = 0x0400
	USB_EP_INTERRUPT = 0x0600
)

// Endpoint status values for the TX and RX STAT fields
const (
	USB_EP_TX_DIS   = 0x0000
	USB_EP_TX_STALL = 0x0010
	USB_EP_TX_NAK   = 0x0020
	USB_EP_TX_VALID = 0x0030

	USB_EP_RX_DIS   = 0x0000
	USB_EP_RX_STALL = 0x1000
	USB_EP_RX_NAK   = 0x2000
	USB_EP_RX_VALID = 0x3000
)

// Buffer descriptor table layout, relative to BTABLE.
const (
	USB_BTABLE_ENTRY    = 8
	USB_BTABLE_ADDR_TX  = 0
	USB_BTABLE_COUNT_TX = 2
	USB_BTABLE_ADDR_RX  = 4
	USB_BTABLE_COUNT_RX = 6

	// COUNT_RX: received byte count and allocated buffer size.
	USB_COUNT_RX_MASK     = 0x03FF
	USB_COUNT_RX_BLSIZE   = 0x8000
	USB_COUNT_RX_NUMBLOCK = 10
)

// PMASize is the size of the packet memory in bytes.
const PMASize = 512

// FLASH_SR bits
const (
	FLASH_SR_BSY      = 0x01
	FLASH_SR_PGERR    = 0x04
	FLASH_SR_WRPRTERR = 0x10
	FLASH_SR_EOP      = 0x20
)

// FLASH_CR bits
const (
	FLASH_CR_PG   = 0x01
	FLASH_CR_PER  = 0x02
	FLASH_CR_MER  = 0x04
	FLASH_CR_STRT = 0x40
	FLASH_CR_LOCK = 0x80
)

// Flash unlock keys, written to FLASH_KEYR in this order.
const (
	FLASH_KEY1 = 0x45670123
	FLASH_KEY2 = 0xCDEF89AB
)
