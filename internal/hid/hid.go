// Package hid implements the vendor HID class of the bootloader: descriptor
// responses on the control endpoint, reassembly of output reports into
// flash pages, and the BTLDCMD command protocol.
package hid

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
	"github.com/bigbag/stm32-hid-bootloader/internal/session"
	"github.com/bigbag/stm32-hid-bootloader/internal/usbd"
)

// Packet memory layout
const (
	btableAddress = 0x00
	ep0RxAddress  = 0x18
	ep0TxAddress  = 0x58
	ep1TxAddress  = 0x100
)

// bmRequestType type field
const (
	requestTypeMask     = 0x60
	requestTypeStandard = 0x00
	requestTypeClass    = 0x20
)

// Standard requests
const (
	reqGetStatus        = 0x00
	reqSetAddress       = 0x05
	reqGetDescriptor    = 0x06
	reqGetConfiguration = 0x08
	reqSetConfiguration = 0x09
	reqGetInterface     = 0x0A
)

// HID class requests
const (
	reqSetReport = 0x09
	reqSetIdle   = 0x0A
)

// Config places the upload in flash.
type Config struct {
	// FlashBase is the address of flash page 0.
	FlashBase uint32
	// FirstPage is the first page above the bootloader.
	FirstPage uint32
}

// DefaultConfig matches a 4 KiB bootloader on a 1 KiB-page STM32F103.
func DefaultConfig() Config {
	return Config{FlashBase: 0x08000000, FirstPage: 4}
}

// PageWriter commits one flash page.
type PageWriter interface {
	WritePage(addr uint32, data []byte)
}

// Indicator shows page-commit activity.
type Indicator interface {
	SetLED(on bool)
}

// Option configures a Handler.
type Option func(*Handler)

// WithIndicator lights i while a page is being committed.
func WithIndicator(i Indicator) Option {
	return func(h *Handler) {
		h.led = i
	}
}

type setupPacket struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
}

func parseSetup(b []byte) setupPacket {
	return setupPacket{
		requestType: b[0],
		request:     b[1],
		value:       uint16(b[2]) | uint16(b[3])<<8,
		index:       uint16(b[4]) | uint16(b[5])<<8,
		length:      uint16(b[6]) | uint16(b[7])<<8,
	}
}

// Handler is the HID class. It implements usbd.Handler.
type Handler struct {
	usb      *usbd.Driver
	flash    PageWriter
	progress *session.Progress
	cfg      Config
	led      Indicator

	page      [protocol.PageSize]byte
	offset    int
	pageIndex uint32
	reply     [2]byte
}

var _ usbd.Handler = (*Handler)(nil)

// New creates the class handler. Pages are written through w and the
// upload flags are kept in p.
func New(d *usbd.Driver, w PageWriter, p *session.Progress, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		usb:      d,
		flash:    w,
		progress: p,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rewind()
	return h
}

// PageIndex returns the page the next commit goes to.
func (h *Handler) PageIndex() uint32 { return h.pageIndex }

// Offset returns the fill level of the page buffer.
func (h *Handler) Offset() int { return h.offset }

func (h *Handler) rewind() {
	h.pageIndex = h.cfg.FirstPage
	h.offset = 0
}

// OnBusReset sets up endpoint 0 as the control pipe and endpoint 1 as the
// interrupt IN pipe, and enables the function at address 0.
func (h *Handler) OnBusReset() {
	h.rewind()
	h.usb.SetBufferTable(btableAddress)

	h.usb.ConfigureEndpoint(0, usbd.EndpointConfig{
		Type:      hal.USB_EP_CONTROL,
		RxAddr:    ep0RxAddress,
		TxAddr:    ep0TxAddress,
		MaxPacket: protocol.PacketSize,
		RxStatus:  hal.USB_EP_RX_VALID,
		TxStatus:  hal.USB_EP_TX_NAK,
	})
	h.usb.ConfigureEndpoint(1, usbd.EndpointConfig{
		Type:      hal.USB_EP_INTERRUPT,
		TxAddr:    ep1TxAddress,
		MaxPacket: protocol.PacketSize,
		RxStatus:  hal.USB_EP_RX_DIS,
		TxStatus:  hal.USB_EP_TX_NAK,
	})

	h.usb.SetDeviceAddress(0)
}

// OnEndpointEvent services a completed transfer on ep.
func (h *Handler) OnEndpointEvent(ep uint8) {
	epr := h.usb.EndpointStatus(ep)

	if epr&hal.USB_EP_CTR_RX != 0 {
		pkt := h.usb.ReadPacket(ep)
		if ep == 0 {
			if epr&hal.USB_EP_SETUP != 0 {
				if len(pkt) >= 8 {
					h.setup(parseSetup(pkt))
				} else {
					h.usb.Stall(0)
				}
			} else if len(pkt) > 0 {
				h.receive(pkt)
			}
		}
		h.usb.ReleaseRx(ep)
	}

	if epr&hal.USB_EP_CTR_TX != 0 {
		h.usb.TransmitComplete(ep)
	}
}

func (h *Handler) setup(req setupPacket) {
	switch req.requestType & requestTypeMask {
	case requestTypeStandard:
		h.standardRequest(req)
	case requestTypeClass:
		h.classRequest(req)
	default:
		h.usb.Stall(0)
	}
}

func (h *Handler) standardRequest(req setupPacket) {
	switch req.request {
	case reqSetAddress:
		h.usb.RequestAddress(uint8(req.value))
		h.usb.SendData(0, nil)

	case reqGetDescriptor:
		d := descriptor(req.value)
		if int(req.length) < len(d) {
			d = d[:req.length]
		}
		h.usb.SendControl(d, req.length)

	case reqGetStatus:
		status := h.usb.DeviceStatus()
		h.reply[0], h.reply[1] = byte(status), byte(status>>8)
		h.usb.SendControl(h.reply[:truncate(2, req.length)], req.length)

	case reqGetConfiguration:
		h.reply[0] = 0
		if h.usb.Configured() {
			h.reply[0] = 1
		}
		h.usb.SendControl(h.reply[:truncate(1, req.length)], req.length)

	case reqSetConfiguration:
		h.usb.SetConfigured(req.value&0xFF != 0)
		h.usb.SendData(0, nil)

	case reqGetInterface:
		h.reply[0] = 0
		h.usb.SendControl(h.reply[:truncate(1, req.length)], req.length)

	default:
		h.usb.Stall(0)
	}
}

func (h *Handler) classRequest(req setupPacket) {
	switch req.request {
	case reqSetReport, reqSetIdle:
		h.usb.SendData(0, nil)
	default:
		h.usb.Stall(0)
	}
}

func truncate(n int, length uint16) int {
	if int(length) < n {
		return int(length)
	}
	return n
}

// receive appends an OUT packet to the page buffer. A buffer holding exactly
// one command frame is dispatched as a command; a full page is committed.
func (h *Handler) receive(pkt []byte) {
	h.offset += copy(h.page[h.offset:], pkt)

	if h.offset == protocol.CommandSize {
		if op, ok := protocol.ParseCommand(h.page[:protocol.CommandSize]); ok {
			switch op {
			case protocol.OpResetPages:
				h.progress.MarkStarted()
				h.rewind()
			case protocol.OpReboot:
				h.progress.MarkFinished()
			}
		}
		return
	}

	if h.offset >= protocol.PageSize {
		h.commit()
	}
}

func (h *Handler) commit() {
	h.indicate(true)
	addr := h.cfg.FlashBase + h.pageIndex*protocol.PageSize
	h.flash.WritePage(addr, h.page[:])
	h.pageIndex++
	h.offset = 0
	h.usb.SendData(1, protocol.AckFrame[:])
	h.indicate(false)
}

func (h *Handler) indicate(on bool) {
	if h.led != nil {
		h.led.SetLED(on)
	}
}
