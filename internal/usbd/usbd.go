// Package usbd drives the STM32F1 USB full-speed device peripheral: bring-up
// and shutdown, the buffer descriptor table, interrupt dispatch and
// packet-memory transfers. Class behavior lives behind Handler.
package usbd

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

// MaxEndpoints is the number of endpoint registers of the peripheral.
const MaxEndpoints = 8

// BufferSize bounds a single packet held in software.
const BufferSize = 64

// Handler receives the events the driver dispatches from its interrupt
// routine. Both methods run in interrupt context.
type Handler interface {
	// OnEndpointEvent is called when endpoint ep has a completed transfer.
	// The handler must clear the CTR flags it finds set, through ReleaseRx
	// and TransmitComplete.
	OnEndpointEvent(ep uint8)
	// OnBusReset is called after a USB bus reset. The peripheral has lost
	// its endpoint configuration and the handler must set it up again.
	OnBusReset()
}

// EndpointConfig describes an endpoint for ConfigureEndpoint.
type EndpointConfig struct {
	Type      uint16 // hal.USB_EP_CONTROL, hal.USB_EP_INTERRUPT, ...
	TxAddr    uint16 // packet memory offset of the TX buffer
	RxAddr    uint16 // packet memory offset of the RX buffer
	MaxPacket int
	TxStatus  uint16
	RxStatus  uint16
}

type endpoint struct {
	rx        [BufferSize]byte
	rxLen     int
	tx        []byte
	maxPacket int
	zlp       bool // terminate tx with a zero-length packet
}

// Driver owns the USB peripheral.
type Driver struct {
	hw      hal.USB
	handler Handler
	btable  uint16
	ep      [MaxEndpoints]endpoint

	// Device session state.
	pendingAddress uint8
	configured     bool
	status         uint16
}

// New creates a driver for hw. The peripheral is untouched until
// Initialize.
func New(hw hal.USB) *Driver {
	return &Driver{hw: hw}
}

// Initialize registers h, powers the macrocell up and arms the transfer,
// reset, suspend and wakeup interrupts. It spins until the peripheral
// reports the reset that follows power-up.
func (d *Driver) Initialize(h Handler) {
	for i := range d.ep {
		d.ep[i].rxLen = 0
		d.ep[i].tx = nil
		d.ep[i].zlp = false
	}
	d.handler = h
	d.hw.ReleaseDataLine()
	d.clearSession()
	d.hw.EnableClock()
	d.hw.EnableIRQ(d.Interrupt)

	d.hw.SetCNTR(hal.USB_CNTR_FRES)
	d.hw.SetCNTR(0)
	for d.hw.ISTR()&hal.USB_ISTR_RESET == 0 {
	}
	d.hw.SetISTR(0)

	d.hw.SetCNTR(hal.USB_CNTR_CTRM | hal.USB_CNTR_RESETM | hal.USB_CNTR_SUSPM | hal.USB_CNTR_WKUPM)
}

// Shutdown disables the interrupt, powers the macrocell down and holds D+
// low so the host sees a disconnect. The handler is dropped.
func (d *Driver) Shutdown() {
	d.hw.DisableIRQ()
	d.hw.SetISTR(0)
	d.clearSession()
	d.handler = nil

	d.hw.SetCNTR(hal.USB_CNTR_FRES | hal.USB_CNTR_PDWN)
	d.hw.ForceDataLineLow()
	d.hw.DisableClock()
}

func (d *Driver) clearSession() {
	d.pendingAddress = 0
	d.configured = false
	d.status = 0
}

// Interrupt is the USB low-priority interrupt routine. Pending sources are
// handled in a fixed order (transfer, reset, suspend, wakeup) until none is
// left, then every status flag is cleared.
func (d *Driver) Interrupt() {
	const sources = hal.USB_ISTR_CTR | hal.USB_ISTR_RESET | hal.USB_ISTR_SUSP | hal.USB_ISTR_WKUP

	for {
		istr := d.hw.ISTR() & sources
		if istr == 0 {
			break
		}

		if istr&hal.USB_ISTR_CTR != 0 {
			ep := uint8(d.hw.ISTR() & hal.USB_ISTR_EP_ID)
			if d.handler != nil {
				d.handler.OnEndpointEvent(ep)
			} else {
				d.clearCTRRX(ep)
				d.clearCTRTX(ep)
			}
		}

		if istr&hal.USB_ISTR_RESET != 0 {
			d.hw.SetISTR(^uint16(hal.USB_ISTR_RESET))
			d.clearSession()
			d.hw.SetCNTR(d.hw.CNTR() | hal.USB_CNTR_SUSPM)
			if d.handler != nil {
				d.handler.OnBusReset()
			}
		}

		if istr&hal.USB_ISTR_SUSP != 0 {
			d.hw.SetISTR(^uint16(hal.USB_ISTR_SUSP))
			if d.hw.DADDR()&hal.USB_DADDR_ADD != 0 {
				d.hw.SetDADDR(0)
				d.hw.SetCNTR(d.hw.CNTR() &^ hal.USB_CNTR_SUSPM)
			}
		}

		if istr&hal.USB_ISTR_WKUP != 0 {
			d.hw.SetISTR(^uint16(hal.USB_ISTR_WKUP))
		}
	}

	d.hw.SetISTR(0)
}

// SendData queues data on endpoint ep. Non-control endpoints stay silent
// until the device is configured. The first packet is loaded now, the rest
// one packet per transmit completion.
func (d *Driver) SendData(ep uint8, data []byte) {
	if ep > 0 && !d.configured {
		return
	}
	d.ep[ep].tx = data
	d.ep[ep].zlp = false
	d.loadTx(ep)
	d.setTxStatus(ep, hal.USB_EP_TX_VALID)
}

// SendControl answers the data stage of a control read on EP0 with reply,
// already truncated to length. A reply that stops short of length on a
// packet boundary is terminated by a zero-length packet.
func (d *Driver) SendControl(reply []byte, length uint16) {
	d.SendData(0, reply)
	e := &d.ep[0]
	n := len(reply)
	e.zlp = e.maxPacket > 0 && n > 0 && n < int(length) && n%e.maxPacket == 0
}

func (d *Driver) loadTx(ep uint8) {
	e := &d.ep[ep]
	n := len(e.tx)
	if n > e.maxPacket {
		n = e.maxPacket
	}
	d.setTxCount(ep, n)
	d.copyToPMA(d.txAddr(ep), e.tx[:n])
	e.tx = e.tx[n:]
}

// TransmitComplete handles a CTR_TX event on ep: a pending device address
// is applied, the next chunk of a queued payload or its terminating
// zero-length packet is armed, otherwise the endpoint goes back to NAK.
// The flag is cleared last.
func (d *Driver) TransmitComplete(ep uint8) {
	if d.pendingAddress != 0 {
		d.SetDeviceAddress(d.pendingAddress)
		d.pendingAddress = 0
	}
	e := &d.ep[ep]
	if len(e.tx) > 0 {
		d.loadTx(ep)
		d.setTxStatus(ep, hal.USB_EP_TX_VALID)
	} else if e.zlp {
		e.zlp = false
		d.setTxCount(ep, 0)
		d.setTxStatus(ep, hal.USB_EP_TX_VALID)
	} else {
		d.setTxStatus(ep, hal.USB_EP_TX_NAK)
	}
	d.clearCTRTX(ep)
}

// ReadPacket copies the packet received on ep out of packet memory. The
// returned slice is valid until the next ReadPacket on the same endpoint.
func (d *Driver) ReadPacket(ep uint8) []byte {
	e := &d.ep[ep]
	n := d.rxCount(ep)
	if n > len(e.rx) {
		n = len(e.rx)
	}
	d.copyFromPMA(e.rx[:n], d.rxAddr(ep))
	e.rxLen = n
	return e.rx[:n]
}

// ReleaseRx clears CTR_RX on ep and makes it ready to receive again.
func (d *Driver) ReleaseRx(ep uint8) {
	d.clearCTRRX(ep)
	d.setRxStatus(ep, hal.USB_EP_RX_VALID)
}

// EndpointStatus returns the raw EPnR value.
func (d *Driver) EndpointStatus(ep uint8) uint16 {
	return d.hw.EPR(ep)
}

// Stall answers the next IN token on ep with STALL.
func (d *Driver) Stall(ep uint8) {
	d.ep[ep].tx = nil
	d.ep[ep].zlp = false
	d.setTxStatus(ep, hal.USB_EP_TX_STALL)
}

// SetBufferTable places the buffer descriptor table at addr in packet
// memory.
func (d *Driver) SetBufferTable(addr uint16) {
	d.btable = addr
	d.hw.SetBTABLE(addr)
}

// ConfigureEndpoint programs type, address, buffers and status of ep. The
// endpoint address equals its register index.
func (d *Driver) ConfigureEndpoint(ep uint8, c EndpointConfig) {
	d.setType(ep, c.Type)
	d.setEndpointAddress(ep, ep)
	d.clearKind(ep)
	d.setTxAddr(ep, c.TxAddr)
	d.setTxCount(ep, 0)
	if c.RxStatus != hal.USB_EP_RX_DIS {
		d.setRxAddr(ep, c.RxAddr)
		d.setRxCount(ep, c.MaxPacket)
	}
	d.setRxStatus(ep, c.RxStatus)
	d.setTxStatus(ep, c.TxStatus)

	e := &d.ep[ep]
	e.maxPacket = c.MaxPacket
	e.rxLen = 0
	e.tx = nil
	e.zlp = false
}

// SetDeviceAddress enables the function at addr.
func (d *Driver) SetDeviceAddress(addr uint8) {
	d.hw.SetDADDR(uint16(addr)&hal.USB_DADDR_ADD | hal.USB_DADDR_EF)
}

// RequestAddress records addr to be applied once the status stage of the
// current control transfer has been transmitted.
func (d *Driver) RequestAddress(addr uint8) {
	d.pendingAddress = addr & hal.USB_DADDR_ADD
}

// PendingAddress returns the address waiting for the status stage, or 0.
func (d *Driver) PendingAddress() uint8 { return d.pendingAddress }

// SetConfigured marks the device configured.
func (d *Driver) SetConfigured(on bool) { d.configured = on }

// Configured reports whether SET_CONFIGURATION was received since the last
// bus reset.
func (d *Driver) Configured() bool { return d.configured }

// DeviceStatus returns the GET_STATUS bits.
func (d *Driver) DeviceStatus() uint16 { return d.status }
