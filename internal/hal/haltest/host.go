package haltest

import (
	"unicode/utf16"

	"github.com/pkg/errors"

	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
)

var (
	// ErrNAK is returned when the addressed endpoint is not ready.
	ErrNAK = errors.New("haltest: endpoint answered NAK")
	// ErrStall is returned when the addressed endpoint is stalled.
	ErrStall = errors.New("haltest: endpoint stalled")
	// ErrNoResponse is returned when no function answers the token.
	ErrNoResponse = errors.New("haltest: no response from device")
	// ErrBabble is returned when an OUT packet exceeds the RX buffer.
	ErrBabble = errors.New("haltest: packet larger than endpoint buffer")
)

// Standard and HID class request codes used by Host.
const (
	ReqGetStatus        = 0x00
	ReqSetAddress       = 0x05
	ReqGetDescriptor    = 0x06
	ReqGetConfiguration = 0x08
	ReqSetConfiguration = 0x09
	ReqGetInterface     = 0x0A

	ReqSetReport = 0x09
	ReqSetIdle   = 0x0A
)

// Setup is an 8-byte control request.
type Setup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Bytes encodes the request in wire order.
func (s Setup) Bytes() []byte {
	return []byte{
		s.RequestType, s.Request,
		byte(s.Value), byte(s.Value >> 8),
		byte(s.Index), byte(s.Index >> 8),
		byte(s.Length), byte(s.Length >> 8),
	}
}

// Host plays the USB host against a fake peripheral. Every token it issues
// updates the endpoint registers the way the SIE would and then delivers the
// interrupt synchronously.
type Host struct {
	USB *USB

	// Address is the function address tokens are sent to.
	Address uint8
	// MaxPacket0 is the control endpoint packet size learned during
	// enumeration.
	MaxPacket0 int
}

// NewHost attaches a host to u.
func NewHost(u *USB) *Host {
	return &Host{USB: u, MaxPacket0: 8}
}

// BusReset signals a USB reset. The peripheral clears its endpoint
// registers and device address, as the macrocell does.
func (h *Host) BusReset() {
	h.Address = 0
	u := h.USB
	for i := range u.epr {
		u.epr[i] = 0
	}
	u.daddr = 0
	u.Raise(hal.USB_ISTR_RESET)
}

// Suspend signals bus idle.
func (h *Host) Suspend() { h.USB.Raise(hal.USB_ISTR_SUSP) }

// Wakeup signals resume.
func (h *Host) Wakeup() { h.USB.Raise(hal.USB_ISTR_WKUP) }

func (h *Host) endpoint(ep uint8) (uint8, error) {
	u := h.USB
	if u.cntr&(hal.USB_CNTR_FRES|hal.USB_CNTR_PDWN) != 0 || u.DataLineLow || !u.ClockEnabled {
		return 0, ErrNoResponse
	}
	if u.daddr&hal.USB_DADDR_EF == 0 || uint8(u.daddr&hal.USB_DADDR_ADD) != h.Address {
		return 0, ErrNoResponse
	}
	for n := uint8(0); n < numEndpoints; n++ {
		if uint8(u.epr[n]&hal.USB_EP_EA) == ep {
			return n, nil
		}
	}
	return 0, ErrNoResponse
}

// Setup sends a SETUP transaction to endpoint 0. The peripheral accepts a
// SETUP regardless of STAT_RX and NAKs both directions until software
// re-arms them.
func (h *Host) Setup(s Setup) error {
	n, err := h.endpoint(0)
	if err != nil {
		return err
	}
	u := h.USB
	if u.epr[n]&hal.USB_EP_TYPE != hal.USB_EP_CONTROL {
		return ErrNoResponse
	}
	if u.rxCapacity(n) < 8 {
		return ErrBabble
	}
	u.storeRx(n, s.Bytes())
	u.epr[n] |= hal.USB_EP_CTR_RX | hal.USB_EP_SETUP
	u.setStat(n, hal.USB_EP_STAT_RX, hal.USB_EP_RX_NAK)
	u.setStat(n, hal.USB_EP_STAT_TX, hal.USB_EP_TX_NAK)
	u.deliver()
	return nil
}

// Out sends one OUT data packet to endpoint ep.
func (h *Host) Out(ep uint8, data []byte) error {
	n, err := h.endpoint(ep)
	if err != nil {
		return err
	}
	u := h.USB
	switch u.RxStatus(n) {
	case hal.USB_EP_RX_STALL:
		return ErrStall
	case hal.USB_EP_RX_VALID:
	default:
		return ErrNAK
	}
	if len(data) > u.rxCapacity(n) {
		return ErrBabble
	}
	u.storeRx(n, data)
	u.epr[n] = u.epr[n]&^hal.USB_EP_SETUP | hal.USB_EP_CTR_RX
	u.setStat(n, hal.USB_EP_STAT_RX, hal.USB_EP_RX_NAK)
	u.deliver()
	return nil
}

// In sends an IN token to endpoint ep and returns the packet the device had
// armed.
func (h *Host) In(ep uint8) ([]byte, error) {
	n, err := h.endpoint(ep)
	if err != nil {
		return nil, err
	}
	u := h.USB
	switch u.TxStatus(n) {
	case hal.USB_EP_TX_STALL:
		return nil, ErrStall
	case hal.USB_EP_TX_VALID:
	default:
		return nil, ErrNAK
	}
	data := u.loadTx(n)
	u.epr[n] |= hal.USB_EP_CTR_TX
	u.setStat(n, hal.USB_EP_STAT_TX, hal.USB_EP_TX_NAK)
	u.deliver()
	return data, nil
}

// ControlIn runs a control read: SETUP, IN data packets until a short
// packet or wLength bytes, then a zero-length OUT status.
func (h *Host) ControlIn(s Setup) ([]byte, error) {
	if err := h.Setup(s); err != nil {
		return nil, err
	}
	var data []byte
	for len(data) < int(s.Length) {
		pkt, err := h.In(0)
		if err != nil {
			return data, errors.Wrapf(err, "control read 0x%02X data stage", s.Request)
		}
		data = append(data, pkt...)
		if len(pkt) < h.MaxPacket0 {
			break
		}
	}
	if err := h.Out(0, nil); err != nil {
		return data, errors.Wrapf(err, "control read 0x%02X status stage", s.Request)
	}
	return data, nil
}

// ControlOut runs a control write: SETUP, OUT data packets, then a
// zero-length IN status.
func (h *Host) ControlOut(s Setup, data []byte) error {
	if err := h.Setup(s); err != nil {
		return err
	}
	for off := 0; off < len(data); off += h.MaxPacket0 {
		end := off + h.MaxPacket0
		if end > len(data) {
			end = len(data)
		}
		if err := h.Out(0, data[off:end]); err != nil {
			return errors.Wrapf(err, "control write 0x%02X data stage at %d", s.Request, off)
		}
	}
	status, err := h.In(0)
	if err != nil {
		return errors.Wrapf(err, "control write 0x%02X status stage", s.Request)
	}
	if len(status) != 0 {
		return errors.Errorf("control write 0x%02X: status stage carried %d bytes", s.Request, len(status))
	}
	return nil
}

// GetDescriptor reads descriptor typ/index, asking for at most length bytes.
func (h *Host) GetDescriptor(typ, index uint8, length uint16) ([]byte, error) {
	rt := uint8(0x80)
	if typ == 0x22 {
		rt = 0x81
	}
	return h.ControlIn(Setup{
		RequestType: rt,
		Request:     ReqGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Length:      length,
	})
}

// Enumeration is what the host learned about the device.
type Enumeration struct {
	Device        []byte
	Configuration []byte
	Report        []byte
	Manufacturer  string
	Product       string
}

// Enumerate resets the bus and walks the device through the same steps a
// desktop host takes: descriptor reads, SET_ADDRESS, SET_CONFIGURATION,
// SET_IDLE and the report descriptor read.
func (h *Host) Enumerate(addr uint8) (*Enumeration, error) {
	h.BusReset()

	if _, err := h.GetDescriptor(0x01, 0, 64); err != nil {
		return nil, errors.Wrap(err, "initial device descriptor")
	}
	if err := h.ControlOut(Setup{Request: ReqSetAddress, Value: uint16(addr)}, nil); err != nil {
		return nil, errors.Wrap(err, "set address")
	}
	h.Address = addr

	e := &Enumeration{}
	var err error
	if e.Device, err = h.GetDescriptor(0x01, 0, 18); err != nil {
		return nil, errors.Wrap(err, "device descriptor")
	}
	if len(e.Device) >= 8 {
		h.MaxPacket0 = int(e.Device[7])
	}
	head, err := h.GetDescriptor(0x02, 0, 9)
	if err != nil {
		return nil, errors.Wrap(err, "configuration header")
	}
	total := uint16(9)
	if len(head) >= 4 {
		total = uint16(head[2]) | uint16(head[3])<<8
	}
	if e.Configuration, err = h.GetDescriptor(0x02, 0, total); err != nil {
		return nil, errors.Wrap(err, "configuration descriptor")
	}
	if e.Manufacturer, err = h.stringDescriptor(1); err != nil {
		return nil, errors.Wrap(err, "manufacturer string")
	}
	if e.Product, err = h.stringDescriptor(2); err != nil {
		return nil, errors.Wrap(err, "product string")
	}
	if err := h.ControlOut(Setup{Request: ReqSetConfiguration, Value: 1}, nil); err != nil {
		return nil, errors.Wrap(err, "set configuration")
	}
	if err := h.ControlOut(Setup{RequestType: 0x21, Request: ReqSetIdle}, nil); err != nil {
		return nil, errors.Wrap(err, "set idle")
	}
	reportLen := uint16(255)
	if len(e.Configuration) >= 27 {
		reportLen = uint16(e.Configuration[25]) | uint16(e.Configuration[26])<<8
	}
	if e.Report, err = h.GetDescriptor(0x22, 0, reportLen); err != nil {
		return nil, errors.Wrap(err, "report descriptor")
	}
	return e, nil
}

func (h *Host) stringDescriptor(index uint8) (string, error) {
	raw, err := h.GetDescriptor(0x03, index, 255)
	if err != nil {
		return "", err
	}
	if len(raw) < 2 {
		return "", nil
	}
	units := make([]uint16, 0, (len(raw)-2)/2)
	for i := 2; i+1 < len(raw); i += 2 {
		units = append(units, uint16(raw[i])|uint16(raw[i+1])<<8)
	}
	return string(utf16.Decode(units)), nil
}

// WriteReport sends an output report through SET_REPORT on the control
// endpoint.
func (h *Host) WriteReport(report []byte) error {
	return h.ControlOut(Setup{
		RequestType: 0x21,
		Request:     ReqSetReport,
		Value:       0x0200,
		Length:      uint16(len(report)),
	}, report)
}

// ReadReport polls the interrupt IN endpoint once.
func (h *Host) ReadReport() ([]byte, error) {
	return h.In(1)
}
