//go:build tinygo && stm32f103

package stm32f1

// Port is a GPIO port.
type Port uint8

const (
	PortA Port = iota
	PortB
	PortC
)

func (p Port) base() uintptr {
	switch p {
	case PortA:
		return gpioABase
	case PortB:
		return gpioBBase
	default:
		return gpioCBase
	}
}

func (p Port) clockBit() uint32 {
	switch p {
	case PortA:
		return rccAPB2ENR_IOPAEN
	case PortB:
		return rccAPB2ENR_IOPBEN
	default:
		return rccAPB2ENR_IOPCEN
	}
}

// Pin is one GPIO line.
type Pin struct {
	Port Port
	Num  uint8
}

// Pin configuration nibbles (CNF[1:0] MODE[1:0])
const (
	modeInputFloating   = 0x4
	modeOutputPushPull  = 0x3
	modeOutputOpenDrain = 0x7
)

func (p Pin) configure(mode uint32) {
	rcc(offsetRCC_APB2ENR).SetBits(p.Port.clockBit())

	offset := uintptr(offsetGPIO_CRL)
	n := p.Num
	if n >= 8 {
		offset = offsetGPIO_CRH
		n -= 8
	}
	shift := uint32(n) * 4
	r := reg32(p.Port.base() + offset)
	r.Set(r.Get()&^(0xF<<shift) | mode<<shift)
}

func (p Pin) high() { reg32(p.Port.base() + offsetGPIO_BSRR).Set(1 << p.Num) }
func (p Pin) low()  { reg32(p.Port.base() + offsetGPIO_BRR).Set(1 << p.Num) }

func (p Pin) get() bool {
	return reg32(p.Port.base()+offsetGPIO_IDR).Get()&(1<<p.Num) != 0
}
