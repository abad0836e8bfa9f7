//go:build tinygo && stm32f103

package stm32f1

// Board describes the pins that differ between STM32F103 boards.
type Board struct {
	Name string

	LED          Pin
	LEDActiveLow bool

	// Disc drives the external D+ pull-up. Boards with a fixed pull-up
	// leave it nil.
	Disc *Pin
}

// BootPin is BOOT1, shared by every F103 board.
var BootPin = Pin{Port: PortB, Num: 2}

// USBDataPlus is PA12.
var USBDataPlus = Pin{Port: PortA, Num: 12}

var (
	// GenericPC13 covers the blue pill and similar boards.
	GenericPC13 = Board{
		Name:         "generic-pc13",
		LED:          Pin{Port: PortC, Num: 13},
		LEDActiveLow: true,
	}

	// MapleMini has an active-high LED on PB1 and a D+ pull-up switched
	// by PB9.
	MapleMini = Board{
		Name: "maple-mini",
		LED:  Pin{Port: PortB, Num: 1},
		Disc: &Pin{Port: PortB, Num: 9},
	}
)

// Boards lists the known profiles by name.
var Boards = map[string]Board{
	GenericPC13.Name: GenericPC13,
	MapleMini.Name:   MapleMini,
}

func (b *Board) setLED(on bool) {
	if on != b.LEDActiveLow {
		b.LED.high()
	} else {
		b.LED.low()
	}
}

// clockMask returns the APB2 GPIO clocks the board pins use.
func (b *Board) clockMask() uint32 {
	m := b.LED.Port.clockBit()
	if b.Disc != nil {
		m |= b.Disc.Port.clockBit()
	}
	return m
}
