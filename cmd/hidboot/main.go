//go:build tinygo && stm32f103

// Command hidboot is the resident USB HID bootloader for STM32F103 boards.
//
// Build with TinyGo and link at 0x08000000, for example:
//
//	tinygo build -target bluepill -ldflags "-X main.boardName=maple-mini" -o hidboot.bin ./cmd/hidboot
package main

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/boot"
	"github.com/bigbag/stm32-hid-bootloader/internal/hal/stm32f1"
)

var boardName = stm32f1.GenericPC13.Name

func main() {
	board, ok := stm32f1.Boards[boardName]
	if !ok {
		board = stm32f1.GenericPC13
	}

	hw := boot.Hardware{
		System: &stm32f1.System{Board: board},
		USB:    stm32f1.NewUSB(),
		Flash:  stm32f1.Flash{},
	}
	boot.New(hw, boot.DefaultConfig()).Run()

	for {
	}
}
