package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/stm32-hid-bootloader/internal/boot"
	"github.com/bigbag/stm32-hid-bootloader/internal/flasher"
	"github.com/bigbag/stm32-hid-bootloader/internal/hal/haltest"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

// simulatedFlashSize matches an STM32F103C8.
const simulatedFlashSize = 64 * 1024

func runSimulate(cmd *cobra.Command, args []string) error {
	firmware, err := readFirmware(args[0])
	if err != nil {
		return err
	}
	return newSimulator(retriesFlag).run(firmware)
}

// simulator wires the bootloader core to simulated STM32F103 hardware and a
// virtual USB host.
type simulator struct {
	cfg     boot.Config
	sys     *haltest.System
	usb     *haltest.USB
	mem     *haltest.Flash
	host    *haltest.Host
	dev     *haltest.Device
	retries int
}

func newSimulator(retries int) *simulator {
	cfg := boot.DefaultConfig()
	usb := haltest.NewUSB()
	host := haltest.NewHost(usb)
	return &simulator{
		cfg:     cfg,
		sys:     &haltest.System{},
		usb:     usb,
		mem:     haltest.NewFlash(cfg.FlashBase, simulatedFlashSize, cfg.PageSize),
		host:    host,
		dev:     haltest.NewDevice(host),
		retries: retries,
	}
}

// run boots the device with an erased application area, uploads firmware
// once the USB interrupt is enabled and boots again if the image carries a
// valid stack pointer. A failed upload ends the session so the device
// resets instead of waiting for the host forever.
func (s *simulator) run(firmware []byte) error {
	cfg := s.cfg
	capacity := int(simulatedFlashSize - cfg.BootloaderSize)
	if len(firmware) > capacity {
		return errors.Errorf("firmware is %d bytes, only %d fit above the bootloader", len(firmware), capacity)
	}

	hw := boot.Hardware{System: s.sys, USB: s.usb, Flash: s.mem}
	log := logrus.WithField("component", "device")
	ctrl := boot.New(hw, cfg, boot.WithLogger(log))
	bar := newProgressBar(protocol.CalculatePages(len(firmware)))

	var uploadErr error
	started := false
	s.sys.OnDelay = func(uint32) {
		if started || !s.usb.IRQEnabled {
			return
		}
		started = true
		if uploadErr = s.upload(firmware, bar); uploadErr != nil {
			ctrl.Progress().MarkFinished()
		}
	}

	fmt.Println("> Booting simulated device with an erased application area")
	if state := ctrl.Run(); state != boot.UpdateMode {
		return errors.Errorf("simulated device booted into %s", state)
	}
	if uploadErr != nil {
		return uploadErr
	}

	fmt.Printf("\n> Device reset after %d page write(s):\n", len(s.mem.Erases))
	for _, e := range s.mem.Erases {
		fmt.Printf("  0x%08X - 0x%08X\n", e.Addr, e.Addr+cfg.PageSize-1)
	}

	sp := s.mem.Read32(cfg.UserProgram())
	if !boot.ValidStackPointer(sp, cfg) {
		fmt.Printf("\n> Initial SP 0x%08X is outside SRAM, the device would stay in update mode\n", sp)
		return nil
	}

	s.sys.OnDelay = nil
	state := boot.New(hw, cfg, boot.WithLogger(log)).Run()
	fmt.Printf("\n> Next boot: %s (initial SP 0x%08X)\n", state, sp)
	if s.sys.Jumped {
		fmt.Printf("  jump to 0x%08X with VTOR 0x%08X\n", s.sys.JumpPC, s.sys.VTOR)
	}
	return nil
}

func (s *simulator) upload(firmware []byte, bar *progressbar.ProgressBar) error {
	defer bar.Finish()

	enum, err := s.host.Enumerate(1)
	if err != nil {
		return errors.Wrap(err, "enumerate")
	}
	fmt.Printf("> Enumerated %q by %q\n", enum.Product, enum.Manufacturer)

	f := flasher.New(s.dev,
		flasher.WithRetries(s.retries),
		flasher.WithRetryDelay(0),
		flasher.WithLogger(logrus.WithField("component", "host")),
		flasher.WithProgress(func(current, total int) { bar.Set(current) }),
	)
	return f.Flash(firmware)
}
