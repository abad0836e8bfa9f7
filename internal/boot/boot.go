// Package boot is the state machine that runs once per reset. It decides
// between the resident HID updater and the application already in flash,
// and performs the handoff.
package boot

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/flash"
	"github.com/bigbag/stm32-hid-bootloader/internal/hal"
	"github.com/bigbag/stm32-hid-bootloader/internal/hid"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
	"github.com/bigbag/stm32-hid-bootloader/internal/session"
	"github.com/bigbag/stm32-hid-bootloader/internal/usbd"
)

// State is a boot controller state.
type State int

const (
	Evaluate State = iota
	UpdateMode
	Launch
)

func (s State) String() string {
	switch s {
	case Evaluate:
		return "evaluate"
	case UpdateMode:
		return "update"
	case Launch:
		return "launch"
	default:
		return "unknown"
	}
}

// Config describes the memory map and timing of the target.
type Config struct {
	FlashBase      uint32
	BootloaderSize uint32
	PageSize       uint32

	// SRAMBase and SPMask define a plausible initial stack pointer.
	SRAMBase uint32
	SPMask   uint32

	// Magic is the backup register value that forces update mode.
	Magic uint16

	// Delays in busy-loop iterations.
	SettleDelay    uint32
	ReconnectDelay uint32
	BlinkDelay     uint32
	PollDelay      uint32
}

// DefaultConfig returns the layout of a 4 KiB bootloader on an STM32F103.
func DefaultConfig() Config {
	return Config{
		FlashBase:      0x08000000,
		BootloaderSize: 4096,
		PageSize:       protocol.PageSize,
		SRAMBase:       0x20000000,
		SPMask:         0x2FFE0000,
		Magic:          protocol.MagicWord,
		SettleDelay:    72,
		ReconnectDelay: 4000000,
		BlinkDelay:     200000,
		PollDelay:      400,
	}
}

// UserProgram returns the address of the application vector table.
func (c Config) UserProgram() uint32 { return c.FlashBase + c.BootloaderSize }

// FirstPage returns the first flash page available to the application.
func (c Config) FirstPage() uint32 { return c.BootloaderSize / c.PageSize }

// ValidStackPointer reports whether sp points into SRAM.
func ValidStackPointer(sp uint32, cfg Config) bool {
	return sp&cfg.SPMask == cfg.SRAMBase
}

// Hardware is everything the controller drives.
type Hardware struct {
	System hal.System
	USB    hal.USB
	Flash  hal.Flash
}

// Logger receives trace output. *logrus.Entry satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger traces state transitions to l.
func WithLogger(l Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// Controller owns the session and the USB stack for one boot.
type Controller struct {
	hw  Hardware
	cfg Config
	log Logger

	session session.Session
	usb     *usbd.Driver
	class   *hid.Handler
	state   State
}

// New wires the USB driver, HID class and flash programmer on top of hw.
func New(hw Hardware, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		hw:  hw,
		cfg: cfg,
		log: nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.usb = usbd.New(hw.USB)
	c.class = hid.New(c.usb, flash.New(hw.Flash), &c.session.Progress,
		hid.Config{FlashBase: cfg.FlashBase, FirstPage: cfg.FirstPage()},
		hid.WithIndicator(hw.System))
	return c
}

// State returns the state the controller is in.
func (c *Controller) State() State { return c.state }

// Progress exposes the upload flags.
func (c *Controller) Progress() *session.Progress { return &c.session.Progress }

// Handler returns the HID class instance.
func (c *Controller) Handler() *hid.Handler { return c.class }

// Run executes one boot. On hardware it never returns: update mode ends in
// a system reset and launch ends in the jump. The returned state is the
// terminal one.
func (c *Controller) Run() State {
	c.state = Evaluate
	if c.evaluate() {
		c.state = UpdateMode
		c.log.Debugf("boot: entering %s", c.state)
		c.update()
	} else {
		c.state = Launch
		c.log.Debugf("boot: entering %s", c.state)
		c.launch()
	}
	return c.state
}

func (c *Controller) evaluate() bool {
	sys := c.hw.System

	sys.ConfigureClock()
	sys.InstallRAMVectors()

	magic := c.takeMagic()

	sys.InitPins()
	sys.Delay(c.cfg.SettleDelay)

	c.session.Progress.Reset()

	sp := c.hw.Flash.Read32(c.cfg.UserProgram())
	pin := sys.BootPin()
	valid := ValidStackPointer(sp, c.cfg)
	c.log.Debugf("boot: magic=0x%04X pin=%t sp=0x%08X valid=%t", magic, pin, sp, valid)

	return magic == c.cfg.Magic || pin || !valid
}

// takeMagic reads the magic word and clears it so it applies to one boot
// only.
func (c *Controller) takeMagic() uint16 {
	v := c.hw.System.ReadBackup()
	if v != 0 {
		c.hw.System.WriteBackup(0)
	}
	return v
}

func (c *Controller) update() {
	sys := c.hw.System

	c.usb.Shutdown()
	sys.Delay(c.cfg.ReconnectDelay)
	c.usb.Initialize(c.class)

	for !c.uploadFinished() {
		sys.Delay(c.cfg.PollDelay)
	}
	c.log.Debugf("boot: upload finished at page %d", c.class.PageIndex())

	c.usb.Shutdown()
	sys.Reset()
}

// uploadFinished blinks the LED while no upload has begun.
func (c *Controller) uploadFinished() bool {
	p := &c.session.Progress
	if p.Finished() {
		return true
	}
	if !p.Started() {
		sys := c.hw.System
		sys.SetLED(true)
		sys.Delay(c.cfg.BlinkDelay)
		sys.SetLED(false)
		sys.Delay(c.cfg.BlinkDelay)
	}
	return false
}

func (c *Controller) launch() {
	sys := c.hw.System
	entry := c.cfg.UserProgram()

	sys.DisableClocks()
	sys.SetVectorTable(entry)
	sys.Jump(c.hw.Flash.Read32(entry), c.hw.Flash.Read32(entry+4))
}
