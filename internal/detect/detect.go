// Package detect finds and opens HID bootloader devices.
package detect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sstallion/go-hid"

	"github.com/bigbag/stm32-hid-bootloader/internal/flasher"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

// ErrDeviceNotFound is returned when no bootloader answered in time.
var ErrDeviceNotFound = errors.New("no HID bootloader device found")

// Defaults for Open.
const (
	DefaultAttempts = 10
	DefaultInterval = time.Second
)

// Result describes one bootloader device.
type Result struct {
	Path         string
	Serial       string
	Manufacturer string
	Product      string
	Release      uint16

	// Bus and Address are filled in by Describe.
	Bus     int
	Address int
	Speed   string
}

// hidAPI is the subset of go-hid used here.
type hidAPI interface {
	enumerate(vid, pid uint16, fn hid.EnumFunc) error
	open(vid, pid uint16) (flasher.Device, error)
}

type hidapi struct{}

func (hidapi) enumerate(vid, pid uint16, fn hid.EnumFunc) error {
	return hid.Enumerate(vid, pid, fn)
}

func (hidapi) open(vid, pid uint16) (flasher.Device, error) {
	dev, err := hid.Open(vid, pid, "")
	if err != nil {
		return nil, err
	}
	return &Device{dev: dev}, nil
}

// Detector looks for the bootloader on the HID bus.
type Detector struct {
	Attempts int
	Interval time.Duration
	Log      logrus.FieldLogger

	api   hidAPI
	sleep func(time.Duration)
}

// New returns a Detector with the default retry policy.
func New() *Detector {
	return &Detector{
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
		Log:      logrus.StandardLogger(),
		api:      hidapi{},
		sleep:    time.Sleep,
	}
}

// Init initializes the HID library. Call Exit when done.
func Init() error {
	return errors.Wrap(hid.Init(), "init hidapi")
}

// Exit releases the HID library.
func Exit() error {
	return hid.Exit()
}

// List returns every connected bootloader.
func (d *Detector) List() ([]Result, error) {
	var results []Result
	err := d.api.enumerate(protocol.VendorID, protocol.ProductID, func(info *hid.DeviceInfo) error {
		results = append(results, Result{
			Path:         info.Path,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			Release:      info.ReleaseNbr,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "enumerate HID devices")
	}
	return results, nil
}

// Open opens the first bootloader, trying up to Attempts times Interval
// apart. The device may still be re-enumerating after a serial trigger.
func (d *Detector) Open() (flasher.Device, error) {
	var lastErr error
	for attempt := 1; attempt <= d.Attempts; attempt++ {
		dev, err := d.api.open(protocol.VendorID, protocol.ProductID)
		if err == nil {
			d.Log.Debugf("opened %04X:%04X on attempt %d", protocol.VendorID, protocol.ProductID, attempt)
			return dev, nil
		}
		lastErr = err
		d.Log.Debugf("open attempt %d/%d: %v", attempt, d.Attempts, err)
		if attempt < d.Attempts {
			d.sleep(d.Interval)
		}
	}
	return nil, errors.Wrapf(ErrDeviceNotFound, "%04X:%04X after %d attempts: %v",
		protocol.VendorID, protocol.ProductID, d.Attempts, lastErr)
}

// Device adapts a go-hid handle to flasher.Device.
type Device struct {
	dev *hid.Device
}

func (d *Device) Write(p []byte) (int, error) { return d.dev.Write(p) }

// ReadWithTimeout reports a timeout as an empty read.
func (d *Device) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := d.dev.ReadWithTimeout(p, timeout)
	if err == hid.ErrTimeout {
		return 0, nil
	}
	return n, err
}

func (d *Device) Close() error { return d.dev.Close() }

// Describe fills in the USB bus position of each result through libusb.
// See matchUSB for how hidapi results are paired with libusb devices.
func Describe(results []Result) error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(protocol.VendorID) && desc.Product == gousb.ID(protocol.ProductID)
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return errors.Wrap(err, "open USB devices")
	}

	infos := make([]usbDevice, 0, len(devs))
	for _, d := range devs {
		info := usbDevice{
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
			Ports:   d.Desc.Path,
			Speed:   d.Desc.Speed.String(),
		}
		info.Serial, _ = d.SerialNumber()
		info.Manufacturer, _ = d.Manufacturer()
		info.Product, _ = d.Product()
		infos = append(infos, info)
	}
	matchUSB(results, infos)
	return nil
}

// usbDevice is what Describe reads from one libusb device.
type usbDevice struct {
	Bus          int
	Address      int
	Ports        []int
	Speed        string
	Serial       string
	Manufacturer string
	Product      string
}

// hidapiPath is the path the hidapi libusb backend gives the first
// interface of d.
func (d usbDevice) hidapiPath() string {
	ports := make([]string, len(d.Ports))
	for i, p := range d.Ports {
		ports[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%d-%s:", d.Bus, strings.Join(ports, "."))
}

// matchUSB copies the bus position of devs into results. A result pairs
// with the device that has the same non-empty serial number, or whose
// hidapi path prefix matches. A single result and a single device pair
// unless both carry serial numbers that differ. Anything left over keeps
// Bus at zero.
func matchUSB(results []Result, devs []usbDevice) {
	used := make([]bool, len(devs))
	matched := make([]bool, len(results))

	for i := range results {
		r := &results[i]
		for j, d := range devs {
			if used[j] {
				continue
			}
			sameSerial := r.Serial != "" && r.Serial == d.Serial
			samePath := len(d.Ports) > 0 && strings.HasPrefix(r.Path, d.hidapiPath())
			if sameSerial || samePath {
				r.fill(d)
				used[j], matched[i] = true, true
				break
			}
		}
	}

	if len(results) == 1 && len(devs) == 1 && !matched[0] {
		r, d := &results[0], devs[0]
		if r.Serial == "" || d.Serial == "" {
			r.fill(d)
		}
	}
}

func (r *Result) fill(d usbDevice) {
	r.Bus = d.Bus
	r.Address = d.Address
	r.Speed = d.Speed
	if r.Manufacturer == "" {
		r.Manufacturer = d.Manufacturer
	}
	if r.Product == "" {
		r.Product = d.Product
	}
}
