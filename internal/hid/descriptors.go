package hid

import (
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

// Descriptor types
const (
	descDevice        = 0x01
	descConfiguration = 0x02
	descString        = 0x03
	descHID           = 0x21
	descReport        = 0x22
)

// String descriptor contents
const (
	Manufacturer = "www.serasidis.gr"
	Product      = "STM32F HID Bootloader"
)

var deviceDescriptor = [18]byte{
	0x12,                           // bLength
	descDevice,                     // bDescriptorType
	0x10, 0x01,                     // bcdUSB 1.10
	0x00,                           // bDeviceClass (per interface)
	0x00,                           // bDeviceSubClass
	0x00,                           // bDeviceProtocol
	protocol.PacketSize,            // bMaxPacketSize0
	byte(protocol.VendorID & 0xFF), // idVendor
	byte(protocol.VendorID >> 8),
	byte(protocol.ProductID & 0xFF), // idProduct
	byte(protocol.ProductID >> 8),
	0x02, 0x00, // bcdDevice 0.02
	0x01,       // iManufacturer
	0x02,       // iProduct
	0x00,       // iSerialNumber
	0x01,       // bNumConfigurations
}

var configurationDescriptor = [34]byte{
	// Configuration
	0x09, descConfiguration,
	34, 0x00, // wTotalLength
	0x01,     // bNumInterfaces
	0x01,     // bConfigurationValue
	0x00,     // iConfiguration
	0xC0,     // bmAttributes: self powered
	0x32,     // bMaxPower 100 mA

	// Interface
	0x09, 0x04,
	0x00, // bInterfaceNumber
	0x00, // bAlternateSetting
	0x01, // bNumEndpoints
	0x03, // bInterfaceClass HID
	0x00, // bInterfaceSubClass
	0x00, // bInterfaceProtocol
	0x00, // iInterface

	// HID
	0x09, descHID,
	0x11, 0x01,                        // bcdHID 1.11
	0x00,                              // bCountryCode
	0x01,                              // bNumDescriptors
	descReport,                        // bDescriptorType[0]
	byte(len(reportDescriptor)), 0x00, // wDescriptorLength[0]

	// Endpoint 1 IN, interrupt
	0x07, 0x05,
	0x81,
	0x03,
	protocol.PacketSize, 0x00,
	0x05, // bInterval
}

// hidDescriptorOffset locates the HID class descriptor inside the
// configuration descriptor.
const hidDescriptorOffset = 18

var reportDescriptor = [32]byte{
	0x06, 0x00, 0xFF,          // Usage Page (Vendor Defined 0xFF00)
	0x09, 0x01,                // Usage (0x01)
	0xA1, 0x01,                // Collection (Application)
	0x09, 0x02,                //   Usage (0x02)
	0x15, 0x00,                //   Logical Minimum (0)
	0x25, 0xFF,                //   Logical Maximum (255)
	0x75, 0x08,                //   Report Size (8)
	0x95, protocol.AckSize,    //   Report Count (8)
	0x81, 0x02,                //   Input (Data,Var,Abs)
	0x09, 0x03,                //   Usage (0x03)
	0x15, 0x00,                //   Logical Minimum (0)
	0x25, 0xFF,                //   Logical Maximum (255)
	0x75, 0x08,                //   Report Size (8)
	0x95, protocol.ReportSize, //   Report Count (64)
	0x91, 0x02,                //   Output (Data,Var,Abs)
	0xC0,                      // End Collection
}

var (
	langIDDescriptor       = []byte{0x04, descString, 0x09, 0x04}
	manufacturerDescriptor = stringDescriptor(Manufacturer)
	productDescriptor      = stringDescriptor(Product)
)

// stringDescriptor encodes an ASCII string as a USB string descriptor.
func stringDescriptor(s string) []byte {
	b := make([]byte, 2+2*len(s))
	b[0] = byte(len(b))
	b[1] = descString
	for i := 0; i < len(s); i++ {
		b[2+2*i] = s[i]
	}
	return b
}

// descriptor returns the descriptor selected by wValue, or nil.
func descriptor(value uint16) []byte {
	switch typ, index := uint8(value>>8), uint8(value); typ {
	case descDevice:
		return deviceDescriptor[:]
	case descConfiguration:
		return configurationDescriptor[:]
	case descHID:
		return configurationDescriptor[hidDescriptorOffset : hidDescriptorOffset+9]
	case descReport:
		return reportDescriptor[:]
	case descString:
		switch index {
		case 0:
			return langIDDescriptor
		case 1:
			return manufacturerDescriptor
		case 2:
			return productDescriptor
		}
	}
	return nil
}
