package protocol

// Command opcodes. The opcode byte follows the 7-byte signature.
const (
	OpResetPages = 0x00 // host -> device: rewind the upload cursor
	OpReboot     = 0x01 // host -> device: upload finished, reset the MCU
	OpNextPage   = 0x02 // device -> host: page committed, send the next one
)

// Frame and transfer sizes
const (
	PacketSize  = 8    // max packet size of EP0 and EP1
	CommandSize = 64   // a command is recognised only at exactly this fill level
	ReportSize  = 64   // HID output report carried by one SET_REPORT
	PageSize    = 1024 // flash page committed per ack
	AckSize     = 8    // signature + opcode
)

// OpName returns human-readable name for an opcode
func OpName(op byte) string {
	switch op {
	case OpResetPages:
		return "reset pages"
	case OpReboot:
		return "reboot mcu"
	case OpNextPage:
		return "next page"
	default:
		return "unknown"
	}
}
