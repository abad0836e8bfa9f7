// Package protocol describes the BTLDCMD framing spoken between the HID
// bootloader and the host update tool. It is imported by both the firmware
// and the host tool, so it avoids fmt and allocation-heavy helpers.
package protocol

// Signature prefixes every command and acknowledgment frame.
var Signature = [7]byte{'B', 'T', 'L', 'D', 'C', 'M', 'D'}

// AckFrame is sent on the interrupt IN endpoint after each committed page.
var AckFrame = [AckSize]byte{'B', 'T', 'L', 'D', 'C', 'M', 'D', OpNextPage}

// CommandFrame returns a full 64-byte command block for op.
func CommandFrame(op byte) []byte {
	frame := make([]byte, CommandSize)
	copy(frame, Signature[:])
	frame[len(Signature)] = op
	return frame
}

// ParseCommand reports whether block is a command frame and returns its
// opcode. A command is exactly CommandSize bytes, starts with Signature and
// has nothing but zeros after the opcode. Anything else is firmware data.
func ParseCommand(block []byte) (byte, bool) {
	if len(block) != CommandSize {
		return 0, false
	}
	var tail byte
	for _, b := range block[len(Signature)+1:] {
		tail |= b
	}
	if tail != 0 {
		return 0, false
	}
	for i, b := range Signature {
		if block[i] != b {
			return 0, false
		}
	}
	return block[len(Signature)], true
}

// IsAck reports whether buf holds a next-page acknowledgment. Some HID
// backends prefix input reports with a report ID byte, so the frame is
// accepted at offset 0 or 1.
func IsAck(buf []byte) bool {
	for _, off := range []int{0, 1} {
		if len(buf) < off+AckSize {
			return false
		}
		if matchAck(buf[off : off+AckSize]) {
			return true
		}
	}
	return false
}

func matchAck(frame []byte) bool {
	for i, b := range AckFrame {
		if frame[i] != b {
			return false
		}
	}
	return true
}

// Pages splits firmware into PageSize chunks. The last chunk is padded with
// zeros.
func Pages(firmware []byte) [][]byte {
	n := CalculatePages(len(firmware))
	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		page := make([]byte, PageSize)
		copy(page, firmware[i*PageSize:])
		pages = append(pages, page)
	}
	return pages
}

// CalculatePages returns the number of pages needed for size bytes.
func CalculatePages(size int) int {
	return (size + PageSize - 1) / PageSize
}
