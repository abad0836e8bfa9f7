package protocol

import (
	"bytes"
	"testing"
)

func TestCommandFrame_Layout(t *testing.T) {
	frame := CommandFrame(OpReboot)

	if len(frame) != CommandSize {
		t.Fatalf("CommandFrame length = %d, want %d", len(frame), CommandSize)
	}
	if !bytes.Equal(frame[:7], []byte("BTLDCMD")) {
		t.Errorf("CommandFrame signature = %q, want %q", frame[:7], "BTLDCMD")
	}
	if frame[7] != OpReboot {
		t.Errorf("CommandFrame opcode = 0x%02X, want 0x%02X", frame[7], OpReboot)
	}
	for i, b := range frame[8:] {
		if b != 0 {
			t.Fatalf("CommandFrame[%d] = 0x%02X, want 0", i+8, b)
		}
	}
}

func TestParseCommand_ValidFrames(t *testing.T) {
	for _, op := range []byte{OpResetPages, OpReboot, 0x7F} {
		got, ok := ParseCommand(CommandFrame(op))
		if !ok {
			t.Errorf("ParseCommand(CommandFrame(0x%02X)) not recognised", op)
			continue
		}
		if got != op {
			t.Errorf("ParseCommand opcode = 0x%02X, want 0x%02X", got, op)
		}
	}
}

func TestParseCommand_NonZeroTailIsData(t *testing.T) {
	for i := 8; i < CommandSize; i++ {
		frame := CommandFrame(OpResetPages)
		frame[i] = 0x01
		if _, ok := ParseCommand(frame); ok {
			t.Errorf("frame with non-zero byte at %d classified as command", i)
		}
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
	}{
		{"empty", nil},
		{"short", CommandFrame(OpReboot)[:CommandSize-1]},
		{"long", append(CommandFrame(OpReboot), 0)},
		{"wrong signature", append([]byte("BTLDCMX"), make([]byte, CommandSize-7)...)},
		{"all zeros", make([]byte, CommandSize)},
	}

	for _, tc := range tests {
		if _, ok := ParseCommand(tc.block); ok {
			t.Errorf("%s: classified as command", tc.name)
		}
	}
}

func TestIsAck(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"plain", AckFrame[:], true},
		{"with trailing byte", append(AckFrame[:], 0), true},
		{"report id prefix", append([]byte{0}, AckFrame[:]...), true},
		{"wrong opcode", []byte("BTLDCMD\x01"), false},
		{"short", AckFrame[:7], false},
		{"empty", nil, false},
	}

	for _, tc := range tests {
		if got := IsAck(tc.buf); got != tc.want {
			t.Errorf("%s: IsAck = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPages_Padding(t *testing.T) {
	firmware := make([]byte, PageSize+10)
	for i := range firmware {
		firmware[i] = 0xAA
	}

	pages := Pages(firmware)
	if len(pages) != 2 {
		t.Fatalf("Pages count = %d, want 2", len(pages))
	}
	for i, p := range pages {
		if len(p) != PageSize {
			t.Errorf("page %d length = %d, want %d", i, len(p), PageSize)
		}
	}
	if pages[1][9] != 0xAA || pages[1][10] != 0x00 || pages[1][PageSize-1] != 0x00 {
		t.Errorf("last page not zero padded: % X", pages[1][8:12])
	}
}

func TestCalculatePages(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{2048, 2},
	}

	for _, tc := range tests {
		if got := CalculatePages(tc.size); got != tc.want {
			t.Errorf("CalculatePages(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestOpName(t *testing.T) {
	tests := []struct {
		op   byte
		want string
	}{
		{OpResetPages, "reset pages"},
		{OpReboot, "reboot mcu"},
		{OpNextPage, "next page"},
		{0xFF, "unknown"},
	}

	for _, tc := range tests {
		if got := OpName(tc.op); got != tc.want {
			t.Errorf("OpName(0x%02X) = %q, want %q", tc.op, got, tc.want)
		}
	}
}
