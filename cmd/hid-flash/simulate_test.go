package main

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"

	"github.com/bigbag/stm32-hid-bootloader/internal/flasher"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

func image(pages int, sp, pc uint32) []byte {
	fw := make([]byte, pages*protocol.PageSize)
	binary.LittleEndian.PutUint32(fw, sp)
	binary.LittleEndian.PutUint32(fw[4:], pc)
	return fw
}

func TestSimulator_UploadAndBoot(t *testing.T) {
	s := newSimulator(flasher.DefaultRetries)

	if err := s.run(image(2, 0x20005000, 0x08001101)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(s.mem.Erases) != 2 {
		t.Errorf("page writes = %d, want 2", len(s.mem.Erases))
	}
	if !s.sys.Jumped || s.sys.JumpPC != 0x08001101 {
		t.Errorf("jumped = %t to 0x%08X, want 0x08001101", s.sys.Jumped, s.sys.JumpPC)
	}
}

func TestSimulator_FailedUploadResetsDevice(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		setup   func(s *simulator)
		wantErr error
	}{
		{"short write", 2, func(s *simulator) { s.dev.ShortWrite = true }, flasher.ErrPartialWrite},
		{"writes exhausted", 2, func(s *simulator) { s.dev.FailWrites = 3 }, flasher.ErrWriteRetries},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newSimulator(tc.retries)
			tc.setup(s)

			err := s.run(image(1, 0x20005000, 0x08001101))
			if errors.Cause(err) != tc.wantErr {
				t.Fatalf("run() = %v, want %v", err, tc.wantErr)
			}
			if s.sys.ResetCount != 1 {
				t.Errorf("resets = %d, want 1", s.sys.ResetCount)
			}
			if len(s.mem.Erases) != 0 {
				t.Errorf("page writes = %d, want 0", len(s.mem.Erases))
			}
			if s.sys.Jumped {
				t.Error("device jumped after a failed upload")
			}
		})
	}
}

func TestSimulator_RejectsOversizedImage(t *testing.T) {
	s := newSimulator(flasher.DefaultRetries)
	if err := s.run(make([]byte, simulatedFlashSize)); err == nil {
		t.Fatal("run accepted an image larger than the application area")
	}
	if s.sys.ResetCount != 0 {
		t.Errorf("resets = %d, want 0", s.sys.ResetCount)
	}
}
