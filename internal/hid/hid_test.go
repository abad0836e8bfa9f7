package hid

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/bigbag/stm32-hid-bootloader/internal/flash"
	"github.com/bigbag/stm32-hid-bootloader/internal/hal/haltest"
	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
	"github.com/bigbag/stm32-hid-bootloader/internal/session"
	"github.com/bigbag/stm32-hid-bootloader/internal/usbd"
)

const flashBase = 0x08000000

// pageRecorder records every commit and forwards it to the real programmer.
type pageRecorder struct {
	addrs []uint32
	pages [][]byte
	next  PageWriter
}

func (r *pageRecorder) WritePage(addr uint32, data []byte) {
	r.addrs = append(r.addrs, addr)
	r.pages = append(r.pages, append([]byte(nil), data...))
	if r.next != nil {
		r.next.WritePage(addr, data)
	}
}

type fixture struct {
	usb     *haltest.USB
	host    *haltest.Host
	flash   *haltest.Flash
	rec     *pageRecorder
	led     *haltest.System
	session *session.Session
	handler *Handler
	enum    *haltest.Enumeration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		usb:     haltest.NewUSB(),
		flash:   haltest.NewFlash(flashBase, 64*protocol.PageSize, protocol.PageSize),
		led:     &haltest.System{},
		session: &session.Session{},
	}
	f.rec = &pageRecorder{next: flash.New(f.flash)}
	d := usbd.New(f.usb)
	f.handler = New(d, f.rec, &f.session.Progress, DefaultConfig(), WithIndicator(f.led))
	d.Initialize(f.handler)
	f.host = haltest.NewHost(f.usb)

	enum, err := f.host.Enumerate(3)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	f.enum = enum
	return f
}

func (f *fixture) write(t *testing.T, report []byte) {
	t.Helper()
	if err := f.host.WriteReport(report); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
}

func (f *fixture) sendPage(t *testing.T, page []byte) {
	t.Helper()
	for off := 0; off < len(page); off += protocol.ReportSize {
		f.write(t, page[off:off+protocol.ReportSize])
	}
}

func (f *fixture) expectAck(t *testing.T) {
	t.Helper()
	ack, err := f.host.ReadReport()
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	if !bytes.Equal(ack, protocol.AckFrame[:]) {
		t.Fatalf("ack = %q, want %q", ack, protocol.AckFrame[:])
	}
}

func (f *fixture) expectNoAck(t *testing.T) {
	t.Helper()
	if _, err := f.host.ReadReport(); errors.Cause(err) != haltest.ErrNAK {
		t.Fatalf("ReadReport: err = %v, want ErrNAK", err)
	}
}

func testPage(seed byte) []byte {
	page := make([]byte, protocol.PageSize)
	for i := range page {
		page[i] = seed + byte(i)
	}
	return page
}

func TestEnumeration_Descriptors(t *testing.T) {
	f := newFixture(t)

	if !bytes.Equal(f.enum.Device, deviceDescriptor[:]) {
		t.Errorf("device descriptor = % X", f.enum.Device)
	}
	if f.enum.Device[8] != 0x09 || f.enum.Device[9] != 0x12 || f.enum.Device[10] != 0xBA || f.enum.Device[11] != 0xBE {
		t.Errorf("VID/PID bytes = % X, want 09 12 BA BE", f.enum.Device[8:12])
	}
	if len(f.enum.Configuration) != 34 {
		t.Errorf("configuration length = %d, want 34", len(f.enum.Configuration))
	}
	if !bytes.Equal(f.enum.Report, reportDescriptor[:]) {
		t.Errorf("report descriptor = % X", f.enum.Report)
	}
	if f.enum.Manufacturer != Manufacturer || f.enum.Product != Product {
		t.Errorf("strings = %q / %q", f.enum.Manufacturer, f.enum.Product)
	}
	if f.usb.DADDR()&0x7F != 3 {
		t.Errorf("device address = %d, want 3", f.usb.DADDR()&0x7F)
	}
}

func TestGetDescriptor_Truncation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		typ     uint8
		index   uint8
		length  uint16
		wantLen int
	}{
		{"device full", 0x01, 0, 255, 18},
		{"device short", 0x01, 0, 8, 8},
		{"config header", 0x02, 0, 9, 9},
		{"config full", 0x02, 0, 255, 34},
		{"hid class", 0x21, 0, 255, 9},
		{"report", 0x22, 0, 32, 32},
		{"report long request", 0x22, 0, 0x60, 32},
		{"config two packets", 0x02, 0, 16, 16},
		{"langid", 0x03, 0, 255, 4},
		{"product", 0x03, 2, 255, 2 + 2*len(Product)},
		{"product short", 0x03, 2, 2, 2},
		{"unknown string", 0x03, 9, 255, 0},
		{"unknown type", 0x07, 0, 255, 0},
	}

	for _, tc := range tests {
		got, err := f.host.GetDescriptor(tc.typ, tc.index, tc.length)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if len(got) != tc.wantLen {
			t.Errorf("%s: length = %d, want %d", tc.name, len(got), tc.wantLen)
		}
	}
}

func TestStandardRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		setup haltest.Setup
		want  []byte
	}{
		{"get status", haltest.Setup{RequestType: 0x80, Request: haltest.ReqGetStatus, Length: 2}, []byte{0, 0}},
		{"get configuration", haltest.Setup{RequestType: 0x80, Request: haltest.ReqGetConfiguration, Length: 1}, []byte{1}},
		{"get interface", haltest.Setup{RequestType: 0x81, Request: haltest.ReqGetInterface, Length: 1}, []byte{0}},
	}

	for _, tc := range tests {
		got, err := f.host.ControlIn(tc.setup)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("%s: got % X, want % X", tc.name, got, tc.want)
		}
	}
}

func TestUnsupportedRequests_Stall(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		setup haltest.Setup
	}{
		{"standard set feature", haltest.Setup{RequestType: 0x00, Request: 0x03, Value: 1}},
		{"class get report", haltest.Setup{RequestType: 0xA1, Request: 0x01, Value: 0x0100, Length: 8}},
		{"vendor", haltest.Setup{RequestType: 0x40, Request: 0x01}},
	}

	for _, tc := range tests {
		var err error
		if tc.setup.RequestType&0x80 != 0 {
			_, err = f.host.ControlIn(tc.setup)
		} else {
			err = f.host.ControlOut(tc.setup, nil)
		}
		if errors.Cause(err) != haltest.ErrStall {
			t.Errorf("%s: err = %v, want ErrStall", tc.name, err)
		}
	}

	// The control pipe recovers on the next SETUP.
	if _, err := f.host.GetDescriptor(0x01, 0, 18); err != nil {
		t.Errorf("request after stall: %v", err)
	}
}

func TestUpload_ContiguousPagesAndAcks(t *testing.T) {
	f := newFixture(t)

	f.write(t, protocol.CommandFrame(protocol.OpResetPages))
	if !f.session.Progress.Started() {
		t.Fatal("reset-pages did not mark the upload started")
	}
	f.expectNoAck(t)

	const n = 3
	for i := 0; i < n; i++ {
		f.sendPage(t, testPage(byte(i*16)))
		f.expectAck(t)
		f.expectNoAck(t)
	}

	if len(f.rec.addrs) != n {
		t.Fatalf("WritePage calls = %d, want %d", len(f.rec.addrs), n)
	}
	for i, addr := range f.rec.addrs {
		want := uint32(flashBase + (4+i)*protocol.PageSize)
		if addr != want {
			t.Errorf("page %d written at 0x%08X, want 0x%08X", i, addr, want)
		}
		if got := f.flash.Page(addr); !bytes.Equal(got, testPage(byte(i*16))) {
			t.Errorf("page %d flash content mismatch", i)
		}
	}
	if f.handler.PageIndex() != 4+n {
		t.Errorf("PageIndex = %d, want %d", f.handler.PageIndex(), 4+n)
	}
	if f.led.LED {
		t.Error("LED left on after commit")
	}
	if f.led.LEDToggles != 2*n {
		t.Errorf("LED toggles = %d, want %d", f.led.LEDToggles, 2*n)
	}

	f.write(t, protocol.CommandFrame(protocol.OpReboot))
	if !f.session.Progress.Finished() {
		t.Error("reboot did not mark the upload finished")
	}
	if len(f.rec.addrs) != n {
		t.Errorf("reboot caused a flash write")
	}
}

func TestCommandClassification(t *testing.T) {
	f := newFixture(t)
	f.write(t, protocol.CommandFrame(protocol.OpResetPages))

	// Identical leading 8 bytes but one non-zero trailing byte: data.
	lookalike := protocol.CommandFrame(protocol.OpResetPages)
	lookalike[63] = 0x01
	page := testPage(0x40)
	copy(page, lookalike)

	f.sendPage(t, page)
	f.expectAck(t)

	if len(f.rec.pages) != 1 {
		t.Fatalf("WritePage calls = %d, want 1", len(f.rec.pages))
	}
	if !bytes.Equal(f.rec.pages[0][:protocol.CommandSize], lookalike) {
		t.Error("look-alike frame not written to flash as data")
	}
}

func TestCommandOnlyAtFrameBoundary(t *testing.T) {
	f := newFixture(t)
	f.write(t, protocol.CommandFrame(protocol.OpResetPages))
	f.session.Progress.Reset()

	f.write(t, testPage(1)[:protocol.ReportSize])
	f.write(t, protocol.CommandFrame(protocol.OpReboot))

	if f.session.Progress.Finished() {
		t.Error("command frame mid-page was dispatched")
	}
	if f.handler.Offset() != 2*protocol.ReportSize {
		t.Errorf("Offset = %d, want %d", f.handler.Offset(), 2*protocol.ReportSize)
	}
}

func TestResetPages_RewindsCursor(t *testing.T) {
	f := newFixture(t)
	f.write(t, protocol.CommandFrame(protocol.OpResetPages))
	f.sendPage(t, testPage(0))
	f.expectAck(t)

	f.write(t, protocol.CommandFrame(protocol.OpResetPages))
	f.sendPage(t, testPage(9))
	f.expectAck(t)

	if len(f.rec.addrs) != 2 || f.rec.addrs[0] != f.rec.addrs[1] {
		t.Errorf("addresses = %08X, want the same page twice", f.rec.addrs)
	}
}

func TestBusReset_ClearsPageState(t *testing.T) {
	f := newFixture(t)
	f.write(t, protocol.CommandFrame(protocol.OpResetPages))
	f.sendPage(t, testPage(0))
	f.expectAck(t)
	for i := 0; i < 3; i++ {
		f.write(t, make([]byte, protocol.ReportSize))
	}
	if f.handler.Offset() != 3*protocol.ReportSize {
		t.Fatalf("Offset = %d, want %d", f.handler.Offset(), 3*protocol.ReportSize)
	}

	if _, err := f.host.Enumerate(4); err != nil {
		t.Fatalf("re-enumerate: %v", err)
	}

	if f.handler.Offset() != 0 || f.handler.PageIndex() != DefaultConfig().FirstPage {
		t.Errorf("after bus reset: offset=%d page=%d", f.handler.Offset(), f.handler.PageIndex())
	}
}

func TestAck_NotSentBeforeConfiguration(t *testing.T) {
	u := haltest.NewUSB()
	d := usbd.New(u)
	var s session.Session
	rec := &pageRecorder{}
	h := New(d, rec, &s.Progress, DefaultConfig())
	d.Initialize(h)
	host := haltest.NewHost(u)
	host.BusReset()

	h.receive(protocol.CommandFrame(protocol.OpResetPages))
	page := testPage(0)
	for off := 0; off < len(page); off += protocol.PacketSize {
		h.receive(page[off : off+protocol.PacketSize])
	}

	if len(rec.addrs) != 1 {
		t.Fatalf("WritePage calls = %d, want 1", len(rec.addrs))
	}
	if u.TxStatus(1) != 0x20 {
		t.Errorf("EP1 armed while unconfigured: STAT_TX = 0x%02X", u.TxStatus(1))
	}
}
