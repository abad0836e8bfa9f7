package serial

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.bug.st/serial"

	"github.com/bigbag/stm32-hid-bootloader/internal/protocol"
)

type fakePort struct {
	events  []string
	failDTR bool
	closed  bool
}

func (p *fakePort) SetDTR(dtr bool) error {
	if p.failDTR {
		return errors.New("ioctl failed")
	}
	p.events = append(p.events, fmt.Sprintf("dtr=%t", dtr))
	return nil
}

func (p *fakePort) SetRTS(rts bool) error {
	p.events = append(p.events, fmt.Sprintf("rts=%t", rts))
	return nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.events = append(p.events, "write "+string(b))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	p.events = append(p.events, "close")
	return nil
}

func newTestTrigger(port *fakePort, openErr error, settle time.Duration) (*Trigger, *[]string, *test.Hook) {
	logger, hook := test.NewNullLogger()
	t := NewTrigger(0, settle)
	t.Log = logger

	var timeline []string
	t.open = func(name string, mode *serial.Mode) (Port, error) {
		if openErr != nil {
			return nil, openErr
		}
		timeline = append(timeline, fmt.Sprintf("open %s @%d", name, mode.BaudRate))
		return &recordingPort{fakePort: port, timeline: &timeline}, nil
	}
	t.sleep = func(d time.Duration) {
		timeline = append(timeline, "sleep "+d.String())
	}
	return t, &timeline, hook
}

// recordingPort mirrors port events into the shared timeline.
type recordingPort struct {
	*fakePort
	timeline *[]string
}

func (r *recordingPort) record() {
	*r.timeline = append(*r.timeline, r.fakePort.events[len(r.fakePort.events)-1])
}

func (r *recordingPort) SetDTR(dtr bool) error {
	if err := r.fakePort.SetDTR(dtr); err != nil {
		return err
	}
	r.record()
	return nil
}

func (r *recordingPort) SetRTS(rts bool) error {
	r.fakePort.SetRTS(rts)
	r.record()
	return nil
}

func (r *recordingPort) Write(b []byte) (int, error) {
	n, err := r.fakePort.Write(b)
	r.record()
	return n, err
}

func (r *recordingPort) Close() error {
	err := r.fakePort.Close()
	r.record()
	return err
}

func TestEnterBootloader_Sequence(t *testing.T) {
	port := &fakePort{}
	trig, timeline, _ := newTestTrigger(port, nil, 2*time.Second)

	ran, err := trig.EnterBootloader("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("EnterBootloader: %v", err)
	}
	if !ran {
		t.Fatal("sequence did not run")
	}

	want := []string{
		"open /dev/ttyACM0 @115200",
		"rts=false",
		"dtr=true", "sleep 200ms",
		"dtr=false", "sleep 200ms",
		"dtr=true", "sleep 200ms",
		"dtr=false", "sleep 200ms",
		"write " + protocol.TriggerMagic, "sleep 200ms",
		"close",
		"sleep 2s",
	}
	if len(*timeline) != len(want) {
		t.Fatalf("timeline = %q, want %q", *timeline, want)
	}
	for i := range want {
		if (*timeline)[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, (*timeline)[i], want[i])
		}
	}
}

func TestEnterBootloader_NoSettle(t *testing.T) {
	port := &fakePort{}
	trig, timeline, _ := newTestTrigger(port, nil, 0)

	if _, err := trig.EnterBootloader("COM3"); err != nil {
		t.Fatalf("EnterBootloader: %v", err)
	}
	if last := (*timeline)[len(*timeline)-1]; last != "close" {
		t.Errorf("last step = %q, want close", last)
	}
}

func TestEnterBootloader_OpenFailureIsSkipped(t *testing.T) {
	trig, timeline, hook := newTestTrigger(&fakePort{}, errors.New("no such file"), time.Second)

	ran, err := trig.EnterBootloader("/dev/missing")
	if err != nil {
		t.Fatalf("EnterBootloader: %v", err)
	}
	if ran {
		t.Error("sequence reported as run")
	}
	if len(*timeline) != 0 {
		t.Errorf("timeline = %q, want empty", *timeline)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Errorf("last log entry = %+v, want a warning", entry)
	}
}

func TestEnterBootloader_ToggleFailureClosesPort(t *testing.T) {
	port := &fakePort{failDTR: true}
	trig, _, _ := newTestTrigger(port, nil, 0)

	if _, err := trig.EnterBootloader("/dev/ttyUSB0"); err == nil {
		t.Fatal("expected an error")
	}
	if !port.closed {
		t.Error("port left open")
	}
}

func TestNewTrigger_DefaultBaud(t *testing.T) {
	if got := NewTrigger(0, 0).BaudRate; got != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", got, DefaultBaudRate)
	}
	if got := NewTrigger(9600, 0).BaudRate; got != 9600 {
		t.Errorf("BaudRate = %d, want 9600", got)
	}
}
