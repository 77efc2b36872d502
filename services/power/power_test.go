package power

import (
	"errors"
	"testing"
	"time"

	"timelock-go/bus"
	"timelock-go/types"
)

type fakeGauge struct {
	pct int
	mv  int32
	err error
}

func (g *fakeGauge) StateOfCharge() (int, error) { return g.pct, g.err }
func (g *fakeGauge) CellVoltage() (int32, error) { return g.mv, g.err }

func recvBattery(t *testing.T, sub *bus.Subscription) types.BatteryState {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		v, ok := msg.Payload.(types.BatteryState)
		if !ok {
			t.Fatalf("payload %T", msg.Payload)
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("no battery message")
		return types.BatteryState{}
	}
}

func expectSilence(t *testing.T, sub *bus.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected message: %+v", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestService(g *fakeGauge) (*Service, *bus.Connection, *bus.Subscription) {
	b := bus.NewBus(16)
	conn := b.NewConnection("power")
	watcher := b.NewConnection("watcher")
	sub := watcher.Subscribe(topicBattery)
	s := &Service{
		Gauge:     g,
		sample:    defaultSample,
		lowBelow:  defaultLowBelow,
		recoverAt: defaultRecoverAt,
	}
	return s, conn, sub
}

func TestPoll_PublishesReading(t *testing.T) {
	g := &fakeGauge{pct: 80, mv: 3900}
	s, conn, sub := newTestService(g)

	s.poll(conn)
	got := recvBattery(t, sub)
	if got.Percent != 80 || got.Millivolts != 3900 || got.Low {
		t.Fatalf("got %+v", got)
	}
}

func TestPoll_Hysteresis(t *testing.T) {
	g := &fakeGauge{pct: 50, mv: 3800}
	s, conn, sub := newTestService(g)

	s.poll(conn)
	if got := recvBattery(t, sub); got.Low {
		t.Fatal("low at 50%")
	}

	g.pct = 9
	s.poll(conn)
	if got := recvBattery(t, sub); !got.Low {
		t.Fatal("not low at 9%")
	}

	// Recovery threshold not reached: still low.
	g.pct = 12
	s.poll(conn)
	if got := recvBattery(t, sub); !got.Low {
		t.Fatal("recovered below the recovery threshold")
	}

	g.pct = 15
	s.poll(conn)
	if got := recvBattery(t, sub); got.Low {
		t.Fatal("did not recover at 15%")
	}
}

func TestPoll_DeduplicatesUnchangedReadings(t *testing.T) {
	g := &fakeGauge{pct: 70, mv: 3850}
	s, conn, sub := newTestService(g)

	s.poll(conn)
	recvBattery(t, sub)
	s.poll(conn)
	expectSilence(t, sub)

	g.pct = 69
	s.poll(conn)
	if got := recvBattery(t, sub); got.Percent != 69 {
		t.Fatalf("got %+v", got)
	}
}

func TestPoll_ReadFailureKeepsLastState(t *testing.T) {
	g := &fakeGauge{pct: 60, mv: 3800}
	s, conn, sub := newTestService(g)

	s.poll(conn)
	recvBattery(t, sub)

	g.err = errors.New("i2c timeout")
	s.poll(conn)
	expectSilence(t, sub)
}

func TestBatteryIsRetainedForLateSubscribers(t *testing.T) {
	g := &fakeGauge{pct: 42, mv: 3700}
	b := bus.NewBus(16)
	conn := b.NewConnection("power")
	s := &Service{Gauge: g, sample: defaultSample, lowBelow: defaultLowBelow, recoverAt: defaultRecoverAt}
	s.poll(conn)

	late := b.NewConnection("late")
	sub := late.Subscribe(topicBattery)
	got := recvBattery(t, sub)
	if got.Percent != 42 {
		t.Fatalf("retained %+v", got)
	}
}
