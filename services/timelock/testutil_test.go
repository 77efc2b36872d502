package timelock

import (
	"errors"
	"time"

	"timelock-go/store/memstore"
	"timelock-go/types"
	"timelock-go/x/timex"
)

// env wires the managers onto fake collaborators and a deterministic
// clock for tests.
type env struct {
	cur   time.Time
	clock *timex.Clock
	st    *memstore.Store
	log   *EventLog
	lock  *LockManager
	act   *fakeActuator
	disp  *fakeDisplay
	bank  *fakeBank
	rst   *fakeRestarter
	ota   *OTAController
	d     *Dispatcher
}

func newEnv() *env {
	e := &env{cur: time.Unix(50000, 0), st: memstore.New()}
	e.clock = timex.NewClockAt(func() time.Time { return e.cur })
	e.act = &fakeActuator{}
	e.disp = &fakeDisplay{}
	e.bank = newFakeBank(1 << 20)
	e.rst = &fakeRestarter{}
	e.log = NewEventLog(e.clock, e.st)
	e.lock = NewLockManager(e.clock, e.st, e.log, e.act, e.disp)
	e.ota = NewOTAController(e.st, e.bank, e.rst, e.lock.Locked, e.lock.Battery, e.clock.NowMono)
	e.lock.SetBatteryState(80, false)
	e.d = NewDispatcher(e.clock, e.lock, e.ota, e.log, e.disp)
	return e
}

// reboot builds a fresh set of managers over the same store, with a new
// monotonic epoch, as a power cycle would.
func (e *env) reboot() *env {
	n := &env{cur: e.cur, st: e.st}
	n.clock = timex.NewClockAt(func() time.Time { return n.cur })
	n.act = &fakeActuator{}
	n.disp = &fakeDisplay{}
	n.bank = newFakeBank(1 << 20)
	n.rst = &fakeRestarter{}
	n.log = NewEventLog(n.clock, n.st)
	n.lock = NewLockManager(n.clock, n.st, n.log, n.act, n.disp)
	n.ota = NewOTAController(n.st, n.bank, n.rst, n.lock.Locked, n.lock.Battery, n.clock.NowMono)
	n.lock.SetBatteryState(80, false)
	n.d = NewDispatcher(n.clock, n.lock, n.ota, n.log, n.disp)
	n.log.LoadFromStore()
	n.lock.LoadFromStore()
	n.ota.LoadFromStore()
	return n
}

func (e *env) advance(d time.Duration) {
	e.cur = e.cur.Add(d)
}

func (e *env) tick() {
	now := e.clock.NowMono()
	e.lock.Tick(now)
	e.ota.Tick(now)
}

// kinds lists the buffered event kinds in order.
func (e *env) kinds() []types.EventKind {
	var out []types.EventKind
	for _, ev := range e.log.Snapshot().Events {
		for k := types.EvButtonPressDenied; k <= types.EvOfflineFallbackUnlocked; k++ {
			if ev.Type == k.String() {
				out = append(out, k)
			}
		}
	}
	return out
}

func (e *env) countKind(k types.EventKind) int {
	n := 0
	for _, got := range e.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeActuator struct {
	secured      bool
	secureCalls  int
	releaseCalls int
	failSecure   bool
	failRelease  bool
}

func (a *fakeActuator) Secure() error {
	a.secureCalls++
	if a.failSecure {
		return errors.New("jammed")
	}
	a.secured = true
	return nil
}

func (a *fakeActuator) Release() error {
	a.releaseCalls++
	if a.failRelease {
		return errors.New("jammed")
	}
	a.secured = false
	return nil
}

type fakeDisplay struct {
	notices []string
	text    string
	sets    int
}

func (d *fakeDisplay) Notice(msg string) { d.notices = append(d.notices, msg) }
func (d *fakeDisplay) SetText(msg string) {
	d.text = msg
	d.sets++
}

type fakeRestarter struct{ restarts int }

func (r *fakeRestarter) Restart() { r.restarts++ }

type fakeBank struct {
	capacity  int64
	buf       []byte
	open      bool
	sealed    bool
	activated bool
	confirmed bool
	discards  int
	failWrite bool
}

func newFakeBank(capacity int64) *fakeBank { return &fakeBank{capacity: capacity} }

func (b *fakeBank) Capacity() int64 { return b.capacity }

func (b *fakeBank) Open(offset int64) error {
	if offset > int64(len(b.buf)) {
		b.buf = append(b.buf, make([]byte, offset-int64(len(b.buf)))...)
	}
	b.buf = b.buf[:offset]
	b.open = true
	b.sealed = false
	return nil
}

func (b *fakeBank) Write(p []byte) (int, error) {
	if !b.open {
		return 0, errors.New("bank not open")
	}
	if b.failWrite {
		return 0, errors.New("flash write failed")
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *fakeBank) Seal() error {
	b.open = false
	b.sealed = true
	return nil
}

func (b *fakeBank) Activate() error {
	if !b.sealed {
		return errors.New("not sealed")
	}
	b.activated = true
	return nil
}

func (b *fakeBank) ConfirmGood() error {
	b.confirmed = true
	return nil
}

func (b *fakeBank) Discard() error {
	b.open = false
	b.buf = nil
	b.discards++
	return nil
}
