package timelock

import (
	"testing"
	"time"

	"timelock-go/store"
)

// newResetService wires the env managers into a service so the factory
// reset hold tracking can be driven without the loop goroutine.
func newResetService(e *env) *service {
	return &service{
		clock: e.clock,
		deps: Deps{
			Clock:     e.clock,
			Store:     e.st,
			Actuator:  e.act,
			Display:   e.disp,
			Restarter: e.rst,
			Bank:      e.bank,
		},
		log:       e.log,
		lock:      e.lock,
		ota:       e.ota,
		dispatch:  e.d,
		tick:      250 * time.Millisecond,
		resetHold: 5 * time.Second,
	}
}

func TestFactoryReset_FullHoldWipesAndRestarts(t *testing.T) {
	e := newEnv()
	s := newResetService(e)
	if err := e.st.Put(store.NSIdent, "device_id", []byte("devkit")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e.lock.OnLidChanged(false)
	s.onButton(true)
	for i := 0; i < 21; i++ {
		e.advance(250 * time.Millisecond)
		s.checkFactoryReset(e.clock.NowMono())
	}

	if e.rst.restarts != 1 {
		t.Fatalf("restarts = %d, want 1", e.rst.restarts)
	}
	if _, ok, _ := e.st.Get(store.NSIdent, "device_id"); ok {
		t.Fatal("store not wiped")
	}

	// Conditions still hold afterwards, but the countdown starts over
	// rather than firing again immediately.
	e.advance(250 * time.Millisecond)
	s.checkFactoryReset(e.clock.NowMono())
	if e.rst.restarts != 1 {
		t.Fatalf("restarts = %d after one hold, want 1", e.rst.restarts)
	}
}

func TestFactoryReset_DeviationCancelsHold(t *testing.T) {
	e := newEnv()
	s := newResetService(e)
	if err := e.st.Put(store.NSIdent, "device_id", []byte("devkit")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e.lock.OnLidChanged(false)
	s.onButton(true)
	e.advance(3 * time.Second)
	s.checkFactoryReset(e.clock.NowMono())

	// Lid closes briefly mid-hold; the countdown must restart from
	// zero, not resume where it left off.
	e.lock.OnLidChanged(true)
	s.trackReset()
	e.lock.OnLidChanged(false)
	s.trackReset()

	e.advance(3 * time.Second)
	s.checkFactoryReset(e.clock.NowMono())

	if e.rst.restarts != 0 {
		t.Fatalf("restarts = %d, want 0 after interrupted hold", e.rst.restarts)
	}
	if _, ok, _ := e.st.Get(store.NSIdent, "device_id"); !ok {
		t.Fatal("store wiped despite interrupted hold")
	}
}

func TestFactoryReset_RequiresAllThreeConditions(t *testing.T) {
	e := newEnv()
	s := newResetService(e)

	// Button held with the lid closed never arms.
	s.onButton(true)
	e.advance(6 * time.Second)
	s.checkFactoryReset(e.clock.NowMono())
	if e.rst.restarts != 0 {
		t.Fatal("armed without the lid open")
	}

	// Locked state blocks arming even with button down and lid open.
	s.onButton(false)
	e.lock.RequestLock(30)
	e.lock.OnLidChanged(false)
	s.onButton(true)
	e.advance(6 * time.Second)
	s.checkFactoryReset(e.clock.NowMono())
	if e.rst.restarts != 0 {
		t.Fatal("armed while locked")
	}
}
