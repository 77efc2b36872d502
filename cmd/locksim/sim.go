package main

import (
	"errors"
	"fmt"
	"sync"

	"timelock-go/x/mathx"
)

// Simulated hardware behind the collaborator seams.

type simActuator struct{ secured bool }

func (a *simActuator) Secure() error {
	a.secured = true
	fmt.Println("actuator: secured")
	return nil
}

func (a *simActuator) Release() error {
	a.secured = false
	fmt.Println("actuator: released")
	return nil
}

type simDisplay struct{}

func (d *simDisplay) Notice(msg string) { fmt.Println("display notice:", msg) }
func (d *simDisplay) SetText(msg string) {
	if msg == "" {
		fmt.Println("display: default text")
		return
	}
	fmt.Println("display:", msg)
}

type simRestarter struct{ stop func() }

func (r *simRestarter) Restart() {
	fmt.Println("restart requested, shutting down")
	r.stop()
}

// simGauge is a settable fuel gauge. Voltage is derived from the
// percentage over a rough LiPo discharge range.
type simGauge struct {
	mu  sync.Mutex
	pct int
}

func newSimGauge(pct int) *simGauge { return &simGauge{pct: pct} }

func (g *simGauge) Set(pct int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pct = mathx.Clamp(pct, 0, 100)
}

func (g *simGauge) StateOfCharge() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pct, nil
}

func (g *simGauge) CellVoltage() (int32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int32(3300 + g.pct*9), nil
}

// simBank is an in-memory stand-in for the inactive flash partition.
type simBank struct {
	capacity  int64
	buf       []byte
	open      bool
	sealed    bool
	activated bool
}

func newSimBank(capacity int64) *simBank { return &simBank{capacity: capacity} }

func (b *simBank) Capacity() int64 { return b.capacity }

func (b *simBank) Open(offset int64) error {
	if offset > int64(len(b.buf)) {
		return errors.New("resume offset beyond written data")
	}
	b.buf = b.buf[:offset]
	b.open = true
	b.sealed = false
	return nil
}

func (b *simBank) Write(p []byte) (int, error) {
	if !b.open {
		return 0, errors.New("bank not open")
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *simBank) Seal() error {
	b.open = false
	b.sealed = true
	fmt.Printf("bank: sealed %d byte image\n", len(b.buf))
	return nil
}

func (b *simBank) Activate() error {
	if !b.sealed {
		return errors.New("no sealed image")
	}
	b.activated = true
	fmt.Println("bank: image marked for next boot")
	return nil
}

func (b *simBank) ConfirmGood() error {
	fmt.Println("bank: image confirmed good")
	return nil
}

func (b *simBank) Discard() error {
	b.open = false
	b.buf = nil
	return nil
}
