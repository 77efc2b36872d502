// Package power samples the fuel gauge and publishes the battery view
// the rest of the device reacts to. The low flag is hysteretic so a
// reading hovering on the threshold cannot flap the lock state.
package power

import (
	"context"
	"time"

	"timelock-go/bus"
	"timelock-go/types"
	"timelock-go/x/mathx"
)

var (
	topicBattery     = bus.T("power", "battery")
	topicConfigPower = bus.T("config", "power")
)

const (
	defaultSample    = 5 * time.Second
	defaultLowBelow  = 10
	defaultRecoverAt = 15
)

type Service struct {
	Gauge types.FuelGauge

	sample    time.Duration
	lowBelow  int
	recoverAt int

	low  bool
	last types.BatteryState
	sent bool
}

func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.sample = defaultSample
	s.lowBelow = defaultLowBelow
	s.recoverAt = defaultRecoverAt
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigPower)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(s.sample)
	defer tick.Stop()

	s.poll(conn)

	for {
		select {
		case <-ctx.Done():
			println("Info: power service stopping")
			return
		case <-tick.C:
			s.poll(conn)
		case msg := <-cfgSub.Channel():
			s.applyConfig(msg.Payload, tick)
		}
	}
}

func (s *Service) poll(conn *bus.Connection) {
	pct, err := s.Gauge.StateOfCharge()
	if err != nil {
		println("Warn: fuel gauge read failed:", err.Error())
		return
	}
	mv, err := s.Gauge.CellVoltage()
	if err != nil {
		println("Warn: fuel gauge voltage read failed:", err.Error())
		mv = 0
	}
	pct = mathx.Clamp(pct, 0, 100)

	// Hysteresis: drop low below one threshold, recover only at a
	// higher one.
	if s.low {
		if pct >= s.recoverAt {
			s.low = false
		}
	} else if pct < s.lowBelow {
		s.low = true
	}

	state := types.BatteryState{Percent: pct, Millivolts: mv, Low: s.low}
	if s.sent && state == s.last {
		return
	}
	s.last = state
	s.sent = true
	conn.Publish(conn.NewMessage(topicBattery, state, true))
}

func (s *Service) applyConfig(payload any, tick *time.Ticker) {
	m, ok := payload.(map[string]any)
	if !ok {
		println("Warn: undecodable power config")
		return
	}
	if v, ok := m["sample_s"].(float64); ok && v > 0 {
		s.sample = time.Duration(v) * time.Second
		tick.Reset(s.sample)
	}
	if v, ok := m["low_below"].(float64); ok && v > 0 {
		s.lowBelow = int(v)
	}
	if v, ok := m["recover_at"].(float64); ok && v >= float64(s.lowBelow) {
		s.recoverAt = int(v)
	}
}
