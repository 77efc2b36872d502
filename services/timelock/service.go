package timelock

import (
	"context"
	"encoding/json"
	"time"

	"timelock-go/bus"
	"timelock-go/errcode"
	"timelock-go/store"
	"timelock-go/types"
	"timelock-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Deps are the collaborator seams the core drives. Everything behind
// them (PWM timing, rendering, flash partitions) stays outside the core.
type Deps struct {
	Clock     *timex.Clock
	Store     store.Store
	Actuator  types.Actuator
	Display   types.Display
	Restarter types.Restarter
	Bank      types.ImageBank
}

// Run starts the timelock service. It blocks until ctx is cancelled.
// One goroutine owns all three state machines; commands are fully
// applied before the next is accepted, and every persistence write
// completes before the triggering operation returns.
func Run(ctx context.Context, conn *bus.Connection, deps Deps) {
	log := NewEventLog(deps.Clock, deps.Store)
	lock := NewLockManager(deps.Clock, deps.Store, log, deps.Actuator, deps.Display)
	ota := NewOTAController(deps.Store, deps.Bank, deps.Restarter,
		lock.Locked, lock.Battery, deps.Clock.NowMono)
	disp := NewDispatcher(deps.Clock, lock, ota, log, deps.Display)

	s := &service{
		conn:      conn,
		clock:     deps.Clock,
		deps:      deps,
		log:       log,
		lock:      lock,
		ota:       ota,
		dispatch:  disp,
		tick:      250 * time.Millisecond,
		resetHold: 5 * time.Second,
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type service struct {
	conn  *bus.Connection
	clock *timex.Clock
	deps  Deps

	log      *EventLog
	lock     *LockManager
	ota      *OTAController
	dispatch *Dispatcher

	tick      time.Duration
	resetHold time.Duration

	// Factory reset requires button held, lid open and Ready for the
	// whole hold window, not merely at the start.
	buttonDown bool
	resetArmed bool
	resetSince time.Duration

	lastStatus []byte
	lastEvents []byte
}

func (s *service) run(ctx context.Context) {
	// Boot-time recovery, in dependency order: recovered events first so
	// the sequence counter is advanced before the lock manager records.
	s.log.LoadFromStore()
	s.lock.LoadFromStore()
	s.ota.LoadFromStore()

	cmdSub := s.conn.Subscribe(TopicCmd)
	dispSub := s.conn.Subscribe(TopicDisplay)
	evCmdSub := s.conn.Subscribe(TopicEventsCmd)
	chunkSub := s.conn.Subscribe(TopicOTAData)
	btnSub := s.conn.Subscribe(TopicInputButton)
	lidSub := s.conn.Subscribe(TopicInputLid)
	emgSub := s.conn.Subscribe(bus.T("input", "emergency"))
	batSub := s.conn.Subscribe(TopicBattery)
	linkSub := s.conn.Subscribe(TopicLinkState)
	cfgSub := s.conn.Subscribe(TopicConfig)
	defer func() {
		for _, sub := range []*bus.Subscription{cmdSub, dispSub, evCmdSub, chunkSub, btnSub, lidSub, emgSub, batSub, linkSub, cfgSub} {
			s.conn.Unsubscribe(sub)
		}
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.publish(true)

	for {
		select {
		case <-ctx.Done():
			println("Info: timelock service stopping")
			return

		case msg := <-cmdSub.Channel():
			code := s.dispatch.HandleCommand(asString(msg.Payload))
			s.respond(msg, code)
			s.publish(s.dispatch.TakeStatusRequest())

		case msg := <-dispSub.Channel():
			s.respond(msg, s.dispatch.HandleDisplayText(asString(msg.Payload)))
			s.publish(false)

		case msg := <-evCmdSub.Channel():
			s.respond(msg, s.dispatch.HandleEventCommand(asString(msg.Payload)))
			s.publish(false)

		case msg := <-chunkSub.Channel():
			if b, ok := msg.Payload.([]byte); ok {
				s.dispatch.HandleChunk(b)
			}
			s.publish(s.ota.TakeProgressNotification())

		case msg := <-btnSub.Channel():
			if v, ok := msg.Payload.(types.ButtonValue); ok {
				s.onButton(v.Pressed)
			}
			s.publish(false)

		case msg := <-lidSub.Channel():
			if v, ok := msg.Payload.(types.LidValue); ok {
				s.lock.OnLidChanged(v.Closed)
				s.trackReset()
			}
			s.publish(false)

		case <-emgSub.Channel():
			s.lock.EmergencyUnlock(types.EmergencyPhysical)
			s.publish(true)

		case msg := <-batSub.Channel():
			if v, ok := msg.Payload.(types.BatteryState); ok {
				s.lock.SetBatteryState(v.Percent, v.Low)
			}
			s.publish(false)

		case msg := <-linkSub.Channel():
			s.lock.SetLinkUp(linkLevel(msg.Payload) == "up")
			s.publish(false)

		case msg := <-cfgSub.Channel():
			s.applyConfig(msg.Payload, ticker)
			s.publish(false)

		case <-ticker.C:
			now := s.clock.NowMono()
			s.lock.Tick(now)
			s.ota.Tick(now)
			s.checkFactoryReset(now)
			s.publish(s.ota.TakeProgressNotification())
		}
	}
}

// -----------------------------------------------------------------------------
// Inputs
// -----------------------------------------------------------------------------

func (s *service) onButton(pressed bool) {
	s.buttonDown = pressed
	if pressed {
		s.lock.OnButtonPress()
	}
	s.trackReset()
}

// trackReset re-evaluates the factory reset preconditions. Any
// deviation cancels the countdown.
func (s *service) trackReset() {
	ok := s.buttonDown && !s.lock.LidClosed() && s.lock.State() == types.StateReady
	if ok && !s.resetArmed {
		s.resetArmed = true
		s.resetSince = s.clock.NowMono()
	}
	if !ok {
		s.resetArmed = false
	}
}

func (s *service) checkFactoryReset(now time.Duration) {
	s.trackReset()
	if !s.resetArmed || now-s.resetSince < s.resetHold {
		return
	}
	println("Info: factory reset: wiping all namespaces")
	if err := s.deps.Store.WipeAll(); err != nil {
		println("Warn: factory reset wipe failed:", err.Error())
		s.resetArmed = false
		return
	}
	s.deps.Restarter.Restart()
	s.resetArmed = false
}

// -----------------------------------------------------------------------------
// Outputs
// -----------------------------------------------------------------------------

// publish refreshes the retained status and event documents when their
// content changed, or unconditionally when forced.
func (s *service) publish(force bool) {
	snap := buildSnapshot(s.lock, s.ota, s.log, s.clock.UptimeSeconds())
	// Uptime alone must not churn the retained document on every tick.
	cmp := snap
	cmp.UptimeS = 0
	if b, err := json.Marshal(cmp); err == nil {
		if force || string(b) != string(s.lastStatus) {
			s.lastStatus = b
			full, _ := json.Marshal(snap)
			s.conn.Publish(s.conn.NewMessage(TopicStatus, full, true))
		}
	}

	if b, err := json.Marshal(s.log.Snapshot()); err == nil {
		if force || string(b) != string(s.lastEvents) {
			s.lastEvents = b
			s.conn.Publish(s.conn.NewMessage(TopicEvents, b, true))
		}
	}
}

func (s *service) respond(msg *bus.Message, code errcode.Code) {
	s.conn.Respond(msg, string(code))
	if code != errcode.OK {
		s.conn.Publish(s.conn.NewMessage(TopicResult, string(code), false))
	}
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

func (s *service) applyConfig(payload any, ticker *time.Ticker) {
	var cfg types.TimelockConfig
	if !decodeJSONPayload(payload, &cfg) {
		println("Warn: undecodable timelock config")
		return
	}
	if cfg.TickMS > 0 {
		s.tick = time.Duration(cfg.TickMS) * time.Millisecond
		ticker.Reset(s.tick)
	}
	if cfg.DenyNoticeS > 0 {
		s.lock.SetDenyThrottle(time.Duration(cfg.DenyNoticeS) * time.Second)
	}
	if cfg.FactoryResetHoldS > 0 {
		s.resetHold = time.Duration(cfg.FactoryResetHoldS) * time.Second
	}
	if cfg.OTAChunkTimeoutS > 0 {
		s.ota.ChunkTimeout = time.Duration(cfg.OTAChunkTimeoutS) * time.Second
	}
	if cfg.OTAErrorCooldownS > 0 {
		s.ota.ErrorCooldown = time.Duration(cfg.OTAErrorCooldownS) * time.Second
	}
	if cfg.OTAMinBattery > 0 {
		s.ota.MinBattery = cfg.OTAMinBattery
	}
}

// -----------------------------------------------------------------------------
// Payload helpers
// -----------------------------------------------------------------------------

func asString(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func linkLevel(p any) string {
	if m, ok := p.(map[string]any); ok {
		if lvl, ok := m["level"].(string); ok {
			return lvl
		}
	}
	return ""
}

func decodeJSONPayload(p any, out any) bool {
	switch v := p.(type) {
	case []byte:
		return json.Unmarshal(v, out) == nil
	case string:
		return json.Unmarshal([]byte(v), out) == nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return false
		}
		return json.Unmarshal(b, out) == nil
	default:
		return false
	}
}
