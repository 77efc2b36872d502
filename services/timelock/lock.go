package timelock

import (
	"time"

	"timelock-go/errcode"
	"timelock-go/store"
	"timelock-go/types"
	"timelock-go/x/timex"
)

// LockManager owns the lock/unlock state machine, the persisted lock
// session, and time reconciliation. All methods run on the owning
// service goroutine; nothing here is safe for concurrent use.
type LockManager struct {
	clock *timex.Clock
	st    store.Store
	log   *EventLog
	act   types.Actuator
	disp  types.Display

	state types.LockState
	mode  types.LockMode

	// Deadline bookkeeping. endWall is the durable representation:
	// 0 = indefinite, below the wall-clock floor = raw duration not yet
	// resolved to absolute time. endMono is recomputed on boot/sync and
	// only trusted while endMonoValid.
	endWall      int64
	endResolved  bool
	endMono      time.Duration
	endMonoValid bool

	lidClosed bool
	pending   *types.PendingLock

	// tamper is the durable latch; sessionTamper bounds detection to
	// once per lock session.
	tamper        bool
	sessionTamper bool

	// pendingUnlock defers an expired-deadline unlock discovered inside
	// the time-sync handler to the next tick.
	pendingUnlock bool

	lowBattery bool
	battery    int
	linkUp     bool

	denyThrottle   time.Duration
	lastDenyNotice time.Duration
	denyNoticed    bool
}

func NewLockManager(clock *timex.Clock, st store.Store, log *EventLog, act types.Actuator, disp types.Display) *LockManager {
	return &LockManager{
		clock:        clock,
		st:           st,
		log:          log,
		act:          act,
		disp:         disp,
		state:        types.StateReady,
		mode:         types.ModeNone,
		lidClosed:    true,
		denyThrottle: 10 * time.Second,
	}
}

// SetDenyThrottle adjusts the button-denial notice throttle.
func (m *LockManager) SetDenyThrottle(d time.Duration) {
	if d > 0 {
		m.denyThrottle = d
	}
}

func (m *LockManager) State() types.LockState { return m.state }
func (m *LockManager) Mode() types.LockMode   { return m.mode }
func (m *LockManager) LidClosed() bool        { return m.lidClosed }
func (m *LockManager) Tamper() bool           { return m.tamper }
func (m *LockManager) Battery() int           { return m.battery }
func (m *LockManager) Locked() bool           { return m.state == types.StateLocked }

// LoadFromStore restores the persisted session and tamper latch at
// boot, and re-drives the actuator to match the committed state.
func (m *LockManager) LoadFromStore() {
	if _, ok, _ := m.st.Get(store.NSTamper, store.KeyLatch); ok {
		m.tamper = true
	}

	b, ok, err := m.st.Get(store.NSLock, store.KeySession)
	if err != nil || !ok {
		m.driveActuator(false)
		return
	}
	rec, err := store.DecodeLockRecord(b)
	if err != nil || !rec.Active {
		println("Warn: dropping unusable lock record")
		_ = m.st.Delete(store.NSLock, store.KeySession)
		m.driveActuator(false)
		return
	}

	m.state = types.StateLocked
	switch {
	case rec.Indefinite:
		m.mode = types.ModeIndefinite
		m.endWall = 0
		m.endResolved = true
		m.endMonoValid = false
	case rec.End >= timex.WallClockFloor:
		// Absolute deadline; the monotonic deadline is unknown until a
		// time sync arrives.
		m.mode = types.ModeTimed
		m.endWall = rec.End
		m.endResolved = true
		m.endMonoValid = false
	default:
		// Raw duration persisted before time was known: the timer
		// restarts from boot, and converts to absolute on sync.
		m.mode = types.ModeTimed
		m.endWall = rec.End
		m.endResolved = false
		m.endMono = m.clock.NowMono() + time.Duration(rec.End)*time.Second
		m.endMonoValid = true
	}
	// The restored latch also gates re-detection, so a reboot with the
	// lid still open cannot record the same session twice.
	m.sessionTamper = m.tamper
	m.driveActuator(true)
}

func (m *LockManager) driveActuator(secured bool) {
	var err error
	if secured {
		err = m.act.Secure()
	} else {
		err = m.act.Release()
	}
	if err != nil {
		println("Warn: actuator drive failed:", err.Error())
	}
}

// RequestLock starts a lock session. minutes == 0 requests an
// indefinite lock. A request with the lid open is stored as pending and
// applied when the lid closes.
func (m *LockManager) RequestLock(minutes uint32) errcode.Code {
	indefinite := minutes == 0
	if !indefinite && (minutes < types.MinLockMinutes || minutes > types.MaxLockMinutes) {
		return errcode.InvalidDuration
	}
	if m.state == types.StateLowBattery {
		return errcode.BatteryCritical
	}
	if m.state == types.StateLocked {
		return errcode.AlreadyLocked
	}

	if !m.lidClosed {
		m.pending = &types.PendingLock{Minutes: minutes, Indefinite: indefinite}
		m.disp.Notice("close lid to lock")
		return errcode.OK
	}

	now := m.clock.NowMono()
	rec := store.LockRecord{Active: true, Indefinite: indefinite}
	if indefinite {
		m.endWall = 0
		m.endResolved = true
		m.endMonoValid = false
	} else {
		m.endMono = now + time.Duration(minutes)*time.Minute
		m.endMonoValid = true
		if m.clock.WallKnown() {
			m.endWall = m.clock.WallFromMono(m.endMono)
			m.endResolved = true
		} else {
			m.endWall = int64(minutes) * 60
			m.endResolved = false
		}
		rec.End = m.endWall
	}

	// Persist before actuating: a crash leaves the store equal to or
	// behind the committed transition, never ahead of a half-applied one.
	b, err := store.EncodeLockRecord(rec)
	if err != nil {
		return errcode.StoreFailed
	}
	if err := m.st.Put(store.NSLock, store.KeySession, b); err != nil {
		println("Warn: lock record write failed:", err.Error())
		return errcode.Of(err)
	}

	if err := m.act.Secure(); err != nil {
		println("Warn: secure failed:", err.Error())
		_ = m.st.Delete(store.NSLock, store.KeySession)
		return errcode.Of(err)
	}

	m.state = types.StateLocked
	if indefinite {
		m.mode = types.ModeIndefinite
	} else {
		m.mode = types.ModeTimed
	}
	m.sessionTamper = false
	m.pendingUnlock = false
	m.log.Record(types.EvLocked, int32(minutes))
	return errcode.OK
}

// Unlock ends the session. Only valid while locked.
func (m *LockManager) Unlock() errcode.Code {
	if m.state != types.StateLocked {
		return errcode.NotLocked
	}
	if err := m.act.Release(); err != nil {
		println("Warn: release failed:", err.Error())
		return errcode.Error
	}
	m.clearSession()
	m.log.Record(types.EvUnlocked, 0)
	return errcode.OK
}

// EmergencyUnlock bypasses every timer and permission check and always
// succeeds. method is 0 for physical, 1 for remote.
func (m *LockManager) EmergencyUnlock(method int32) {
	if err := m.act.Release(); err != nil {
		// The latch spring still disengages without holding power;
		// state must follow regardless.
		println("Warn: release failed during emergency unlock:", err.Error())
	}
	m.clearSession()
	m.state = types.StateReady
	m.log.Record(types.EvEmergencyUnlock, method)
}

func (m *LockManager) clearSession() {
	_ = m.st.Delete(store.NSLock, store.KeySession)
	if m.lowBattery {
		m.state = types.StateLowBattery
	} else {
		m.state = types.StateReady
	}
	m.mode = types.ModeNone
	m.endWall = 0
	m.endResolved = false
	m.endMonoValid = false
	m.pendingUnlock = false
	m.disp.SetText("")
}

// OnButtonPress handles the physical button. In Ready the lid is
// already free, so it is a no-op.
func (m *LockManager) OnButtonPress() {
	if m.state != types.StateLocked {
		return
	}
	now := m.clock.NowMono()
	if m.mode == types.ModeIndefinite {
		m.deny(now)
		return
	}
	if m.expired(now) {
		m.log.Record(types.EvButtonPressAccepted, 0)
		m.Unlock()
		return
	}
	m.deny(now)
}

func (m *LockManager) deny(now time.Duration) {
	m.log.Record(types.EvButtonPressDenied, 0)
	if !m.denyNoticed || now-m.lastDenyNotice >= m.denyThrottle {
		m.disp.Notice("cannot unlock yet")
		m.lastDenyNotice = now
		m.denyNoticed = true
	}
}

// OnLidChanged mirrors the lid sensor, raises tamper when the lid opens
// while locked, and resolves a pending lock when it closes.
func (m *LockManager) OnLidChanged(closed bool) {
	if closed == m.lidClosed {
		return
	}
	m.lidClosed = closed

	if closed {
		m.log.Record(types.EvLidClosed, 0)
		if m.pending != nil && m.state != types.StateLocked {
			p := *m.pending
			m.pending = nil
			minutes := p.Minutes
			if p.Indefinite {
				minutes = 0
			}
			m.RequestLock(minutes)
		}
		return
	}

	m.log.Record(types.EvLidOpened, 0)
	m.checkTamper()
}

// checkTamper latches tamper when the lid is open while locked, at most
// once per lock session. The latch survives unlock and reboot; only an
// explicit clear command removes it.
func (m *LockManager) checkTamper() {
	if m.state != types.StateLocked || m.lidClosed || m.sessionTamper {
		return
	}
	m.sessionTamper = true
	m.tamper = true
	if err := m.st.Put(store.NSTamper, store.KeyLatch, []byte{1}); err != nil {
		println("Warn: tamper latch write failed:", err.Error())
	}
	m.log.Record(types.EvTamperDetected, 0)
}

// ClearTamper removes the latch. Only reachable via the explicit
// command; unlocking never clears it.
func (m *LockManager) ClearTamper() {
	m.tamper = false
	m.sessionTamper = false
	_ = m.st.Delete(store.NSTamper, store.KeyLatch)
}

// ReconcileTime is called when wall-clock time first becomes known or
// is corrected. An already-passed deadline schedules the unlock for the
// next tick instead of unlocking inside the time-sync handler.
func (m *LockManager) ReconcileTime() {
	if m.state != types.StateLocked || m.mode != types.ModeTimed {
		return
	}
	if !m.endResolved {
		// Stored value was a bare duration; convert to absolute using
		// the live monotonic deadline and re-persist.
		m.endWall = m.clock.WallFromMono(m.endMono)
		m.endResolved = true
		rec := store.LockRecord{Active: true, End: m.endWall}
		if b, err := store.EncodeLockRecord(rec); err == nil {
			if err := m.st.Put(store.NSLock, store.KeySession, b); err != nil {
				println("Warn: lock record rewrite failed:", err.Error())
			}
		}
	} else {
		m.endMono = m.clock.MonoFromWall(m.endWall)
		m.endMonoValid = true
	}
	if m.endMono <= m.clock.NowMono() {
		m.pendingUnlock = true
	}
}

func (m *LockManager) expired(now time.Duration) bool {
	if m.pendingUnlock {
		return true
	}
	return m.endMonoValid && now >= m.endMono
}

// Tick enforces the timer. This is the only place a timed session
// auto-unlocks.
func (m *LockManager) Tick(now time.Duration) {
	if m.state != types.StateLocked || m.mode != types.ModeTimed {
		return
	}
	if !m.expired(now) {
		return
	}
	m.log.Record(types.EvTimerExpired, 0)
	offline := !m.linkUp
	if m.Unlock() == errcode.OK && offline {
		m.log.Record(types.EvOfflineFallbackUnlocked, 0)
	}
}

// SetBatteryState applies the power service's view. A critical battery
// only moves Ready to LowBattery; an active lock session is never
// disturbed by battery state.
func (m *LockManager) SetBatteryState(percent int, low bool) {
	wasLow := m.lowBattery
	m.lowBattery = low
	m.battery = percent
	if low && !wasLow {
		m.log.Record(types.EvBatteryWarning, int32(percent))
	}
	if low && m.state == types.StateReady {
		m.state = types.StateLowBattery
	}
	if !low && m.state == types.StateLowBattery {
		m.state = types.StateReady
	}
}

// SetLinkUp tracks the companion link. Dropping the link while locked
// starts the offline fallback.
func (m *LockManager) SetLinkUp(up bool) {
	wasUp := m.linkUp
	m.linkUp = up
	if wasUp && !up && m.state == types.StateLocked {
		m.log.Record(types.EvOfflineFallbackStarted, 0)
	}
}

// RemainingSeconds reports the time left in the session: -1 for
// indefinite, 0 when not locked.
func (m *LockManager) RemainingSeconds() int64 {
	if m.state != types.StateLocked {
		return 0
	}
	if m.mode == types.ModeIndefinite {
		return -1
	}
	if m.endMonoValid {
		rem := int64((m.endMono - m.clock.NowMono()) / time.Second)
		if rem < 0 {
			rem = 0
		}
		return rem
	}
	if m.endResolved {
		if now, known := m.clock.Best(); known {
			rem := m.endWall - now
			if rem < 0 {
				rem = 0
			}
			return rem
		}
	}
	// Unresolved and no monotonic deadline: report the stored duration.
	return m.endWall
}
