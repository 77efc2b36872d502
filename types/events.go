package types

// EventKind is the closed set of domain events.
type EventKind uint8

const (
	EvButtonPressDenied EventKind = iota
	EvButtonPressAccepted
	EvLidOpened
	EvLidClosed
	EvLocked
	EvUnlocked
	EvEmergencyUnlock
	EvTamperDetected
	EvBatteryWarning
	EvTimerExpired
	EvOfflineFallbackStarted
	EvOfflineFallbackUnlocked
)

var eventNames = [...]string{
	EvButtonPressDenied:       "button_press_denied",
	EvButtonPressAccepted:     "button_press_accepted",
	EvLidOpened:               "lid_opened",
	EvLidClosed:               "lid_closed",
	EvLocked:                  "locked",
	EvUnlocked:                "unlocked",
	EvEmergencyUnlock:         "emergency_unlock",
	EvTamperDetected:          "tamper_detected",
	EvBatteryWarning:          "battery_warning",
	EvTimerExpired:            "timer_expired",
	EvOfflineFallbackStarted:  "offline_fallback_started",
	EvOfflineFallbackUnlocked: "offline_fallback_unlocked",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Critical reports whether the kind is mirrored into durable storage.
// Durability favours recent safety events over completeness.
func (k EventKind) Critical() bool {
	return k == EvEmergencyUnlock || k == EvTamperDetected
}
