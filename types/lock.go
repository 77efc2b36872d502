package types

// LockState is the top-level device state.
type LockState uint8

const (
	StateReady LockState = iota
	StateLocked
	StateLowBattery
)

func (s LockState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateLocked:
		return "locked"
	case StateLowBattery:
		return "low_battery"
	default:
		return "unknown"
	}
}

// LockMode is meaningful only while StateLocked.
type LockMode uint8

const (
	ModeNone LockMode = iota
	ModeTimed
	ModeIndefinite
)

func (m LockMode) String() string {
	switch m {
	case ModeTimed:
		return "timed"
	case ModeIndefinite:
		return "indefinite"
	default:
		return "none"
	}
}

// Lock duration bounds in minutes. 0 requests an indefinite lock.
const (
	MinLockMinutes = 1
	MaxLockMinutes = 525600 // one year
)

// Emergency unlock methods (wire detail values).
const (
	EmergencyPhysical = 0
	EmergencyRemote   = 1
)

// PendingLock is a lock request deferred because the lid was open.
type PendingLock struct {
	Minutes    uint32
	Indefinite bool
}
