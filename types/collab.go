package types

// Collaborator seams owned by platform code. The core only calls these
// interfaces; pin mapping, PWM timing and rendering live outside it.

// Actuator drives the latch. Both calls block for the bounded time the
// mechanism needs to reach position, and report mechanical failure.
type Actuator interface {
	Secure() error
	Release() error
}

// Display is the keyholder-facing surface. Notice shows a transient
// message; SetText sets/clears the persistent keyholder message
// (empty string restores the default).
type Display interface {
	Notice(msg string)
	SetText(msg string)
}

// Restarter requests a device reboot. It may return before the restart
// takes effect; callers must not assume further execution.
type Restarter interface {
	Restart()
}

// ImageBank is the inactive firmware storage region plus the platform's
// dual-image activation hooks.
type ImageBank interface {
	// Capacity of the inactive region in bytes.
	Capacity() int64
	// Open positions the write cursor. A non-zero offset resumes an
	// interrupted transfer.
	Open(offset int64) error
	// Write appends at the cursor. Only legal between Open and Seal.
	Write(p []byte) (int, error)
	// Seal finalises a completely received image.
	Seal() error
	// Activate marks the sealed image as the next-boot image.
	Activate() error
	// ConfirmGood marks the running image permanently good, defeating
	// the platform's automatic rollback.
	ConfirmGood() error
	// Discard abandons any in-progress write.
	Discard() error
}

// FuelGauge reads the battery monitor.
type FuelGauge interface {
	// StateOfCharge returns percent in [0,100].
	StateOfCharge() (int, error)
	// CellVoltage returns millivolts.
	CellVoltage() (int32, error)
}

// BatteryState is the retained payload on power/battery.
type BatteryState struct {
	Percent    int   `json:"percent"`
	Millivolts int32 `json:"mv"`
	Low        bool  `json:"low"`
}

// ButtonValue is the payload on input/button.
type ButtonValue struct {
	Pressed bool `json:"pressed"`
}

// LidValue is the payload on input/lid.
type LidValue struct {
	Closed bool `json:"closed"`
}
