package errcode

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable; part of the companion-app contract).
const (
	OK             Code = "ok"
	InvalidCommand Code = "invalid_command"
	InvalidParams  Code = "invalid_params"

	// Lock session
	InvalidDuration Code = "invalid_duration"
	NotLocked       Code = "not_locked"
	AlreadyLocked   Code = "already_locked"
	BatteryCritical Code = "battery_critical"

	// Time sync
	ImplausibleTime Code = "implausible_time"

	// Firmware update
	StorageFull  Code = "storage_full"
	WriteFailed  Code = "write_failed"
	CRCMismatch  Code = "crc_mismatch"
	ImageInvalid Code = "image_invalid"
	BatteryLow   Code = "battery_low"
	DeviceLocked Code = "device_locked"
	ChunkTimeout Code = "chunk_timeout"
	BadOTAState  Code = "bad_ota_state"

	// Persistence
	StoreFailed Code = "store_failed"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
