package store

import (
	"github.com/fxamacker/cbor/v2"

	"timelock-go/types"
)

// Durable record shapes. CBOR keeps the flash footprint small and the
// encoding stable across firmware versions.

// LockRecord is the durable mirror of an active lock session.
// End below the wall-clock floor is a raw duration in seconds persisted
// before absolute time was known; End == 0 with Indefinite encodes an
// indefinite lock.
type LockRecord struct {
	Active     bool  `cbor:"1,keyasint"`
	End        int64 `cbor:"2,keyasint"`
	Indefinite bool  `cbor:"3,keyasint"`
}

// CriticalEvent is one durable critical-event slot.
type CriticalEvent struct {
	Seq             uint16          `cbor:"1,keyasint"`
	Kind            types.EventKind `cbor:"2,keyasint"`
	TS              int64           `cbor:"3,keyasint"`
	NeedsCorrection bool            `cbor:"4,keyasint"`
	Detail          int32           `cbor:"5,keyasint"`
}

func EncodeLockRecord(r LockRecord) ([]byte, error) { return cbor.Marshal(r) }

func EncodeCriticalEvent(e CriticalEvent) ([]byte, error) { return cbor.Marshal(e) }

func DecodeLockRecord(b []byte) (LockRecord, error) {
	var r LockRecord
	err := cbor.Unmarshal(b, &r)
	return r, err
}

func DecodeCriticalEvent(b []byte) (CriticalEvent, error) {
	var e CriticalEvent
	err := cbor.Unmarshal(b, &e)
	return e, err
}
