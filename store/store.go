// Package store defines the durable key/value contract every manager
// persists through. Writes are synchronous and atomic per call: a crash
// immediately after Put returns never observes a torn record.
package store

// Conceptual namespaces. Each logical record lives in exactly one.
const (
	NSIdent  = "ident"  // device identity/credential
	NSLock   = "lock"   // lock session record
	NSTamper = "tamper" // tamper latch
	NSOTA    = "ota"    // pending-confirmation flag
	NSEvents = "events" // critical-event ring: cursor + slots
)

// Well-known keys.
const (
	KeySession = "session"
	KeyLatch   = "latch"
	KeyPending = "pending"
	KeyCursor  = "cursor"
)

type Store interface {
	// Get returns the value and whether the key exists.
	Get(ns, key string) ([]byte, bool, error)
	// Put writes the value atomically and synchronously.
	Put(ns, key string, val []byte) error
	// Delete removes the key; removing an absent key is not an error.
	Delete(ns, key string) error
	// Keys lists the keys present in a namespace, in no defined order.
	Keys(ns string) ([]string, error)
	// WipeAll erases every namespace. Factory reset only.
	WipeAll() error
}
