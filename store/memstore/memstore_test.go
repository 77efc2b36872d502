package memstore

import (
	"sort"
	"testing"

	"timelock-go/errcode"
	"timelock-go/store"
)

func TestGetPutDelete(t *testing.T) {
	s := New()

	if _, ok, _ := s.Get(store.NSLock, "missing"); ok {
		t.Fatal("missing key reported present")
	}

	if err := s.Put(store.NSLock, store.KeySession, []byte{1, 2, 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get(store.NSLock, store.KeySession)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(v) != 3 || v[0] != 1 {
		t.Fatalf("value = %v", v)
	}

	// Returned slice is a copy; mutating it must not affect the store.
	v[0] = 99
	v2, _, _ := s.Get(store.NSLock, store.KeySession)
	if v2[0] != 1 {
		t.Fatal("store value aliased by caller slice")
	}

	if err := s.Delete(store.NSLock, store.KeySession); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(store.NSLock, store.KeySession); ok {
		t.Fatal("deleted key still present")
	}
	// Deleting again is not an error.
	if err := s.Delete(store.NSLock, store.KeySession); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
}

func TestKeysAndWipe(t *testing.T) {
	s := New()
	s.Put(store.NSEvents, "slot0", []byte{0})
	s.Put(store.NSEvents, "slot1", []byte{1})
	s.Put(store.NSTamper, store.KeyLatch, []byte{1})

	keys, err := s.Keys(store.NSEvents)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "slot0" || keys[1] != "slot1" {
		t.Fatalf("keys = %v", keys)
	}

	if err := s.WipeAll(); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, ok, _ := s.Get(store.NSTamper, store.KeyLatch); ok {
		t.Fatal("wipe left tamper latch behind")
	}
}

func TestFailPuts(t *testing.T) {
	s := New()
	s.FailPuts = true
	err := s.Put(store.NSLock, store.KeySession, []byte{1})
	if err == nil {
		t.Fatal("expected failure with FailPuts set")
	}
	if code := errcode.Of(err); code != errcode.StoreFailed {
		t.Fatalf("code = %s, want %s", code, errcode.StoreFailed)
	}
}
