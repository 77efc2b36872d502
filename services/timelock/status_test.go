package timelock

import (
	"encoding/json"
	"hash/crc32"
	"testing"
	"time"

	"timelock-go/errcode"
)

func TestSnapshotIdleDefaults(t *testing.T) {
	e := newEnv()

	s := buildSnapshot(e.lock, e.ota, e.log, 7)
	if s.State != "ready" || s.Mode != "none" {
		t.Fatalf("state/mode = %s/%s, want ready/none", s.State, s.Mode)
	}
	if s.RemainingS != 0 || !s.LidClosed || s.Battery != 80 || s.Tamper {
		t.Fatalf("unexpected idle snapshot: %+v", s)
	}
	if s.OTA != "idle" || s.UptimeS != 7 || s.Buffered != 0 || s.LastEvent != "" {
		t.Fatalf("unexpected idle snapshot: %+v", s)
	}
}

func TestSnapshotTracksLockSession(t *testing.T) {
	e := newEnv()
	if code := e.lock.RequestLock(10); code != errcode.OK {
		t.Fatalf("lock: %v", code)
	}
	e.advance(2 * time.Minute)

	s := buildSnapshot(e.lock, e.ota, e.log, e.clock.UptimeSeconds())
	if s.State != "locked" || s.Mode != "timed" {
		t.Fatalf("state/mode = %s/%s, want locked/timed", s.State, s.Mode)
	}
	if s.RemainingS != 480 {
		t.Fatalf("remaining = %d, want 480", s.RemainingS)
	}
	if s.LastEvent != "locked" || s.Buffered != 1 {
		t.Fatalf("last/buffered = %s/%d, want locked/1", s.LastEvent, s.Buffered)
	}

	e.lock.RequestLock(0)
	if e.lock.State().String() != "locked" {
		t.Fatal("setup: second lock should be rejected, state unchanged")
	}

	e.lock.Unlock()
	s = buildSnapshot(e.lock, e.ota, e.log, e.clock.UptimeSeconds())
	if s.State != "ready" || s.RemainingS != 0 || s.LastEvent != "unlocked" {
		t.Fatalf("post-unlock snapshot: %+v", s)
	}
}

func TestSnapshotIndefiniteRemaining(t *testing.T) {
	e := newEnv()
	e.lock.RequestLock(0)

	s := buildSnapshot(e.lock, e.ota, e.log, 0)
	if s.Mode != "indefinite" || s.RemainingS != -1 {
		t.Fatalf("mode/remaining = %s/%d, want indefinite/-1", s.Mode, s.RemainingS)
	}
}

func TestSnapshotOTAFields(t *testing.T) {
	e := newEnv()
	img := otaImage(300)
	e.ota.Start(int64(len(img)), crc32.ChecksumIEEE(img), 0)
	e.ota.Chunk(img[:100])

	s := buildSnapshot(e.lock, e.ota, e.log, 0)
	if s.OTA != "receiving" || s.OTAReceived != 100 || s.OTATotal != 300 {
		t.Fatalf("ota fields = %s %d/%d, want receiving 100/300", s.OTA, s.OTAReceived, s.OTATotal)
	}

	// Transfer fields drop out of the wire document once idle again.
	e.ota.Abort(errcode.ImageInvalid, "peer abort")
	s = buildSnapshot(e.lock, e.ota, e.log, 0)
	if s.OTA != "error" || s.OTAError != string(errcode.ImageInvalid) {
		t.Fatalf("ota error fields = %s/%s", s.OTA, s.OTAError)
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["ota_received"]; present {
		t.Fatal("ota_received should be omitted outside a transfer")
	}
	if _, present := m["ota_total"]; present {
		t.Fatal("ota_total should be omitted outside a transfer")
	}
}
