package timelock

import (
	"strings"
	"testing"

	"timelock-go/errcode"
	"timelock-go/types"
)

func TestDispatch_CommandTable(t *testing.T) {
	cases := []struct {
		name string
		cmd  string
		want errcode.Code
	}{
		{"lock", "LOCK:30", errcode.OK},
		{"lock_indefinite", "LOCK:0", errcode.OK},
		{"lock_junk", "LOCK:abc", errcode.InvalidDuration},
		{"lock_negative", "LOCK:-5", errcode.InvalidDuration},
		{"lock_over_max", "LOCK:525601", errcode.InvalidDuration},
		{"unlock_idle", "UNLOCK", errcode.NotLocked},
		{"force_unlock", "FORCE_UNLOCK", errcode.OK},
		{"status", "STATUS", errcode.OK},
		{"clear_tamper", "CLEAR_TAMPER", errcode.OK},
		{"time", "TIME:1700000000", errcode.OK},
		{"time_implausible", "TIME:1000", errcode.ImplausibleTime},
		{"time_junk", "TIME:soon", errcode.InvalidParams},
		{"ota_start", "OTA_START:1024:deadbeef", errcode.OK},
		{"ota_start_0x", "OTA_START:1024:0xDEADBEEF", errcode.OK},
		{"ota_start_resume", "OTA_START:1024:cafe:512", errcode.OK},
		{"ota_start_bad_crc", "OTA_START:1024:zzzz", errcode.InvalidParams},
		{"ota_start_bad_size", "OTA_START:nope:cafe", errcode.InvalidParams},
		{"ota_start_short", "OTA_START:1024", errcode.InvalidParams},
		{"ota_verify_idle", "OTA_VERIFY", errcode.BadOTAState},
		{"ota_apply_idle", "OTA_APPLY", errcode.BadOTAState},
		{"ota_abort_idle", "OTA_ABORT", errcode.BadOTAState},
		{"ota_confirm_idle", "OTA_CONFIRM", errcode.BadOTAState},
		{"unknown", "SELF_DESTRUCT", errcode.InvalidCommand},
		{"empty", "", errcode.InvalidCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv()
			if got := e.d.HandleCommand(tc.cmd); got != tc.want {
				t.Fatalf("HandleCommand(%q) = %v, want %v", tc.cmd, got, tc.want)
			}
		})
	}
}

func TestDispatch_TrailingNewlineStripped(t *testing.T) {
	e := newEnv()
	if got := e.d.HandleCommand("LOCK:10\r\n"); got != errcode.OK {
		t.Fatalf("code = %v", got)
	}
	if !e.lock.Locked() {
		t.Fatal("not locked")
	}
}

func TestDispatch_LockThenUnlockRoundTrip(t *testing.T) {
	e := newEnv()
	e.d.HandleCommand("LOCK:10")
	if e.lock.State() != types.StateLocked {
		t.Fatalf("state = %v", e.lock.State())
	}
	if got := e.d.HandleCommand("UNLOCK"); got != errcode.OK {
		t.Fatalf("unlock: %v", got)
	}
	if e.lock.State() != types.StateReady {
		t.Fatalf("state = %v", e.lock.State())
	}
}

func TestDispatch_ForceUnlockRecordsRemoteMethod(t *testing.T) {
	e := newEnv()
	e.d.HandleCommand("LOCK:0")
	e.d.HandleCommand("FORCE_UNLOCK")

	last, ok := e.log.Last()
	if !ok || last.Kind != types.EvEmergencyUnlock {
		t.Fatalf("last = %+v", last)
	}
	if last.Detail != types.EmergencyRemote {
		t.Fatalf("method detail = %d, want remote", last.Detail)
	}
}

func TestDispatch_TimeSyncReconcilesLock(t *testing.T) {
	e := newEnv()
	e.d.HandleCommand("LOCK:10")

	if got := e.d.HandleCommand("TIME:1700000000"); got != errcode.OK {
		t.Fatalf("time: %v", got)
	}
	if !e.clock.WallKnown() {
		t.Fatal("wall clock not set")
	}
	// The raw-duration session resolved to an absolute deadline.
	if rem := e.lock.RemainingSeconds(); rem < 599 || rem > 600 {
		t.Fatalf("remaining = %d", rem)
	}
}

func TestDispatch_TimeBelowFloorRejected(t *testing.T) {
	e := newEnv()
	// 2017, below the plausibility floor.
	if got := e.d.HandleCommand("TIME:1500000000"); got != errcode.ImplausibleTime {
		t.Fatalf("code = %v", got)
	}
	if e.clock.WallKnown() {
		t.Fatal("implausible time was accepted")
	}
}

func TestDispatch_StatusRequestLatch(t *testing.T) {
	e := newEnv()
	if e.d.TakeStatusRequest() {
		t.Fatal("spurious status request")
	}
	e.d.HandleCommand("STATUS")
	if !e.d.TakeStatusRequest() {
		t.Fatal("status request lost")
	}
	if e.d.TakeStatusRequest() {
		t.Fatal("status request not cleared on take")
	}
}

func TestDispatch_EventChannel(t *testing.T) {
	e := newEnv()
	e.d.HandleCommand("LOCK:5")
	e.d.HandleCommand("UNLOCK") // seq 1, 2

	if got := e.d.HandleEventCommand("ACK:1"); got != errcode.OK {
		t.Fatalf("ack: %v", got)
	}
	if e.log.Len() != 1 {
		t.Fatalf("len = %d after ack", e.log.Len())
	}
	if got := e.d.HandleEventCommand("ACK:notanumber"); got != errcode.InvalidParams {
		t.Fatalf("bad ack: %v", got)
	}
	if got := e.d.HandleEventCommand("CLEAR"); got != errcode.OK {
		t.Fatalf("clear: %v", got)
	}
	if e.log.Len() != 0 {
		t.Fatal("clear left entries")
	}
	if got := e.d.HandleEventCommand("FLUSH"); got != errcode.InvalidCommand {
		t.Fatalf("unknown: %v", got)
	}
}

func TestDispatch_DisplayTextLimit(t *testing.T) {
	e := newEnv()
	if got := e.d.HandleDisplayText("see you in june"); got != errcode.OK {
		t.Fatalf("code = %v", got)
	}
	if e.disp.text != "see you in june" {
		t.Fatalf("text = %q", e.disp.text)
	}
	if got := e.d.HandleDisplayText(strings.Repeat("x", MaxDisplayText+1)); got != errcode.InvalidParams {
		t.Fatalf("over-limit: %v", got)
	}
	if got := e.d.HandleDisplayText(""); got != errcode.OK {
		t.Fatalf("clear: %v", got)
	}
	if e.disp.text != "" {
		t.Fatal("text not cleared")
	}
}

func TestDispatch_ChunkRoutesToOTA(t *testing.T) {
	e := newEnv()
	if got := e.d.HandleChunk([]byte{1, 2, 3}); got != errcode.BadOTAState {
		t.Fatalf("chunk while idle: %v", got)
	}
	e.d.HandleCommand("OTA_START:3:0")
	if got := e.d.HandleChunk([]byte{1, 2, 3}); got != errcode.OK {
		t.Fatalf("chunk: %v", got)
	}
	if e.ota.Received() != 3 {
		t.Fatalf("received = %d", e.ota.Received())
	}
}
