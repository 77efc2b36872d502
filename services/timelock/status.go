package timelock

// Snapshot is the peer-readable status document, published retained and
// re-emitted on request and on every transition.
type Snapshot struct {
	State      string `json:"state"`
	Mode       string `json:"mode"`
	RemainingS int64  `json:"remaining_s"` // -1 while indefinite
	LidClosed  bool   `json:"lid_closed"`
	Battery    int    `json:"battery"`
	Tamper     bool   `json:"tamper"`
	LastEvent  string `json:"last_event"`
	UptimeS    int64  `json:"uptime_s"`
	Buffered   int    `json:"buffered_events"`

	OTA         string `json:"ota"`
	OTAReceived int64  `json:"ota_received,omitempty"`
	OTATotal    int64  `json:"ota_total,omitempty"`
	OTAError    string `json:"ota_error,omitempty"`
	OTAPending  bool   `json:"ota_pending_confirm,omitempty"`
}

func buildSnapshot(m *LockManager, ota *OTAController, log *EventLog, uptimeS int64) Snapshot {
	s := Snapshot{
		State:      m.State().String(),
		Mode:       m.Mode().String(),
		RemainingS: m.RemainingSeconds(),
		LidClosed:  m.LidClosed(),
		Battery:    m.Battery(),
		Tamper:     m.Tamper(),
		UptimeS:    uptimeS,
		Buffered:   log.Len(),
		OTA:        ota.State().String(),
		OTAPending: ota.PendingConfirmation(),
	}
	if last, ok := log.Last(); ok {
		s.LastEvent = last.Kind.String()
	}
	if ota.State() == OTAReceiving || ota.State() == OTAVerifying || ota.State() == OTAApplying {
		s.OTAReceived = ota.Received()
		s.OTATotal = ota.Total()
	}
	if ota.State() == OTAError {
		s.OTAError = string(ota.ErrCode())
	}
	return s
}
