package types

// Service configuration payloads, published retained per key on
// config/<service> by the config service.

type TimelockConfig struct {
	TickMS            int `json:"tick_ms"`
	DenyNoticeS       int `json:"deny_notice_s"`        // button denial throttle
	FactoryResetHoldS int `json:"factory_reset_hold_s"` // button+lid+ready hold
	OTAChunkTimeoutS  int `json:"ota_chunk_timeout_s"`
	OTAErrorCooldownS int `json:"ota_error_cooldown_s"`
	OTAMinBattery     int `json:"ota_min_battery"` // percent
}

type PowerConfig struct {
	SampleS    int `json:"sample_s"`
	LowBelow   int `json:"low_below"`   // enter low battery, percent
	RecoverAt  int `json:"recover_at"`  // leave low battery, percent
	WarnDetail int `json:"warn_detail"` // reserved
}

type LinkConfig struct {
	Transport string `json:"transport"` // "ws" on host, injected on device
	Listen    string `json:"listen,omitempty"`
}
