package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgDevkit = `{
  "timelock": {
      "tick_ms": 250,
      "deny_notice_s": 10,
      "factory_reset_hold_s": 5,
      "ota_chunk_timeout_s": 30,
      "ota_error_cooldown_s": 10,
      "ota_min_battery": 20
  },
  "power": {
      "sample_s": 5,
      "low_below": 10,
      "recover_at": 15
  },
  "link": {
      "transport": {
          "type": "ws",
          "listen": "127.0.0.1:9190"
      }
  }
}`

var embeddedConfigs = map[string][]byte{
	"devkit": []byte(cfgDevkit),
}
