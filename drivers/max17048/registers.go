// Package max17048 provides constants for register addresses and
// bitfields of the MAX17048 fuel gauge.
package max17048

const (
	// 7-bit I2C address (011_0110b).
	Address = 0x36

	// --- Register sub-addresses (16-bit word registers) ---
	regVCell   = 0x02 // R, 78.125 µV/LSB
	regSOC     = 0x04 // R, 1/256 %/LSB
	regMode    = 0x06 // W
	regVersion = 0x08 // R
	regConfig  = 0x0C // R/W
	regCmd     = 0xFE // R/W, power-on reset

	// --- MODE bits ---
	modeQuickStart uint16 = 0x4000

	// --- CONFIG bits ---
	cfgSleep uint16 = 0x0080
)
