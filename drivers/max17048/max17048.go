// Package max17048 provides a minimal driver for the MAX17048 lithium
// fuel gauge.
//
// Design notes (datasheet references):
// • I2C, 400kHz, 16-bit word registers, data-high then data-low.
// • Fixed 7-bit address = 0b0110110 (0x36).
// • SOC register: 1/256 % per LSB.
// • VCELL register: 78.125 µV per LSB.
// • QuickStart restarts the SOC estimation after an abrupt load change.

package max17048

import (
	"tinygo.org/x/drivers"

	"timelock-go/types"
	"timelock-go/x/mathx"
)

// The gauge plugs straight into the power service.
var _ types.FuelGauge = (*Device)(nil)

type Device struct {
	i2c  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

func New(i2c drivers.I2C) *Device {
	return &Device{i2c: i2c, addr: Address}
}

// Connected probes the version register. The upper nibble of the
// silicon version is fixed at 0x001 for this part family.
func (d *Device) Connected() bool {
	v, err := d.readWord(regVersion)
	if err != nil {
		return false
	}
	return v&0xFFF0 == 0x0010
}

// StateOfCharge returns whole percent in [0,100].
func (d *Device) StateOfCharge() (int, error) {
	raw, err := d.readWord(regSOC)
	if err != nil {
		return 0, err
	}
	pct := int(raw >> 8) // 1/256 % per LSB
	return mathx.Clamp(pct, 0, 100), nil
}

// CellVoltage returns millivolts.
func (d *Device) CellVoltage() (int32, error) {
	raw, err := d.readWord(regVCell)
	if err != nil {
		return 0, err
	}
	// 78.125 µV/LSB: mV = raw * 78125 / 1_000_000
	return int32((uint32(raw) * 78125) / 1_000_000), nil
}

// QuickStart forces an immediate SOC restart estimate.
func (d *Device) QuickStart() error {
	return d.writeWord(regMode, modeQuickStart)
}

// Sleep puts the gauge in its low-power state when hold is true.
func (d *Device) Sleep(hold bool) error {
	cfg, err := d.readWord(regConfig)
	if err != nil {
		return err
	}
	if hold {
		cfg |= cfgSleep
	} else {
		cfg &^= cfgSleep
	}
	return d.writeWord(regConfig, cfg)
}

// I2C 16-bit word operations (Big-endian: HIGH then LOW).

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val >> 8) // high
	d.w[2] = byte(val)      // low
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}
