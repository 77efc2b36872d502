package timelock

import (
	"hash/crc32"
	"time"

	"timelock-go/errcode"
	"timelock-go/store"
	"timelock-go/types"
)

// OTAState is the firmware-update machine state.
type OTAState uint8

const (
	OTAIdle OTAState = iota
	OTAReceiving
	OTAVerifying
	OTAApplying
	OTAError
)

func (s OTAState) String() string {
	switch s {
	case OTAIdle:
		return "idle"
	case OTAReceiving:
		return "receiving"
	case OTAVerifying:
		return "verifying"
	case OTAApplying:
		return "applying"
	case OTAError:
		return "error"
	default:
		return "unknown"
	}
}

// Defaults, overridable via config.
const (
	defaultChunkTimeout  = 30 * time.Second
	defaultErrorCooldown = 10 * time.Second
	defaultMinBattery    = 20
)

// OTAController is the chunked-transfer state machine. It writes the
// incoming image into the inactive bank, verifies integrity, and does a
// crash-safe two-phase activation: apply, then explicit confirm after a
// successful reboot, else the platform's dual-image rollback restores
// the previous image.
type OTAController struct {
	st   store.Store
	bank types.ImageBank
	rst  types.Restarter

	// Domain preconditions supplied by the lock manager / power state.
	isLocked   func() bool
	batteryPct func() int

	state    OTAState
	total    int64
	received int64
	expected uint32
	running  uint32

	errCode errcode.Code
	errMsg  string
	errAt   time.Duration

	lastChunk   time.Duration
	lastPct     int
	progressed  bool
	writing     bool
	pendingConf bool

	ChunkTimeout  time.Duration
	ErrorCooldown time.Duration
	MinBattery    int

	now func() time.Duration
}

var crcTable = crc32.MakeTable(crc32.IEEE)

func NewOTAController(st store.Store, bank types.ImageBank, rst types.Restarter,
	isLocked func() bool, batteryPct func() int, now func() time.Duration) *OTAController {
	return &OTAController{
		st:            st,
		bank:          bank,
		rst:           rst,
		isLocked:      isLocked,
		batteryPct:    batteryPct,
		now:           now,
		ChunkTimeout:  defaultChunkTimeout,
		ErrorCooldown: defaultErrorCooldown,
		MinBattery:    defaultMinBattery,
	}
}

func (c *OTAController) State() OTAState           { return c.state }
func (c *OTAController) Received() int64           { return c.received }
func (c *OTAController) Total() int64              { return c.total }
func (c *OTAController) ErrCode() errcode.Code     { return c.errCode }
func (c *OTAController) PendingConfirmation() bool { return c.pendingConf }

// LoadFromStore restores the pending-confirmation flag after a reboot.
func (c *OTAController) LoadFromStore() {
	if _, ok, _ := c.st.Get(store.NSOTA, store.KeyPending); ok {
		c.pendingConf = true
	}
}

// Start opens a transfer. A non-zero resume offset continues a
// previously interrupted one; the running CRC restarts from that
// offset, trusting the peer's claim (the final whole-image CRC still
// gates activation).
func (c *OTAController) Start(total int64, expectedCRC uint32, resume int64) errcode.Code {
	// Precondition denials reject the request without disturbing the
	// machine; in particular a stray start while receiving must not
	// discard the in-flight transfer.
	if c.state != OTAIdle {
		return errcode.BadOTAState
	}
	if c.isLocked() {
		return errcode.DeviceLocked
	}
	if pct := c.batteryPct(); pct < c.MinBattery {
		return errcode.BatteryLow
	}
	if total <= 0 || resume < 0 || resume >= total {
		return errcode.ImageInvalid
	}
	if total > c.bank.Capacity() {
		return errcode.StorageFull
	}
	if err := c.bank.Open(resume); err != nil {
		return c.fail(errcode.WriteFailed, err.Error())
	}

	c.state = OTAReceiving
	c.writing = true
	c.total = total
	c.expected = expectedCRC
	c.received = resume
	c.running = 0
	c.lastChunk = c.now()
	c.lastPct = -1
	return errcode.OK
}

// Chunk folds one payload into the transfer. Valid only while
// receiving.
func (c *OTAController) Chunk(p []byte) errcode.Code {
	if c.state != OTAReceiving {
		return errcode.BadOTAState
	}
	if c.received+int64(len(p)) > c.total {
		return c.fail(errcode.ImageInvalid, "chunk overruns declared size")
	}
	n, err := c.bank.Write(p)
	if err != nil || n != len(p) {
		return c.fail(errcode.WriteFailed, "bank write failed")
	}
	c.running = crc32.Update(c.running, crcTable, p)
	c.received += int64(len(p))
	c.lastChunk = c.now()

	// Progress notifications are rate-limited to 5% steps to bound
	// wireless traffic.
	if pct := c.Progress(); c.lastPct < 0 || pct >= c.lastPct+5 || pct == 100 {
		c.lastPct = pct
		c.progressed = true
	}
	return errcode.OK
}

// Progress returns whole percent received, 0 when no transfer is up.
func (c *OTAController) Progress() int {
	if c.total <= 0 {
		return 0
	}
	return int(c.received * 100 / c.total)
}

// TakeProgressNotification reports and clears the pending progress
// signal; the service republishes status when it fires.
func (c *OTAController) TakeProgressNotification() bool {
	p := c.progressed
	c.progressed = false
	return p
}

// Verify finalises the CRC. Integrity failures are detected here and
// never earlier.
func (c *OTAController) Verify() errcode.Code {
	if c.state != OTAReceiving {
		return errcode.BadOTAState
	}
	if c.received != c.total {
		return c.fail(errcode.ImageInvalid, "transfer incomplete")
	}
	if c.running != c.expected {
		return c.fail(errcode.CRCMismatch, "image checksum mismatch")
	}
	c.state = OTAVerifying
	return errcode.OK
}

// Apply seals the image, marks it for next boot, persists the
// pending-confirmation flag and restarts. There is no synchronous
// return to Receiving from here.
func (c *OTAController) Apply() errcode.Code {
	if c.state != OTAVerifying {
		return errcode.BadOTAState
	}
	c.state = OTAApplying
	if err := c.bank.Seal(); err != nil {
		return c.fail(errcode.WriteFailed, err.Error())
	}
	if err := c.bank.Activate(); err != nil {
		return c.fail(errcode.WriteFailed, err.Error())
	}
	c.writing = false
	if err := c.st.Put(store.NSOTA, store.KeyPending, []byte{1}); err != nil {
		return c.fail(errcode.StoreFailed, err.Error())
	}
	c.rst.Restart()
	return errcode.OK
}

// Confirm marks the new image permanently good after a successful
// reboot. Without it, the platform's rollback remains armed; the core
// must not confirm prematurely.
func (c *OTAController) Confirm() errcode.Code {
	if !c.pendingConf {
		return errcode.BadOTAState
	}
	if err := c.bank.ConfirmGood(); err != nil {
		println("Warn: confirm image failed:", err.Error())
		return errcode.WriteFailed
	}
	_ = c.st.Delete(store.NSOTA, store.KeyPending)
	c.pendingConf = false
	return errcode.OK
}

// Abort cancels an active transfer. Cancellation always lands in the
// terminal Error state so the peer gets a notification, never a silent
// reset.
func (c *OTAController) Abort(code errcode.Code, msg string) errcode.Code {
	if c.state == OTAIdle || c.state == OTAError {
		return errcode.BadOTAState
	}
	c.fail(code, msg)
	return errcode.OK
}

func (c *OTAController) fail(code errcode.Code, msg string) errcode.Code {
	if c.writing {
		_ = c.bank.Discard()
		c.writing = false
	}
	c.state = OTAError
	c.errCode = code
	c.errMsg = msg
	c.errAt = c.now()
	println("Warn: ota error:", string(code), msg)
	return code
}

// Tick runs the chunk watchdog and the error cool-down.
func (c *OTAController) Tick(now time.Duration) {
	switch c.state {
	case OTAReceiving:
		if now-c.lastChunk > c.ChunkTimeout {
			c.fail(errcode.ChunkTimeout, "no chunk within watchdog window")
			c.progressed = true
		}
	case OTAError:
		if now-c.errAt > c.ErrorCooldown {
			c.state = OTAIdle
			c.errCode = ""
			c.errMsg = ""
			c.total = 0
			c.received = 0
			c.progressed = true
		}
	}
}
