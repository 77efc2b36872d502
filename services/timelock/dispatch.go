package timelock

import (
	"strconv"
	"strings"

	"timelock-go/errcode"
	"timelock-go/types"
	"timelock-go/x/timex"
)

// MaxDisplayText bounds the keyholder message channel.
const MaxDisplayText = 64

// Dispatcher parses the textual command vocabulary and routes to the
// owning managers. It performs syntactic validation only; domain rules
// live in the managers.
type Dispatcher struct {
	clock *timex.Clock
	lock  *LockManager
	ota   *OTAController
	log   *EventLog
	disp  types.Display

	// statusRequested is set by STATUS and consumed by the service loop.
	statusRequested bool
}

func NewDispatcher(clock *timex.Clock, lock *LockManager, ota *OTAController, log *EventLog, disp types.Display) *Dispatcher {
	return &Dispatcher{clock: clock, lock: lock, ota: ota, log: log, disp: disp}
}

// HandleCommand applies one command from the wireless command channel.
func (d *Dispatcher) HandleCommand(line string) errcode.Code {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, "LOCK:"):
		return d.handleLock(line[len("LOCK:"):])
	case line == "UNLOCK":
		return d.lock.Unlock()
	case line == "FORCE_UNLOCK":
		d.lock.EmergencyUnlock(types.EmergencyRemote)
		return errcode.OK
	case line == "STATUS":
		d.statusRequested = true
		return errcode.OK
	case line == "CLEAR_TAMPER":
		d.lock.ClearTamper()
		return errcode.OK
	case strings.HasPrefix(line, "TIME:"):
		return d.handleTime(line[len("TIME:"):])
	case strings.HasPrefix(line, "OTA_START:"):
		return d.handleOTAStart(line[len("OTA_START:"):])
	case line == "OTA_ABORT":
		return d.ota.Abort(errcode.Error, "aborted by peer")
	case line == "OTA_VERIFY":
		return d.ota.Verify()
	case line == "OTA_APPLY":
		return d.ota.Apply()
	case line == "OTA_CONFIRM":
		return d.ota.Confirm()
	default:
		return errcode.InvalidCommand
	}
}

func (d *Dispatcher) handleLock(arg string) errcode.Code {
	minutes, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || minutes > types.MaxLockMinutes {
		return errcode.InvalidDuration
	}
	return d.lock.RequestLock(uint32(minutes))
}

func (d *Dispatcher) handleTime(arg string) errcode.Code {
	unix, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return errcode.InvalidParams
	}
	if !d.clock.SetWallClock(unix) {
		return errcode.ImplausibleTime
	}
	d.lock.ReconcileTime()
	return errcode.OK
}

// handleOTAStart parses "<size>:<crc_hex>[:<resume_offset>]".
func (d *Dispatcher) handleOTAStart(arg string) errcode.Code {
	parts := strings.Split(arg, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return errcode.InvalidParams
	}
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || size <= 0 {
		return errcode.InvalidParams
	}
	crc, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 32)
	if err != nil {
		return errcode.InvalidParams
	}
	var resume int64
	if len(parts) == 3 {
		resume, err = strconv.ParseInt(parts[2], 10, 64)
		if err != nil || resume < 0 {
			return errcode.InvalidParams
		}
	}
	return d.ota.Start(size, uint32(crc), resume)
}

// HandleEventCommand applies one command from the event channel.
func (d *Dispatcher) HandleEventCommand(line string) errcode.Code {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case line == "CLEAR":
		d.log.AcknowledgeAll()
		return errcode.OK
	case strings.HasPrefix(line, "ACK:"):
		seq, err := strconv.ParseUint(line[len("ACK:"):], 10, 16)
		if err != nil {
			return errcode.InvalidParams
		}
		d.log.Acknowledge(uint16(seq))
		return errcode.OK
	default:
		return errcode.InvalidCommand
	}
}

// HandleDisplayText sets or clears the keyholder message.
func (d *Dispatcher) HandleDisplayText(text string) errcode.Code {
	if len(text) > MaxDisplayText {
		return errcode.InvalidParams
	}
	d.disp.SetText(text)
	return errcode.OK
}

// HandleChunk routes raw firmware bytes to the update controller.
func (d *Dispatcher) HandleChunk(p []byte) errcode.Code {
	return d.ota.Chunk(p)
}

// TakeStatusRequest reports and clears a pending STATUS request.
func (d *Dispatcher) TakeStatusRequest() bool {
	r := d.statusRequested
	d.statusRequested = false
	return r
}
