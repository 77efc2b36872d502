package timelock

import "timelock-go/bus"

// Inbound topics (published by the link and the input collaborators).
var (
	TopicCmd       = bus.T("timelock", "cmd")     // textual command, one per message
	TopicDisplay   = bus.T("timelock", "display") // keyholder message text
	TopicEventsCmd = bus.T("events", "cmd")       // CLEAR / ACK:<seq>
	TopicOTAData   = bus.T("ota", "data")         // raw firmware chunk bytes

	TopicInputButton = bus.T("input", "button")  // types.ButtonValue
	TopicInputLid    = bus.T("input", "lid")     // types.LidValue
	TopicBattery     = bus.T("power", "battery") // types.BatteryState, retained
	TopicLinkState   = bus.T("link", "state")    // link level map, retained

	TopicConfig = bus.T("config", "timelock")
)

// Outbound topics.
var (
	TopicStatus = bus.T("timelock", "status") // JSON snapshot, retained
	TopicEvents = bus.T("events", "export")   // JSON export, retained
	TopicResult = bus.T("timelock", "result") // command result code, transient
)
