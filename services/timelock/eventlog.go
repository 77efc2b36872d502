package timelock

import (
	"sort"

	"timelock-go/store"
	"timelock-go/types"
	"timelock-go/x/timex"
)

const (
	// EventCapacity bounds the in-memory buffer. Oldest entries are
	// sacrificed for recency when it overflows.
	EventCapacity = 50
	// DurableSlots bounds the critical-event ring in the store. The
	// fixed slot count bounds flash wear.
	DurableSlots = 10
)

var slotKeys = [DurableSlots]string{
	"slot0", "slot1", "slot2", "slot3", "slot4",
	"slot5", "slot6", "slot7", "slot8", "slot9",
}

// Entry is one buffered domain event.
type Entry struct {
	Seq             uint16
	Kind            types.EventKind
	TS              int64
	NeedsCorrection bool
	Persisted       bool
	Detail          int32
}

// EventLog is the append-only, sequence-numbered event buffer. Critical
// events are additionally mirrored into the durable slot ring so they
// survive reboot even if the in-memory buffer is lost.
type EventLog struct {
	clock *timex.Clock
	st    store.Store

	entries []Entry
	nextSeq uint16
	dropped uint32
	cursor  int
}

func NewEventLog(clock *timex.Clock, st store.Store) *EventLog {
	return &EventLog{clock: clock, st: st, nextSeq: 1}
}

// Record appends an event with the next sequence number and the best
// available timestamp. Never fails; a full buffer drops the oldest
// entry and counts it.
func (l *EventLog) Record(kind types.EventKind, detail int32) Entry {
	ts, known := l.clock.Best()
	e := Entry{
		Seq:             l.nextSeq,
		Kind:            kind,
		TS:              ts,
		NeedsCorrection: !known,
		Detail:          detail,
	}
	l.nextSeq++

	if kind.Critical() {
		e.Persisted = l.persistCritical(e)
	}

	if len(l.entries) >= EventCapacity {
		l.entries = l.entries[1:]
		l.dropped++
	}
	l.entries = append(l.entries, e)
	return e
}

func (l *EventLog) persistCritical(e Entry) bool {
	rec := store.CriticalEvent{
		Seq:             e.Seq,
		Kind:            e.Kind,
		TS:              e.TS,
		NeedsCorrection: e.NeedsCorrection,
		Detail:          e.Detail,
	}
	b, err := store.EncodeCriticalEvent(rec)
	if err != nil {
		println("Warn: event encode failed:", err.Error())
		return false
	}
	if err := l.st.Put(store.NSEvents, slotKeys[l.cursor], b); err != nil {
		println("Warn: event slot write failed:", err.Error())
		return false
	}
	l.cursor = (l.cursor + 1) % DurableSlots
	if err := l.st.Put(store.NSEvents, store.KeyCursor, []byte{byte(l.cursor)}); err != nil {
		println("Warn: event cursor write failed:", err.Error())
	}
	return true
}

// Acknowledge removes the contiguous prefix with seq <= upTo from
// memory and from the durable ring. Removal is prefix-only, so a
// partial acknowledgement cannot punch holes in the buffer.
func (l *EventLog) Acknowledge(upTo uint16) {
	i := 0
	for i < len(l.entries) && l.entries[i].Seq <= upTo {
		i++
	}
	l.entries = l.entries[i:]

	for _, key := range slotKeys {
		b, ok, err := l.st.Get(store.NSEvents, key)
		if err != nil || !ok {
			continue
		}
		rec, err := store.DecodeCriticalEvent(b)
		if err != nil || rec.Seq <= upTo {
			_ = l.st.Delete(store.NSEvents, key)
		}
	}
}

// AcknowledgeAll clears the whole buffer and the durable ring.
func (l *EventLog) AcknowledgeAll() {
	if len(l.entries) == 0 {
		l.Acknowledge(0)
		return
	}
	l.Acknowledge(l.entries[len(l.entries)-1].Seq)
}

// LoadFromStore repopulates the buffer from the durable ring at boot
// and advances the sequence counter past the highest recovered value so
// fresh events never collide with recovered ones.
func (l *EventLog) LoadFromStore() {
	if b, ok, _ := l.st.Get(store.NSEvents, store.KeyCursor); ok && len(b) == 1 && int(b[0]) < DurableSlots {
		l.cursor = int(b[0])
	}

	var recovered []Entry
	for _, key := range slotKeys {
		b, ok, err := l.st.Get(store.NSEvents, key)
		if err != nil || !ok {
			continue
		}
		rec, err := store.DecodeCriticalEvent(b)
		if err != nil {
			println("Warn: dropping undecodable event slot", key)
			_ = l.st.Delete(store.NSEvents, key)
			continue
		}
		recovered = append(recovered, Entry{
			Seq:             rec.Seq,
			Kind:            rec.Kind,
			TS:              rec.TS,
			NeedsCorrection: rec.NeedsCorrection,
			Persisted:       true,
			Detail:          rec.Detail,
		})
	}
	sort.Slice(recovered, func(i, j int) bool { return recovered[i].Seq < recovered[j].Seq })

	l.entries = recovered
	for _, e := range recovered {
		if e.Seq >= l.nextSeq {
			l.nextSeq = e.Seq + 1
		}
	}
}

// Len returns the buffered event count.
func (l *EventLog) Len() int { return len(l.entries) }

// Dropped returns how many events were lost to overflow.
func (l *EventLog) Dropped() uint32 { return l.dropped }

// Last returns the most recent entry, if any.
func (l *EventLog) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// EventDoc is one exported event in the wire document.
type EventDoc struct {
	Seq             uint16 `json:"seq"`
	Type            string `json:"type"`
	TS              int64  `json:"ts"`
	NeedsCorrection bool   `json:"needs_correction"`
	Persisted       bool   `json:"persisted"`
	Detail          int32  `json:"detail"`
}

// ExportDoc is the peer-readable export document.
type ExportDoc struct {
	Count     int        `json:"count"`
	TimeValid bool       `json:"time_valid"`
	Dropped   uint32     `json:"dropped"`
	Events    []EventDoc `json:"events"`
}

// Snapshot exports the current buffer. Consumers use TimeValid to
// decide whether raw timestamps can be trusted.
func (l *EventLog) Snapshot() ExportDoc {
	doc := ExportDoc{
		Count:     len(l.entries),
		TimeValid: l.clock.WallKnown(),
		Dropped:   l.dropped,
		Events:    make([]EventDoc, 0, len(l.entries)),
	}
	for _, e := range l.entries {
		doc.Events = append(doc.Events, EventDoc{
			Seq:             e.Seq,
			Type:            e.Kind.String(),
			TS:              e.TS,
			NeedsCorrection: e.NeedsCorrection,
			Persisted:       e.Persisted,
			Detail:          e.Detail,
		})
	}
	return doc
}
