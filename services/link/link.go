// Package link owns the wireless companion connection. It frames the
// five logical channels over one byte stream, routes inbound frames
// onto the bus, mirrors the retained status and event documents back to
// the peer, and reports link level on link/state so the core can track
// offline fallback.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"timelock-go/bus"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the link service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","link"} and
// (re)configures the connection.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("link", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/link".
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "ws" (provided by the host build) or other names registered via
	// RegisterTransport; the device build registers its radio here.
	Type   string `json:"type"`
	Listen string `json:"listen,omitempty"` // ws only
}

// -----------------------------------------------------------------------------
// Channel framing
// -----------------------------------------------------------------------------

// One byte stream carries five logical channels. Each frame is
// channel byte, 2-byte big endian length, payload.
const (
	ChCommand byte = 0x01 // textual commands, result codes back
	ChStatus  byte = 0x02 // retained status document, device to peer
	ChEvents  byte = 0x03 // event export out, CLEAR/ACK in
	ChOTA     byte = 0x04 // raw firmware chunks, peer to device
	ChDisplay byte = 0x05 // keyholder message text
)

// Frame is one channel-tagged payload.
type Frame struct {
	Ch      byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Ch: hdr[0], Payload: buf}, nil
}

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	hdr := []byte{f.Ch, byte(len(f.Payload) >> 8), byte(len(f.Payload) & 0xFF)}
	if _, err := fw.w.Write(hdr); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

var (
	topicCmd      = bus.T("timelock", "cmd")
	topicDisplay  = bus.T("timelock", "display")
	topicEventCmd = bus.T("events", "cmd")
	topicOTAData  = bus.T("ota", "data")
	topicStatus   = bus.T("timelock", "status")
	topicEvents   = bus.T("events", "export")
	topicResult   = bus.T("timelock", "result")
)

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "link"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	bo := newBackoff(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := bo.next()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		// A successful connection restarts the sequence, so the next
		// reconnect after a long-lived link is prompt again.
		bo.reset()
		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, rwc); err != nil {
			_ = rwc.Close()
			delay := bo.next()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		_ = rwc.Close()
		return
	}
}

// handleLink owns the active link lifetime: inbound frames route to the
// bus, retained documents and command results mirror back to the peer.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser) error {
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	// Retained subscriptions replay the current status and event
	// documents, so a peer reconnecting mid-session sees state
	// immediately.
	statusSub := s.conn.Subscribe(topicStatus)
	eventsSub := s.conn.Subscribe(topicEvents)
	resultSub := s.conn.Subscribe(topicResult)
	defer func() {
		s.conn.Unsubscribe(statusSub)
		s.conn.Unsubscribe(eventsSub)
		s.conn.Unsubscribe(resultSub)
	}()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			s.routeInbound(f)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		case msg := <-statusSub.Channel():
			if err := wr.WriteFrame(Frame{Ch: ChStatus, Payload: asBytes(msg.Payload)}); err != nil {
				return err
			}
		case msg := <-eventsSub.Channel():
			if err := wr.WriteFrame(Frame{Ch: ChEvents, Payload: asBytes(msg.Payload)}); err != nil {
				return err
			}
		case msg := <-resultSub.Channel():
			if err := wr.WriteFrame(Frame{Ch: ChCommand, Payload: asBytes(msg.Payload)}); err != nil {
				return err
			}
		}
	}
}

func (s *Service) routeInbound(f Frame) {
	switch f.Ch {
	case ChCommand:
		s.conn.Publish(s.conn.NewMessage(topicCmd, string(f.Payload), false))
	case ChDisplay:
		s.conn.Publish(s.conn.NewMessage(topicDisplay, string(f.Payload), false))
	case ChEvents:
		s.conn.Publish(s.conn.NewMessage(topicEventCmd, string(f.Payload), false))
	case ChOTA:
		s.conn.Publish(s.conn.NewMessage(topicOTAData, f.Payload, false))
	default:
		println("Warn: frame on unknown channel:", int(f.Ch))
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows builds to add transports (the host binary
// registers "ws", the device build its radio).
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
	return f(cfg)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	if cfg.Transport.Type == "" {
		return cfg, errors.New("missing transport type")
	}
	return cfg, nil
}

func asBytes(p any) []byte {
	switch v := p.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		b, _ := json.Marshal(v)
		return b
	}
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

// backoff yields an exponential retry delay sequence, doubling from min
// up to max.
type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max, cur: min}
}

func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

func (b *backoff) reset() { b.cur = b.min }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
