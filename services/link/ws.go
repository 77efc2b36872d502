package link

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func init() {
	RegisterTransport("ws", newWSTransport)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport accepts one companion connection at a time over a
// websocket endpoint. The device side of the link is the server; the
// companion app dials in.
type wsTransport struct {
	listen string

	once  sync.Once
	conns chan *websocket.Conn
}

func newWSTransport(cfg TransportConfig) (Transport, error) {
	if cfg.Listen == "" {
		return nil, errors.New("ws transport requires a listen address")
	}
	return &wsTransport{listen: cfg.Listen, conns: make(chan *websocket.Conn)}, nil
}

func (t *wsTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	t.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/link", t.handleUpgrade)
		srv := &http.Server{Addr: t.listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				println("Warn: link listener failed:", err.Error())
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-t.conns:
		return &wsConn{c: c}, nil
	}
}

func (t *wsTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		println("Warn: websocket upgrade failed:", err.Error())
		return
	}
	select {
	case t.conns <- c:
	default:
		// A companion is already connected; reject the newcomer.
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "link busy"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}

func (t *wsTransport) String() string { return "ws" }

// wsConn adapts a websocket connection to the byte-stream interface the
// framing layer expects. Frames may straddle websocket messages.
type wsConn struct {
	c   *websocket.Conn
	buf []byte

	wmu sync.Mutex
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		_, msg, err := w.c.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.buf = msg
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error { return w.c.Close() }
