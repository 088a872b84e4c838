package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fipacore/platform/internal/domain"
)

// WebSocketMTP is a Message Transport Protocol over persistent WebSocket
// connections: one long-lived connection per peer address, dialed lazily
// and reused across sends. Grounded on the teacher's gateway.Server
// (websocket.Accept + wsjson.Read/Write over a buffered per-connection
// queue) and voice_call_openai_stt.go's client-side websocket.Dial.
type WebSocketMTP struct {
	listenAddr string

	server    *http.Server
	boundAddr string

	mu    sync.Mutex
	conns map[string]*websocket.Conn // address -> outbound connection

	inboundMu sync.Mutex
	inbound   []domain.MessageEnvelope

	status domain.MTPStatus

	sent, received, failed atomic.Uint64
}

// NewWebSocketMTP creates an inactive WebSocket MTP.
func NewWebSocketMTP(listenAddr string) *WebSocketMTP {
	return &WebSocketMTP{
		listenAddr: listenAddr,
		conns:      make(map[string]*websocket.Conn),
		status:     domain.MTPInactive,
	}
}

func (w *WebSocketMTP) Name() string             { return "websocket" }
func (w *WebSocketMTP) Schemes() []string        { return []string{"ws", "wss"} }
func (w *WebSocketMTP) Status() domain.MTPStatus { return w.status }

func (w *WebSocketMTP) Activate(ctx context.Context, config map[string]string) error {
	w.status = domain.MTPStarting

	addr := w.listenAddr
	if v, ok := config["addr"]; ok && v != "" {
		addr = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mtp/ws", w.handleUpgrade)

	w.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		w.status = domain.MTPError
		return fmt.Errorf("websocket mtp listen %s: %w", addr, err)
	}
	w.boundAddr = ln.Addr().String()

	go func() {
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.status = domain.MTPError
		}
	}()

	w.status = domain.MTPActive
	return nil
}

func (w *WebSocketMTP) Deactivate(ctx context.Context) error {
	w.status = domain.MTPStopping
	defer func() { w.status = domain.MTPInactive }()

	w.mu.Lock()
	for addr, conn := range w.conns {
		conn.Close(websocket.StatusGoingAway, "mtp deactivated")
		delete(w.conns, addr)
	}
	w.mu.Unlock()

	if w.server == nil {
		return nil
	}
	return w.server.Shutdown(ctx)
}

func (w *WebSocketMTP) connFor(ctx context.Context, address string) (*websocket.Conn, error) {
	w.mu.Lock()
	if conn, ok := w.conns[address]; ok {
		w.mu.Unlock()
		return conn, nil
	}
	w.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, address+"/mtp/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
	}

	w.mu.Lock()
	w.conns[address] = conn
	w.mu.Unlock()
	return conn, nil
}

// Send writes env as a JSON frame over the persistent connection to
// address, dialing one if none is cached yet.
func (w *WebSocketMTP) Send(ctx context.Context, env domain.MessageEnvelope, address string) (domain.DeliveryResult, error) {
	conn, err := w.connFor(ctx, address)
	if err != nil {
		w.failed.Add(1)
		return domain.DeliveryResult{}, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, env); err != nil {
		w.mu.Lock()
		delete(w.conns, address)
		w.mu.Unlock()
		w.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
	}

	w.sent.Add(1)
	return domain.DeliveryResult{Delivered: true}, nil
}

func (w *WebSocketMTP) Receive(ctx context.Context) (domain.MessageEnvelope, bool, error) {
	w.inboundMu.Lock()
	defer w.inboundMu.Unlock()

	if len(w.inbound) == 0 {
		return domain.MessageEnvelope{}, false, nil
	}
	env := w.inbound[0]
	w.inbound = w.inbound[1:]
	return env, true, nil
}

func (w *WebSocketMTP) Stats() domain.MTPStats {
	return domain.MTPStats{Sent: w.sent.Load(), Received: w.received.Load(), Failed: w.failed.Load()}
}

// BoundAddr returns the actual listen address, valid after Activate.
func (w *WebSocketMTP) BoundAddr() string { return w.boundAddr }

func (w *WebSocketMTP) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var env domain.MessageEnvelope
		if err := wsjson.Read(r.Context(), conn, &env); err != nil {
			return
		}
		w.inboundMu.Lock()
		w.inbound = append(w.inbound, env)
		w.inboundMu.Unlock()
		w.received.Add(1)
	}
}

var _ domain.MTP = (*WebSocketMTP)(nil)
