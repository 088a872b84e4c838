package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fipacore/platform/internal/domain"
)

// HTTPMTP is a Message Transport Protocol over HTTP(S): an envelope is
// POSTed to the peer's address and queued locally for Receive on the
// inbound side, grounded on the teacher's channel.HTTPChannel (bound
// listener, background Serve goroutine, graceful Shutdown) generalized
// from a chat API to raw envelope delivery.
type HTTPMTP struct {
	listenAddr string
	client     *http.Client

	server    *http.Server
	boundAddr string

	mu      sync.Mutex
	inbound []domain.MessageEnvelope
	status  domain.MTPStatus

	sent, received, failed atomic.Uint64
}

// NewHTTPMTP creates an inactive HTTP MTP bound to listenAddr once
// Activate is called.
func NewHTTPMTP(listenAddr string) *HTTPMTP {
	return &HTTPMTP{
		listenAddr: listenAddr,
		client:     &http.Client{Timeout: 10 * time.Second},
		status:     domain.MTPInactive,
	}
}

func (h *HTTPMTP) Name() string         { return "http" }
func (h *HTTPMTP) Schemes() []string    { return []string{"http", "https"} }
func (h *HTTPMTP) Status() domain.MTPStatus { return h.status }

// Activate starts the inbound listener. config may override "addr".
func (h *HTTPMTP) Activate(ctx context.Context, config map[string]string) error {
	h.status = domain.MTPStarting

	addr := h.listenAddr
	if v, ok := config["addr"]; ok && v != "" {
		addr = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mtp/deliver", h.handleDeliver)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		h.status = domain.MTPError
		return fmt.Errorf("http mtp listen %s: %w", addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.status = domain.MTPError
		}
	}()

	h.status = domain.MTPActive
	return nil
}

func (h *HTTPMTP) Deactivate(ctx context.Context) error {
	h.status = domain.MTPStopping
	defer func() { h.status = domain.MTPInactive }()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Send POSTs env's JSON encoding to address + "/mtp/deliver".
func (h *HTTPMTP) Send(ctx context.Context, env domain.MessageEnvelope, address string) (domain.DeliveryResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		h.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrSerialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address+"/mtp/deliver", bytes.NewReader(body))
	if err != nil {
		h.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		h.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: http status %d", domain.ErrConnectionFailed, resp.StatusCode)
	}

	h.sent.Add(1)
	return domain.DeliveryResult{Delivered: true}, nil
}

// Receive pops the oldest queued inbound envelope, if any.
func (h *HTTPMTP) Receive(ctx context.Context) (domain.MessageEnvelope, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.inbound) == 0 {
		return domain.MessageEnvelope{}, false, nil
	}
	env := h.inbound[0]
	h.inbound = h.inbound[1:]
	return env, true, nil
}

func (h *HTTPMTP) Stats() domain.MTPStats {
	return domain.MTPStats{Sent: h.sent.Load(), Received: h.received.Load(), Failed: h.failed.Load()}
}

// BoundAddr returns the actual listen address, valid after Activate.
func (h *HTTPMTP) BoundAddr() string { return h.boundAddr }

func (h *HTTPMTP) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var env domain.MessageEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "invalid envelope", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.inbound = append(h.inbound, env)
	h.mu.Unlock()
	h.received.Add(1)

	w.WriteHeader(http.StatusAccepted)
}

var _ domain.MTP = (*HTTPMTP)(nil)
