//go:build grpc_mtp

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/transport/grpctransport"
)

// GRPCMTP is a Message Transport Protocol over gRPC: connections are
// cached per address and reused, grounded on the teacher's GRPCInvoker
// connection-caching pattern.
type GRPCMTP struct {
	listenAddr string
	timeout    time.Duration

	connsMu sync.Mutex
	conns   map[string]*grpc.ClientConn

	server   *grpc.Server
	listener net.Listener

	inboundMu sync.Mutex
	inbound   []domain.MessageEnvelope

	status domain.MTPStatus

	sent, received, failed atomic.Uint64
}

// NewGRPCMTP creates an inactive gRPC MTP.
func NewGRPCMTP(listenAddr string) *GRPCMTP {
	return &GRPCMTP{
		listenAddr: listenAddr,
		timeout:    30 * time.Second,
		conns:      make(map[string]*grpc.ClientConn),
		status:     domain.MTPInactive,
	}
}

func (g *GRPCMTP) Name() string             { return "grpc" }
func (g *GRPCMTP) Schemes() []string        { return []string{"grpc"} }
func (g *GRPCMTP) Status() domain.MTPStatus { return g.status }

func (g *GRPCMTP) Activate(ctx context.Context, config map[string]string) error {
	g.status = domain.MTPStarting

	addr := g.listenAddr
	if v, ok := config["addr"]; ok && v != "" {
		addr = v
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		g.status = domain.MTPError
		return fmt.Errorf("grpc mtp listen %s: %w", addr, err)
	}
	g.listener = ln

	g.server = grpc.NewServer()
	grpctransport.RegisterEnvelopeServiceServer(g.server, &envelopeServer{mtp: g})

	go g.server.Serve(ln)

	g.status = domain.MTPActive
	return nil
}

func (g *GRPCMTP) Deactivate(ctx context.Context) error {
	g.status = domain.MTPStopping
	defer func() { g.status = domain.MTPInactive }()

	g.connsMu.Lock()
	for addr, conn := range g.conns {
		conn.Close()
		delete(g.conns, addr)
	}
	g.connsMu.Unlock()

	if g.server != nil {
		g.server.GracefulStop()
	}
	return nil
}

func (g *GRPCMTP) getConn(address string) (*grpc.ClientConn, error) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()

	if conn, ok := g.conns[address]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc connect %s: %w", address, err)
	}
	g.conns[address] = conn
	return conn, nil
}

func (g *GRPCMTP) Send(ctx context.Context, env domain.MessageEnvelope, address string) (domain.DeliveryResult, error) {
	conn, err := g.getConn(address)
	if err != nil {
		g.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client := grpctransport.NewEnvelopeServiceClient(conn)
	resp, err := client.Deliver(callCtx, toWireRequest(env))
	if err != nil {
		g.connsMu.Lock()
		if g.conns[address] == conn {
			delete(g.conns, address)
			_ = conn.Close()
		}
		g.connsMu.Unlock()
		g.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("%w: %s", domain.ErrConnectionFailed, err)
	}
	if resp.Error != "" {
		g.failed.Add(1)
		return domain.DeliveryResult{}, fmt.Errorf("grpc mtp: %s", resp.Error)
	}

	g.sent.Add(1)
	return domain.DeliveryResult{Delivered: resp.Delivered, Detail: resp.Detail}, nil
}

func (g *GRPCMTP) Receive(ctx context.Context) (domain.MessageEnvelope, bool, error) {
	g.inboundMu.Lock()
	defer g.inboundMu.Unlock()

	if len(g.inbound) == 0 {
		return domain.MessageEnvelope{}, false, nil
	}
	env := g.inbound[0]
	g.inbound = g.inbound[1:]
	return env, true, nil
}

func (g *GRPCMTP) Stats() domain.MTPStats {
	return domain.MTPStats{Sent: g.sent.Load(), Received: g.received.Load(), Failed: g.failed.Load()}
}

func toWireRequest(env domain.MessageEnvelope) *grpctransport.DeliverRequest {
	stamps := make([]grpctransport.ACCStamp, len(env.TransportInfo))
	for i, s := range env.TransportInfo {
		stamps[i] = grpctransport.ACCStamp{ReceivedBy: s.ReceivedBy, ReceivedAtUnixNano: s.ReceivedAt.UnixNano(), Via: s.Via}
	}
	return &grpctransport.DeliverRequest{
		ID: env.ID, From: env.From, To: env.To,
		DateUnixNano:  env.Date.UnixNano(),
		TransportInfo: stamps,
		Payload:       env.Payload,
	}
}

// envelopeServer adapts GRPCMTP to grpctransport.EnvelopeServiceServer.
type envelopeServer struct {
	grpctransport.UnimplementedEnvelopeServiceServer
	mtp *GRPCMTP
}

func (s *envelopeServer) Deliver(ctx context.Context, req *grpctransport.DeliverRequest) (*grpctransport.DeliverResponse, error) {
	stamps := make([]domain.ACCStamp, len(req.TransportInfo))
	for i, st := range req.TransportInfo {
		stamps[i] = domain.ACCStamp{ReceivedBy: st.ReceivedBy, ReceivedAt: time.Unix(0, st.ReceivedAtUnixNano), Via: st.Via}
	}
	env := domain.MessageEnvelope{
		ID: req.ID, From: req.From, To: req.To,
		Date:          time.Unix(0, req.DateUnixNano),
		TransportInfo: stamps,
		Payload:       req.Payload,
	}

	s.mtp.inboundMu.Lock()
	s.mtp.inbound = append(s.mtp.inbound, env)
	s.mtp.inboundMu.Unlock()
	s.mtp.received.Add(1)

	return &grpctransport.DeliverResponse{Delivered: true}, nil
}

var _ domain.MTP = (*GRPCMTP)(nil)
