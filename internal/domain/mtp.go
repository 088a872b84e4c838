package domain

import "context"

// MTPStatus is the lifecycle state of a pluggable message transport.
type MTPStatus string

const (
	MTPInactive MTPStatus = "inactive"
	MTPStarting MTPStatus = "starting"
	MTPActive   MTPStatus = "active"
	MTPStopping MTPStatus = "stopping"
	MTPError    MTPStatus = "error"
)

// MTPStats is a point-in-time counter snapshot for an MTP, exposed for
// ambient observability (the dashboard/metrics backend that would render
// it is out of scope, but the bus they'd subscribe to is not).
type MTPStats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Failed   uint64 `json:"failed"`
}

// MTP is a pluggable Message Transport Protocol, identified by the URL
// schemes it serves (http/https, and any platform-specific scheme).
type MTP interface {
	Name() string
	Schemes() []string
	Status() MTPStatus
	Activate(ctx context.Context, config map[string]string) error
	Deactivate(ctx context.Context) error
	Send(ctx context.Context, envelope MessageEnvelope, address string) (DeliveryResult, error)
	// Receive returns the next inbound envelope, or ok=false if none is
	// currently queued. It never blocks.
	Receive(ctx context.Context) (env MessageEnvelope, ok bool, err error)
	Stats() MTPStats
}
