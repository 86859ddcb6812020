package lifecycle

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/studytick/studytick/internal/metrics"
)

// Payload is the minimal state sent on forced termination.
type Payload struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Beacon is a best-effort, non-blocking transport for termination
// payloads. Implementations must never block the caller for long; the
// process is going away.
type Beacon interface {
	Send(payload Payload) error
}

// NopBeacon discards payloads.
type NopBeacon struct{}

// Send discards the payload.
func (NopBeacon) Send(Payload) error { return nil }

const beaconWriteTimeout = 100 * time.Millisecond

// UDPBeacon sends one datagram per payload. UDP keeps the send
// non-blocking: no handshake, no retransmit, no acknowledgement.
type UDPBeacon struct {
	conn net.Conn
}

// NewUDPBeacon resolves the collector address once up front.
func NewUDPBeacon(addr string) (*UDPBeacon, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial beacon collector: %w", err)
	}
	return &UDPBeacon{conn: conn}, nil
}

// Send fires a single datagram with a short write deadline.
func (b *UDPBeacon) Send(payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal beacon payload: %w", err)
	}

	_ = b.conn.SetWriteDeadline(time.Now().Add(beaconWriteTimeout))
	if _, err := b.conn.Write(data); err != nil {
		metrics.BeaconsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("send beacon: %w", err)
	}

	metrics.BeaconsSent.WithLabelValues("sent").Inc()
	return nil
}

// Close releases the socket.
func (b *UDPBeacon) Close() error {
	return b.conn.Close()
}
