package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectGraphChanged       = "orgchart.graph.changed"
	SubjectMutationRolledBack = "orgchart.mutation.rolled_back"
	SubjectStoreFailed        = "orgchart.store.failed"
)

// Publisher emits JSON payloads on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}

// NATSPublisher publishes JSON-encoded payloads to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("orgchart"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return p.conn.Publish(subject, data)
}

func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}

// NoopPublisher is used when NATS_URL is empty.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, subject string, payload any) error { return nil }

func (NoopPublisher) Close() error { return nil }
