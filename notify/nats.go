// Package notify ships Notifier implementations for the histories plugin.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/nats-io/nats.go"

	"github.com/ledgerline/histories"
)

// Config holds the NATS JetStream connection settings
type Config struct {
	URL            string
	SubjectPrefix  string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// jetStream is the slice of the JetStream API the notifier uses
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type natsNotifier struct {
	nc     *nats.Conn
	js     jetStream
	prefix string
	closed chan struct{}
}

// NewNATS creates a notifier publishing change events to NATS JetStream.
// Subjects follow "<prefix>.<table>.<change_type>".
func NewNATS(cfg Config) (histories.Notifier, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "histories"
	}

	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &natsNotifier{
		nc:     nc,
		js:     js,
		prefix: cfg.SubjectPrefix,
		closed: make(chan struct{}),
	}, nil
}

// NotifyChange publishes one change event. The payload is canonicalized
// (RFC 8785) so downstream consumers can sign or deduplicate on bytes.
func (n *natsNotifier) NotifyChange(ctx context.Context, event *histories.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return fmt.Errorf("failed to canonicalize event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", n.prefix, event.Table, event.Type)
	if _, err := n.js.Publish(subject, canonical, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (n *natsNotifier) Close() {
	select {
	case <-n.closed:
		return
	default:
	}
	close(n.closed)
	if n.nc != nil {
		n.nc.Close()
	}
}
