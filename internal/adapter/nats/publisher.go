package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/refulearn/cache-service/internal/repository"
)

type natsPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewPublisher returns an EventPublisher that prepends prefix to every subject.
func NewPublisher(conn *nats.Conn, prefix string) (repository.EventPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection cannot be nil")
	}
	return &natsPublisher{
		conn:   conn,
		prefix: prefix,
	}, nil
}

func (p *natsPublisher) subject(s string) string {
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, message interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON for subject %s: %w", subject, err)
	}

	full := p.subject(subject)
	if err := p.conn.Publish(full, data); err != nil {
		return fmt.Errorf("failed to publish message to NATS subject %s: %w", full, err)
	}
	return nil
}
