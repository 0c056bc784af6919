// Package events publishes detection log entries to NATS so other systems can
// react to detections without polling the HTTP API.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"visionrelay/internal/models"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// Publisher sends every flushed log entry to "<prefix>.<model>".
type Publisher struct {
	conn   Conn
	prefix string
	close  func()
}

// Connect dials url and returns a publisher using prefix for subjects.
func Connect(url, prefix string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("visionrelay-detector"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to NATS")
	}
	p := NewPublisher(conn, prefix)
	p.close = conn.Close
	return p, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "detections"
	}
	return &Publisher{conn: conn, prefix: prefix, close: func() {}}
}

// Subject returns the subject entries of model are published on.
func (p *Publisher) Subject(model string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, model)
	if token == "" {
		token = "unknown"
	}
	return p.prefix + "." + token
}

func (p *Publisher) Name() string {
	return "nats"
}

// Write publishes entries in order and waits for the server to acknowledge the batch.
func (p *Publisher) Write(ctx context.Context, entries []models.LogEntry) error {
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "failed to encode log entry")
		}
		if err := p.conn.Publish(p.Subject(entry.Model), data); err != nil {
			return errors.Wrapf(err, "failed to publish to %s", p.Subject(entry.Model))
		}
	}
	return errors.Wrap(p.conn.FlushWithContext(ctx), "failed to flush NATS connection")
}

func (p *Publisher) Close() {
	p.close()
}
