// Package nats publishes run notifications to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher publishes JSON payloads with a message ID header so JetStream
// streams can deduplicate redeliveries.
type Publisher struct {
	nc             conn
	defaultSubject string
}

// Connect dials url.
func Connect(url, defaultSubject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("ota-answers-crawler"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return New(nc, defaultSubject), nil
}

// New wraps an existing connection.
func New(nc conn, defaultSubject string) *Publisher {
	return &Publisher{nc: nc, defaultSubject: defaultSubject}
}

// Publish sends payload as JSON to subject (or the default subject) and
// returns the generated message ID.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	if subject == "" {
		subject = p.defaultSubject
	}
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	msg.Header.Set("Content-Type", "application/json")
	if err := p.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush %s: %w", subject, err)
	}
	return id, nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
