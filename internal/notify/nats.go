package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

// DefaultSubject prefixes the subjects run events are published on.
const DefaultSubject = "tsupgrade.runs"

// NATSPublisher publishes run events to JetStream as JSON, one subject per
// status: <prefix>.<status>.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if prefix == "" {
		prefix = DefaultSubject
	}
	return &NATSPublisher{conn: nc, js: js, prefix: prefix}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev ports.RunEvent) string {
	return Subject(p.prefix, ev)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev ports.RunEvent) error {
	if p == nil {
		return errors.New("nil nats publisher")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(p.Subject(ev), data, nats.Context(ctx))
	return err
}

// Close drains the connection, falling back to a hard close.
func (p *NATSPublisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}

// Subject builds <prefix>.<status> with the status name lowercased.
func Subject(prefix string, ev ports.RunEvent) string {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return prefix + "." + strings.ToLower(ev.Status.String())
}
