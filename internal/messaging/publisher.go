// Package messaging forwards workflow events and handoff packets to NATS so
// other processes can follow runs live.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/workflow"
)

// DefaultSubjectPrefix is the subject root used when none is configured.
const DefaultSubjectPrefix = "baton"

// Publisher publishes workflow events as JSON. It implements
// workflow.Observer. Publish failures are logged and never stop a run.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("baton"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership
// of nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// EventSubject returns the subject for events of type t.
func EventSubject(prefix string, t workflow.EventType) string {
	return fmt.Sprintf("%s.events.%s", prefix, t)
}

// PacketSubject returns the subject for packets recorded in a session.
func PacketSubject(prefix, sessionID string) string {
	return fmt.Sprintf("%s.packets.%s", prefix, sessionID)
}

// OnEvent implements workflow.Observer.
func (p *Publisher) OnEvent(e workflow.Event) {
	p.publish(EventSubject(p.prefix, e.Type), e)
	if e.Type == workflow.EventPacketRecorded && e.Packet != nil {
		key := e.SessionID
		if key == "" {
			key = e.RunID
		}
		p.publish(PacketSubject(p.prefix, key), e.Packet)
	}
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("failed to encode message", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish message", zap.String("subject", subject), zap.Error(err))
	}
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains an owned connection. Borrowed connections are left open.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
