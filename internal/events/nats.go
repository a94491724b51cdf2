package events

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSPublisher forwards events to a NATS subject tree. Each event type maps
// to its own subject under the configured prefix ("warden.server.state",
// "warden.job.failed", ...), so operators can subscribe selectively.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials the given NATS URL. prefix defaults to "warden".
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = "warden"
	}
	conn, err := nats.Connect(url, nats.Name("warden"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Publish sends the event as JSON. Failures are logged and dropped; event
// delivery is best-effort.
func (p *NATSPublisher) Publish(e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("event marshal failed")
		return
	}
	subject := p.prefix + "." + strings.ReplaceAll(e.Type, "/", ".")
	if err := p.conn.Publish(subject, b); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Flush()
	p.conn.Close()
}
