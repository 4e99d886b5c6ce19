package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher forwards emitted events to a NATS subject per event
// kind, for notification systems running outside this process.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// ConnectNATSPublisher dials the NATS server and returns a publisher.
// Subjects take the form "<prefix>.<kind>".
func ConnectNATSPublisher(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "lifeline.events"
	}
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		log:    log.With().Str("component", "nats-publisher").Logger(),
	}, nil
}

// HandleEvent implements Subscriber.
func (p *NATSPublisher) HandleEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := p.prefix + "." + string(ev.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return err
	}
	return nil
}

// Close flushes pending publishes and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Flush(); err != nil {
		p.log.Warn().Err(err).Msg("flush on close failed")
	}
	p.nc.Close()
}
