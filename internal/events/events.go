package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lifeline/pkg/types"
)

// Kind enumerates the closed set of domain events the core emits.
// External collaborators (persistence, notification) subscribe to these;
// the core never calls into them directly.
type Kind string

const (
	KindConnectionOpened Kind = "connection_opened"
	KindConnectionClosed Kind = "connection_closed"
	KindMessageReceived  Kind = "message_received"
	KindEscalationRaised Kind = "escalation_raised"
	KindVolunteerStatus  Kind = "volunteer_status"
)

// Event is one emitted domain event. Exactly one of Message, Alert, and
// Status is set depending on Kind.
type Event struct {
	ID           string                 `json:"id"`
	Kind         Kind                   `json:"kind"`
	Timestamp    time.Time              `json:"timestamp"`
	ConnectionID string                 `json:"connection_id,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Message      *types.CrisisMessage   `json:"message,omitempty"`
	Alert        *types.EmergencyAlert  `json:"alert,omitempty"`
	Status       *types.VolunteerStatus `json:"status,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(kind Kind) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// Subscriber receives emitted events. Errors are logged, never
// propagated back into message processing.
type Subscriber interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to subscribers from a single delivery
// goroutine. Emit never blocks the event-processing path: when the
// buffer is full the event is dropped and counted, because dispatch
// latency must not delay message delivery.
type Dispatcher struct {
	ch   chan Event
	subs []Subscriber
	log  zerolog.Logger

	mu      sync.Mutex
	running bool
	dropped int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher delivering to the given subscribers.
func NewDispatcher(log zerolog.Logger, subs ...Subscriber) *Dispatcher {
	return &Dispatcher{
		ch:   make(chan Event, 1024),
		subs: subs,
		log:  log.With().Str("component", "events").Logger(),
		done: make(chan struct{}),
	}
}

// Start begins event delivery.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrDispatcherRunning
	}
	d.running = true

	ctx, d.cancel = context.WithCancel(ctx)
	go d.run(ctx)
	return nil
}

// Stop drains nothing and halts delivery; pending buffered events are
// discarded.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrDispatcherNotRunning
	}
	d.running = false
	d.cancel()
	<-d.done
	return nil
}

// Emit queues an event for delivery. Never blocks.
func (d *Dispatcher) Emit(ev Event) {
	select {
	case d.ch <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.log.Warn().Str("kind", string(ev.Kind)).Msg("event buffer full, dropping event")
	}
}

// Dropped returns the count of events discarded due to a full buffer.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case ev := <-d.ch:
			for _, sub := range d.subs {
				if err := sub.HandleEvent(ctx, ev); err != nil {
					d.log.Error().
						Str("kind", string(ev.Kind)).
						Str("event_id", ev.ID).
						Err(err).
						Msg("subscriber failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
