package heartbeat

import (
	"context"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lifeline/internal/metrics"
	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

const defaultPeriod = 30 * time.Second

// Reaper removes a connection that failed liveness; the hub's disconnect
// path satisfies it.
type Reaper interface {
	Disconnect(conn *websocket.Connection, closeCode int, reason string)
}

// Monitor probes every registered connection on a fixed period. Each
// sweep first reaps connections whose liveness flag was never set back
// by an inbound heartbeat, then clears the flag on the survivors and
// probes them again. An unresponsive peer is therefore gone within two
// periods of its last heartbeat.
type Monitor struct {
	registry *websocket.Registry
	reaper   Reaper
	metrics  *metrics.Metrics
	period   time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(registry *websocket.Registry, reaper Reaper, m *metrics.Metrics,
	period time.Duration, log zerolog.Logger) *Monitor {

	if period <= 0 {
		period = defaultPeriod
	}
	return &Monitor{
		registry: registry,
		reaper:   reaper,
		metrics:  m,
		period:   period,
		log:      log.With().Str("component", "heartbeat").Logger(),
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrMonitorRunning
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx)
	m.log.Info().Dur("period", m.period).Msg("heartbeat monitor started")
	return nil
}

func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrMonitorNotRunning
	}
	m.running = false
	m.cancel()
	<-m.done
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one probe cycle over every registered connection.
func (m *Monitor) Sweep() {
	reaped := 0
	for _, conn := range m.registry.Snapshot() {
		if !conn.Alive() {
			m.reaper.Disconnect(conn, gorilla.CloseGoingAway, "heartbeat timeout")
			m.metrics.ReapedTotal.Inc()
			reaped++
			continue
		}

		conn.SetAlive(false)
		probe, err := types.NewFrame(types.FrameHeartbeat, types.HeartbeatPayload{
			ServerTime: time.Now(),
		})
		if err != nil {
			continue
		}
		if err := conn.WriteFrame(probe); err != nil {
			// Writer already gone; next sweep reaps it if the hub's
			// dead-connection path has not already.
			m.log.Debug().Str("connection_id", conn.ID()).Err(err).Msg("probe failed")
		}
	}

	if reaped > 0 {
		m.log.Info().Int("reaped", reaped).Msg("reaped unresponsive connections")
	}
}
