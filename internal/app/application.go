package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lifeline/internal/config"
	"lifeline/internal/escalation"
	"lifeline/internal/events"
	"lifeline/internal/heartbeat"
	"lifeline/internal/hub"
	"lifeline/internal/metrics"
	"lifeline/internal/router"
	"lifeline/internal/storage"
	"lifeline/internal/websocket"
)

// Application assembles and runs every component in dependency order:
// storage and event sinks first, then the hub, then the heartbeat
// monitor, and the HTTP listener last so no traffic arrives before the
// core is ready. Shutdown walks the same order in reverse.
type Application struct {
	cfg *config.Config
	log zerolog.Logger

	registry   *websocket.Registry
	router     *router.Router
	dispatcher *events.Dispatcher
	store      *storage.Store
	nats       *events.NATSPublisher
	hub        *hub.Hub
	monitor    *heartbeat.Monitor
	metrics    *metrics.Metrics
	server     *http.Server

	cancel context.CancelFunc
}

func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := websocket.NewRegistry()
	rt := router.NewRouter(registry, log)
	rt.SetRateLimit(cfg.WebSocket.MessagesPerMinute, cfg.WebSocket.RateBurst)

	store, err := storage.Open(cfg.Storage.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	subscribers := []events.Subscriber{store}
	var natsPub *events.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPub, err = events.ConnectNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		subscribers = append(subscribers, natsPub)
	}
	dispatcher := events.NewDispatcher(log, subscribers...)

	detector := escalation.NewDetectorWithPhrases(cfg.Escalation.RiskPhrases, cfg.Escalation.ImminencePhrases)
	h := hub.NewHub(registry, rt, detector, dispatcher, m, log)
	monitor := heartbeat.NewMonitor(registry, h, m, cfg.WebSocket.HeartbeatPeriod, log)

	a := &Application{
		cfg:        cfg,
		log:        log.With().Str("component", "app").Logger(),
		registry:   registry,
		router:     rt,
		dispatcher: dispatcher,
		store:      store,
		nats:       natsPub,
		hub:        h,
		monitor:    monitor,
		metrics:    m,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Handle("/ws", hub.NewHandler(h, cfg.WebSocket.WriteBufferSize, log))
	mux.Get("/healthz", a.handleHealth)
	mux.Get("/stats", a.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	a.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// Start brings every component up and begins serving. It does not block.
func (a *Application) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat monitor: %w", err)
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("http server failed")
		}
	}()

	return nil
}

// Stop shuts everything down in reverse startup order: stop accepting
// traffic, notify and close connections, then drain the event pipeline
// and release storage.
func (a *Application) Stop() error {
	a.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown incomplete")
	}

	if err := a.monitor.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("heartbeat monitor stop failed")
	}

	a.hub.Shutdown("server shutting down")
	if err := a.hub.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("hub stop failed")
	}

	if err := a.dispatcher.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("dispatcher stop failed")
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("storage close failed")
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.registry.Stats()
	stats["events_dropped"] = int(a.dispatcher.Dropped())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
