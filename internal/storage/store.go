package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"lifeline/internal/events"
	"lifeline/pkg/types"
)

// Store is a persistence collaborator wired behind the event contract.
// It keeps an append-only log of emitted domain events plus queryable
// message and alert tables. The core never calls it directly; it only
// receives events through the dispatcher.
type Store struct {
	db      *sql.DB
	log     zerolog.Logger
	writeCh chan writeOperation
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	session_id    TEXT,
	connection_id TEXT,
	role          TEXT,
	reason        TEXT,
	payload       TEXT,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	sender_role   TEXT NOT NULL,
	urgency_level TEXT NOT NULL,
	is_encrypted  INTEGER NOT NULL,
	content       TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	level        TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	message      TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id, created_at);
`

// Open creates (or opens) the sqlite event log at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply event log schema: %w", err)
	}

	s := &Store{
		db:      db,
		log:     log.With().Str("component", "storage").Logger(),
		writeCh: make(chan writeOperation, 100),
		done:    make(chan struct{}),
	}

	// Single-writer goroutine prevents SQLite write contention.
	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(s.db)
			if err != nil {
				s.log.Warn().Err(err).Msg("write failed, retrying once")
				time.Sleep(time.Second)
				err = op.operation(s.db)
			}
			op.result <- err
		case <-s.done:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.done:
		return ErrStoreClosed
	}
}

// HandleEvent implements events.Subscriber. Every event lands in the
// event log; messages and alerts additionally land in their own tables.
func (s *Store) HandleEvent(ctx context.Context, ev events.Event) error {
	if err := s.storeEvent(ctx, ev); err != nil {
		return err
	}
	switch ev.Kind {
	case events.KindMessageReceived:
		if ev.Message != nil {
			return s.storeMessage(ctx, ev.Message)
		}
	case events.KindEscalationRaised:
		if ev.Alert != nil {
			return s.storeAlert(ctx, ev.Alert)
		}
	}
	return nil
}

func (s *Store) storeEvent(ctx context.Context, ev events.Event) error {
	return s.executeWrite(func(db *sql.DB) error {
		var payload []byte
		var err error
		switch {
		case ev.Message != nil:
			payload, err = json.Marshal(ev.Message)
		case ev.Alert != nil:
			payload, err = json.Marshal(ev.Alert)
		case ev.Status != nil:
			payload, err = json.Marshal(ev.Status)
		}
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		query := `
			INSERT INTO events (id, kind, session_id, connection_id, role, reason, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			ev.ID,
			string(ev.Kind),
			ev.SessionID,
			ev.ConnectionID,
			ev.Role,
			ev.Reason,
			string(payload),
			ev.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

func (s *Store) storeMessage(ctx context.Context, msg *types.CrisisMessage) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO messages (id, session_id, sender_role, urgency_level, is_encrypted, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			msg.ID,
			msg.SessionID,
			msg.SenderRole,
			msg.UrgencyLevel,
			msg.IsEncrypted,
			msg.Content,
			msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

func (s *Store) storeAlert(ctx context.Context, alert *types.EmergencyAlert) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO alerts (id, session_id, level, trigger_type, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			alert.ID,
			alert.SessionID,
			alert.Level,
			alert.TriggerType,
			alert.Message,
			alert.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		return nil
	})
}

// ListSessionMessages returns stored messages for a session, oldest
// first. Reads run concurrently with the write loop.
func (s *Store) ListSessionMessages(ctx context.Context, sessionID string) ([]*types.CrisisMessage, error) {
	query := `
		SELECT id, session_id, sender_role, urgency_level, is_encrypted, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*types.CrisisMessage
	for rows.Next() {
		var msg types.CrisisMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.SenderRole,
			&msg.UrgencyLevel,
			&msg.IsEncrypted,
			&msg.Content,
			&msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return msgs, nil
}

// ListSessionAlerts returns stored alerts for a session, oldest first.
func (s *Store) ListSessionAlerts(ctx context.Context, sessionID string) ([]*types.EmergencyAlert, error) {
	query := `
		SELECT id, session_id, level, trigger_type, message, created_at
		FROM alerts
		WHERE session_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*types.EmergencyAlert
	for rows.Next() {
		var alert types.EmergencyAlert
		if err := rows.Scan(
			&alert.ID,
			&alert.SessionID,
			&alert.Level,
			&alert.TriggerType,
			&alert.Message,
			&alert.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// CountEvents returns the number of stored events by kind.
func (s *Store) CountEvents(ctx context.Context, kind events.Kind) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE kind = ?`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Close stops the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
