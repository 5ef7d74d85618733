package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/nodeschema/runtime"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes events older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per configuration
	// (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration

	Logger *slog.Logger

	// Now provides the current time for age pruning (default time.Now).
	Now func() time.Time
}

// SQLiteEventStore persists events to a SQLite database in WAL mode, so
// replay queries run alongside the writer. A background goroutine prunes
// old events when retention is configured.
type SQLiteEventStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteEventStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Append stores an event. Appending the same (config, seq) twice fails.
func (s *SQLiteEventStore) Append(ctx context.Context, event runtime.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (config_id, seq, kind, node_id, node_type, time, elapsed, payload, trace_id, span_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ConfigID,
		event.Seq,
		string(event.Kind),
		event.NodeID,
		event.NodeType,
		event.Time.UTC().Format(timeLayout),
		int64(event.Elapsed),
		string(payloadJSON),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns the events of a configuration with Seq > afterSeq.
func (s *SQLiteEventStore) List(ctx context.Context, configID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	query := `SELECT config_id, seq, kind, node_id, node_type, time, elapsed, payload, trace_id, span_id
	           FROM events WHERE config_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{configID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestSeq returns the highest Seq for a configuration (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, configID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE config_id = ?`, configID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- checked non-negative above
}

// ConfigIDs returns the distinct configuration ids in the store.
func (s *SQLiteEventStore) ConfigIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT config_id FROM events ORDER BY config_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: config ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan config id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteEventStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := s.cfg.Now().Add(-s.cfg.RetentionAge).UTC().Format(timeLayout)
		if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE time < ?`, cutoff); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}
	if s.cfg.RetentionCount > 0 {
		// Rank rows per configuration, newest first, and drop the tail.
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY config_id ORDER BY seq DESC) AS rn
					FROM events
				) WHERE rn > ?
			)`, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by count: %w", err)
		}
	}
	return nil
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Prune(context.Background()); err != nil {
				s.cfg.Logger.Warn("event store pruning failed", "error", err)
			}
		}
	}
}

func scanEvents(rows *sql.Rows) ([]runtime.Event, error) {
	var events []runtime.Event
	for rows.Next() {
		var (
			e           runtime.Event
			kind        string
			timeStr     string
			elapsedNano int64
			payloadJSON string
		)
		if err := rows.Scan(
			&e.ConfigID,
			&e.Seq,
			&kind,
			&e.NodeID,
			&e.NodeType,
			&timeStr,
			&elapsedNano,
			&payloadJSON,
			&e.TraceID,
			&e.SpanID,
		); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}

		e.Kind = runtime.EventKind(kind)
		e.Elapsed = time.Duration(elapsedNano)
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", timeStr, err)
		}
		e.Time = t

		e.Payload = map[string]any{}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ EventStore = (*SQLiteEventStore)(nil)
