package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/schema"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseSchedule parses a five-field cron expression evaluated in UTC.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Publisher publishes configurations. *runtime.Engine implements it.
type Publisher interface {
	Load(ctx context.Context, cfg *schema.Config) (*compile.Compiled, bool, error)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path      string
	Schedule  string // five-field cron expression, UTC
	Publisher Publisher
	Now       func() time.Time
	Logger    *slog.Logger
}

// Watcher re-reads a configuration file on a cron schedule and publishes
// it when its content hash changed. A file that fails validation is logged
// and the published configuration stays in place.
type Watcher struct {
	path      string
	schedule  cron.Schedule
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger

	checkMu  sync.Mutex
	lastHash string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher validates cfg and creates a stopped watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("watcher path is empty")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("watcher publisher is nil")
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		path:      cfg.Path,
		schedule:  schedule,
		publisher: cfg.Publisher,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}, nil
}

// Next returns the next scheduled check after the current time.
func (w *Watcher) Next() time.Time {
	return w.schedule.Next(w.now().UTC())
}

// Check reads the file once and publishes it if its hash differs from the
// last one published through this watcher. It reports whether a new
// configuration was published.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	cfg, diags, err := LoadFile(w.path)
	if err != nil {
		return false, err
	}
	for _, d := range diags {
		w.logger.Warn("configuration "+d.Severity, "path", w.path, "code", d.Code, "field", d.Path, "message", d.Message)
	}
	hash, err := cfg.Hash()
	if err != nil {
		return false, err
	}
	if hash == w.lastHash {
		return false, nil
	}

	compiled, reused, err := w.publisher.Load(ctx, cfg)
	if err != nil {
		return false, err
	}
	w.lastHash = hash
	if !reused {
		w.logger.Info("configuration reloaded", "path", w.path, "config_id", compiled.ID, "config_hash", hash)
	}
	return !reused, nil
}

// Start runs checks in the background at every scheduled time until Stop.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		for {
			timer := time.NewTimer(w.Next().Sub(w.now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("configuration reload failed", "path", w.path, "error", err)
			}
		}
	}()
}

// Stop stops the background loop and waits for a running check to finish.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
