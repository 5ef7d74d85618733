package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/petal-labs/nodeschema/bus"
	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/loader"
	nsotel "github.com/petal-labs/nodeschema/otel"
	"github.com/petal-labs/nodeschema/runtime"
	"github.com/petal-labs/nodeschema/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the node editor HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().StringP("config", "c", "", "Editor configuration file (JSON or YAML)")
	cmd.Flags().String("reload", "", "Cron expression (UTC) for re-reading --config, e.g. \"*/5 * * * *\"")
	cmd.Flags().Bool("no-type-safety", false, "Let every port accept every port type")
	cmd.Flags().String("context", "", "Host context JSON handed to the editor session's resolvers")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Persist events to this SQLite database (default: in memory)")
	cmd.Flags().Int("retention-count", 10000, "Events kept per configuration")
	cmd.Flags().Duration("retention-age", 0, "Delete persisted events older than this (0 = keep)")
	cmd.Flags().Duration("coalesce-interval", 100*time.Millisecond, "Window for coalescing value.changed events on the live stream")
	cmd.Flags().Duration("heartbeat", 15*time.Second, "Event stream heartbeat interval")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint URL (default: traces are not exported)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	configPath, _ := cmd.Flags().GetString("config")
	reload, _ := cmd.Flags().GetString("reload")
	noTypeSafety, _ := cmd.Flags().GetBool("no-type-safety")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	coalesce, _ := cmd.Flags().GetDuration("coalesce-interval")
	heartbeat, _ := cmd.Flags().GetDuration("heartbeat")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	if reload != "" && configPath == "" {
		return exitError(exitInputParse, "--reload requires --config")
	}
	var sessionCtx map[string]any
	if err := jsonFlag(cmd, "context", &sessionCtx); err != nil {
		return err
	}

	logger := slog.Default()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	tp, err := newTracerProvider(ctx, otlpEndpoint)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() {
		_ = mp.Shutdown(context.Background())
	}()
	otelapi.SetTracerProvider(tp)
	otelapi.SetMeterProvider(mp)

	tracing := nsotel.NewTracingHandler(tp.Tracer("nodeschema/runtime"))
	defer tracing.Close()
	metrics, err := nsotel.NewMetricsHandler(mp.Meter("nodeschema/runtime"))
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	// --- Events ---
	store, closeStore, err := openEventStore(cmd, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeStore()
	}()
	persist := bus.NewStoreSubscriber(store, logger)

	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer func() {
		_ = eb.Close()
	}()
	live := bus.NewThrottledEmitter(eb.Publish, bus.ThrottleConfig{CoalesceInterval: coalesce})
	defer live.Close()

	engine := runtime.NewEngine(runtime.EngineConfig{
		Compile:               compile.Options{DisableTypeSafety: noTypeSafety},
		EventHandler:          runtime.MultiEventHandler(tracing.Handle, metrics.Handle, persist.Handle, live.Emit),
		EventEmitterDecorator: nsotel.Decorator(tracing),
		Logger:                logger,
	})

	// --- Configuration ---
	if configPath != "" {
		watcher, err := startConfig(ctx, engine, configPath, reload, logger)
		if err != nil {
			return err
		}
		if watcher != nil {
			defer func() {
				_ = watcher.Stop(context.Background())
			}()
		}
	}

	srv := server.NewServer(server.ServerConfig{
		Engine:         engine,
		Bus:            eb,
		EventStore:     store,
		MetricsReader:  reader,
		SessionContext: sessionCtx,
		Heartbeat:      heartbeat,
		CORSOrigin:     corsOrigin,
		MaxBody:        maxBody,
		Logger:         logger,
	})

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	// No write timeout: event streams stay open.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Node editor server listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Streams end with their request contexts once the bus closes.
		_ = eb.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// startConfig publishes the configuration file once. With a reload
// schedule it returns the started watcher. A file that cannot be decoded
// at startup is fatal either way; bad entries are logged and skipped.
func startConfig(ctx context.Context, engine *runtime.Engine, path, reload string, logger *slog.Logger) (*loader.Watcher, error) {
	if reload == "" {
		cfg, diags, err := loader.LoadFile(path)
		if err != nil {
			return nil, configError(path, err)
		}
		for _, d := range diags {
			logger.Warn("configuration "+d.Severity, "path", path, "code", d.Code, "field", d.Path, "message", d.Message)
		}
		if _, _, err := engine.Load(ctx, cfg); err != nil {
			return nil, exitError(exitValidation, "%s: %v", path, err)
		}
		return nil, nil
	}

	watcher, err := loader.NewWatcher(loader.WatcherConfig{
		Path:      path,
		Schedule:  reload,
		Publisher: engine,
		Logger:    logger,
	})
	if err != nil {
		return nil, exitError(exitInputParse, "--reload: %v", err)
	}
	if _, err := watcher.Check(ctx); err != nil {
		return nil, configError(path, err)
	}
	watcher.Start()
	logger.Info("configuration reload scheduled", "path", path, "schedule", reload, "next", watcher.Next())
	return watcher, nil
}

func configError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return exitError(exitFileNotFound, "file not found: %s", path)
	}
	var de *loader.DiagnosticError
	if errors.As(err, &de) {
		var b strings.Builder
		printDiagnosticsText(&b, de.Diagnostics)
		return exitError(exitValidation, "%s: invalid configuration\n%s", path, strings.TrimRight(b.String(), "\n"))
	}
	return exitError(exitValidation, "%s: %v", path, err)
}

// openEventStore opens the SQLite store named by --sqlite-path or
// NODESCHEMA_SQLITE_PATH, falling back to an in-memory store.
func openEventStore(cmd *cobra.Command, logger *slog.Logger) (bus.EventStore, func() error, error) {
	retentionCount, _ := cmd.Flags().GetInt("retention-count")
	retentionAge, _ := cmd.Flags().GetDuration("retention-age")

	dsn := resolveSQLiteDSN(cmd)
	if dsn == "" {
		return bus.NewMemEventStore(retentionCount), func() error { return nil }, nil
	}
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
		DSN:            dsn,
		RetentionCount: retentionCount,
		RetentionAge:   retentionAge,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite event store: %w", err)
	}
	logger.Info("persisting events", "dsn", dsn)
	return store, store.Close, nil
}

func resolveSQLiteDSN(cmd *cobra.Command) string {
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	dsn := strings.TrimSpace(sqlitePath)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("NODESCHEMA_SQLITE_PATH"))
	}
	if dsn == "" || strings.HasPrefix(strings.ToLower(dsn), "file:") {
		return dsn
	}
	return filepath.Clean(dsn)
}
