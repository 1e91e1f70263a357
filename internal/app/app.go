package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/atvirokodosprendimai/csvschema/internal/adapters/csvfile"
	"github.com/atvirokodosprendimai/csvschema/internal/adapters/events"
	"github.com/atvirokodosprendimai/csvschema/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/csvschema/internal/adapters/rules"
	"github.com/atvirokodosprendimai/csvschema/internal/adapters/schemafs"
	sqliteadapter "github.com/atvirokodosprendimai/csvschema/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/csvschema/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
	"github.com/atvirokodosprendimai/csvschema/internal/core/usecase"
	"github.com/atvirokodosprendimai/csvschema/migrations"
)

const (
	SchemaStoreFile   = "file"
	SchemaStoreSQLite = "sqlite"
)

var configValidate = validator.New()

type Config struct {
	Addr           string  `validate:"required"`
	UploadDir      string  `validate:"required"`
	SchemaStore    string  `validate:"oneof=file sqlite"`
	SchemaDir      string  `validate:"required_if=SchemaStore file"`
	DBPath         string  `validate:"required_if=SchemaStore sqlite"`
	UploadRename   string  `validate:"oneof=preserve date"`
	MaxUploadBytes int64   `validate:"gte=0"`
	SampleSize     int     `validate:"gte=0"`
	ChunkSize      int     `validate:"gte=0"`
	MatchThreshold float64 `validate:"gte=0,lte=1"`
	DefaultSchema  string
	APIKey         string
	WebhookURL     string `validate:"omitempty,url"`
	WebhookSecret  string `validate:"required_with=WebhookURL"`
	LogLevel       string `validate:"oneof=debug info warn error"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		UploadDir:      "./uploads",
		SchemaStore:    SchemaStoreFile,
		SchemaDir:      "./schemas",
		DBPath:         "./csvschema.sqlite",
		UploadRename:   "preserve",
		MaxUploadBytes: csvfile.DefaultMaxUploadBytes,
		SampleSize:     usecase.DefaultSampleSize,
		ChunkSize:      usecase.DefaultChunkSize,
		MatchThreshold: usecase.DefaultMatchThreshold,
		DefaultSchema:  usecase.DefaultSchemaName,
		LogLevel:       "info",
	}
}

func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger returns a JSON slog logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Services is the wired application core shared by the HTTP server and the
// command line.
type Services struct {
	CSV     *usecase.CSVService
	Metrics *prometheus.Registry
	Logger  *slog.Logger
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build opens the configured stores and wires the CSV service with its
// observers. The returned closer releases the schema database, if any.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*Services, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	repo, closer, err := openSchemaRepository(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	renamer, ok := csvfile.RenamerByName(cfg.UploadRename)
	if !ok {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown upload rename strategy %q", cfg.UploadRename)
	}
	storage, err := csvfile.NewStorage(cfg.UploadDir,
		csvfile.WithRenamer(renamer),
		csvfile.WithMaxUploadBytes(cfg.MaxUploadBytes),
		csvfile.WithLogger(logger),
	)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observers := []ports.ValidationObserver{
		events.NewLogObserver(logger),
		events.NewMetricsObserver(metrics),
	}
	if cfg.WebhookURL != "" {
		observers = append(observers, events.NewWebhookObserver(cfg.WebhookURL, cfg.WebhookSecret, 0))
	}

	registry := usecase.NewSchemaRegistry(ctx, repo)
	logger.Info("schemas loaded", "store", cfg.SchemaStore, "count", len(registry.Names()))

	svc := usecase.NewCSVService(storage, registry, rules.NewValidator(),
		usecase.WithServiceConfig(usecase.ServiceConfig{
			SampleSize:    cfg.SampleSize,
			ChunkSize:     cfg.ChunkSize,
			DefaultSchema: cfg.DefaultSchema,
		}),
		usecase.WithMatchThreshold(cfg.MatchThreshold),
		usecase.WithUploadStore(storage),
		usecase.WithObservers(observers...),
		usecase.WithLogger(logger),
	)

	return &Services{CSV: svc, Metrics: metrics, Logger: logger}, closer, nil
}

func openSchemaRepository(ctx context.Context, cfg Config, logger *slog.Logger) (ports.SchemaRepository, io.Closer, error) {
	if cfg.SchemaStore != SchemaStoreSQLite {
		repo, err := schemafs.NewRepository(cfg.SchemaDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, resourceCloser{}, nil
	}

	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open schema sqlite: %w", err)
	}
	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB, logger); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sqliteadapter.NewSchemaRepository(db, logger), resourceCloser{closers: []io.Closer{db}}, nil
}

func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) (*http.Server, io.Closer, error) {
	services, closer, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	handler := httpapi.NewHandler(services.CSV,
		httpapi.WithAPIKey(cfg.APIKey),
		httpapi.WithMetrics(services.Metrics),
		httpapi.WithLogger(services.Logger),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, closer, nil
}
