// Package gormsqlite opens the SQLite file backing the schema store.
package gormsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB pairs a read-only pool with a single writer connection over one file.
// Schema listings run on R concurrently; upserts are serialised on W so they
// never hit SQLITE_BUSY against each other.
type DB struct {
	R *gorm.DB
	W *gorm.DB
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

type Option func(*options)

type options struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

// WithLogger routes gorm warnings and slow queries to logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.slowThreshold = d
		}
	}
}

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

// WriteSQLDB exposes the writer connection for migrations.
func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) Close() error {
	return errors.Join(closeGORM(db.R), closeGORM(db.W))
}

var _ io.Closer = (*DB)(nil)

// Open returns a reader pool and a single-connection writer over file.
// Pragmas are set through the DSN so every pooled connection gets them.
func Open(file string, opts ...Option) (*DB, error) {
	o := options{logger: slog.Default(), slowThreshold: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	gormLogger := logger.New(slogWriter{o.logger}, logger.Config{
		SlowThreshold:             o.slowThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})

	reader, err := openPool(file, true, runtime.NumCPU(), gormLogger)
	if err != nil {
		return nil, fmt.Errorf("open read db: %w", err)
	}
	writer, err := openPool(file, false, 1, gormLogger)
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open write db: %w", err)
	}
	return &DB{R: reader, W: writer}, nil
}

func openPool(file string, readOnly bool, conns int, l logger.Interface) (*gorm.DB, error) {
	g, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, readOnly)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      l,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	return g, nil
}

// buildDSN renders a modernc.org/sqlite DSN with per-connection pragmas.
func buildDSN(file string, readOnly bool) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas, "query_only(0)")
	}

	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	return "file:" + file + "?" + strings.Join(params, "&")
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogWriter adapts slog to gorm's printf-style logger.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn("sqlite schema store", "detail", strings.TrimSpace(fmt.Sprintf(format, args...)))
}
