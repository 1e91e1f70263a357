package events

import (
	"context"
	"log/slog"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

var _ ports.ValidationObserver = (*LogObserver)(nil)

// LogObserver writes one structured line per finished validation. Runs that
// stop early are logged at warn level.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) ValidationCompleted(ctx context.Context, run domain.ValidationRun) error {
	level := slog.LevelInfo
	if run.Outcome != domain.OutcomeExhausted {
		level = slog.LevelWarn
	}
	o.logger.Log(ctx, level, "validation completed",
		"request_id", run.Response.RequestID,
		"source", run.Response.Source,
		"schema", run.Response.SchemaName,
		"outcome", run.Outcome,
		"rows", run.RowsChecked,
		"errors", len(run.Response.Errors),
		"duration", run.Duration,
	)
	return nil
}
