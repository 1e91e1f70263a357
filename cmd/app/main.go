package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/csvschema/internal/adapters/schemafs"
	"github.com/atvirokodosprendimai/csvschema/internal/app"
	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/usecase"
)

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		slog.Error("csvschema failed", "error", err)
		os.Exit(1)
	}
}

func newCommand(out io.Writer) *cli.Command {
	defaults := app.DefaultConfig()
	return &cli.Command{
		Name:  "csvschema",
		Usage: "Match CSV files to schemas and validate them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   defaults.Addr,
				Sources: cli.EnvVars("CSVSCHEMA_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "upload-dir",
				Value:   defaults.UploadDir,
				Sources: cli.EnvVars("CSVSCHEMA_UPLOAD_DIR"),
				Usage:   "Directory holding CSV sources",
			},
			&cli.StringFlag{
				Name:    "schema-store",
				Value:   defaults.SchemaStore,
				Sources: cli.EnvVars("CSVSCHEMA_SCHEMA_STORE"),
				Usage:   "Schema repository backend: file or sqlite",
			},
			&cli.StringFlag{
				Name:    "schema-dir",
				Value:   defaults.SchemaDir,
				Sources: cli.EnvVars("CSVSCHEMA_SCHEMA_DIR"),
				Usage:   "Directory of JSON/YAML schema definitions (file store)",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   defaults.DBPath,
				Sources: cli.EnvVars("CSVSCHEMA_DB_PATH"),
				Usage:   "SQLite file path (sqlite store)",
			},
			&cli.StringFlag{
				Name:    "upload-rename",
				Value:   defaults.UploadRename,
				Sources: cli.EnvVars("CSVSCHEMA_UPLOAD_RENAME"),
				Usage:   "Upload naming: preserve or date",
			},
			&cli.IntFlag{
				Name:    "max-upload-bytes",
				Value:   int(defaults.MaxUploadBytes),
				Sources: cli.EnvVars("CSVSCHEMA_MAX_UPLOAD_BYTES"),
				Usage:   "Largest accepted upload",
			},
			&cli.IntFlag{
				Name:    "sample-size",
				Value:   defaults.SampleSize,
				Sources: cli.EnvVars("CSVSCHEMA_SAMPLE_SIZE"),
				Usage:   "Rows sampled for inspection",
			},
			&cli.IntFlag{
				Name:    "chunk-size",
				Value:   defaults.ChunkSize,
				Sources: cli.EnvVars("CSVSCHEMA_CHUNK_SIZE"),
				Usage:   "Rows per validation chunk",
			},
			&cli.FloatFlag{
				Name:    "match-threshold",
				Value:   defaults.MatchThreshold,
				Sources: cli.EnvVars("CSVSCHEMA_MATCH_THRESHOLD"),
				Usage:   "Share of sampled values a field must accept to be guessed",
			},
			&cli.StringFlag{
				Name:    "default-schema",
				Value:   defaults.DefaultSchema,
				Sources: cli.EnvVars("CSVSCHEMA_DEFAULT_SCHEMA"),
				Usage:   "Schema used when none is named or recommended",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Sources: cli.EnvVars("CSVSCHEMA_API_KEY"),
				Usage:   "Optional static API key for /v1 routes",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("CSVSCHEMA_WEBHOOK_URL"),
				Usage:   "Validation summary webhook target URL",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("CSVSCHEMA_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for webhook requests",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("CSVSCHEMA_LOG_LEVEL"),
				Usage:   "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			inspectCommand(out),
			recommendCommand(out),
			validateCommand(out),
			schemasCommand(out),
		},
	}
}

func configFrom(c *cli.Command) app.Config {
	return app.Config{
		Addr:           c.String("addr"),
		UploadDir:      c.String("upload-dir"),
		SchemaStore:    c.String("schema-store"),
		SchemaDir:      c.String("schema-dir"),
		DBPath:         c.String("db-path"),
		UploadRename:   c.String("upload-rename"),
		MaxUploadBytes: int64(c.Int("max-upload-bytes")),
		SampleSize:     int(c.Int("sample-size")),
		ChunkSize:      int(c.Int("chunk-size")),
		MatchThreshold: c.Float("match-threshold"),
		DefaultSchema:  c.String("default-schema"),
		APIKey:         c.String("api-key"),
		WebhookURL:     c.String("webhook-url"),
		WebhookSecret:  c.String("webhook-secret"),
		LogLevel:       c.String("log-level"),
	}
}

// withServices builds the application core for one command and releases it
// afterwards. Command line runs log to stderr so stdout stays JSON only.
func withServices(ctx context.Context, c *cli.Command, fn func(*app.Services) error) error {
	cfg := configFrom(c)
	logger := app.NewLogger(cfg.LogLevel, os.Stderr)
	services, closer, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			logger.Warn("close resources", "error", closeErr)
		}
	}()
	return fn(services)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := configFrom(c)
			logger := app.NewLogger(cfg.LogLevel, os.Stdout)
			slog.SetDefault(logger)

			server, closer, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Warn("close resources", "error", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Addr)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func inspectCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Suggest a column mapping for a source",
		ArgsUsage: "SOURCE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Usage: "Schema to map onto (default schema when empty)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			source, err := requireArg(c, 0, "SOURCE")
			if err != nil {
				return err
			}
			return withServices(ctx, c, func(s *app.Services) error {
				result, err := s.CSV.Inspect(ctx, source, c.String("schema"))
				if err != nil {
					return err
				}
				return writeJSON(out, map[string]any{
					"source":      source,
					"schema":      result.Schema.Name,
					"columns":     result.Columns,
					"suggestions": result.Suggestions,
					"score":       result.Score(),
				})
			})
		},
	}
}

func recommendCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "recommend",
		Usage:     "Pick the registered schema that best fits a source",
		ArgsUsage: "SOURCE",
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "threshold", Value: usecase.DefaultRecommendation, Usage: "Minimum score to accept"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			source, err := requireArg(c, 0, "SOURCE")
			if err != nil {
				return err
			}
			return withServices(ctx, c, func(s *app.Services) error {
				schema, ok, err := s.CSV.Recommend(ctx, source, c.Float("threshold"))
				if err != nil {
					return err
				}
				if !ok {
					return cli.Exit("no schema recommended", 2)
				}
				return writeJSON(out, map[string]any{"source": source, "schema": schema.Name})
			})
		},
	}
}

func validateCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a source against a schema",
		ArgsUsage: "SOURCE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Required: true, Usage: "Schema to validate against"},
			&cli.StringSliceFlag{Name: "map", Usage: "Column mapping as column=field, repeatable"},
			&cli.IntFlag{Name: "error-threshold", Value: domain.DefaultErrorBudget, Usage: "Stop after this many row errors"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			source, err := requireArg(c, 0, "SOURCE")
			if err != nil {
				return err
			}
			mapping, err := parseMappings(c.StringSlice("map"))
			if err != nil {
				return err
			}
			return withServices(ctx, c, func(s *app.Services) error {
				req := domain.NewValidationRequest(source, c.String("schema"), mapping)
				req.ErrorBudget = int(c.Int("error-threshold"))
				resp, err := s.CSV.Validate(ctx, req)
				if err != nil {
					return err
				}
				if err := writeJSON(out, resp); err != nil {
					return err
				}
				if !resp.IsValid() {
					return cli.Exit("", 1)
				}
				return nil
			})
		},
	}
}

func schemasCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "schemas",
		Usage: "Manage registered schemas",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print registered schema names",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withServices(ctx, c, func(s *app.Services) error {
						return writeJSON(out, s.CSV.AvailableSchemas())
					})
				},
			},
			{
				Name:      "register",
				Usage:     "Register a schema from a JSON or YAML definition file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Schema name (file name without extension when empty)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					path, err := requireArg(c, 0, "FILE")
					if err != nil {
						return err
					}
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read definition: %w", err)
					}
					def, err := schemafs.DecodeDefinition(path, data)
					if err != nil {
						return fmt.Errorf("decode definition: %w", err)
					}
					name := c.String("name")
					if name == "" {
						base := filepath.Base(path)
						name = strings.TrimSuffix(base, filepath.Ext(base))
					}
					schema, err := domain.NewSchema(name, def)
					if err != nil {
						return err
					}
					return withServices(ctx, c, func(s *app.Services) error {
						if err := s.CSV.RegisterSchema(ctx, schema); err != nil {
							return err
						}
						return writeJSON(out, map[string]any{"name": schema.Name, "fields": schema.FieldNames()})
					})
				},
			},
		},
	}
}

func requireArg(c *cli.Command, i int, name string) (string, error) {
	arg := strings.TrimSpace(c.Args().Get(i))
	if arg == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return arg, nil
}

// parseMappings turns column=field pairs into a mapping. The last '=' splits,
// so column names may contain '='.
func parseMappings(pairs []string) (map[string]string, error) {
	mapping := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		i := strings.LastIndex(pair, "=")
		if i <= 0 || i == len(pair)-1 {
			return nil, fmt.Errorf("invalid mapping %q, want column=field", pair)
		}
		mapping[pair[:i]] = pair[i+1:]
	}
	return mapping, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
