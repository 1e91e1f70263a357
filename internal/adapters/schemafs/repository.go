// Package schemafs stores schema definitions as one file per schema in a
// directory. JSON and YAML definitions are read; saves always write JSON.
package schemafs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

var _ ports.SchemaRepository = (*Repository)(nil)

type Repository struct {
	dir    string
	logger *slog.Logger
}

// NewRepository creates dir when it does not exist yet.
func NewRepository(dir string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create schema dir: %w", err)
	}
	return &Repository{dir: dir, logger: logger}, nil
}

// LoadAll yields one schema per definition file, in file name order. Files
// that cannot be decoded are logged and skipped.
func (r *Repository) LoadAll(ctx context.Context) iter.Seq[domain.Schema] {
	return func(yield func(domain.Schema) bool) {
		entries, err := os.ReadDir(r.dir)
		if err != nil {
			r.logger.Warn("list schema dir", "dir", r.dir, "error", err)
			return
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			if entry.IsDir() || !isDefinitionFile(entry.Name()) {
				continue
			}
			schema, err := r.load(entry.Name())
			if err != nil {
				r.logger.Warn("skipping schema file", "file", entry.Name(), "error", err)
				continue
			}
			if !yield(schema) {
				return
			}
		}
	}
}

func (r *Repository) Save(_ context.Context, schema domain.Schema) error {
	if err := domain.ValidateSchemaName(schema.Name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(schema.Definition, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, "."+schema.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write schema: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close schema file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(r.dir, schema.Name+".json")); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace schema file: %w", err)
	}
	return nil
}

func (r *Repository) load(fileName string) (domain.Schema, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, fileName))
	if err != nil {
		return domain.Schema{}, err
	}
	if !utf8.Valid(data) {
		return domain.Schema{}, errors.New("file is not valid utf-8")
	}

	def, err := DecodeDefinition(fileName, data)
	if err != nil {
		return domain.Schema{}, err
	}
	return domain.NewSchema(strings.TrimSuffix(fileName, filepath.Ext(fileName)), def)
}

// DecodeDefinition parses a definition file, choosing JSON or YAML by the
// extension of fileName. Field order is kept for both.
func DecodeDefinition(fileName string, data []byte) (domain.Definition, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".json":
		var def domain.Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
		return def, nil
	case ".yaml", ".yml":
		return decodeYAML(data)
	}
	return nil, fmt.Errorf("unsupported definition file %s", fileName)
}

// decodeYAML walks the mapping node directly so field order survives.
func decodeYAML(data []byte) (domain.Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty yaml document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("schema definition must be a mapping")
	}

	def := make(domain.Definition, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		rules := domain.RuleSet{}
		if err := value.Decode(&rules); err != nil {
			return nil, fmt.Errorf("field %s: %w", key.Value, err)
		}
		def = append(def, domain.FieldRules{Name: key.Value, Rules: rules})
	}
	return def, nil
}

func isDefinitionFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
