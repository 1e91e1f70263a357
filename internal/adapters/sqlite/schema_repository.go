package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/csvschema/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

type schemaModel struct {
	Name           string    `gorm:"column:name;primaryKey"`
	DefinitionJSON string    `gorm:"column:definition_json;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (schemaModel) TableName() string {
	return "schemas"
}

var _ ports.SchemaRepository = (*SchemaRepository)(nil)

// SchemaRepository keeps schema definitions in a single SQLite table.
type SchemaRepository struct {
	db     *gormsqlite.DB
	logger *slog.Logger
}

func NewSchemaRepository(db *gormsqlite.DB, logger *slog.Logger) *SchemaRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaRepository{db: db, logger: logger}
}

// LoadAll yields schemas in creation order. Rows whose definition no longer
// decodes are logged and skipped.
func (r *SchemaRepository) LoadAll(ctx context.Context) iter.Seq[domain.Schema] {
	return func(yield func(domain.Schema) bool) {
		var models []schemaModel
		err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
			return tx.Order("created_at ASC, name ASC").Find(&models).Error
		})
		if err != nil {
			r.logger.Warn("list schemas", "error", err)
			return
		}

		for _, model := range models {
			schema, err := toSchemaDomain(model)
			if err != nil {
				r.logger.Warn("skipping stored schema", "name", model.Name, "error", err)
				continue
			}
			if !yield(schema) {
				return
			}
		}
	}
}

func (r *SchemaRepository) Save(ctx context.Context, schema domain.Schema) error {
	if err := domain.ValidateSchemaName(schema.Name); err != nil {
		return err
	}
	definition, err := json.Marshal(schema.Definition)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	now := time.Now().UTC()
	model := schemaModel{
		Name:           schema.Name,
		DefinitionJSON: string(definition),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"definition_json", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert schema: %w", err)
		}
		return nil
	})
}

func toSchemaDomain(model schemaModel) (domain.Schema, error) {
	var def domain.Definition
	if err := json.Unmarshal([]byte(model.DefinitionJSON), &def); err != nil {
		return domain.Schema{}, fmt.Errorf("decode definition: %w", err)
	}
	return domain.NewSchema(model.Name, def)
}
