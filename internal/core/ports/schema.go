package ports

import (
	"context"
	"iter"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
)

// SchemaRepository enumerates and persists schema definitions. LoadAll skips
// definitions it cannot parse.
type SchemaRepository interface {
	LoadAll(ctx context.Context) iter.Seq[domain.Schema]
	Save(ctx context.Context, schema domain.Schema) error
}
