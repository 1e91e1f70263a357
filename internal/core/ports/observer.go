package ports

import (
	"context"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
)

type ValidationObserver interface {
	ValidationCompleted(ctx context.Context, run domain.ValidationRun) error
}
