package ports

import (
	"context"
	"io"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
)

// TabularStorage reads tabular sources by name. Implementations detect text
// encoding and header presence on their own.
type TabularStorage interface {
	Peek(ctx context.Context, source string, rows int) (domain.Sample, error)
	ReadChunks(ctx context.Context, source string, size int) (ChunkReader, error)
}

// ChunkReader is a forward-only sequence of chunks. Next returns io.EOF once
// the source is exhausted.
type ChunkReader interface {
	Next(ctx context.Context) (domain.Chunk, error)
	Close() error
}

type UploadStore interface {
	SaveUpload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type FileRenamer interface {
	Rename(name string) string
}
