// Package csvfile reads and stores CSV sources in a local upload directory.
package csvfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

const (
	encodingSampleBytes   = 50000
	headerSampleBytes     = 1024
	DefaultMaxUploadBytes = 10 << 20
)

// ErrNoColumns is returned for sources without a single row to take columns
// from.
var ErrNoColumns = errors.New("no columns to parse from file")

var (
	_ ports.TabularStorage = (*Storage)(nil)
	_ ports.UploadStore    = (*Storage)(nil)
)

type Option func(*Storage)

func WithRenamer(renamer ports.FileRenamer) Option {
	return func(s *Storage) {
		if renamer != nil {
			s.renamer = renamer
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Storage) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Storage serves every file of a single directory as a tabular source named
// by its file name.
type Storage struct {
	dir       string
	renamer   ports.FileRenamer
	maxUpload int64
	logger    *slog.Logger
}

// NewStorage creates dir when it does not exist yet.
func NewStorage(dir string, opts ...Option) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	s := &Storage{
		dir:       dir,
		renamer:   PreserveFileName{},
		maxUpload: DefaultMaxUploadBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve returns the path of source inside the upload directory. Names that
// would leave the directory are reported as not found.
func (s *Storage) Resolve(source string) (string, error) {
	if source == "" || !filepath.IsLocal(source) {
		return "", fmt.Errorf("%w: %s", domain.ErrSourceNotFound, source)
	}
	path := filepath.Join(s.dir, source)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrSourceNotFound, source)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", domain.ErrSourceNotFound, source)
	}
	return path, nil
}

func (s *Storage) Peek(ctx context.Context, source string, rows int) (domain.Sample, error) {
	if err := ctx.Err(); err != nil {
		return domain.Sample{}, err
	}
	t, err := s.open(source)
	if err != nil {
		return domain.Sample{}, err
	}
	defer t.Close()

	sample := domain.Sample{Columns: t.columns}
	for len(sample.Rows) < rows {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Sample{}, err
		}
		sample.Rows = append(sample.Rows, rec)
	}
	return sample, nil
}

func (s *Storage) ReadChunks(ctx context.Context, source string, size int) (ports.ChunkReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	t, err := s.open(source)
	if err != nil {
		return nil, err
	}
	return &chunkReader{table: t, size: size}, nil
}

type chunkReader struct {
	table  *table
	size   int
	offset int
	done   bool
}

func (c *chunkReader) Next(ctx context.Context) (domain.Chunk, error) {
	if c.done {
		return domain.Chunk{}, io.EOF
	}
	chunk := domain.Chunk{Offset: c.offset, Columns: c.table.columns}
	for len(chunk.Rows) < c.size {
		if err := ctx.Err(); err != nil {
			return domain.Chunk{}, err
		}
		rec, err := c.table.next()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			return domain.Chunk{}, err
		}
		chunk.Rows = append(chunk.Rows, rec)
	}
	if len(chunk.Rows) == 0 {
		return domain.Chunk{}, io.EOF
	}
	c.offset += len(chunk.Rows)
	return chunk, nil
}

func (c *chunkReader) Close() error {
	return c.table.Close()
}

// detectEncoding trusts a byte order mark first. Without one, content that is
// valid UTF-8 over the whole head is UTF-8; anything else falls back to the
// charset sniffer, which only looks at the first kilobyte.
func detectEncoding(head []byte) (encoding.Encoding, string) {
	enc, name, certain := charset.DetermineEncoding(head, "text/csv")
	if certain {
		return enc, name
	}
	if utf8.Valid(trimPartialRune(head)) {
		return unicode.UTF8, "utf-8"
	}
	return enc, name
}

func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}

// table is an open CSV source positioned on its first data row.
type table struct {
	file    *os.File
	reader  *csv.Reader
	columns []string
	pending []string
}

func (s *Storage) open(source string) (*table, error) {
	path, err := s.Resolve(source)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	head := make([]byte, encodingSampleBytes)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = f.Close()
		return nil, fmt.Errorf("read source: %w", err)
	}
	enc, name := detectEncoding(head[:n])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rewind source: %w", err)
	}
	s.logger.Debug("detected source encoding", "source", source, "encoding", name)

	decoded := bufio.NewReaderSize(transform.NewReader(f, unicode.BOMOverride(enc.NewDecoder())), 4*headerSampleBytes)
	peeked, err := decoded.Peek(headerSampleBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return nil, fmt.Errorf("decode source: %w", err)
	}
	header := hasHeader(string(peeked), len(peeked) == headerSampleBytes)

	r := csv.NewReader(decoded)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	t := &table{file: f, reader: r}
	first, err := r.Read()
	switch {
	case errors.Is(err, io.EOF):
		_ = f.Close()
		return nil, fmt.Errorf("parse header: %w", ErrNoColumns)
	case err != nil:
		_ = f.Close()
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if header {
		t.columns = headerColumns(first)
	} else {
		t.columns = positionalColumns(len(first))
		t.pending = first
	}
	return t, nil
}

// next returns the following data row keyed by column. Short rows are padded
// with empty cells; rows with more cells than columns are an error.
func (t *table) next() (domain.Record, error) {
	fields := t.pending
	t.pending = nil
	if fields == nil {
		var err error
		fields, err = t.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("parse row: %w", err)
		}
	}
	if len(fields) > len(t.columns) {
		line, _ := t.reader.FieldPos(0)
		return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(t.columns), len(fields))
	}
	rec := make(domain.Record, len(t.columns))
	for i, col := range t.columns {
		if i < len(fields) {
			rec[col] = fields[i]
		} else {
			rec[col] = ""
		}
	}
	return rec, nil
}

func (t *table) Close() error {
	return t.file.Close()
}

// headerColumns names columns after the header row. Empty names become
// "Unnamed: i" and repeats get a ".n" suffix.
func headerColumns(header []string) []string {
	used := make(map[string]struct{}, len(header))
	counts := make(map[string]int, len(header))
	columns := make([]string, len(header))
	for i, name := range header {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		candidate := name
		for n := counts[name]; ; n++ {
			if _, taken := used[candidate]; !taken {
				counts[name] = n
				break
			}
			candidate = name + "." + strconv.Itoa(n+1)
		}
		used[candidate] = struct{}{}
		columns[i] = candidate
	}
	return columns
}

func positionalColumns(n int) []string {
	columns := make([]string, n)
	for i := range columns {
		columns[i] = strconv.Itoa(i)
	}
	return columns
}
