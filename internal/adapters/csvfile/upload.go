package csvfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFileName reduces name to a plain ASCII file name without directory
// parts. It may return an empty string.
func SanitizeFileName(name string) string {
	decomposed := norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range decomposed {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	cleaned := strings.NewReplacer("/", " ", "\\", " ").Replace(b.String())
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	cleaned = unsafeNameChars.ReplaceAllString(cleaned, "")
	return strings.Trim(cleaned, "._")
}

// SaveUpload stores r under a sanitised, renamed version of filename and
// returns the resulting source name. Only .csv files within the size limit
// are accepted.
func (s *Storage) SaveUpload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := SanitizeFileName(filename)
	if name == "" || !strings.HasSuffix(name, ".csv") || name == ".csv" {
		return "", fmt.Errorf("%w: %q is not a csv file", domain.ErrInvalidUpload, filename)
	}
	name = s.renamer.Rename(name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxUpload+1))
	if err != nil {
		cleanup()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if n > s.maxUpload {
		cleanup()
		return "", fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidUpload, s.maxUpload)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("store upload: %w", err)
	}
	s.logger.Info("stored upload", "source", name, "bytes", n)
	return name, nil
}
