package csvfile

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

const renameTimestampLayout = "20060102_150405"

var (
	_ ports.FileRenamer = PreserveFileName{}
	_ ports.FileRenamer = AppendDateToFileName{}
)

type PreserveFileName struct{}

func (PreserveFileName) Rename(name string) string {
	return name
}

// AppendDateToFileName inserts the current local time between the file stem
// and its extension, e.g. data.csv -> data_20240102_030405.csv.
type AppendDateToFileName struct {
	Now func() time.Time
}

func (a AppendDateToFileName) Rename(name string) string {
	now := a.Now
	if now == nil {
		now = time.Now
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + now().Format(renameTimestampLayout) + ext
}

// RenamerByName maps a configuration value onto a renamer. Unknown names
// report false.
func RenamerByName(name string) (ports.FileRenamer, bool) {
	switch name {
	case "", "preserve":
		return PreserveFileName{}, true
	case "date":
		return AppendDateToFileName{}, true
	}
	return nil, false
}
