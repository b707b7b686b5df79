package query

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// ErrMissingQueryFile is returned when <sqlLocation>/<name> does not exist.
var ErrMissingQueryFile = errors.New("query file not found")

// Query is the verbatim text of one query file.
type Query struct {
	Name string
	SQL  string
	Hash uint64 // xxhash of SQL, tells edited query files apart in history
}

// Load reads <sqlLocation>/<name>.
func Load(sqlLocation, name string) (Query, error) {
	path := filepath.Join(sqlLocation, name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Query{}, fmt.Errorf("%w: %s", ErrMissingQueryFile, path)
	}
	if err != nil {
		return Query{}, fmt.Errorf("read query %s: %w", path, err)
	}

	sql := string(data)
	return Query{Name: name, SQL: sql, Hash: xxhash.Sum64String(sql)}, nil
}

// HashString renders Hash as fixed-width hex.
func (q Query) HashString() string {
	return fmt.Sprintf("%016x", q.Hash)
}
