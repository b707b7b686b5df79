// Package state persists benchmark results locally in BadgerDB and archives
// the result directory to S3.
package state

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/tianqiongenze/StreamingBench/pkg/bench"
)

const (
	dirMode       = 0o755
	resultPrefix  = "result:"
	keySplitParts = 3 // result:<nanos>:<query>
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

// History keeps every finished result keyed by completion time.
type History struct {
	db   *badger.DB
	path string
}

var _ bench.ResultSink = (*History)(nil)

func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(path, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create state path: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return &History{db: db, path: path}, nil
}

// resultKey sorts lexicographically in completion order.
func resultKey(r bench.Result) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", resultPrefix, r.FinishedAt.UnixNano(), r.QueryName)
}

func parseResultKey(key string) (nanos int64, query string, ok bool) {
	parts := strings.SplitN(key, ":", keySplitParts)
	if len(parts) != keySplitParts || parts[0]+":" != resultPrefix {
		return 0, "", false
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, parts[2], true
}

// Append stores r. Results finishing in the same nanosecond for the same
// query overwrite each other.
func (h *History) Append(r bench.Result) error {
	data, err := jsonStd.Marshal(r)
	if err != nil {
		return err
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(r), data)
	})
}

func (h *History) Name() string { return "history" }

func (h *History) Store(_ context.Context, r bench.Result) error {
	if err := h.Append(r); err != nil {
		return err
	}
	log.Printf("[State] Result for %s stored in %s", r.QueryName, h.path)
	return nil
}

// forEach calls fn for every stored result in completion order.
func (h *History) forEach(fn func(query string, raw []byte) error) error {
	return h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(resultPrefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			_, query, ok := parseResultKey(string(item.Key()))
			if !ok {
				log.Printf("[State] Skipping malformed key %q", item.Key())
				continue
			}
			if err := item.Value(func(v []byte) error {
				return fn(query, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns the results of query, oldest first. An empty query lists
// every result.
func (h *History) List(query string) ([]bench.Result, error) {
	var out []bench.Result
	err := h.forEach(func(q string, raw []byte) error {
		if query != "" && q != query {
			return nil
		}
		var r bench.Result
		if err := jsonStd.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("decode result %s: %w", q, err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// StatsByQuery counts stored results per query.
func (h *History) StatsByQuery() (map[string]int, error) {
	stats := make(map[string]int)
	err := h.forEach(func(q string, _ []byte) error {
		stats[q]++
		return nil
	})
	return stats, err
}

func (h *History) Close() error {
	return h.db.Close()
}
