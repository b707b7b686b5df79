package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/bench"
)

func openHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryRoundTrip(t *testing.T) {
	h := openHistory(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	results := []bench.Result{
		{FinishedAt: base.Add(2 * time.Second), QueryName: "q1.sql", TPS: 30, PerTopic: map[string]int64{"dau": 90}},
		{FinishedAt: base, QueryName: "q1.sql", TPS: 10, PerTopic: map[string]int64{"dau": 30}},
		{FinishedAt: base.Add(time.Second), QueryName: "q2.sql", TPS: 20},
	}
	for _, r := range results {
		if err := h.Store(context.Background(), r); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	t.Run("ListByQuery", func(t *testing.T) {
		got, err := h.List("q1.sql")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(got))
		}
		if got[0].TPS != 10 || got[1].TPS != 30 {
			t.Errorf("Results not in completion order: %d, %d", got[0].TPS, got[1].TPS)
		}
		if got[1].PerTopic["dau"] != 90 {
			t.Errorf("Per-topic counts lost: %v", got[1].PerTopic)
		}
		if !got[0].FinishedAt.Equal(base) {
			t.Errorf("FinishedAt mismatch: %v", got[0].FinishedAt)
		}
	})

	t.Run("ListAll", func(t *testing.T) {
		got, err := h.List("")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := []int64{10, 20, 30}
		if len(got) != len(want) {
			t.Fatalf("Expected %d results, got %d", len(want), len(got))
		}
		for i, r := range got {
			if r.TPS != want[i] {
				t.Errorf("Result %d: TPS %d, want %d", i, r.TPS, want[i])
			}
		}
	})

	t.Run("StatsByQuery", func(t *testing.T) {
		stats, err := h.StatsByQuery()
		if err != nil {
			t.Fatalf("StatsByQuery failed: %v", err)
		}
		if stats["q1.sql"] != 2 || stats["q2.sql"] != 1 {
			t.Errorf("Unexpected stats: %v", stats)
		}
	})

	t.Run("UnknownQuery", func(t *testing.T) {
		got, err := h.List("q9.sql")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected no results, got %d", len(got))
		}
	})
}

func TestHistoryReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")

	h, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	if err := h.Append(bench.Result{FinishedAt: time.Unix(100, 0), QueryName: "q1.sql", TPS: 7}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h, err = OpenHistory(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer h.Close()

	got, err := h.List("q1.sql")
	if err != nil || len(got) != 1 || got[0].TPS != 7 {
		t.Errorf("Result did not survive reopen: %v %v", got, err)
	}
}

func TestParseResultKey(t *testing.T) {
	tests := []struct {
		key   string
		nanos int64
		query string
		ok    bool
	}{
		{key: "result:00000000000000000042:q1.sql", nanos: 42, query: "q1.sql", ok: true},
		{key: "result:00000000000000000042:a:b", nanos: 42, query: "a:b", ok: true},
		{key: "result:x:q1.sql"},
		{key: "other:1:q"},
		{key: "result:1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			nanos, query, ok := parseResultKey(tt.key)
			if ok != tt.ok || nanos != tt.nanos || query != tt.query {
				t.Errorf("parseResultKey(%q) = %d, %q, %v", tt.key, nanos, query, ok)
			}
		})
	}
}
