package bench

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	resultFileName   = "result.log"
	finishedAtLayout = "2006-01-02 15:04:05"
	millisPerSecond  = 1000
)

// ErrRuntimeTooShort reports that TPS was computed over less than a second.
var ErrRuntimeTooShort = errors.New("net runtime below one second")

// Result is created once per finished run and never mutated.
type Result struct {
	FinishedAt       time.Time        `json:"finishedAt"`
	QueryName        string           `json:"queryName"`
	QueryHash        string           `json:"queryHash,omitempty"`
	NetRuntimeMs     int64            `json:"netRuntimeMs"`
	TotalRecordCount int64            `json:"totalRecordCount"`
	TPS              int64            `json:"tps"`
	PerTopic         map[string]int64 `json:"perTopic"`
	ResultRows       int64            `json:"resultRows"`
	ResultDigest     string           `json:"resultDigest,omitempty"`
}

// RuntimeSeconds is the whole-second runtime printed in the result log.
func (r Result) RuntimeSeconds() int64 {
	return r.NetRuntimeMs / millisPerSecond
}

// ComputeTPS divides total by the runtime in whole seconds. Runtimes below a
// second use a divisor of one and return ErrRuntimeTooShort alongside the
// value.
func ComputeTPS(total, netRuntimeMs int64) (int64, error) {
	secs := netRuntimeMs / millisPerSecond
	if secs < 1 {
		return total, fmt.Errorf("%w: %d ms", ErrRuntimeTooShort, netRuntimeMs)
	}
	return total / secs, nil
}

// Line renders the result log entry, without the line terminator.
func (r Result) Line() string {
	return fmt.Sprintf("Finished time: %s; %s  Runtime: %d TPS:%d",
		r.FinishedAt.Format(finishedAtLayout), r.QueryName, r.RuntimeSeconds(), r.TPS)
}

// AppendResultLog appends one CRLF terminated line to
// <resultLocation>/result.log, creating the directory and file if needed.
func AppendResultLog(resultLocation string, r Result) error {
	if err := os.MkdirAll(resultLocation, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(resultLocation, resultFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open result log: %w", err)
	}

	if _, err := f.WriteString(r.Line() + "\r\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append result log: %w", err)
	}
	return f.Close()
}
