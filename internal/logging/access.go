package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const maxError = 256

// AccessRecord is written as a single JSON object per request.
type AccessRecord struct {
	Timestamp    time.Time   `json:"ts"`
	RequestID    string      `json:"request_id"`
	ClientIP     string      `json:"client_ip"`
	Method       string      `json:"method"`
	Host         string      `json:"host"`
	Path         string      `json:"path"`
	Query        string      `json:"query"`
	Action       string      `json:"action"`
	StatusCode   int         `json:"status_code"`
	Rewritten    bool        `json:"rewritten"`
	Passthrough  string      `json:"passthrough,omitempty"`
	RulesApplied []RuleCount `json:"rules_applied"`
	RuleErrors   []RuleCount `json:"rule_errors"`
	Error        string      `json:"error,omitempty"`
	DurationMS   int64       `json:"duration_ms"`
}

// RuleCount is how many elements a rule touched, or failed on, in one
// response.
type RuleCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Counts turns a per-rule tally into a slice sorted by rule id.
func Counts(m map[string]int) []RuleCount {
	if len(m) == 0 {
		return nil
	}
	out := make([]RuleCount, 0, len(m))
	for id, n := range m {
		out = append(out, RuleCount{ID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AccessLogger appends records to a JSONL stream. It is safe for concurrent
// use.
type AccessLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewAccessLogger(w io.Writer) *AccessLogger {
	return &AccessLogger{w: w}
}

func OpenAccessLog(path string) (*AccessLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewAccessLogger(file), file.Close, nil
}

func (l *AccessLogger) Write(rec AccessRecord) error {
	if len(rec.Error) > maxError {
		rec.Error = rec.Error[:maxError]
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}
