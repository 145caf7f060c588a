package proxy

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// requestPhase is one entry of a request log's phases array.
type requestPhase struct {
	Phase   string `json:"phase"`
	TimeMs  int64  `json:"time_ms"`
	Content string `json:"content,omitempty"`
}

// requestLog accumulates phases for a single request and writes them, as a
// single JSON document, to LOG_DIR under a name that can't collide across
// concurrent requests: req_<unix-ms>_<nanoid>.json.
type requestLog struct {
	mu        sync.Mutex
	dir       string
	requestID string
	timestamp int64
	phases    []requestPhase
}

func newRequestLog(dir string, nowMs int64) (*requestLog, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return nil, err
	}
	return &requestLog{
		dir:       dir,
		requestID: id,
		timestamp: nowMs,
	}, nil
}

func (l *requestLog) record(phase string, timeMs int64, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, requestPhase{Phase: phase, TimeMs: timeMs, Content: content})
}

func (l *requestLog) filename() string {
	return filepath.Join(l.dir, "req_"+strconv.FormatInt(l.timestamp, 10)+"_"+l.requestID+".json")
}

func (l *requestLog) flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}

	doc := struct {
		RequestID string         `json:"requestId"`
		Timestamp int64          `json:"timestamp"`
		Phases    []requestPhase `json:"phases"`
	}{
		RequestID: l.requestID,
		Timestamp: l.timestamp,
		Phases:    l.phases,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.filename(), data, 0o644)
}
