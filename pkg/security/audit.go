package security

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// Outcome classifies how a tools/call attempt ended.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "rate-limited"
	OutcomeRejected    Outcome = "rejected"
	OutcomeNotFound    Outcome = "not-found"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
)

// Record is one audit entry. Exactly one record is written per tools/call,
// whatever the outcome.
type Record struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Client     string    `json:"client,omitempty"`
	Tool       string    `json:"tool"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	ArgBytes   int       `json:"argBytes,omitempty"`
}

const lockTimeout = 5 * time.Second

// Auditor appends JSONL records to a file, guarded by a cross-process file
// lock so concurrent agent processes can share one log. With no path it
// falls back to the logger, so records are never silently lost.
type Auditor struct {
	path string
	log  *logger.Logger

	mu   sync.Mutex
	file *os.File
}

// NewAuditor creates an auditor for the given path. An empty path keeps
// records on the logger only.
func NewAuditor(path string, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.Discard()
	}
	return &Auditor{path: path, log: log.WithComponent("audit")}
}

// Write stamps and persists one record. Failures are logged, never
// propagated: an audit problem must not break the request pipeline.
func (a *Auditor) Write(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		a.log.Error("marshal audit record", "error", err)
		return
	}

	if a.path == "" {
		a.log.Info("audit", "tool", rec.Tool, "client", rec.Client,
			"outcome", rec.Outcome, "durationMs", rec.DurationMs, "error", rec.Error)
		return
	}

	if err := a.append(append(data, '\n')); err != nil {
		a.log.Error("write audit record", "path", a.path, "error", err)
	}
}

func (a *Auditor) append(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		a.file = f
	}

	// Per-file lock for cross-process safety
	fl := flock.New(a.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return err
	}
	if !locked {
		return context.DeadlineExceeded
	}
	defer fl.Unlock()

	_, err = a.file.Write(data)
	return err
}

// Close releases the log file handle.
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}
