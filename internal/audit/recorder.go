// Package audit records request outcomes to an append-only sink without
// ever blocking or failing the client-visible response.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
)

// Sink is the append-only write target for audit records.
type Sink interface {
	InsertAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Recorder queues audit entries to a single writer goroutine. Write
// failures and overflow drops are logged to the operational channel and
// never surfaced to callers.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	entries chan domain.AuditEntry
	done    chan struct{}
	onDrop  func()
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithDropHook installs a callback invoked on every dropped entry, e.g.
// to increment a metric.
func WithDropHook(hook func()) Option {
	return func(r *Recorder) {
		r.onDrop = hook
	}
}

// NewRecorder creates a recorder and starts its writer.
func NewRecorder(sink Sink, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		sink:    sink,
		logger:  logger,
		entries: make(chan domain.AuditEntry, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues one entry. It never blocks: when the buffer is full the
// entry is dropped with a logged warning.
func (r *Recorder) Record(entry domain.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case r.entries <- entry:
	default:
		if r.onDrop != nil {
			r.onDrop()
		}
		r.logger.Warn("audit buffer full, dropping record",
			slog.String("action", string(entry.Action)),
			slog.String("resource", entry.Resource))
	}
}

// run writes queued entries until the channel closes. Writes use their own
// context so a client disconnect never cancels an audit write.
func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.InsertAudit(ctx, entry); err != nil {
			r.logger.Error("audit write failed",
				slog.String("action", string(entry.Action)),
				slog.String("resource", entry.Resource),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain, bounded
// by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	close(r.entries)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
