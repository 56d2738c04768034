package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efremov-platform/llm-edge-gateway/internal/domain"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
	block   chan struct{}
}

func (s *fakeSink) InsertAudit(_ context.Context, entry domain.AuditEntry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordWritesToSink(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, discardLogger())

	r.Record(domain.AuditEntry{Action: domain.ActionAPICall, Resource: "/api/chat"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	require.Equal(t, 1, sink.count())
	assert.Equal(t, domain.ActionAPICall, sink.entries[0].Action)
	assert.False(t, sink.entries[0].Timestamp.IsZero(), "timestamp must be stamped")
}

func TestRecordNeverBlocks(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	r := NewRecorder(sink, discardLogger())

	// Flood well past the buffer while the sink is stuck; Record must
	// return promptly every time.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			r.Record(domain.AuditEntry{Action: domain.ActionAPICall, Resource: "/api/chat"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stuck sink")
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	r := NewRecorder(sink, discardLogger())

	// Must not panic or surface the error anywhere.
	r.Record(domain.AuditEntry{Action: domain.ActionAuthFailed, Resource: "/api/chat"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}
