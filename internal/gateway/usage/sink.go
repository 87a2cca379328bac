package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// AsyncSink wraps a sink so that Record returns immediately and the write
// happens on its own goroutine with a fresh context, detached from the
// request lifecycle.
type AsyncSink struct {
	inner   Sink
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncSink wraps inner with asynchronous delivery.
func NewAsyncSink(inner Sink, log *slog.Logger) *AsyncSink {
	return &AsyncSink{inner: inner, log: log, timeout: 10 * time.Second}
}

func (s *AsyncSink) Record(_ context.Context, rec *models.UsageRecord) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.inner.Record(ctx, rec); err != nil {
			s.log.Error("async usage record failed",
				"request_id", rec.RequestID, "error", err)
		}
	}()
	return nil
}

// Drain blocks until all in-flight records have been delivered. Called on
// shutdown.
func (s *AsyncSink) Drain() {
	s.wg.Wait()
}

// MemorySink collects records in memory, for tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *MemorySink) Records() []*models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}
