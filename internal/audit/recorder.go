// Package audit ships decision and mutation records to the append-only
// audit store without ever blocking the decision path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hearthside-app/hearthside/internal/authz"
)

// Writer persists a single audit entry.
type Writer interface {
	Write(ctx context.Context, entry authz.AuditEntry) error
}

// Recorder buffers entries on a channel drained by one goroutine.
// Record is best-effort: a full buffer drops the entry and counts it,
// never stalling or failing an authorization decision.
type Recorder struct {
	ch      chan authz.AuditEntry
	writer  Writer
	logger  *slog.Logger
	dropped prometheus.Counter
	failed  prometheus.Counter
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the drain goroutine. Close must be called on
// shutdown to flush buffered entries.
func NewRecorder(writer Writer, logger *slog.Logger, reg prometheus.Registerer, buffer int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearthside_audit_dropped_total",
		Help: "Audit entries dropped because the buffer was full.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hearthside_audit_write_failures_total",
		Help: "Audit entries that failed to persist.",
	})
	if reg != nil {
		reg.MustRegister(dropped, failed)
	}
	r := &Recorder{
		ch:      make(chan authz.AuditEntry, buffer),
		writer:  writer,
		logger:  logger,
		dropped: dropped,
		failed:  failed,
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues an entry, dropping it when the buffer is full or the
// recorder is already closed.
func (r *Recorder) Record(entry authz.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Inc()
		r.logger.Warn("audit recorder closed, entry dropped",
			slog.String("user", entry.UserID), slog.String("action", entry.Action))
		return
	}
	select {
	case r.ch <- entry:
	default:
		r.dropped.Inc()
		r.logger.Warn("audit buffer full, entry dropped",
			slog.String("user", entry.UserID), slog.String("action", entry.Action))
	}
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for entry := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.writer.Write(ctx, entry); err != nil {
			r.failed.Inc()
			r.logger.Warn("audit write failed", slog.Any("error", err))
		}
		cancel()
	}
}

// Close stops intake and waits for buffered entries to flush.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	r.wg.Wait()
}

var _ authz.AuditSink = (*Recorder)(nil)
