package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// batchFlushThreshold is the batch size that triggers an immediate flush
// without waiting for the timer.
const batchFlushThreshold = 100

// LoggerInterface is satisfied by both the real and noop loggers.
type LoggerInterface interface {
	Write(entry *TurnUsage)
	Close() error
}

// Logger provides async buffered logging with batch writes. Entries queue on
// a channel and flush to storage when the batch fills or on a timer.
type Logger struct {
	store         Store
	buffer        chan *TurnUsage
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // tracks in-flight Write calls
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewLogger creates an async buffered Logger and starts its flush goroutine.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		buffer:        make(chan *TurnUsage, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry for async writing. Non-blocking: if the buffer is
// full or the logger is closed the entry is dropped with a warning.
func (l *Logger) Write(entry *TurnUsage) {
	if entry == nil {
		return
	}
	if l.closed.Load() {
		return
	}

	// Track this write so Close cannot close the buffer mid-send.
	l.writes.Add(1)
	defer l.writes.Done()

	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		slog.Warn("usage log buffer full, dropping entry",
			"chat_id", entry.ChatID,
			"model", entry.Model,
		)
	}
}

// Close stops the logger and flushes remaining entries. Idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*TurnUsage, 0, batchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= batchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*TurnUsage, 0, batchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*TurnUsage, 0, batchFlushThreshold)
			}

		case <-l.done:
			// l.closed is already set, so no new sends can race the close.
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*TurnUsage) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger is used when usage tracking is disabled.
type NoopLogger struct{}

func (l *NoopLogger) Write(_ *TurnUsage) {}
func (l *NoopLogger) Close() error       { return nil }
