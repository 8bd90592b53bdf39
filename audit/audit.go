// Package audit provides an asynchronous trail of counter operations,
// batched into PostgreSQL so rule authors can inspect how velocity checks
// behaved after the fact. Logging is strictly best-effort: the write path
// drops events under pressure rather than slowing the caller.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Counter operation names recorded in the trail.
const (
	OpIncrement = "increment"
	OpQuery     = "query"
)

// Event is a single counter operation to be recorded.
type Event struct {
	Timestamp     time.Time
	Op            string
	Key           string
	WindowSeconds float64
	Count         int64
	Status        string
}

// Config holds configuration for the audit logger.
type Config struct {
	DB            *sql.DB
	BufferSize    int           // size of the event channel buffer (default: 256)
	BatchSize     int           // events per insert batch (default: 100)
	FlushInterval time.Duration // maximum time before flushing (default: 5s)
}

// Logger batches counter events and writes them to the database from a
// single background worker, keeping the velocity-check hot path free of
// database latency.
type Logger struct {
	db     *sql.DB
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	mu            sync.RWMutex
	eventsLogged  int64
	eventsDropped int64
}

// New creates an audit logger and starts its background worker.
func New(cfg Config) (*Logger, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("audit: database connection is required")
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cfg.DB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("audit: database not available: %w", err)
	}

	l := &Logger{
		db:            cfg.DB,
		events:        make(chan Event, cfg.BufferSize),
		done:          make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.worker()

	return l, nil
}

// Log queues an event without blocking. Events are dropped when the buffer
// is full.
func (l *Logger) Log(event Event) {
	select {
	case l.events <- event:
	default:
		l.mu.Lock()
		l.eventsDropped++
		l.mu.Unlock()
		log.Warn("audit: event buffer full, dropping event")
	}
}

// Close flushes pending events and stops the worker, bounded by ctx.
func (l *Logger) Close(ctx context.Context) error {
	close(l.done)

	doneCh := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: shutdown timeout exceeded")
	}
}

// Stats returns the number of events written and dropped so far.
func (l *Logger) Stats() (logged, dropped int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.eventsLogged, l.eventsDropped
}

func (l *Logger) worker() {
	defer l.wg.Done()

	batch := make([]Event, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.events:
			batch = append(batch, event)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-l.done:
			l.drainAndFlush(batch)
			return
		}
	}
}

func (l *Logger) flush(events []Event) {
	if len(events) == 0 || l.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("audit: failed to begin transaction")
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO counter_events (
			timestamp, op, key, window_seconds, count, status
		) VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		log.WithError(err).Error("audit: failed to prepare statement")
		return
	}
	defer stmt.Close()

	for _, event := range events {
		if _, err := stmt.ExecContext(ctx,
			event.Timestamp,
			event.Op,
			event.Key,
			event.WindowSeconds,
			event.Count,
			event.Status,
		); err != nil {
			log.WithError(err).Error("audit: failed to insert event")
			// Keep going; one bad row must not sink the batch.
		}
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("audit: failed to commit batch")
		return
	}

	l.mu.Lock()
	l.eventsLogged += int64(len(events))
	l.mu.Unlock()
}

func (l *Logger) drainAndFlush(batch []Event) {
	for {
		select {
		case event := <-l.events:
			batch = append(batch, event)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				l.flush(batch)
			}
			return
		}
	}
}
