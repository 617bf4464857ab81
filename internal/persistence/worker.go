package persistence

import (
	"DefiHub/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Input is one unit of work for the persistence worker: the event to append
// plus the projection snapshots of every position the event touched.
type Input struct {
	Event     EventRow
	Positions []PositionRow
}

// Worker drains the persist channel and batch-writes to Postgres. It runs
// independently from the engine; the engine never blocks on persistence,
// so the event log in Postgres trails the in-memory state by at most one
// flush interval.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan Input
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Input,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence loop. It batches incoming inputs and flushes
// either when the batch is full or the flush timeout expires. Blocks until
// ctx is cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, w.batchSize)
	positionBatch := make(map[string]PositionRow)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(eventBatch) > 0 {
				if err := w.flush(context.Background(), eventBatch, positionBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case input, ok := <-w.inputChan:
			if !ok {
				if len(eventBatch) > 0 {
					if err := w.flush(context.Background(), eventBatch, positionBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			eventBatch = append(eventBatch, input.Event)
			for _, p := range input.Positions {
				// Later snapshots of the same account replace earlier ones.
				positionBatch[p.Account] = p
			}

			if len(eventBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, eventBatch, positionBatch); err != nil {
					log.Printf("ERROR: batch flush failed: %v", err)
				}
				eventBatch = eventBatch[:0]
				positionBatch = make(map[string]PositionRow)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(eventBatch) > 0 {
				if err := w.flushWithRetry(ctx, eventBatch, positionBatch); err != nil {
					log.Printf("ERROR: timeout flush failed: %v", err)
				}
				eventBatch = eventBatch[:0]
				positionBatch = make(map[string]PositionRow)
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. The event log is the audit trail, so the
// worker never drops a batch while the process is alive.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, positions map[string]PositionRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(events))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// One final attempt with a background context so shutdown
				// does not lose the batch.
				if finalErr := w.flush(context.Background(), events, positions); finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, events, positions)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (w *Worker) flush(ctx context.Context, events []EventRow, positions map[string]PositionRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		w.countError("write_events")
		return err
	}

	rows := make([]PositionRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, p)
	}
	if err := w.writer.UpsertPositionBatch(ctx, tx, rows); err != nil {
		w.countError("write_positions")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		if len(events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}

	return nil
}

func (w *Worker) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
