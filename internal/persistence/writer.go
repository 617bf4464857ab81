package persistence

import (
	"DefiHub/internal/ledger"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// EventLogWriter writes the event log and position projections to Postgres
// using multi-row INSERTs. Conflicts are resolved in favor of idempotency:
// replayed events are no-ops and position rows upsert to the latest state.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in defihub.events.
type EventRow struct {
	Sequence  int64
	EventID   string
	EventType string
	Account   string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// PositionRow represents a row in defihub.positions. Balances are JSON
// maps of asset symbol to decimal-string amount in native units.
type PositionRow struct {
	Account       string
	Supplied      []byte
	Borrowed      []byte
	Staked        []byte
	RewardsEarned string
	HealthFactor  string
	UpdatedAt     time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO defihub.events
		(sequence, event_id, event_type, account, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.Account, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertPositionBatch writes position projection rows inside the given
// transaction. The caller deduplicates by account so the last snapshot wins.
func (w *EventLogWriter) UpsertPositionBatch(ctx context.Context, tx *sql.Tx, positions []PositionRow) error {
	if len(positions) == 0 {
		return nil
	}

	query := `INSERT INTO defihub.positions
		(account, supplied, borrowed, staked, rewards_earned, health_factor, updated_at)
		VALUES `

	values := make([]string, 0, len(positions))
	args := make([]interface{}, 0, len(positions)*7)

	for i, p := range positions {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			p.Account, p.Supplied, p.Borrowed, p.Staked,
			p.RewardsEarned, p.HealthFactor, p.UpdatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account) DO UPDATE SET
		supplied = EXCLUDED.supplied,
		borrowed = EXCLUDED.borrowed,
		staked = EXCLUDED.staked,
		rewards_earned = EXCLUDED.rewards_earned,
		health_factor = EXCLUDED.health_factor,
		updated_at = EXCLUDED.updated_at`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// SnapshotPosition converts a ledger position into its projection row.
func SnapshotPosition(account string, pos *ledger.Position, at time.Time) (PositionRow, error) {
	supplied, err := marshalBalances(pos.Supplied)
	if err != nil {
		return PositionRow{}, fmt.Errorf("marshal supplied: %w", err)
	}
	borrowed, err := marshalBalances(pos.Borrowed)
	if err != nil {
		return PositionRow{}, fmt.Errorf("marshal borrowed: %w", err)
	}
	staked, err := marshalBalances(pos.Staked)
	if err != nil {
		return PositionRow{}, fmt.Errorf("marshal staked: %w", err)
	}

	return PositionRow{
		Account:       account,
		Supplied:      supplied,
		Borrowed:      borrowed,
		Staked:        staked,
		RewardsEarned: pos.RewardsEarned.Dec(),
		HealthFactor:  pos.HealthFactor.Dec(),
		UpdatedAt:     at,
	}, nil
}

func marshalBalances(balances map[string]*uint256.Int) ([]byte, error) {
	out := make(map[string]string, len(balances))
	for asset, amount := range balances {
		out[asset] = amount.Dec()
	}
	return json.Marshal(out)
}
