package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Service provides read-only access to the persisted event log and position
// projections. Responses carry as_of_sequence so callers can reason about
// how far the projection trails the live engine.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Events returns the most recent events, optionally filtered by account.
func (s *Service) Events(ctx context.Context, account string, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `SELECT sequence, event_id, event_type, account, payload, timestamp
		FROM defihub.events`
	args := []interface{}{}
	if account != "" {
		q += ` WHERE account = $1`
		args = append(args, account)
	}
	q += fmt.Sprintf(` ORDER BY sequence DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.Account, &e.Payload, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Position returns the persisted projection for one account.
// Returns sql.ErrNoRows if the account has never been persisted.
func (s *Service) Position(ctx context.Context, account string) (*PositionRecord, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		rec                        PositionRecord
		supplied, borrowed, staked []byte
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT account, supplied, borrowed, staked, rewards_earned::text, health_factor::text, updated_at
		FROM defihub.positions
		WHERE account = $1
	`, account).Scan(
		&rec.Account, &supplied, &borrowed, &staked,
		&rec.RewardsEarned, &rec.HealthFactor, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalBalances(supplied, &rec.Supplied); err != nil {
		return nil, fmt.Errorf("decode supplied: %w", err)
	}
	if err := unmarshalBalances(borrowed, &rec.Borrowed); err != nil {
		return nil, fmt.Errorf("decode borrowed: %w", err)
	}
	if err := unmarshalBalances(staked, &rec.Staked); err != nil {
		return nil, fmt.Errorf("decode staked: %w", err)
	}

	rec.AsOfSequence = asOfSeq
	return &rec, nil
}

// RiskyPositions returns accounts whose last persisted health factor is
// below the given bound (1e6 scale), riskiest first. Liquidation keepers
// poll this to find candidates without hammering the live engine.
func (s *Service) RiskyPositions(ctx context.Context, belowHealth string, limit int) ([]PositionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT account, supplied, borrowed, staked, rewards_earned::text, health_factor::text, updated_at
		FROM defihub.positions
		WHERE health_factor < $1::numeric
		ORDER BY health_factor ASC
		LIMIT %d
	`, limit), belowHealth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PositionRecord
	for rows.Next() {
		var (
			rec                        PositionRecord
			supplied, borrowed, staked []byte
		)
		if err := rows.Scan(
			&rec.Account, &supplied, &borrowed, &staked,
			&rec.RewardsEarned, &rec.HealthFactor, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalBalances(supplied, &rec.Supplied); err != nil {
			return nil, fmt.Errorf("decode supplied: %w", err)
		}
		if err := unmarshalBalances(borrowed, &rec.Borrowed); err != nil {
			return nil, fmt.Errorf("decode borrowed: %w", err)
		}
		if err := unmarshalBalances(staked, &rec.Staked); err != nil {
			return nil, fmt.Errorf("decode staked: %w", err)
		}
		rec.AsOfSequence = asOfSeq
		records = append(records, rec)
	}
	return records, rows.Err()
}

// watermark returns the highest persisted sequence, 0 for an empty log.
func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM defihub.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func unmarshalBalances(data []byte, out *map[string]string) error {
	if len(data) == 0 {
		*out = map[string]string{}
		return nil
	}
	return json.Unmarshal(data, out)
}
