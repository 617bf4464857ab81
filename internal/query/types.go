package query

import (
	"encoding/json"
	"time"
)

// EventRecord is one row of the persisted event log.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Account   string          `json:"account,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// PositionRecord is the persisted projection of one account's position.
// Balances map asset symbol to decimal-string amounts in native units;
// HealthFactor is a decimal string in the 1e6 health scale.
type PositionRecord struct {
	Account       string            `json:"account"`
	Supplied      map[string]string `json:"supplied"`
	Borrowed      map[string]string `json:"borrowed"`
	Staked        map[string]string `json:"staked"`
	RewardsEarned string            `json:"rewards_earned"`
	HealthFactor  string            `json:"health_factor"`
	UpdatedAt     time.Time         `json:"updated_at"`
	AsOfSequence  int64             `json:"as_of_sequence"`
}
