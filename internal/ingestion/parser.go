package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// PriceUpdate is a validated oracle quote parsed off the wire.
// Price is scaled to 8 decimals; Sequence orders the per-symbol stream.
type PriceUpdate struct {
	Symbol    string
	Price     *uint256.Int
	Timestamp time.Time
	Sequence  uint64
	RoundID   uint64
}

// priceUpdateJSON is the JSON payload received from NATS.
// Field names use snake_case to match upstream producers. Price travels as a
// decimal string so quotes survive JSON number precision limits.
type priceUpdateJSON struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
	Sequence    uint64 `json:"sequence"`
	RoundID     uint64 `json:"round_id"`
}

// ParsePriceUpdate validates and converts a raw price message.
func ParsePriceUpdate(data []byte) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	if j.Symbol == "" {
		return PriceUpdate{}, fmt.Errorf("missing symbol")
	}
	if j.Price == "" {
		return PriceUpdate{}, fmt.Errorf("missing price for %s", j.Symbol)
	}

	price, err := uint256.FromDecimal(j.Price)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price for %s: %w", j.Symbol, err)
	}
	if price.IsZero() {
		return PriceUpdate{}, fmt.Errorf("zero price for %s", j.Symbol)
	}
	if j.TimestampUs <= 0 {
		return PriceUpdate{}, fmt.Errorf("invalid timestamp_us for %s: %d", j.Symbol, j.TimestampUs)
	}

	return PriceUpdate{
		Symbol:    j.Symbol,
		Price:     price,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
		Sequence:  j.Sequence,
		RoundID:   j.RoundID,
	}, nil
}
