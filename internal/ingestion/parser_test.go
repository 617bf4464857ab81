package ingestion_test

import (
	"DefiHub/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

func marshalPrice(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"symbol":       "XLM",
		"price":        "12000000",
		"timestamp_us": int64(1700000000000000),
		"sequence":     uint64(42),
		"round_id":     uint64(9001),
	}

	update, err := ingestion.ParsePriceUpdate(marshalPrice(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if update.Symbol != "XLM" {
		t.Errorf("symbol: got %s, want XLM", update.Symbol)
	}
	if update.Price.Uint64() != 12_000_000 {
		t.Errorf("price: got %s, want 12000000", update.Price)
	}
	if want := time.UnixMicro(1700000000000000).UTC(); !update.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", update.Timestamp, want)
	}
	if update.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", update.Sequence)
	}
	if update.RoundID != 9001 {
		t.Errorf("round_id: got %d, want 9001", update.RoundID)
	}
}

func TestParsePriceUpdateLargePrice(t *testing.T) {
	// BTC at $120,000 in 8-decimal scale still fits comfortably.
	payload := map[string]interface{}{
		"symbol":       "BTC",
		"price":        "12000000000000",
		"timestamp_us": int64(1700000000000000),
		"sequence":     uint64(1),
	}

	update, err := ingestion.ParsePriceUpdate(marshalPrice(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if update.Price.Uint64() != 12_000_000_000_000 {
		t.Errorf("price: got %s, want 12000000000000", update.Price)
	}
}

func TestParsePriceUpdateRejects(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"symbol":       "XLM",
			"price":        "12000000",
			"timestamp_us": int64(1700000000000000),
			"sequence":     uint64(1),
		}
	}

	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing symbol", func(m map[string]interface{}) { delete(m, "symbol") }},
		{"missing price", func(m map[string]interface{}) { delete(m, "price") }},
		{"zero price", func(m map[string]interface{}) { m["price"] = "0" }},
		{"garbage price", func(m map[string]interface{}) { m["price"] = "12.5" }},
		{"negative price", func(m map[string]interface{}) { m["price"] = "-100" }},
		{"zero timestamp", func(m map[string]interface{}) { m["timestamp_us"] = int64(0) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := base()
			tc.mutate(payload)
			if _, err := ingestion.ParsePriceUpdate(marshalPrice(t, payload)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestParsePriceUpdateMalformedJSON(t *testing.T) {
	if _, err := ingestion.ParsePriceUpdate([]byte("{not json")); err == nil {
		t.Fatal("expected error, got nil")
	}
}
