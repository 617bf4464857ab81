package ingestion

import (
	"DefiHub/internal/observability"
	"DefiHub/internal/oracle"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PriceSubscriber consumes oracle quotes from NATS JetStream and feeds them
// into the in-memory price cache. Subjects: defihub.prices.{symbol}. Stale
// or duplicate sequences are dropped by the cache, so redeliveries are safe
// to ACK unconditionally once parsed.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *oracle.Cache
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, cache *oracle.Cache, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		cache:   cache,
		metrics: metrics,
	}
}

// Subscribe creates the JetStream consumer for the price stream.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "DEFIHUB_PRICES", jetstream.ConsumerConfig{
		Durable:       "defihub-prices",
		FilterSubject: "defihub.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer defihub-prices: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		update, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			// Malformed quote: redelivery cannot fix it, so drop it.
			log.Printf("WARN: bad price message on %s: %v", msg.Subject(), err)
			msg.Ack()
			return
		}

		ps.cache.Update(update.Symbol, oracle.PriceData{
			Price:     update.Price,
			Timestamp: update.Timestamp,
			RoundID:   update.RoundID,
		}, update.Sequence)

		if ps.metrics != nil {
			ps.metrics.PriceUpdates.WithLabelValues(update.Symbol).Inc()
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume defihub-prices: %w", err)
	}

	ps.consumer = cc
	log.Println("INFO: subscribed to defihub.prices.> (consumer=defihub-prices)")
	return nil
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	log.Println("INFO: price subscriber stopped")
}

// EnsurePriceStream creates the inbound price stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "DEFIHUB_PRICES",
		Subjects:  []string{"defihub.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	log.Println("INFO: ensured stream DEFIHUB_PRICES")
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
