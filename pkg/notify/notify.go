// Package notify hands accepted quotes to the delivery workers (email and
// WhatsApp senders) over Kafka.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/segmentio/kafka-go"

	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/types"
)

// Publisher publishes quotes for delivery.
type Publisher interface {
	PublishQuote(ctx context.Context, quote types.Quote) error
	Close() error
}

// NoopPublisher drops every quote. It is used when no brokers are
// configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishQuote(ctx context.Context, quote types.Quote) error {
	log.Ctx(ctx).DebugContext(ctx, "quote delivery disabled", slog.String("quoteID", quote.ID))
	return nil
}

func (NoopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per quote, keyed by quote id so
// redeliveries land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafka returns a KafkaPublisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic must not be empty")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}, nil
}

// PublishQuote writes the quote as JSON with its delivery channel in a
// header.
func (p *KafkaPublisher) PublishQuote(ctx context.Context, quote types.Quote) error {
	value, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(quote.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(quote.Intake.Channel)},
			{Key: "version", Value: []byte(fmt.Sprint(types.CurrentQuoteVersion))},
		},
		Time: quote.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish quote %s: %w", quote.ID, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published quote", slog.String("quoteID", quote.ID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Configured returns a Kafka publisher when quote-kafka-brokers is set and a
// NoopPublisher otherwise.
func Configured() Publisher {
	brokers := lflag.String("quote-kafka-brokers", "", "Comma-delimited Kafka brokers for quote delivery (empty disables delivery)")
	topic := lflag.String("quote-kafka-topic", "sunwise.quotes", "Kafka topic for quote delivery")

	var p struct{ Publisher }

	lflag.Do(func() {
		var list []string
		for _, b := range strings.Split(*brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				list = append(list, b)
			}
		}
		if len(list) == 0 {
			p.Publisher = NoopPublisher{}
			return
		}
		kp, err := NewKafka(list, *topic)
		if err != nil {
			panic(fmt.Sprintf("invalid quote kafka config: %v", err))
		}
		p.Publisher = kp
	})

	return &p
}
