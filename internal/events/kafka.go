// Package events publishes assignment outcomes to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ticketmatch/backend/internal/models"
)

type Publisher interface {
	PublishOutcomes(ctx context.Context, runID string, rows []models.LedgerRow) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type outcomeMessage struct {
	RunID string `json:"run_id"`
	models.LedgerRow
	PublishedAt time.Time `json:"published_at"`
}

type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: logger.With().Str("component", "kafka_publisher").Logger(),
		now:    time.Now,
	}
}

// PublishOutcomes writes one message per row, keyed by ticket id so every
// outcome for a ticket lands on the same partition.
func (p *KafkaPublisher) PublishOutcomes(ctx context.Context, runID string, rows []models.LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	at := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(rows))
	for _, row := range rows {
		value, err := json.Marshal(outcomeMessage{RunID: runID, LedgerRow: row, PublishedAt: at})
		if err != nil {
			return fmt.Errorf("encode outcome %s: %w", row.TicketID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(row.TicketID), Value: value, Time: at})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish outcomes: %w", err)
	}
	p.logger.Debug().Str("run_id", runID).Int("count", len(msgs)).Msg("outcomes published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) PublishOutcomes(context.Context, string, []models.LedgerRow) error { return nil }

func (NopPublisher) Close() error { return nil }
