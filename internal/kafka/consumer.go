package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/IBM/sarama"

	"medquote/internal/events"
)

type EventHandler interface {
	Handle(ctx context.Context, e events.Event) error
}

// ConsumerGroupHandler decodes lifecycle events and hands them to Handler.
// Undecodable messages are logged and skipped. A message whose handling
// fails is not marked, so it is redelivered after a rebalance.
type ConsumerGroupHandler struct {
	Handler EventHandler
}

func (ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		e, err := events.Unmarshal(msg.Value)
		if err != nil {
			log.Printf("Skipping message: topic=%s partition=%d offset=%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.Handler.Handle(session.Context(), e); err != nil {
			return fmt.Errorf("handle event %s at offset %d: %w", e.ID, msg.Offset, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func NewConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

// StartSaramaConsumer consumes topics until ctx is done.
func StartSaramaConsumer(ctx context.Context, cfg *sarama.Config, brokers []string, groupID string, topics []string, handler EventHandler) error {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			log.Printf("Error closing consumer group: %v", err)
		}
	}()

	go func() {
		for err := range consumerGroup.Errors() {
			log.Printf("Consumer group error: %v", err)
		}
	}()

	h := ConsumerGroupHandler{Handler: handler}
	for {
		if err := consumerGroup.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Printf("Error from consumer: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
