package kafka

import (
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"medquote/internal/events"
)

const (
	HeaderEventType = "event-type"
	HeaderRequestID = "request-id"
)

// SaramaProducer publishes outbox payloads. Messages are keyed by request
// id so all events of one request share a partition and keep their order.
type SaramaProducer struct {
	producer sarama.SyncProducer
}

func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "medquote"
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 3
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_1_0_0
	return config
}

func NewSaramaProducer(brokers []string) (*SaramaProducer, error) {
	prod, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect producer to %v: %w", brokers, err)
	}
	return &SaramaProducer{producer: prod}, nil
}

// WrapSyncProducer is used with sarama's mocks in tests.
func WrapSyncProducer(p sarama.SyncProducer) *SaramaProducer {
	return &SaramaProducer{producer: p}
}

func (p *SaramaProducer) Publish(topic, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: headers(key, payload),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to %s (key %s): %w", topic, key, err)
	}
	log.Printf("kafka: %s key=%s partition=%d offset=%d", topic, key, partition, offset)
	return nil
}

// headers lets consumers route on the event type without decoding the body.
// Payloads that are not events go out without a type header.
func headers(key string, payload []byte) []sarama.RecordHeader {
	var hs []sarama.RecordHeader
	if key != "" {
		hs = append(hs, sarama.RecordHeader{Key: []byte(HeaderRequestID), Value: []byte(key)})
	}
	if e, err := events.Unmarshal(payload); err == nil && e.Type != "" {
		hs = append(hs, sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(e.Type)})
	}
	return hs
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
