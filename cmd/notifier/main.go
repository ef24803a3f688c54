package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"medquote/internal/config"
	"medquote/internal/events"
	"medquote/internal/kafka"
)

func main() {
	cfg := config.LoadConfig()
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := events.LogNotifier{Logger: log.New(os.Stdout, "", log.LstdFlags)}
	log.Printf("Notifier consuming %s as %s", cfg.Kafka.Topic, cfg.Kafka.GroupID)
	err := kafka.StartSaramaConsumer(ctx, kafka.NewConsumerConfig(), cfg.Kafka.Brokers,
		cfg.Kafka.GroupID, []string{cfg.Kafka.Topic}, notifier)
	if err != nil {
		log.Fatalf("Consumer stopped: %v", err)
	}
}
