package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"medquote/internal/app"
	"medquote/internal/audit"
	"medquote/internal/auth"
	"medquote/internal/cache"
	"medquote/internal/config"
	"medquote/internal/kafka"
	"medquote/internal/prescription"
	"medquote/internal/processor"
	"medquote/internal/server"
	"medquote/internal/service"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, database, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	if database != nil {
		defer database.Close()
	}

	processors := []audit.Processor{&audit.StdoutProcessor{Filter: cfg.FilterWord}}
	if database != nil {
		processors = append(processors, audit.NewDBProcessor(database))
	}
	auditPool := audit.NewPool(audit.PoolConfig{
		BatchSize:   cfg.Audit.BatchSize,
		Timeout:     cfg.Audit.Timeout,
		ChannelSize: 100,
	}, processors...)
	auditCtx, auditCancel := context.WithCancel(context.Background())
	auditPool.Start(auditCtx, cfg.Audit.Workers)
	defer auditPool.Shutdown(auditCancel)

	geocoder, err := app.LoadGeocoder(cfg.GeocoderFile)
	if err != nil {
		log.Fatalf("Error loading geocoder: %v", err)
	}
	files, err := prescription.NewDiskStore(cfg.Prescription.Dir, cfg.Prescription.BaseURL, cfg.Prescription.MaxBytes)
	if err != nil {
		log.Fatalf("Error opening prescription store: %v", err)
	}

	pharmacies := cache.NewPharmacyCache(store)
	if err := pharmacies.Refresh(ctx); err != nil {
		log.Printf("Initial pharmacy cache refresh failed: %v", err)
	}

	var publisher processor.Publisher = processor.LogPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSaramaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("Error creating kafka producer: %v", err)
		}
		defer producer.Close()
		publisher = producer
	}
	outbox := processor.NewTaskProcessor(store.Tasks(), publisher, processor.Config{
		Topic:        cfg.Kafka.Topic,
		PollInterval: cfg.Outbox.PollInterval,
		Limit:        cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryDelay:   cfg.Outbox.RetryDelay,
		Lease:        cfg.Outbox.Lease,
	})

	deps := service.Deps{
		Store:         store,
		Pharmacies:    pharmacies,
		Geocoder:      geocoder,
		Prescriptions: files,
		Audit:         auditPool,
	}
	srv := server.NewServer(server.Services{
		Auth: auth.New(store, auth.Config{
			SigningKey: cfg.JWT.SigningKey,
			Issuer:     cfg.JWT.Issuer,
			TTL:        cfg.JWT.TTL,
		}),
		Customers:  service.NewCustomerService(deps),
		Pharmacies: service.NewPharmacyService(deps),
		Operator:   service.NewOperatorService(deps),
		Files:      files.Handler(),
		Audit:      auditPool,
	}, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		outbox.Start(gctx)
		return nil
	})
	g.Go(func() error {
		pharmacies.StartAutoRefresh(gctx, cfg.PharmacyCacheRefresh)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
