package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/app"
	"github.com/ariefcatur/go-order-engine/internal/config"
	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/processor"
	"github.com/ariefcatur/go-order-engine/internal/queue"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logrus.Fatalf("build: %v", err)
	}
	defer a.Close()
	if a.Redis == nil {
		logrus.Fatal("relay needs REDIS_ADDR for event de-duplication")
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()

	relay := &queue.Relay{
		Queue:     a.Processor.Queue,
		Publisher: &kafkax.QueuePublisher{Producer: prod, Service: cfg.ServiceName},
		Interval:  cfg.RelayInterval,
		Batch:     cfg.RelayBatch,
	}
	handler := &processor.VerificationHandler{
		Processor: a.Processor,
		Dedup:     redisx.NewDedup(a.Redis, cfg.ServiceName),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.VerificationGroup, cfg.VerificationTopic, cfg.ConsumerWorkers)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logrus.Infof("queue relay started: interval=%s batch=%d", cfg.RelayInterval, cfg.RelayBatch)
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("relay exit")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		logrus.Infof("verification consumer started: group=%s topic=%s workers=%d", cfg.VerificationGroup, cfg.VerificationTopic, cfg.ConsumerWorkers)
		if err := cons.Start(ctx, handler.Handle); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logrus.Info("shutting down relay...")
	cancel()
	wg.Wait()
}
