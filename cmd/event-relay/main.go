package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qline/admission-service/internal/config"
	"qline/admission-service/internal/database"
	"qline/admission-service/internal/relay"
	"qline/admission-service/internal/store/postgres"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	pool, err := database.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{
		LockTimeout: cfg.LockTimeout,
		MaxAttempts: cfg.TxMaxAttempts,
	})

	var publisher relay.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher := relay.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	var board relay.Board
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()
		board = relay.NewRedisBoard(client)
	}

	if publisher == nil && board == nil {
		log.Fatal("event-relay needs AMQP_URL or REDIS_ADDR")
	}

	r := relay.New(store, publisher, board, relay.Config{
		BatchSize: cfg.RelayBatchSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go relay.Start(ctx, cfg.RelayInterval, r)
	log.Printf("event-relay polling every %s", cfg.RelayInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}
