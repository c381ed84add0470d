package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qrattend/internal/config"
	"qrattend/internal/mailer"
	"qrattend/internal/notify"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes flagged-attendance events and emails the session creator.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is served in-process by the api; the worker needs redis")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
	}

	sender := mailer.New(cfg.MailBackend, mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
	})

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)

	log.Println("worker started, waiting for messages...")
	if err := notify.New(sender).Run(ctx, q); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}
