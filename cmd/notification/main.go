package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nbekele/outbreak-server/internal/notification"
	"github.com/nbekele/outbreak-server/internal/protocol"
	"github.com/nbekele/outbreak-server/internal/queue"
	"github.com/nbekele/outbreak-server/pkg/config"
)

var log = logrus.New()

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log.Info("Starting Notification Service...")

	sender := notification.NewSmsSender(&cfg.Gateway, log)

	// Test the gateway connection (optional, will skip if not configured)
	if err := sender.TestConnection(); err != nil {
		log.Infof("Note: %v (notifications will be logged only)", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "notification-group")
	defer consumer.Close()
	log.Info("Kafka consumer initialized")

	ctx := context.Background()

	log.Info("Notification Service is running")

	go func() {
		for {
			msg, err := consumer.Consume(ctx)
			if err != nil {
				log.Errorf("Failed to consume message: %v", err)
				continue
			}

			alertMsg, err := protocol.DecodeAlertMessage(msg.Value)
			if err != nil {
				log.Errorf("Failed to decode alert message: %v", err)
				consumer.Commit(ctx, msg)
				continue
			}

			if err := sender.SendAlertMessage(alertMsg); err != nil {
				log.Errorf("Failed to send notification: %v", err)
				// Don't commit on error - retry
				continue
			}

			if err := consumer.Commit(ctx, msg); err != nil {
				log.Errorf("Failed to commit offset: %v", err)
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down gracefully...")
}
