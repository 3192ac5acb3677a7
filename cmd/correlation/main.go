package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nbekele/outbreak-server/internal/correlation"
	"github.com/nbekele/outbreak-server/internal/database"
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
	initLogger(cfg.App.LogLevel)

	log.Info("Starting Correlation Service...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	// Run migrations
	if err := db.RunMigrations("migrations", log); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create Kafka topics
	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicReports,
		cfg.Kafka.NumPartitions,
		1, // replication factor
	); err != nil {
		log.Warnf("Topic creation failed (may already exist): %v", err)
	}

	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicAlerts,
		cfg.Kafka.NumPartitions,
		1, // replication factor
	); err != nil {
		log.Warnf("Topic creation failed (may already exist): %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Info("Connected to Redis")

	// Per-health-signal correlation lock
	locker := correlation.NewRedisLocker(redisClient, cfg.App.LockTTL)

	// Producer for alert notifications
	alertProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()

	// SMS templates
	templates, err := notification.NewTemplateSet(cfg.App.FallbackLanguage)
	if err != nil {
		log.Fatalf("Failed to initialize templates: %v", err)
	}
	if cfg.App.TemplateFile != "" {
		if err := templates.LoadFile(cfg.App.TemplateFile); err != nil {
			log.Fatalf("Failed to load template file: %v", err)
		}
	}

	engine := correlation.NewEngine(db, locker, log)
	notifier := correlation.NewAlertNotifier(db, templates, alertProducer, correlation.NotifierConfig{
		BaseURL:      cfg.App.BaseURL,
		SenderName:   cfg.Gateway.SenderName,
		GatewayEmail: cfg.Gateway.EmailAddress,
	}, log)

	// Consumer for report events
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReports, "correlation-group")
	defer consumer.Close()
	log.Info("Kafka consumer initialized")

	// Metrics endpoint
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()

	log.Info("Correlation Service is running")

	go func() {
		for {
			msg, err := consumer.Consume(ctx)
			if err != nil {
				log.Errorf("Failed to consume message: %v", err)
				continue
			}

			event, err := protocol.DecodeReportEvent(msg.Value)
			if err != nil {
				log.Errorf("Failed to decode event: %v", err)
				consumer.Commit(ctx, msg)
				continue
			}

			if err := handleEvent(ctx, engine, notifier, event); err != nil {
				// The whole operation rolled back; leave the offset
				// uncommitted so the event is retried.
				log.Errorf("Failed to process %s for report %d: %v", event.Type, event.ReportID, err)
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

func handleEvent(ctx context.Context, engine *correlation.Engine, notifier *correlation.AlertNotifier, event *protocol.ReportEvent) error {
	switch event.Type {
	case protocol.EventReportAdded:
		alert, err := engine.ReportAdded(ctx, event.ReportID)
		if err != nil {
			return err
		}
		if alert != nil {
			// The alert is already committed; a transport failure is the
			// dispatcher's concern and never rolls it back.
			if err := notifier.SendNotificationsForNewAlert(ctx, alert); err != nil {
				log.Errorf("Failed to queue notifications for alert %d: %v", alert.ID, err)
			}
		}
		return nil

	case protocol.EventReportDismissed:
		return engine.ReportDismissed(ctx, event.ReportID)

	default:
		log.Warnf("Unknown event type %s, skipping", event.Type)
		return nil
	}
}

func initLogger(level string) {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		parsedLevel = logrus.InfoLevel
	}
	log.SetLevel(parsedLevel)
}
