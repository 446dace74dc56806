package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/order-settlement-api/internal/api"
	"github.com/vaidashi/order-settlement-api/internal/carbon"
	"github.com/vaidashi/order-settlement-api/internal/clients"
	"github.com/vaidashi/order-settlement-api/internal/config"
	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/document"
	"github.com/vaidashi/order-settlement-api/internal/handlers"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/outbox"
	"github.com/vaidashi/order-settlement-api/internal/pricing"
	"github.com/vaidashi/order-settlement-api/internal/service"
	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/kafka"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	l.Info("Starting order settlement API", "env", cfg.Env, "dbDriver", cfg.DB.Driver)

	if err := run(cfg, l, *migrateOnly); err != nil {
		l.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	l.Info("Server exiting")
}

func run(cfg *config.Config, l logger.Logger, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("Error closing database connection", "error", err)
		}
	}()

	if err := db.RunMigrations(ctx); err != nil {
		return err
	}
	if migrateOnly {
		l.Info("Migrations applied")
		return nil
	}

	repos := service.NewRepositories(db, l)
	notifier := service.NewNotifier(l)

	var breakers []*circuitbreaker.CircuitBreaker

	var gateway clients.PaymentGateway
	if cfg.Payment.Mode == "stripe" {
		stripe := clients.NewStripeClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout, l)
		breakers = append(breakers, stripe.Breaker())
		gateway = stripe
	} else {
		l.Warn("Using the mock payment gateway")
		gateway = clients.NewMockGateway()
	}

	var router carbon.DistanceProvider
	if cfg.Routing.BaseURL != "" {
		routing := clients.NewRoutingClient(cfg.Routing.BaseURL, cfg.Routing.Timeout, l)
		breakers = append(breakers, routing.Breaker())
		router = routing
	}
	estimator := carbon.NewEstimator(router, cfg.Routing.Timeout, l)

	docs, err := document.NewStore(cfg.Invoice.Dir, cfg.Invoice.CompanyName, l)
	if err != nil {
		return err
	}

	stock := service.NewStockService(db, repos, notifier, l)
	invoices := service.NewInvoiceService(db, repos, docs, l)
	payments := service.NewPaymentService(db, repos, gateway, invoices, notifier, cfg.Payment.Currency, l)
	orders := service.NewOrderService(db, repos, pricing.NewCalculator(cfg.TaxRate), stock, l)
	deliveries := service.NewDeliveryService(db, repos, estimator, notifier, l)
	couriers := service.NewCourierService(repos, l)
	users := service.NewUserService(repos.Users, l)

	outboxProcessor := outbox.NewProcessor(repos.Outbox, repos.DeadLetters, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
	}, l)
	deadLetterProcessor := outbox.NewDeadLetterProcessor(repos.DeadLetters, l, &outbox.DeadLetterProcessorConfig{
		PollingInterval: 6 * cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.DeadLetterRetries,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	})

	var (
		producer *kafka.Producer
		consumer *kafka.Consumer
	)
	if cfg.KafkaEnabled() {
		producer, err = kafka.NewProducer(&kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID}, l)
		if err != nil {
			return err
		}
		defer func() {
			if err := producer.Close(); err != nil {
				l.Error("Error closing Kafka producer", "error", err)
			}
		}()

		topics := outbox.NewTopicRouter(cfg.Kafka.NotificationsTopic, map[string]string{
			models.AggregateOrder:       cfg.Kafka.OrdersTopic,
			models.AggregateTransaction: cfg.Kafka.PaymentsTopic,
			models.AggregateInvoice:     cfg.Kafka.PaymentsTopic,
			models.AggregateDelivery:    cfg.Kafka.DeliveriesTopic,
		})
		kafkaHandler := outbox.NewKafkaHandler(producer, topics, l)
		outboxProcessor.SetFallbackHandler(kafkaHandler)
		deadLetterProcessor.SetFallbackHandler(kafkaHandler)

		consumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			ClientID:      cfg.Kafka.ClientID,
		}, l)
		if err != nil {
			return err
		}
		consumer.RegisterHandler(cfg.Kafka.CallbacksTopic, handlers.NewPaymentCallbacksHandler(payments, repos.ProcessedEvents, l))
	} else {
		l.Warn("No Kafka brokers configured, outbox events are only logged")
		loggingHandler := outbox.NewLoggingHandler(l)
		outboxProcessor.SetFallbackHandler(loggingHandler)
		deadLetterProcessor.SetFallbackHandler(loggingHandler)
	}

	server := api.NewServer(cfg, api.Dependencies{
		DB:                  db,
		Orders:              orders,
		Payments:            payments,
		Invoices:            invoices,
		Deliveries:          deliveries,
		Couriers:            couriers,
		Stock:               stock,
		Users:               users,
		DeadLetters:         repos.DeadLetters,
		DeadLetterProcessor: deadLetterProcessor,
		Breakers:            breakers,
	}, l)

	outboxProcessor.Start()
	defer outboxProcessor.Stop()
	deadLetterProcessor.Start()
	defer deadLetterProcessor.Stop()

	if consumer != nil {
		if err := consumer.Start(); err != nil {
			// Callbacks can still arrive over HTTP
			l.Error("Failed to start Kafka consumer", "error", err)
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					l.Error("Error stopping Kafka consumer", "error", err)
				}
			}()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			l.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
