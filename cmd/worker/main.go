package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/padifield/ricemart/internal/catalog"
	"github.com/padifield/ricemart/internal/messaging"
	"github.com/padifield/ricemart/internal/orders"
	"github.com/padifield/ricemart/internal/telemetry"
	"github.com/padifield/ricemart/internal/worker"
)

const consumerGroup = "fulfilment-worker"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	catalogServiceURL := os.Getenv("CATALOG_SERVICE_URL")
	if catalogServiceURL == "" {
		logger.Error("CATALOG_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	ordersServiceURL := os.Getenv("ORDERS_SERVICE_URL")
	if ordersServiceURL == "" {
		logger.Error("ORDERS_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")

	createdConsumer := messaging.NewConsumer(brokers, orders.TopicOrderCreated, consumerGroup, logger)
	defer func() { _ = createdConsumer.Close() }()

	statusConsumer := messaging.NewConsumer(brokers, orders.TopicOrderStatus, consumerGroup, logger)
	defer func() { _ = statusConsumer.Close() }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	handler := worker.NewFulfilmentHandler(
		catalog.NewClient(catalogServiceURL, httpClient),
		orders.NewClient(ordersServiceURL, httpClient),
		emailServiceURL,
		httpClient,
		logger,
	)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting fulfilment worker", "brokers", brokers)

	var wg sync.WaitGroup
	consume := func(name string, consumer *messaging.Consumer, handle func(context.Context, []byte) error) {
		defer wg.Done()
		if err := consumer.Consume(ctx, handle); err != nil {
			if ctx.Err() == context.Canceled {
				logger.Info("consumer stopped", "topic", name)
				return
			}
			logger.Error("consumer error", "error", err, "topic", name)
			cancel()
		}
	}

	wg.Add(2)
	go consume(orders.TopicOrderCreated, createdConsumer, handler.HandleOrderCreated)
	go consume(orders.TopicOrderStatus, statusConsumer, handler.HandleStatusChanged)
	wg.Wait()
}
