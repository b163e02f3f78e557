package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/padifield/ricemart/internal/cart"
	"github.com/padifield/ricemart/internal/catalog"
	"github.com/padifield/ricemart/internal/orders"
	"github.com/padifield/ricemart/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "cart", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("cart", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
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

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if _, err := db.Exec("SET search_path TO cart"); err != nil {
		logger.Error("failed to set search_path", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	store := cart.NewPostgresSnapshotStore(db)
	handler := cart.NewHandler(store,
		catalog.NewClient(catalogServiceURL, httpClient),
		orders.NewClient(ordersServiceURL, httpClient),
		logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /carts/{sessionId}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("POST /carts/{sessionId}/items", telemetry.WithHTTPRoute(handler.HandleAddItem))
	mux.HandleFunc("PATCH /carts/{sessionId}/items/{productId}", telemetry.WithHTTPRoute(handler.HandleUpdateQuantity))
	mux.HandleFunc("DELETE /carts/{sessionId}/items/{productId}", telemetry.WithHTTPRoute(handler.HandleRemoveItem))
	mux.HandleFunc("DELETE /carts/{sessionId}", telemetry.WithHTTPRoute(handler.HandleClear))
	mux.HandleFunc("POST /carts/{sessionId}/coupon", telemetry.WithHTTPRoute(handler.HandleApplyCoupon))
	mux.HandleFunc("POST /carts/{sessionId}/checkout", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.Handle("GET /metrics", metricsHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "cart",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting cart service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
