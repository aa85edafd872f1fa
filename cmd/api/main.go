package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"orderhub/order-pipeline/internal/auth"
	"orderhub/order-pipeline/internal/cache"
	"orderhub/order-pipeline/internal/messaging"
	"orderhub/order-pipeline/internal/orders"
	"orderhub/order-pipeline/internal/telemetry"
)

const (
	serviceName    = "api"
	serviceVersion = "0.1.0"
	topicNewOrders = "new-orders"
	tokenTTL       = 30 * time.Minute
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logger.Error("REDIS_URL environment variable is required")
		os.Exit(1)
	}

	kafkaBrokers := os.Getenv("KAFKA_BOOTSTRAP_SERVERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BOOTSTRAP_SERVERS environment variable is required")
		os.Exit(1)
	}

	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		logger.Error("SECRET_KEY environment variable is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", databaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("failed to parse REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), topicNewOrders)
	defer func() { _ = producer.Close() }()

	userRepo := auth.NewUserRepository(db)
	authHandler := auth.NewHandler(userRepo, []byte(secret), tokenTTL, logger)

	orderRepo := orders.NewOrderRepository(db)
	orderService := orders.NewService(orderRepo, cache.New(rdb), producer, logger)
	orderHandler := orders.NewHandler(orderService, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.WithHTTPRoute)

	r.Handle("/metrics", metricsHandler)
	r.Post("/auth/register", authHandler.HandleRegister)
	r.Post("/auth/token", authHandler.HandleToken)

	r.Group(func(r chi.Router) {
		r.Use(authHandler.RequireUser)
		r.Post("/orders", orderHandler.HandleCreate)
		r.Get("/orders/{orderID}", orderHandler.HandleGet)
		r.Patch("/orders/{orderID}", orderHandler.HandleUpdateStatus)
		r.Get("/orders/user/{userID}", orderHandler.HandleListForUser)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(r, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
				return req.Method + " " + req.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting api service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
