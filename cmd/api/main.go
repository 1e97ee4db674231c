package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/venue-bookings/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/venue-bookings/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/venue-bookings/internal/adapters/redis"
	"github.com/robertarktes/venue-bookings/internal/auth"
	"github.com/robertarktes/venue-bookings/internal/availability"
	"github.com/robertarktes/venue-bookings/internal/booking"
	"github.com/robertarktes/venue-bookings/internal/config"
	httphandler "github.com/robertarktes/venue-bookings/internal/http"
	"github.com/robertarktes/venue-bookings/internal/idempotency"
	"github.com/robertarktes/venue-bookings/internal/ledger"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"github.com/robertarktes/venue-bookings/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "venue-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	if cfg.Click.SecretKey == "" {
		logger.Warn("CLICK_SECRET_KEY is empty; gateway callbacks will fail with 500")
	}

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}
	store := crdb.NewStore(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewPlaceCatalog(mongoDB, logger)
	audit := mongoadapter.NewPaymentAuditLog(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), 24*time.Hour)
	rl := rateLimit.NewRateLimiter(redisadapter.NewCounter(redisClient), cfg.RateLimit, cfg.RateWindow)

	var verifier *auth.Verifier
	switch {
	case cfg.JWKSURL != "":
		verifier, err = auth.NewJWKSVerifier(context.Background(), cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("failed to load jwks: %v", err)
		}
	case cfg.JWTSecret != "":
		verifier = auth.NewHMACVerifier(cfg.JWTSecret)
	default:
		log.Fatal("JWKS_URL or JWT_SECRET is required")
	}
	defer verifier.Close()

	engine := availability.NewEngine(store)
	bookings := booking.NewService(store, catalog, engine, logger)
	payments := payment.NewService(store, bookings, bookings, payment.NewMerchantClient(cfg.Click), cfg.Click, logger)
	click := payment.NewHandler(store, ledger.New(), bookings, audit, cfg.Click, logger).
		WithLocker(redisadapter.NewLocker(redisClient))

	handlers := httphandler.NewHandlers(bookings, payments, click, engine, catalog, audit, store, logger)
	r := httphandler.SetupRouter(handlers, logger, verifier, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
