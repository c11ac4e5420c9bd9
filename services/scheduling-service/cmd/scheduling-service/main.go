package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crewsched/crewsched/libs/clockx"
	"github.com/crewsched/crewsched/libs/config"
	"github.com/crewsched/crewsched/libs/db"
	"github.com/crewsched/crewsched/libs/httpx"
	"github.com/crewsched/crewsched/libs/kafkax"
	otelx "github.com/crewsched/crewsched/libs/otel"
	"github.com/crewsched/crewsched/libs/runtime"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/availability"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/handlers"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/outbox"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/reschedule"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/storage"
	"github.com/crewsched/crewsched/services/scheduling-service/internal/suggest"
)

// parseCanonicalTimes reads "morning=09:00,afternoon=13:00" pairs. Invalid
// entries are skipped with a warning; an empty result keeps the defaults.
func parseCanonicalTimes(raw string, logger *slog.Logger) []suggest.CanonicalTime {
	var times []suggest.CanonicalTime
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, clock, ok := strings.Cut(part, "=")
		if !ok {
			logger.Warn("invalid canonical time entry", "value", part)
			continue
		}
		minute, err := availability.ParseTimeOfDay(strings.TrimSpace(clock))
		if err != nil {
			logger.Warn("invalid canonical time entry", "value", part, "err", err)
			continue
		}
		times = append(times, suggest.CanonicalTime{Label: strings.TrimSpace(label), Minute: minute})
	}
	if len(times) == 0 {
		return suggest.DefaultCanonicalTimes()
	}
	return times
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 10)))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	clock := clockx.Real{}
	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo, clock)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	suggestCfg := suggest.DefaultConfig()
	suggestCfg.CanonicalTimes = parseCanonicalTimes(config.String("CANONICAL_TIMES", ""), logger)
	orchestrator := reschedule.New(repo, clock, logger, reschedule.Config{
		Suggest:     suggestCfg,
		TickMinutes: config.Int("SEARCH_TICK_MINUTES", availability.DefaultTickMinutes),
		FanOutLimit: config.Int("WORKER_FANOUT_LIMIT", 0),
	})

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	handlers.NewRescheduleHandler(orchestrator, logger).Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(30 * time.Second),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(strings.Split(origins, ",")))
	}
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
