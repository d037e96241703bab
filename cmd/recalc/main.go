package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"shopfloor-costing/internal/adapters/repo"
	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/cancel"
	"shopfloor-costing/internal/infra/config"
	"shopfloor-costing/internal/infra/db"
	applog "shopfloor-costing/internal/infra/log"
	"shopfloor-costing/internal/infra/metrics"
	"shopfloor-costing/internal/usecase/costing"
	"shopfloor-costing/internal/usecase/recalc"
)

// Утилита для ручного пересчёта: одна задача по флагу -task либо полный
// проход по всем задачам (enqueue всех ключей + слив очереди на месте).
func main() {
	taskKey := flag.String("task", "", "пересчитать только указанную задачу")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "recalc")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("recalc: неизвестная временная зона")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("recalc: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	costingSvc := costing.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		loc, domain.Currency(cfg.Costing.DefaultCurrency),
		logger.With().Str("component", "costing").Logger(),
	)

	if *taskKey != "" {
		result, err := costingSvc.Recompute(ctx, *taskKey)
		if err != nil {
			logger.Fatal().Err(err).Str("task", *taskKey).Msg("recalc: пересчёт не выполнен")
		}
		logger.Info().
			Str("task", *taskKey).
			Int("timers", result.Timers).
			Int("users", result.Users).
			Int("skipped_fx", result.SkippedFX).
			Bool("wrote", result.Wrote).
			Msg("recalc: задача пересчитана")
		return
	}

	keys, err := repoAdapter.ListKeys()
	if err != nil {
		logger.Fatal().Err(err).Msg("recalc: список задач не прочитан")
	}
	for _, key := range keys {
		if err := repoAdapter.Enqueue(ctx, key); err != nil {
			logger.Fatal().Err(err).Str("task", key).Msg("recalc: задача не поставлена в очередь")
		}
	}
	logger.Info().Int("tasks", len(keys)).Msg("recalc: очередь наполнена, начинаем проход")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	stopFlag := cancel.NewRedisFlag(redisClient, cfg.Costing.StopKey)

	runner := recalc.NewRunner(repoAdapter, costingSvc, stopFlag, cfg.Costing.BatchSize,
		logger.With().Str("component", "recalc").Logger())
	processed, err := runner.Drain(ctx)
	if err != nil {
		logger.Fatal().Err(err).Int("processed", processed).Msg("recalc: проход прерван")
	}
	logger.Info().Int("processed", processed).Msg("recalc: готово")
}
