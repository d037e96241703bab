package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"shopfloor-costing/internal/adapters/repo"
	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/cancel"
	"shopfloor-costing/internal/infra/config"
	"shopfloor-costing/internal/infra/db"
	applog "shopfloor-costing/internal/infra/log"
	"shopfloor-costing/internal/infra/metrics"
	"shopfloor-costing/internal/infra/queue"
	"shopfloor-costing/internal/usecase/costing"
	"shopfloor-costing/internal/usecase/recalc"
)

// tickInterval — страховочный опрос очереди, если сигнал из RabbitMQ
// потерялся или RabbitMQ не настроен.
const tickInterval = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "costworker")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("costworker: неизвестная временная зона")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("costworker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	stopFlag := cancel.NewRedisFlag(redisClient, cfg.Costing.StopKey)

	costingSvc := costing.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		loc, domain.Currency(cfg.Costing.DefaultCurrency),
		logger.With().Str("component", "costing").Logger(),
	)
	runner := recalc.NewRunner(repoAdapter, costingSvc, stopFlag, cfg.Costing.BatchSize,
		logger.With().Str("component", "recalc").Logger())

	var nudge *queue.RabbitNudge
	if cfg.RabbitURL != "" {
		nudge, err = queue.NewRabbitNudge(cfg.RabbitURL, cfg.Queues.RecalcNudge)
		if err != nil {
			logger.Fatal().Err(err).Msg("costworker: не удалось подключиться к RabbitMQ")
		}
		defer nudge.Close()
	}

	logger.Info().Msg("costworker: запуск")
	run(ctx, logger, runner, nudge)
	logger.Info().Msg("costworker: остановлен")
}

// run сливает очередь по сигналу из RabbitMQ и по тикеру. Каждый проход
// обрабатывает всё накопившееся, поэтому пропущенный сигнал не теряет
// задачи, а лишь откладывает их до следующего тика.
func run(ctx context.Context, logger zerolog.Logger, runner *recalc.Runner, nudge *queue.RabbitNudge) {
	wake := make(chan struct{}, 1)
	if nudge != nil {
		go func() {
			for {
				if err := nudge.Wait(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logger.Warn().Err(err).Msg("costworker: ожидание сигнала прервано")
					select {
					case <-ctx.Done():
						return
					case <-time.After(5 * time.Second):
					}
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		processed, err := runner.Drain(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("costworker: проход по очереди завершился ошибкой")
		}
		if processed > 0 {
			logger.Info().Int("processed", processed).Msg("costworker: очередь обработана")
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}
