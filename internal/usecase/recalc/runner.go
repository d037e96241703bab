// Package recalc прогоняет очередь пересчёта снапшотов стоимости.
package recalc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/metrics"
	"shopfloor-costing/internal/usecase/costing"
)

// Recomputer — то, что умеет пересчитать одну задачу.
type Recomputer interface {
	Recompute(ctx context.Context, taskID string) (costing.Result, error)
}

// Runner забирает батчи из очереди и пересчитывает задачи по одной.
// Контракт at-least-once: строка очереди удаляется только после успешного
// пересчёта, неудача оставляет её на повтор.
type Runner struct {
	queue   domain.RecalcQueue
	costing Recomputer
	cancel  domain.CancelFlag
	log     zerolog.Logger
	batch   int
}

// NewRunner создаёт runner с размером батча batch.
func NewRunner(queue domain.RecalcQueue, costing Recomputer, cancel domain.CancelFlag, batch int, logger zerolog.Logger) *Runner {
	if batch <= 0 {
		batch = 100
	}
	return &Runner{queue: queue, costing: costing, cancel: cancel, batch: batch, log: logger}
}

// Drain обрабатывает очередь до опустошения либо до стоп-флага/отмены
// контекста. Стоп-флаг проверяется перед каждой задачей: начатый пересчёт
// всегда дорабатывает, новые не начинаются. Возвращает число успешно
// пересчитанных задач.
func (r *Runner) Drain(ctx context.Context) (int, error) {
	runID := uuid.NewString()
	logger := r.log.With().Str("run_id", runID).Logger()

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		entries, err := r.queue.ClaimBatch(ctx, r.batch)
		if err != nil {
			return processed, fmt.Errorf("забор батча: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		logger.Info().Int("batch", len(entries)).Msg("recalc: батч забран")

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
			if r.cancel != nil && r.cancel.Stopped(ctx) {
				logger.Warn().Str("task", entry.TaskID).Msg("recalc: получен стоп-флаг, прогон остановлен")
				return processed, nil
			}

			res, err := r.costing.Recompute(ctx, entry.TaskID)
			if err != nil {
				// Строка остаётся в очереди: её подберёт следующий прогон.
				logger.Error().Err(err).Str("task", entry.TaskID).Msg("recalc: пересчёт не удался")
				continue
			}
			if err := r.queue.Ack(ctx, entry.TaskID); err != nil {
				logger.Error().Err(err).Str("task", entry.TaskID).Msg("recalc: не удалось подтвердить задачу")
				continue
			}
			processed++
			metrics.RecalcProcessedTotal.Inc()
			logger.Debug().Str("task", entry.TaskID).Int("skipped_fx", res.SkippedFX).Bool("wrote", res.Wrote).
				Msg("recalc: задача пересчитана")
		}
	}

	if depth, err := r.queue.Depth(ctx); err == nil {
		metrics.RecalcQueueDepth.Set(float64(depth))
	}
	logger.Info().Int("processed", processed).Msg("recalc: прогон завершён")
	return processed, nil
}
