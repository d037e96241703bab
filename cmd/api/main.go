package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"shopfloor-costing/internal/adapters/repo"
	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/cancel"
	"shopfloor-costing/internal/infra/config"
	"shopfloor-costing/internal/infra/db"
	httpinfra "shopfloor-costing/internal/infra/http"
	applog "shopfloor-costing/internal/infra/log"
	"shopfloor-costing/internal/infra/metrics"
	"shopfloor-costing/internal/infra/queue"
	"shopfloor-costing/internal/usecase/machinecal"
	"shopfloor-costing/internal/usecase/timeline"
)

// stopFlagTTL ограничивает жизнь забытого стоп-флага.
const stopFlagTTL = time.Hour

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	stopFlag := cancel.NewRedisFlag(redisClient, cfg.Costing.StopKey)

	var nudge *queue.RabbitNudge
	if cfg.RabbitURL != "" {
		nudge, err = queue.NewRabbitNudge(cfg.RabbitURL, cfg.Queues.RecalcNudge)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось подключиться к RabbitMQ")
		}
		defer nudge.Close()
	}

	timelineSvc := timeline.NewService(repoAdapter, repoAdapter)
	validator := machinecal.NewValidator(machinecal.NewResolver(repoAdapter, cfg.TZ))

	server := httpinfra.NewServer(logger)
	r := server.Router

	r.Get("/api/v1/machines/{id}/timeline", func(w http.ResponseWriter, req *http.Request) {
		machineID, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid machine id")
			return
		}
		fromMS, err1 := strconv.ParseInt(req.URL.Query().Get("from_ms"), 10, 64)
		toMS, err2 := strconv.ParseInt(req.URL.Query().Get("to_ms"), 10, 64)
		if err1 != nil || err2 != nil || toMS <= fromMS {
			httpinfra.WriteError(w, http.StatusBadRequest, "from_ms/to_ms must be a valid interval")
			return
		}
		tl, err := timelineSvc.BuildMachineTimeline(machineID, fromMS, toMS)
		if err != nil {
			logger.Error().Err(err).Int64("machine_id", machineID).Msg("api: таймлайн не построен")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to build timeline")
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, tl)
	})

	r.Post("/api/v1/machines/{id}/plan/validate", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		machineID, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid machine id")
			return
		}
		var body struct {
			PlannedStartMS int64 `json:"planned_start_ms"`
			PlannedEndMS   int64 `json:"planned_end_ms"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		violation, err := validator.ValidatePlan(machineID, body.PlannedStartMS, body.PlannedEndMS)
		if err != nil {
			logger.Error().Err(err).Int64("machine_id", machineID).Msg("api: проверка плана не выполнена")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to validate plan")
			return
		}
		if violation != "" {
			metrics.PlanValidationRejects.Inc()
			httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"valid": false, "message": violation})
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"valid": true})
	})

	r.Get("/api/v1/tasks/{key}/cost", func(w http.ResponseWriter, req *http.Request) {
		taskID := chi.URLParam(req, "key")
		total, users, err := repoAdapter.GetByTask(taskID)
		if err != nil {
			logger.Error().Err(err).Str("task", taskID).Msg("api: снапшот не прочитан")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load cost snapshot")
			return
		}
		if total == nil {
			httpinfra.WriteError(w, http.StatusNotFound, "no cost snapshot for task")
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
			"total": snapshotPayload(*total),
			"users": snapshotPayloads(users),
		})
	})

	r.Post("/api/v1/tasks/{key}/recalc", func(w http.ResponseWriter, req *http.Request) {
		taskID := chi.URLParam(req, "key")
		if err := repoAdapter.Enqueue(req.Context(), taskID); err != nil {
			logger.Error().Err(err).Str("task", taskID).Msg("api: задача не поставлена в очередь")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to enqueue task")
			return
		}
		notifyWorker(req.Context(), nudge, logger)
		httpinfra.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "task": taskID})
	})

	r.Post("/api/v1/recalc/all", func(w http.ResponseWriter, req *http.Request) {
		keys, err := repoAdapter.ListKeys()
		if err != nil {
			logger.Error().Err(err).Msg("api: список задач не прочитан")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		for _, key := range keys {
			if err := repoAdapter.Enqueue(req.Context(), key); err != nil {
				logger.Error().Err(err).Str("task", key).Msg("api: задача не поставлена в очередь")
				httpinfra.WriteError(w, http.StatusInternalServerError, "failed to enqueue tasks")
				return
			}
		}
		notifyWorker(req.Context(), nudge, logger)
		httpinfra.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "tasks": len(keys)})
	})

	r.Get("/api/v1/recalc/status", func(w http.ResponseWriter, req *http.Request) {
		depth, err := repoAdapter.Depth(req.Context())
		if err != nil {
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to read queue depth")
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
			"queue_depth": depth,
			"stopped":     stopFlag.Stopped(req.Context()),
		})
	})

	r.Post("/api/v1/recalc/stop", func(w http.ResponseWriter, req *http.Request) {
		if err := stopFlag.Set(req.Context(), stopFlagTTL); err != nil {
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to set stop flag")
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	})

	r.Delete("/api/v1/recalc/stop", func(w http.ResponseWriter, req *http.Request) {
		if err := stopFlag.Clear(req.Context()); err != nil {
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to clear stop flag")
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
	})

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(shutdownCtx)
}

// notifyWorker будит воркера через RabbitMQ. Без RabbitMQ просто молчим:
// воркер подберёт очередь по тикеру.
func notifyWorker(ctx context.Context, nudge *queue.RabbitNudge, logger zerolog.Logger) {
	if nudge == nil {
		return
	}
	if err := nudge.Notify(ctx); err != nil {
		logger.Warn().Err(err).Msg("api: сигнал воркеру не отправлен")
	}
}

func snapshotPayload(s domain.CostSnapshot) map[string]any {
	out := map[string]any{
		"task_key":      s.TaskID,
		"job_no_cached": s.JobNoCached,
		"currency":      s.Currency,
		"hours_ww":      s.HoursWW.String(),
		"hours_ah":      s.HoursAH.String(),
		"hours_su":      s.HoursSU.String(),
		"cost_ww":       s.CostWW.String(),
		"cost_ah":       s.CostAH.String(),
		"cost_su":       s.CostSU.String(),
		"total_cost":    s.TotalCost.String(),
		"updated_at":    s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.UserID != nil {
		out["user_id"] = *s.UserID
	}
	return out
}

func snapshotPayloads(snaps []domain.CostSnapshot) []map[string]any {
	out := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotPayload(s))
	}
	return out
}
