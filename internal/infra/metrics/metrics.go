package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SnapshotRecomputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cost_snapshot_recompute_seconds",
		Help:    "Время пересчёта снапшота стоимости задачи",
		Buckets: prometheus.DefBuckets,
	})
	SnapshotRecomputeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cost_snapshot_recompute_errors_total",
		Help: "Ошибки пересчёта снапшотов",
	})
	FXSkippedSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "costing_fx_skipped_segments_total",
		Help: "Сегменты, пропущенные из-за отсутствия курса валюты",
	})
	RecalcQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cost_recalc_queue_depth",
		Help: "Текущий размер очереди пересчёта",
	})
	RecalcProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cost_recalc_processed_total",
		Help: "Успешно пересчитанные задачи",
	})
	PlanValidationRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plan_validation_rejects_total",
		Help: "Отклонённые плановые интервалы",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность запросов к внешним хранилищам",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество запросов к внешним хранилищам",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SnapshotRecomputeSeconds,
		SnapshotRecomputeErrors,
		FXSkippedSegments,
		RecalcQueueDepth,
		RecalcProcessedTotal,
		PlanValidationRejects,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest фиксирует длительность и статус запроса к хранилищу.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	status := strconv.FormatBool(err == nil)
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// StartServer поднимает отдельный listener для /metrics (для воркеров без
// собственного HTTP API).
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: сервер остановился с ошибкой")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
