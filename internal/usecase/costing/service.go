// Package costing пересчитывает снапшоты стоимости задач из таймеров,
// истории ставок и курсов валют.
package costing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/metrics"
	"shopfloor-costing/internal/usecase/payroll"
	"shopfloor-costing/internal/usecase/wage"
)

// WageMonthHours — фиксированный делитель перевода месячной базы в часовую
// ставку. Сознательное упрощение: 225 часов в месяце, не календарный расчёт.
const WageMonthHours = 225

// SnapshotCurrency — отчётная валюта всех снапшотов.
const SnapshotCurrency = domain.CurrencyEUR

// Service пересчитывает снапшоты стоимости. Пересчёт — чистая функция от
// таймеров, ставок и курсов: снапшот можно удалить и построить заново.
type Service struct {
	timers          domain.TimerRepo
	tasks           domain.TaskRepo
	wages           domain.WageRepo
	fx              domain.FXRepo
	snapshots       domain.SnapshotRepo
	loc             *time.Location
	defaultCurrency domain.Currency
	log             zerolog.Logger
}

// Result — сводка одного пересчёта.
type Result struct {
	Timers    int
	Users     int
	SkippedFX int
	Wrote     bool
}

// NewService создаёт сервис пересчёта. loc — бизнес-зона зарплатного
// календаря, defaultCurrency — валюта fallback-ставки.
func NewService(
	timers domain.TimerRepo,
	tasks domain.TaskRepo,
	wages domain.WageRepo,
	fx domain.FXRepo,
	snapshots domain.SnapshotRepo,
	loc *time.Location,
	defaultCurrency domain.Currency,
	logger zerolog.Logger,
) *Service {
	return &Service{
		timers:          timers,
		tasks:           tasks,
		wages:           wages,
		fx:              fx,
		snapshots:       snapshots,
		loc:             loc,
		defaultCurrency: defaultCurrency,
		log:             logger,
	}
}

type bucketAcc struct {
	hWW, hAH, hSU decimal.Decimal
	cWW, cAH, cSU decimal.Decimal
}

// Recompute атомарно перестраивает снапшоты задачи. Задача без закрытых
// таймеров остаётся без снапшота вовсе: отсутствие строки означает «данных
// ещё нет», а не нулевую стоимость.
func (s *Service) Recompute(ctx context.Context, taskID string) (Result, error) {
	started := time.Now()

	timers, err := s.timers.ListFinishedByTask(taskID)
	if err != nil {
		return Result{}, fmt.Errorf("таймеры задачи %s: %w", taskID, err)
	}
	if len(timers) == 0 {
		if err := s.snapshots.DeleteForTask(ctx, taskID); err != nil {
			return Result{}, fmt.Errorf("удаление снапшотов %s: %w", taskID, err)
		}
		return Result{}, nil
	}

	jobNo, err := s.tasks.GetJobNo(taskID)
	if err != nil {
		return Result{}, fmt.Errorf("номер заказа %s: %w", taskID, err)
	}

	picker, err := s.buildPicker(timers)
	if err != nil {
		return Result{}, err
	}

	lookups := map[domain.Currency]*FXLookup{}
	perUser := map[int64]*bucketAcc{}
	skipped := 0

	for _, t := range timers {
		// ListFinishedByTask отдаёт только закрытые таймеры, FinishMS задан.
		for _, seg := range payroll.Split(t.StartMS, *t.FinishMS, s.loc) {
			w := picker.Pick(t.UserID, seg.Date)

			rate, err := s.rateFor(lookups, w.Currency, seg.Date)
			if err != nil {
				return Result{}, err
			}
			if rate.IsZero() {
				// Нет курса на дату — сегмент выпадает целиком, и часы тоже.
				skipped++
				metrics.FXSkippedSegments.Inc()
				continue
			}

			hours := seg.Hours()
			hourly := w.BaseMonthly.Div(decimal.NewFromInt(WageMonthHours))

			acc, ok := perUser[t.UserID]
			if !ok {
				acc = &bucketAcc{}
				perUser[t.UserID] = acc
			}
			switch seg.Bucket {
			case domain.BucketWeekdayWork:
				acc.hWW = acc.hWW.Add(hours)
				acc.cWW = acc.cWW.Add(hours.Mul(hourly).Mul(rate))
			case domain.BucketAfterHours:
				acc.hAH = acc.hAH.Add(hours)
				acc.cAH = acc.cAH.Add(hours.Mul(hourly).Mul(w.AfterHoursMultiplier).Mul(rate))
			case domain.BucketSunday:
				acc.hSU = acc.hSU.Add(hours)
				acc.cSU = acc.cSU.Add(hours.Mul(hourly).Mul(w.SundayMultiplier).Mul(rate))
			}
		}
	}

	total, users := s.buildSnapshots(taskID, jobNo, perUser)
	if err := s.snapshots.ReplaceForTask(ctx, taskID, total, users); err != nil {
		metrics.SnapshotRecomputeErrors.Inc()
		return Result{}, fmt.Errorf("запись снапшотов %s: %w", taskID, err)
	}

	metrics.SnapshotRecomputeSeconds.Observe(time.Since(started).Seconds())
	if skipped > 0 {
		s.log.Warn().Str("task", taskID).Int("segments", skipped).
			Msg("costing: сегменты пропущены из-за отсутствия курса")
	}
	return Result{Timers: len(timers), Users: len(users), SkippedFX: skipped, Wrote: true}, nil
}

func (s *Service) buildPicker(timers []domain.Timer) (*wage.Picker, error) {
	seen := map[int64]struct{}{}
	var userIDs []int64
	for _, t := range timers {
		if _, ok := seen[t.UserID]; !ok {
			seen[t.UserID] = struct{}{}
			userIDs = append(userIDs, t.UserID)
		}
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	rates, err := s.wages.ListByUsers(userIDs)
	if err != nil {
		return nil, fmt.Errorf("ставки пользователей: %w", err)
	}
	averages, err := s.wages.AveragesByCurrency()
	if err != nil {
		return nil, fmt.Errorf("средние ставки: %w", err)
	}
	return wage.NewPicker(rates, averages, s.defaultCurrency), nil
}

func (s *Service) rateFor(lookups map[domain.Currency]*FXLookup, currency domain.Currency, date time.Time) (decimal.Decimal, error) {
	if currency == SnapshotCurrency {
		return decimal.NewFromInt(1), nil
	}
	lookup, ok := lookups[currency]
	if !ok {
		rates, err := s.fx.RatesToEUR(currency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("курсы %s: %w", currency, err)
		}
		lookup = NewFXLookup(rates)
		lookups[currency] = lookup
	}
	return lookup.Rate(date), nil
}

// buildSnapshots квантует накопленные значения до 2 знаков (half-up) и
// собирает итоговый и пользовательские снапшоты. Округление происходит
// только здесь, на записи.
func (s *Service) buildSnapshots(taskID, jobNo string, perUser map[int64]*bucketAcc) (domain.CostSnapshot, []domain.CostSnapshot) {
	now := time.Now().UTC()

	userIDs := make([]int64, 0, len(perUser))
	for uid := range perUser {
		userIDs = append(userIDs, uid)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	var totalAcc bucketAcc
	users := make([]domain.CostSnapshot, 0, len(userIDs))
	for _, uid := range userIDs {
		acc := perUser[uid]
		totalAcc.hWW = totalAcc.hWW.Add(acc.hWW)
		totalAcc.hAH = totalAcc.hAH.Add(acc.hAH)
		totalAcc.hSU = totalAcc.hSU.Add(acc.hSU)
		totalAcc.cWW = totalAcc.cWW.Add(acc.cWW)
		totalAcc.cAH = totalAcc.cAH.Add(acc.cAH)
		totalAcc.cSU = totalAcc.cSU.Add(acc.cSU)

		id := uid
		users = append(users, snapshotFrom(taskID, jobNo, &id, acc, now))
	}
	return snapshotFrom(taskID, jobNo, nil, &totalAcc, now), users
}

func snapshotFrom(taskID, jobNo string, userID *int64, acc *bucketAcc, now time.Time) domain.CostSnapshot {
	round2 := func(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
	cWW, cAH, cSU := round2(acc.cWW), round2(acc.cAH), round2(acc.cSU)
	return domain.CostSnapshot{
		TaskID:      taskID,
		UserID:      userID,
		JobNoCached: jobNo,
		Currency:    SnapshotCurrency,
		HoursWW:     round2(acc.hWW),
		HoursAH:     round2(acc.hAH),
		HoursSU:     round2(acc.hSU),
		CostWW:      cWW,
		CostAH:      cAH,
		CostSU:      cSU,
		// Инвариант снапшота: итог равен сумме уже квантованных частей.
		TotalCost: cWW.Add(cAH).Add(cSU),
		UpdatedAt: now,
	}
}
