package costing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"shopfloor-costing/internal/domain"
)

type stubStore struct {
	timers   []domain.Timer
	jobNo    string
	rates    []domain.WageRate
	averages map[domain.Currency]domain.WageAverage
	fx       map[domain.Currency][]domain.FXRate

	replaced  bool
	deleted   bool
	lastTotal domain.CostSnapshot
	lastUsers []domain.CostSnapshot
}

func (s *stubStore) ListFinishedByTask(string) ([]domain.Timer, error) { return s.timers, nil }
func (s *stubStore) ListForMachine(int64, int64, int64) ([]domain.MachineTimer, error) {
	return nil, nil
}
func (s *stubStore) GetJobNo(string) (string, error) { return s.jobNo, nil }
func (s *stubStore) ListKeys() ([]string, error)     { return nil, nil }
func (s *stubStore) ListByUsers([]int64) ([]domain.WageRate, error) {
	return s.rates, nil
}
func (s *stubStore) AveragesByCurrency() (map[domain.Currency]domain.WageAverage, error) {
	return s.averages, nil
}
func (s *stubStore) RatesToEUR(c domain.Currency) ([]domain.FXRate, error) {
	return s.fx[c], nil
}
func (s *stubStore) ReplaceForTask(_ context.Context, _ string, total domain.CostSnapshot, users []domain.CostSnapshot) error {
	s.replaced = true
	s.lastTotal = total
	s.lastUsers = users
	return nil
}
func (s *stubStore) DeleteForTask(context.Context, string) error {
	s.deleted = true
	return nil
}
func (s *stubStore) GetByTask(string) (*domain.CostSnapshot, []domain.CostSnapshot, error) {
	return nil, nil, nil
}

func newService(t *testing.T, store *stubStore) *Service {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatalf("не удалось загрузить зону: %v", err)
	}
	return NewService(store, store, store, store, store, loc, domain.CurrencyTRY, zerolog.Nop())
}

func finished(userID int64, task string, startMS, finishMS int64) domain.Timer {
	f := finishMS
	return domain.Timer{UserID: userID, TaskID: task, StartMS: startMS, FinishMS: &f}
}

func localMS(t *testing.T, y int, m time.Month, d, hh, mm int) int64 {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatalf("не удалось загрузить зону: %v", err)
	}
	return time.Date(y, m, d, hh, mm, 0, 0, loc).UnixMilli()
}

func baseStore(t *testing.T) *stubStore {
	return &stubStore{
		// Пятница 16:00–18:00: час в рабочем окне и час после.
		timers: []domain.Timer{finished(1, "JOB-1", localMS(t, 2024, time.March, 1, 16, 0), localMS(t, 2024, time.March, 1, 18, 0))},
		jobNo:  "2024-017",
		rates: []domain.WageRate{{
			UserID:               1,
			EffectiveFrom:        domain.DateYMD(2024, time.January, 1),
			Currency:             domain.CurrencyTRY,
			BaseMonthly:          decimal.NewFromInt(2250), // 10 TRY/час при делителе 225
			AfterHoursMultiplier: decimal.RequireFromString("1.5"),
			SundayMultiplier:     decimal.RequireFromString("2.0"),
		}},
		fx: map[domain.Currency][]domain.FXRate{
			domain.CurrencyTRY: {{Date: domain.DateYMD(2024, time.February, 1), Rate: decimal.RequireFromString("0.03")}},
		},
	}
}

func TestRecomputeKnownNumbers(t *testing.T) {
	store := baseStore(t)
	svc := newService(t, store)

	res, err := svc.Recompute(context.Background(), "JOB-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.Wrote || res.Timers != 1 || res.Users != 1 || res.SkippedFX != 0 {
		t.Fatalf("неожиданный результат: %+v", res)
	}
	if !store.replaced {
		t.Fatal("снапшоты не записаны")
	}

	total := store.lastTotal
	if total.JobNoCached != "2024-017" || total.Currency != domain.CurrencyEUR || total.UserID != nil {
		t.Fatalf("неверная шапка снапшота: %+v", total)
	}
	// 1ч ww по 10 TRY * 0.03 = 0.30 EUR; 1ч ah по 15 TRY * 0.03 = 0.45 EUR.
	if !total.HoursWW.Equal(decimal.NewFromInt(1)) || !total.HoursAH.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("неверные часы: %s / %s", total.HoursWW, total.HoursAH)
	}
	if total.CostWW.StringFixed(2) != "0.30" || total.CostAH.StringFixed(2) != "0.45" {
		t.Fatalf("неверная стоимость: %s / %s", total.CostWW, total.CostAH)
	}
	if !total.TotalCost.Equal(total.CostWW.Add(total.CostAH).Add(total.CostSU)) {
		t.Fatalf("нарушен инвариант итога: %s", total.TotalCost)
	}

	if len(store.lastUsers) != 1 || store.lastUsers[0].UserID == nil || *store.lastUsers[0].UserID != 1 {
		t.Fatalf("неверные пользовательские снапшоты: %+v", store.lastUsers)
	}
	if !store.lastUsers[0].TotalCost.Equal(total.TotalCost) {
		t.Fatal("единственный пользователь должен совпадать с итогом")
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	store := baseStore(t)
	svc := newService(t, store)

	if _, err := svc.Recompute(context.Background(), "JOB-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	first := store.lastTotal

	if _, err := svc.Recompute(context.Background(), "JOB-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second := store.lastTotal

	if !first.TotalCost.Equal(second.TotalCost) ||
		!first.CostWW.Equal(second.CostWW) ||
		!first.CostAH.Equal(second.CostAH) ||
		!first.HoursWW.Equal(second.HoursWW) ||
		!first.HoursAH.Equal(second.HoursAH) {
		t.Fatalf("повторный пересчёт дал другие значения: %+v и %+v", first, second)
	}
}

func TestRecomputeNoTimersWipes(t *testing.T) {
	store := baseStore(t)
	store.timers = nil
	svc := newService(t, store)

	res, err := svc.Recompute(context.Background(), "JOB-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Wrote {
		t.Fatal("без таймеров снапшот не пишется")
	}
	if !store.deleted {
		t.Fatal("старые снапшоты должны удаляться")
	}
	if store.replaced {
		t.Fatal("запись не должна вызываться")
	}
}

func TestRecomputeMissingFXSkipsSegments(t *testing.T) {
	store := baseStore(t)
	store.fx = nil
	svc := newService(t, store)

	res, err := svc.Recompute(context.Background(), "JOB-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Оба сегмента (ww и ah) выпадают: ни часов, ни стоимости.
	if res.SkippedFX != 2 {
		t.Fatalf("ожидали 2 пропущенных сегмента, получили %d", res.SkippedFX)
	}
	if !store.lastTotal.HoursWW.IsZero() || !store.lastTotal.TotalCost.IsZero() {
		t.Fatalf("пропущенные сегменты не должны давать часы или стоимость: %+v", store.lastTotal)
	}
	if len(store.lastUsers) != 0 {
		t.Fatalf("пользовательских снапшотов быть не должно: %+v", store.lastUsers)
	}
}

func TestRecomputeSundayMultiplier(t *testing.T) {
	store := baseStore(t)
	// Воскресенье 10:00–12:00.
	store.timers = []domain.Timer{finished(1, "JOB-1", localMS(t, 2024, time.March, 3, 10, 0), localMS(t, 2024, time.March, 3, 12, 0))}
	svc := newService(t, store)

	if _, err := svc.Recompute(context.Background(), "JOB-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// 2ч * 10 TRY * 2.0 * 0.03 = 1.20 EUR.
	if store.lastTotal.CostSU.StringFixed(2) != "1.20" {
		t.Fatalf("неверная воскресная стоимость: %s", store.lastTotal.CostSU)
	}
	if !store.lastTotal.HoursSU.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("неверные воскресные часы: %s", store.lastTotal.HoursSU)
	}
}

func TestRecomputeEURWageNeedsNoFX(t *testing.T) {
	store := baseStore(t)
	store.fx = nil
	store.rates[0].Currency = domain.CurrencyEUR
	svc := newService(t, store)

	res, err := svc.Recompute(context.Background(), "JOB-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.SkippedFX != 0 {
		t.Fatalf("ставка в EUR не требует курса: %+v", res)
	}
	// 1ч * 10 EUR = 10.00.
	if store.lastTotal.CostWW.StringFixed(2) != "10.00" {
		t.Fatalf("неверная стоимость: %s", store.lastTotal.CostWW)
	}
}
