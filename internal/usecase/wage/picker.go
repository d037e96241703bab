// Package wage выбирает действующую ставку пользователя на дату.
package wage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"shopfloor-costing/internal/domain"
)

// Значения «последней надежды», когда в системе нет ни одной ставки:
// часы всё равно должны попасть в снапшот, пусть и с почти нулевой ценой.
var (
	placeholderBaseMonthly = decimal.NewFromInt(1)
	defaultAHMultiplier    = decimal.RequireFromString("1.5")
	defaultSUMultiplier    = decimal.RequireFromString("2.0")
)

// Picker выбирает ставку по истории пользователя с fallback на средние по
// валюте. Строится один раз на пересчёт: вся история уже в памяти.
type Picker struct {
	byUser   map[int64][]domain.WageRate
	fallback domain.WageRate
}

// NewPicker создаёт пикер. rates должны быть отсортированы по
// (user_id, effective_from); averages — средние ставки по валютам,
// defaultCurrency — валюта fallback-ставки.
func NewPicker(rates []domain.WageRate, averages map[domain.Currency]domain.WageAverage, defaultCurrency domain.Currency) *Picker {
	byUser := make(map[int64][]domain.WageRate)
	for _, r := range rates {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	for _, lst := range byUser {
		sort.Slice(lst, func(i, j int) bool { return lst[i].EffectiveFrom.Before(lst[j].EffectiveFrom) })
	}
	return &Picker{byUser: byUser, fallback: buildFallback(averages, defaultCurrency)}
}

// Pick возвращает ставку, действующую для пользователя на дату: последняя
// строка с effective_from <= date; если все строки в будущем — самая
// ранняя; если строк нет — fallback. Никогда не возвращает пустую ставку.
func (p *Picker) Pick(userID int64, date time.Time) domain.WageRate {
	lst := p.byUser[userID]
	if len(lst) == 0 {
		return p.fallback
	}
	d := domain.Date(date)
	idx := sort.Search(len(lst), func(i int) bool { return lst[i].EffectiveFrom.After(d) }) - 1
	if idx < 0 {
		return lst[0]
	}
	return lst[idx]
}

func buildFallback(averages map[domain.Currency]domain.WageAverage, currency domain.Currency) domain.WageRate {
	rate := domain.WageRate{
		EffectiveFrom:        domain.DateYMD(1970, time.January, 1),
		Currency:             currency,
		BaseMonthly:          placeholderBaseMonthly,
		AfterHoursMultiplier: defaultAHMultiplier,
		SundayMultiplier:     defaultSUMultiplier,
	}
	avg, ok := averages[currency]
	if !ok {
		return rate
	}
	if avg.BaseMonthly.IsPositive() {
		rate.BaseMonthly = avg.BaseMonthly
	}
	if avg.AfterHoursMultiplier.IsPositive() {
		rate.AfterHoursMultiplier = avg.AfterHoursMultiplier
	}
	if avg.SundayMultiplier.IsPositive() {
		rate.SundayMultiplier = avg.SundayMultiplier
	}
	return rate
}
