package costing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"shopfloor-costing/internal/domain"
)

// FXLookup отдаёт курс валюты к EUR на дату: берётся последний снапшот
// на/до даты, при отсутствии более раннего — самый ранний известный.
// Пустая таблица всегда отдаёт ноль («курса нет»).
type FXLookup struct {
	rates []domain.FXRate
}

// NewFXLookup строит lookup по снапшотам курсов.
func NewFXLookup(rates []domain.FXRate) *FXLookup {
	sorted := make([]domain.FXRate, len(rates))
	copy(sorted, rates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	return &FXLookup{rates: sorted}
}

// Rate возвращает курс на дату. Ноль означает «курса нет»: вызывающий
// пропускает такой сегмент целиком.
func (l *FXLookup) Rate(date time.Time) decimal.Decimal {
	if len(l.rates) == 0 {
		return decimal.Zero
	}
	d := domain.Date(date)
	idx := sort.Search(len(l.rates), func(i int) bool { return l.rates[i].Date.After(d) }) - 1
	if idx < 0 {
		idx = 0
	}
	return l.rates[idx].Rate
}
