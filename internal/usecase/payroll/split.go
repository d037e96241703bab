// Package payroll разбивает интервалы таймеров по зарплатным бакетам.
//
// Зарплатный календарь фиксированный: Пн–Пт 07:30–17:00 — weekday_work,
// остальное время Пн–Сб — after_hours, всё воскресенье — sunday. Это
// отдельное понятие от настраиваемых календарей смен машин (machinecal):
// смены управляют планированием, а этот календарь — ставками.
package payroll

import (
	"time"

	"shopfloor-costing/internal/domain"
)

// Границы дневного рабочего окна в локальном времени бизнес-зоны.
const (
	workStartHour   = 7
	workStartMinute = 30
	workEndHour     = 17
	workEndMinute   = 0
)

// Split разбивает интервал [startMS, finishMS) на сегменты по локальным
// дням и бакетам в зоне loc. Пустой или перевёрнутый интервал даёт пустой
// результат. Сумма длительностей сегментов всегда равна finishMS-startMS.
func Split(startMS, finishMS int64, loc *time.Location) []domain.DaySegment {
	if finishMS <= startMS {
		return nil
	}

	start := time.UnixMilli(startMS).In(loc)
	end := time.UnixMilli(finishMS).In(loc)

	var out []domain.DaySegment
	cur := start
	for cur.Before(end) {
		y, m, d := cur.Date()
		dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
		dayEnd := dayStart.AddDate(0, 0, 1)
		nxt := dayEnd
		if end.Before(nxt) {
			nxt = end
		}

		date := domain.DateYMD(y, m, d)
		daySpanMS := nxt.UnixMilli() - cur.UnixMilli()

		switch cur.Weekday() {
		case time.Sunday:
			out = appendSegment(out, date, domain.BucketSunday, daySpanMS)
		case time.Saturday:
			out = appendSegment(out, date, domain.BucketAfterHours, daySpanMS)
		default:
			workStart := time.Date(y, m, d, workStartHour, workStartMinute, 0, 0, loc)
			workEnd := time.Date(y, m, d, workEndHour, workEndMinute, 0, 0, loc)
			workMS := overlapMS(cur, nxt, workStart, workEnd)
			out = appendSegment(out, date, domain.BucketWeekdayWork, workMS)
			out = appendSegment(out, date, domain.BucketAfterHours, daySpanMS-workMS)
		}

		cur = nxt
	}
	return out
}

// Totals суммирует длительности по бакетам.
func Totals(segments []domain.DaySegment) map[domain.Bucket]int64 {
	totals := make(map[domain.Bucket]int64, 3)
	for _, s := range segments {
		totals[s.Bucket] += s.DurMS
	}
	return totals
}

func appendSegment(out []domain.DaySegment, date time.Time, bucket domain.Bucket, durMS int64) []domain.DaySegment {
	if durMS <= 0 {
		return out
	}
	return append(out, domain.DaySegment{Date: date, Bucket: bucket, DurMS: durMS})
}

func overlapMS(aStart, aEnd, bStart, bEnd time.Time) int64 {
	s := aStart
	if bStart.After(s) {
		s = bStart
	}
	e := aEnd
	if bEnd.Before(e) {
		e = bEnd
	}
	if !e.After(s) {
		return 0
	}
	return e.UnixMilli() - s.UnixMilli()
}
