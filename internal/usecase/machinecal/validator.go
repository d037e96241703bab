package machinecal

import (
	"fmt"
	"strings"
	"time"

	"shopfloor-costing/internal/domain"
)

// Validator проверяет, что плановый интервал целиком помещается в рабочие
// окна машины. Интервалы на границах смен не дорезаются автоматически:
// резать бар по границам обязан вызывающий, валидатор только принимает
// или отклоняет целиком.
type Validator struct {
	resolver *Resolver
}

// NewValidator создаёт валидатор поверх резолвера календарей.
func NewValidator(resolver *Resolver) *Validator {
	return &Validator{resolver: resolver}
}

// ValidatePlan возвращает пустую строку, если интервал допустим, иначе —
// описание нарушения с датой и допустимыми окнами. Ошибка возвращается
// только при проблемах чтения календаря.
func (v *Validator) ValidatePlan(machineID int64, startMS, endMS int64) (string, error) {
	if endMS <= startMS {
		return "planned_end_ms must be greater than planned_start_ms", nil
	}

	cal, loc, err := v.resolver.CalendarFor(machineID)
	if err != nil {
		return "", err
	}

	for _, seg := range splitByLocalDay(startMS, endMS, loc) {
		windows := windowsOn(cal, loc, seg.date)
		if len(windows) == 0 {
			return fmt.Sprintf("%s: no working shifts configured (closed)", seg.date.Format("2006-01-02")), nil
		}
		// Сегмент должен помещаться в одно окно: частичное покрытие и
		// растяжка на два окна — нарушение.
		covered := false
		for _, w := range windows {
			if !seg.start.Before(w.Start) && !seg.end.After(w.End) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Sprintf("%s not within working windows (%s)",
				seg.date.Format("2006-01-02"), formatWindows(windows)), nil
		}
	}
	return "", nil
}

type daySpan struct {
	date  time.Time
	start time.Time
	end   time.Time
}

// splitByLocalDay режет [startMS, endMS) по локальным полуночам машины.
func splitByLocalDay(startMS, endMS int64, loc *time.Location) []daySpan {
	start := time.UnixMilli(startMS).In(loc)
	end := time.UnixMilli(endMS).In(loc)

	var out []daySpan
	cur := start
	for cur.Before(end) {
		y, m, d := cur.Date()
		nextMidnight := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		segEnd := nextMidnight
		if end.Before(segEnd) {
			segEnd = end
		}
		out = append(out, daySpan{date: domain.DateYMD(y, m, d), start: cur, end: segEnd})
		cur = segEnd
	}
	return out
}

func formatWindows(windows []Window) string {
	if len(windows) == 0 {
		return "closed"
	}
	parts := make([]string, 0, len(windows))
	for _, w := range windows {
		parts = append(parts, w.Start.Format("15:04")+"-"+w.End.Format("15:04"))
	}
	return strings.Join(parts, ", ")
}
