// Package machinecal работает с календарями смен машин: превращает шаблон
// недели и исключения в конкретные окна на дату и проверяет плановые
// интервалы. Не путать с зарплатным календарём из payroll.
package machinecal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"shopfloor-costing/internal/domain"
)

// DefaultTimezone используется для машин без календаря.
const DefaultTimezone = "Europe/Istanbul"

// DefaultWeekTemplate: Пн–Пт 07:30–12:00 и 12:30–17:00, выходные закрыты.
func DefaultWeekTemplate() map[int][]domain.ShiftWindow {
	weekday := []domain.ShiftWindow{
		{Start: "07:30", End: "12:00"},
		{Start: "12:30", End: "17:00"},
	}
	return map[int][]domain.ShiftWindow{
		0: weekday, 1: weekday, 2: weekday, 3: weekday, 4: weekday,
		5: {}, 6: {},
	}
}

// Window — конкретное рабочее окно в локальном времени машины.
type Window struct {
	Start time.Time
	End   time.Time
}

// Resolver резолвит календарь машины в окна на дату.
type Resolver struct {
	calendars domain.CalendarRepo
	defaultTZ string
}

// NewResolver создаёт резолвер. defaultTZ применяется к машинам без
// календаря или с пустой зоной.
func NewResolver(calendars domain.CalendarRepo, defaultTZ string) *Resolver {
	if defaultTZ == "" {
		defaultTZ = DefaultTimezone
	}
	return &Resolver{calendars: calendars, defaultTZ: defaultTZ}
}

// CalendarFor возвращает календарь машины с подставленными дефолтами и его зону.
func (r *Resolver) CalendarFor(machineID int64) (domain.MachineCalendar, *time.Location, error) {
	cal, ok, err := r.calendars.GetByMachine(machineID)
	if err != nil {
		return domain.MachineCalendar{}, nil, fmt.Errorf("календарь машины %d: %w", machineID, err)
	}
	if !ok {
		cal = domain.MachineCalendar{MachineID: machineID}
	}
	if cal.Timezone == "" {
		cal.Timezone = r.defaultTZ
	}
	if len(cal.WeekTemplate) == 0 {
		cal.WeekTemplate = DefaultWeekTemplate()
	}
	loc, err := time.LoadLocation(cal.Timezone)
	if err != nil {
		loc, err = time.LoadLocation(r.defaultTZ)
		if err != nil {
			loc = time.UTC
		}
	}
	return cal, loc, nil
}

// WindowsForDate возвращает отсортированные рабочие окна машины на локальную
// дату: исключение на дату полностью заменяет шаблон, ночные смены
// предыдущего дня добавляют хвост [полночь, конец).
func (r *Resolver) WindowsForDate(machineID int64, date time.Time) ([]Window, *time.Location, error) {
	cal, loc, err := r.CalendarFor(machineID)
	if err != nil {
		return nil, nil, err
	}
	return windowsOn(cal, loc, date), loc, nil
}

func windowsOn(cal domain.MachineCalendar, loc *time.Location, date time.Time) []Window {
	date = domain.Date(date)
	out := parseWindows(loc, date, sourceWindows(cal, date))

	prev := date.AddDate(0, 0, -1)
	for _, w := range sourceWindows(cal, prev) {
		if !w.EndNextDay {
			continue
		}
		// Хвост ночной смены: [полночь, конец) на целевую дату.
		out = append(out, parseWindows(loc, date, []domain.ShiftWindow{{Start: "00:00", End: w.End}})...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// sourceWindows выбирает источник окон для даты: исключение или шаблон недели.
func sourceWindows(cal domain.MachineCalendar, date time.Time) []domain.ShiftWindow {
	iso := date.Format("2006-01-02")
	for _, ex := range cal.WorkExceptions {
		if ex.Date == iso {
			return ex.Windows
		}
	}
	return cal.WeekTemplate[isoWeekday(date)]
}

func parseWindows(loc *time.Location, date time.Time, windows []domain.ShiftWindow) []Window {
	y, m, d := date.Date()
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		sh, sm, err := parseHHMM(w.Start)
		if err != nil {
			continue
		}
		eh, em, err := parseHHMM(w.End)
		if err != nil {
			continue
		}
		start := time.Date(y, m, d, sh, sm, 0, 0, loc)
		endDay := d
		if w.EndNextDay {
			endDay++
		}
		end := time.Date(y, m, endDay, eh, em, 0, 0, loc)
		if !end.After(start) {
			// Вырожденное окно отбрасываем.
			continue
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out
}

// isoWeekday переводит time.Weekday в индекс шаблона: 0=Пн … 6=Вс.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("неверный формат времени %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("неверный час в %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("неверная минута в %q", s)
	}
	return h, m, nil
}
