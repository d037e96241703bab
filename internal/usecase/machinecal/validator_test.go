package machinecal

import (
	"strings"
	"testing"
	"time"

	"shopfloor-costing/internal/domain"
)

type stubCalendars struct {
	cal domain.MachineCalendar
	ok  bool
}

func (s *stubCalendars) GetByMachine(int64) (domain.MachineCalendar, bool, error) {
	return s.cal, s.ok, nil
}

func defaultValidator() *Validator {
	return NewValidator(NewResolver(&stubCalendars{}, "Europe/Istanbul"))
}

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatalf("не удалось загрузить зону: %v", err)
	}
	return loc
}

func ms(loc *time.Location, y int, m time.Month, d, hh, mm int) int64 {
	return time.Date(y, m, d, hh, mm, 0, 0, loc).UnixMilli()
}

func TestValidateReversedInterval(t *testing.T) {
	v := defaultValidator()
	violation, err := v.ValidatePlan(1, 2000, 1000)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if violation != "planned_end_ms must be greater than planned_start_ms" {
		t.Fatalf("неожиданное сообщение: %q", violation)
	}
}

func TestValidateBeforeShiftStart(t *testing.T) {
	loc := ist(t)
	v := defaultValidator()
	// Понедельник 07:00–08:00 начинается до 07:30.
	violation, err := v.ValidatePlan(1, ms(loc, 2024, time.March, 4, 7, 0), ms(loc, 2024, time.March, 4, 8, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if violation == "" {
		t.Fatal("ожидали нарушение")
	}
	if !strings.Contains(violation, "2024-03-04") || !strings.Contains(violation, "07:30-12:00") {
		t.Fatalf("сообщение должно содержать дату и окна: %q", violation)
	}
}

func TestValidateExactShiftWindow(t *testing.T) {
	loc := ist(t)
	v := defaultValidator()
	violation, err := v.ValidatePlan(1, ms(loc, 2024, time.March, 4, 7, 30), ms(loc, 2024, time.March, 4, 12, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if violation != "" {
		t.Fatalf("интервал ровно в окно должен проходить, получили %q", violation)
	}
}

func TestValidateAcrossLunchGap(t *testing.T) {
	loc := ist(t)
	v := defaultValidator()
	// 11:00–13:00 накрывает обеденный разрыв и растягивается на два окна.
	violation, err := v.ValidatePlan(1, ms(loc, 2024, time.March, 4, 11, 0), ms(loc, 2024, time.March, 4, 13, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if violation == "" {
		t.Fatal("интервал через два окна должен отклоняться")
	}
}

func TestValidateClosedSaturday(t *testing.T) {
	loc := ist(t)
	v := defaultValidator()
	violation, err := v.ValidatePlan(1, ms(loc, 2024, time.March, 2, 10, 0), ms(loc, 2024, time.March, 2, 11, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(violation, "no working shifts configured") {
		t.Fatalf("ожидали сообщение о закрытом дне, получили %q", violation)
	}
}

func TestValidateOvernightShift(t *testing.T) {
	loc := ist(t)
	night := []domain.ShiftWindow{{Start: "22:00", End: "02:00", EndNextDay: true}}
	cal := domain.MachineCalendar{
		MachineID: 7,
		Timezone:  "Europe/Istanbul",
		WeekTemplate: map[int][]domain.ShiftWindow{
			0: night, 1: night, 2: night, 3: night, 4: night, 5: {}, 6: {},
		},
	}
	v := NewValidator(NewResolver(&stubCalendars{cal: cal, ok: true}, "Europe/Istanbul"))

	// Понедельник 23:00 — вторник 01:00 внутри одной ночной смены.
	violation, err := v.ValidatePlan(7, ms(loc, 2024, time.March, 4, 23, 0), ms(loc, 2024, time.March, 5, 1, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if violation != "" {
		t.Fatalf("ночной интервал должен проходить, получили %q", violation)
	}

	// 01:00–03:00 вторника вылезает за хвост смены (02:00).
	violation, err = v.ValidatePlan(7, ms(loc, 2024, time.March, 5, 1, 0), ms(loc, 2024, time.March, 5, 3, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if violation == "" {
		t.Fatal("выход за хвост ночной смены должен отклоняться")
	}
}

func TestValidateExceptionOverridesTemplate(t *testing.T) {
	loc := ist(t)
	cal := domain.MachineCalendar{
		MachineID:    3,
		Timezone:     "Europe/Istanbul",
		WeekTemplate: DefaultWeekTemplate(),
		WorkExceptions: []domain.WorkException{
			{Date: "2024-03-04", Windows: []domain.ShiftWindow{}},
		},
	}
	v := NewValidator(NewResolver(&stubCalendars{cal: cal, ok: true}, "Europe/Istanbul"))

	// Исключение полностью закрывает понедельник, несмотря на шаблон.
	violation, err := v.ValidatePlan(3, ms(loc, 2024, time.March, 4, 8, 0), ms(loc, 2024, time.March, 4, 9, 0))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(violation, "no working shifts configured") {
		t.Fatalf("исключение должно закрывать день, получили %q", violation)
	}
}
