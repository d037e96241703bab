package machinecal

import (
	"testing"
	"time"

	"shopfloor-costing/internal/domain"
)

func TestWindowsForDateDefaults(t *testing.T) {
	r := NewResolver(&stubCalendars{}, "Europe/Istanbul")

	// Понедельник по шаблону: два окна.
	windows, loc, err := r.WindowsForDate(1, domain.DateYMD(2024, time.March, 4))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if loc.String() != "Europe/Istanbul" {
		t.Fatalf("неожиданная зона: %s", loc)
	}
	if len(windows) != 2 {
		t.Fatalf("ожидали 2 окна, получили %d", len(windows))
	}
	if windows[0].Start.Format("15:04") != "07:30" || windows[1].End.Format("15:04") != "17:00" {
		t.Fatalf("неожиданные окна: %+v", windows)
	}

	// Воскресенье закрыто.
	windows, _, err = r.WindowsForDate(1, domain.DateYMD(2024, time.March, 3))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(windows) != 0 {
		t.Fatalf("воскресенье должно быть закрыто, получили %+v", windows)
	}
}

func TestWindowsForDateOvernightTail(t *testing.T) {
	cal := domain.MachineCalendar{
		MachineID: 5,
		Timezone:  "Europe/Istanbul",
		WeekTemplate: map[int][]domain.ShiftWindow{
			0: {{Start: "22:00", End: "02:00", EndNextDay: true}},
			1: {{Start: "08:00", End: "12:00"}},
			2: {}, 3: {}, 4: {}, 5: {}, 6: {},
		},
	}
	r := NewResolver(&stubCalendars{cal: cal, ok: true}, "Europe/Istanbul")

	// Вторник: своё окно плюс хвост ночной смены понедельника, по порядку.
	windows, _, err := r.WindowsForDate(5, domain.DateYMD(2024, time.March, 5))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("ожидали 2 окна, получили %+v", windows)
	}
	if windows[0].Start.Format("15:04") != "00:00" || windows[0].End.Format("15:04") != "02:00" {
		t.Fatalf("первым должен идти хвост ночной смены: %+v", windows[0])
	}
	if windows[1].Start.Format("15:04") != "08:00" {
		t.Fatalf("вторым — дневное окно: %+v", windows[1])
	}
}

func TestWindowsForDateDropsDegenerate(t *testing.T) {
	cal := domain.MachineCalendar{
		MachineID: 6,
		Timezone:  "Europe/Istanbul",
		WeekTemplate: map[int][]domain.ShiftWindow{
			0: {{Start: "10:00", End: "10:00"}, {Start: "12:00", End: "09:00"}, {Start: "s", End: "17:00"}},
			1: {}, 2: {}, 3: {}, 4: {}, 5: {}, 6: {},
		},
	}
	r := NewResolver(&stubCalendars{cal: cal, ok: true}, "Europe/Istanbul")

	windows, _, err := r.WindowsForDate(6, domain.DateYMD(2024, time.March, 4))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(windows) != 0 {
		t.Fatalf("вырожденные окна должны отбрасываться, получили %+v", windows)
	}
}
