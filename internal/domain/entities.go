package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket — классификация рабочего времени для зарплатного расчёта.
type Bucket string

const (
	BucketWeekdayWork Bucket = "weekday_work"
	BucketAfterHours  Bucket = "after_hours"
	BucketSunday      Bucket = "sunday"
)

// Currency — валюта ставки. Отчётная валюта снапшотов всегда EUR.
type Currency string

const (
	CurrencyTRY Currency = "TRY"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Timer описывает интервал работы пользователя над задачей.
// Время — epoch-миллисекунды UTC. FinishMS == nil значит таймер ещё идёт;
// такие таймеры не участвуют в расчёте стоимости.
type Timer struct {
	ID       int64
	UserID   int64
	TaskID   string
	StartMS  int64
	FinishMS *int64
}

// Finished сообщает, закрыт ли таймер.
func (t Timer) Finished() bool {
	return t.FinishMS != nil
}

// DaySegment — кусок таймера внутри одного локального дня с меткой бакета.
// Живёт только внутри расчёта, в БД не сохраняется. Длительность держим
// в миллисекундах, чтобы разбиение оставалось точным.
type DaySegment struct {
	Date   time.Time
	Bucket Bucket
	DurMS  int64
}

// Hours переводит длительность сегмента в часы с полной точностью.
func (s DaySegment) Hours() decimal.Decimal {
	return decimal.NewFromInt(s.DurMS).Div(decimal.NewFromInt(3_600_000))
}

// WageRate — версионированная ставка пользователя. Исторические строки не
// удаляются, новая ставка добавляется с новой датой EffectiveFrom.
type WageRate struct {
	UserID               int64
	EffectiveFrom        time.Time
	Currency             Currency
	BaseMonthly          decimal.Decimal
	AfterHoursMultiplier decimal.Decimal
	SundayMultiplier     decimal.Decimal
}

// WageAverage — средние ставки по валюте, fallback для пользователей без ставок.
type WageAverage struct {
	Currency             Currency
	BaseMonthly          decimal.Decimal
	AfterHoursMultiplier decimal.Decimal
	SundayMultiplier     decimal.Decimal
}

// FXRate — курс локальной валюты к EUR на дату снапшота курсов.
// Rate == 0 означает «курса нет».
type FXRate struct {
	Date time.Time
	Rate decimal.Decimal
}

// ShiftWindow — окно смены в локальном времени машины. EndNextDay помечает
// ночную смену, заканчивающуюся на следующий календарный день.
type ShiftWindow struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	EndNextDay bool   `json:"end_next_day,omitempty"`
}

// WorkException — окна конкретной даты, полностью заменяющие недельный шаблон.
type WorkException struct {
	Date    string        `json:"date"`
	Windows []ShiftWindow `json:"windows"`
}

// MachineCalendar — календарь рабочих смен машины. WeekTemplate индексируется
// днём недели: 0=Пн … 6=Вс.
type MachineCalendar struct {
	MachineID      int64
	Timezone       string
	WeekTemplate   map[int][]ShiftWindow
	WorkExceptions []WorkException
}

// CostSnapshot — перезаписываемый агрегат часов и стоимости по задаче.
// UserID == nil означает итог по задаче целиком. Инвариант:
// TotalCost == round2(CostWW + CostAH + CostSU).
type CostSnapshot struct {
	TaskID      string
	UserID      *int64
	JobNoCached string
	Currency    Currency
	HoursWW     decimal.Decimal
	HoursAH     decimal.Decimal
	HoursSU     decimal.Decimal
	CostWW      decimal.Decimal
	CostAH      decimal.Decimal
	CostSU      decimal.Decimal
	TotalCost   decimal.Decimal
	UpdatedAt   time.Time
}

// SegmentCategory — тип сегмента на таймлайне машины.
type SegmentCategory string

const (
	CategoryWork    SegmentCategory = "work"
	CategoryHold    SegmentCategory = "hold"
	CategoryIdle    SegmentCategory = "idle"
	CategoryPlanned SegmentCategory = "planned"
)

// TimelineSegment — сегмент таймлайна машины. Строится заново на каждый
// запрос и не сохраняется.
type TimelineSegment struct {
	StartMS  int64           `json:"start_ms"`
	EndMS    int64           `json:"end_ms"`
	TaskID   string          `json:"task_key,omitempty"`
	TaskName string          `json:"task_name,omitempty"`
	IsHold   bool            `json:"is_hold"`
	Category SegmentCategory `json:"category"`
}

// MachineTimeline — ответ таймлайна: факт, простои и план.
type MachineTimeline struct {
	Actual  []TimelineSegment `json:"actual"`
	Idle    []TimelineSegment `json:"idle"`
	Planned []TimelineSegment `json:"planned"`
	Totals  TimelineTotals    `json:"totals"`
}

// TimelineTotals — суммарные секунды по категориям в запрошенном окне.
type TimelineTotals struct {
	ProductiveSeconds int64 `json:"productive_seconds"`
	HoldSeconds       int64 `json:"hold_seconds"`
	IdleSeconds       int64 `json:"idle_seconds"`
}

// PlannedBar — запланированный интервал задачи на машине.
type PlannedBar struct {
	TaskID   string
	TaskName string
	IsHold   bool
	StartMS  int64
	EndMS    int64
}

// MachineTimer — таймер с данными задачи, как его отдаёт выборка по машине.
type MachineTimer struct {
	Timer
	TaskName string
	IsHold   bool
}

// RecalcEntry — строка очереди пересчёта снапшотов.
type RecalcEntry struct {
	TaskID     string
	EnqueuedAt time.Time
}

// Date нормализует момент времени до календарной даты (полночь UTC),
// чтобы даты сравнивались без оглядки на зоны.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateYMD собирает календарную дату.
func DateYMD(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
