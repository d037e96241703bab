package domain

import (
	"context"
	"time"
)

// TimerRepo — чтение таймеров.
type TimerRepo interface {
	// ListFinishedByTask возвращает закрытые таймеры задачи.
	ListFinishedByTask(taskID string) ([]Timer, error)
	// ListForMachine возвращает таймеры машины, пересекающие окно [fromMS, toMS).
	// Открытые таймеры (FinishMS == nil) тоже попадают в выборку.
	ListForMachine(machineID int64, fromMS, toMS int64) ([]MachineTimer, error)
}

// TaskRepo — чтение справочных данных задач.
type TaskRepo interface {
	// GetJobNo возвращает номер заказа задачи для кэширования в снапшоте.
	GetJobNo(taskID string) (string, error)
	// ListKeys возвращает ключи всех задач (для полного пересчёта).
	ListKeys() ([]string, error)
}

// PlanRepo — чтение плановых интервалов машин.
type PlanRepo interface {
	ListPlannedForMachine(machineID int64, fromMS, toMS int64) ([]PlannedBar, error)
}

// WageRepo — чтение истории ставок.
type WageRepo interface {
	// ListByUsers возвращает ставки пользователей, отсортированные по
	// (user_id, effective_from).
	ListByUsers(userIDs []int64) ([]WageRate, error)
	// AveragesByCurrency возвращает средние ставки по всем пользователям,
	// сгруппированные по валюте.
	AveragesByCurrency() (map[Currency]WageAverage, error)
}

// FXRepo — чтение снапшотов курсов валют.
type FXRepo interface {
	// RatesToEUR возвращает курсы указанной валюты к EUR по датам,
	// отсортированные по дате.
	RatesToEUR(currency Currency) ([]FXRate, error)
}

// CalendarRepo — чтение календарей машин.
type CalendarRepo interface {
	// GetByMachine возвращает календарь машины. Второй результат false,
	// если календарь не настроен — тогда действует шаблон по умолчанию.
	GetByMachine(machineID int64) (MachineCalendar, bool, error)
}

// SnapshotRepo — запись снапшотов стоимости.
type SnapshotRepo interface {
	// ReplaceForTask атомарно удаляет старые снапшоты задачи и записывает
	// новые (итоговый + по пользователям).
	ReplaceForTask(ctx context.Context, taskID string, total CostSnapshot, perUser []CostSnapshot) error
	// DeleteForTask удаляет все снапшоты задачи.
	DeleteForTask(ctx context.Context, taskID string) error
	// GetByTask возвращает итоговый и пользовательские снапшоты задачи.
	GetByTask(taskID string) (*CostSnapshot, []CostSnapshot, error)
}

// RecalcQueue — устойчивая очередь задач на пересчёт.
type RecalcQueue interface {
	// Enqueue идемпотентно ставит задачу в очередь.
	Enqueue(ctx context.Context, taskID string) error
	// ClaimBatch забирает до limit строк под lease; строки под живым lease
	// другим воркерам не видны.
	ClaimBatch(ctx context.Context, limit int) ([]RecalcEntry, error)
	// Ack удаляет строку после успешного пересчёта. Неудача оставляет
	// строку в очереди: её подберёт следующий прогон после истечения lease.
	Ack(ctx context.Context, taskID string) error
	// Depth возвращает размер очереди.
	Depth(ctx context.Context) (int, error)
}

// CancelFlag — кооперативный стоп-флаг для пакетного пересчёта. Флаг
// только совещательный: начатая задача всегда дорабатывает до конца.
type CancelFlag interface {
	Stopped(ctx context.Context) bool
	Set(ctx context.Context, ttl time.Duration) error
	Clear(ctx context.Context) error
}
