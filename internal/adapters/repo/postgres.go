package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/infra/metrics"
)

// Postgres реализует все репозитории ядра на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.TimerRepo    = (*Postgres)(nil)
	_ domain.TaskRepo     = (*Postgres)(nil)
	_ domain.PlanRepo     = (*Postgres)(nil)
	_ domain.WageRepo     = (*Postgres)(nil)
	_ domain.FXRepo       = (*Postgres)(nil)
	_ domain.CalendarRepo = (*Postgres)(nil)
	_ domain.SnapshotRepo = (*Postgres)(nil)
	_ domain.RecalcQueue  = (*Postgres)(nil)
)

// claimLease — время, на которое забранная строка очереди невидима другим
// воркерам. Упавший воркер отдаёт свои строки после истечения lease.
const claimLease = 10 * time.Minute

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListFinishedByTask возвращает закрытые таймеры задачи.
func (p *Postgres) ListFinishedByTask(taskID string) ([]domain.Timer, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, task_key, start_ms, finish_ms
FROM timers
WHERE task_key = $1 AND finish_ms IS NOT NULL
ORDER BY start_ms
`, taskID)
	metrics.ObserveNetworkRequest("postgres", "timers_list_finished", "timers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Timer
	for rows.Next() {
		var t domain.Timer
		var finish sql.NullInt64
		if err := rows.Scan(&t.ID, &t.UserID, &t.TaskID, &t.StartMS, &finish); err != nil {
			return nil, err
		}
		if finish.Valid {
			v := finish.Int64
			t.FinishMS = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListForMachine возвращает таймеры машины, пересекающие окно [fromMS, toMS),
// включая ещё открытые.
func (p *Postgres) ListForMachine(machineID int64, fromMS, toMS int64) ([]domain.MachineTimer, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT t.id, t.user_id, t.task_key, t.start_ms, t.finish_ms, k.name, k.is_hold
FROM timers t
JOIN tasks k ON k.key = t.task_key
WHERE t.machine_id = $1
  AND t.start_ms < $3
  AND (t.finish_ms >= $2 OR t.finish_ms IS NULL)
ORDER BY t.start_ms
`, machineID, fromMS, toMS)
	metrics.ObserveNetworkRequest("postgres", "timers_list_for_machine", "timers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MachineTimer
	for rows.Next() {
		var t domain.MachineTimer
		var finish sql.NullInt64
		if err := rows.Scan(&t.ID, &t.UserID, &t.TaskID, &t.StartMS, &finish, &t.TaskName, &t.IsHold); err != nil {
			return nil, err
		}
		if finish.Valid {
			v := finish.Int64
			t.FinishMS = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetJobNo возвращает номер заказа задачи; для неизвестной задачи — пустую строку.
func (p *Postgres) GetJobNo(taskID string) (string, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	var jobNo sql.NullString
	err := p.pool.QueryRow(ctx, `SELECT job_no FROM tasks WHERE key = $1`, taskID).Scan(&jobNo)
	metrics.ObserveNetworkRequest("postgres", "tasks_get_job_no", "tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return jobNo.String, nil
}

// ListKeys возвращает ключи всех задач.
func (p *Postgres) ListKeys() ([]string, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT key FROM tasks ORDER BY key`)
	metrics.ObserveNetworkRequest("postgres", "tasks_list_keys", "tasks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// ListPlannedForMachine возвращает плановые бары машины в окне.
func (p *Postgres) ListPlannedForMachine(machineID int64, fromMS, toMS int64) ([]domain.PlannedBar, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT key, name, is_hold, planned_start_ms, planned_end_ms
FROM tasks
WHERE machine_id = $1
  AND planned_start_ms IS NOT NULL AND planned_end_ms IS NOT NULL
  AND planned_start_ms < $3 AND planned_end_ms > $2
ORDER BY planned_start_ms, key
`, machineID, fromMS, toMS)
	metrics.ObserveNetworkRequest("postgres", "tasks_list_planned", "tasks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlannedBar
	for rows.Next() {
		var b domain.PlannedBar
		if err := rows.Scan(&b.TaskID, &b.TaskName, &b.IsHold, &b.StartMS, &b.EndMS); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListByUsers возвращает историю ставок пользователей, отсортированную по
// (user_id, effective_from).
func (p *Postgres) ListByUsers(userIDs []int64) ([]domain.WageRate, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, effective_from, currency, base_monthly::text, after_hours_multiplier::text, sunday_multiplier::text
FROM wage_rates
WHERE user_id = ANY($1)
ORDER BY user_id, effective_from
`, userIDs)
	metrics.ObserveNetworkRequest("postgres", "wage_rates_list", "wage_rates", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WageRate
	for rows.Next() {
		var (
			r                  domain.WageRate
			effectiveFrom      time.Time
			currency           string
			base, ahMul, suMul string
		)
		if err := rows.Scan(&r.UserID, &effectiveFrom, &currency, &base, &ahMul, &suMul); err != nil {
			return nil, err
		}
		r.EffectiveFrom = domain.Date(effectiveFrom)
		r.Currency = domain.Currency(currency)
		if r.BaseMonthly, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("base_monthly: %w", err)
		}
		if r.AfterHoursMultiplier, err = decimal.NewFromString(ahMul); err != nil {
			return nil, fmt.Errorf("after_hours_multiplier: %w", err)
		}
		if r.SundayMultiplier, err = decimal.NewFromString(suMul); err != nil {
			return nil, fmt.Errorf("sunday_multiplier: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AveragesByCurrency возвращает средние ставки по всем пользователям.
func (p *Postgres) AveragesByCurrency() (map[domain.Currency]domain.WageAverage, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT currency, AVG(base_monthly)::text, AVG(after_hours_multiplier)::text, AVG(sunday_multiplier)::text
FROM wage_rates
GROUP BY currency
`)
	metrics.ObserveNetworkRequest("postgres", "wage_rates_averages", "wage_rates", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Currency]domain.WageAverage)
	for rows.Next() {
		var (
			currency           string
			base, ahMul, suMul string
		)
		if err := rows.Scan(&currency, &base, &ahMul, &suMul); err != nil {
			return nil, err
		}
		avg := domain.WageAverage{Currency: domain.Currency(currency)}
		if avg.BaseMonthly, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("avg base_monthly: %w", err)
		}
		if avg.AfterHoursMultiplier, err = decimal.NewFromString(ahMul); err != nil {
			return nil, fmt.Errorf("avg after_hours_multiplier: %w", err)
		}
		if avg.SundayMultiplier, err = decimal.NewFromString(suMul); err != nil {
			return nil, fmt.Errorf("avg sunday_multiplier: %w", err)
		}
		out[avg.Currency] = avg
	}
	return out, rows.Err()
}

// RatesToEUR возвращает курсы валюты к EUR по датам снапшотов.
func (p *Postgres) RatesToEUR(currency domain.Currency) ([]domain.FXRate, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT rate_date, rate_to_eur::text
FROM currency_rates
WHERE currency = $1
ORDER BY rate_date
`, string(currency))
	metrics.ObserveNetworkRequest("postgres", "currency_rates_list", "currency_rates", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FXRate
	for rows.Next() {
		var (
			date time.Time
			raw  string
		)
		if err := rows.Scan(&date, &raw); err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("rate_to_eur: %w", err)
		}
		out = append(out, domain.FXRate{Date: domain.Date(date), Rate: rate})
	}
	return out, rows.Err()
}

// GetByMachine возвращает календарь машины. Второй результат false, если
// календарь не настроен.
func (p *Postgres) GetByMachine(machineID int64) (domain.MachineCalendar, bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	var (
		timezone   sql.NullString
		week       []byte
		exceptions []byte
	)
	err := p.pool.QueryRow(ctx, `
SELECT timezone, week_template, work_exceptions
FROM machine_calendars
WHERE machine_id = $1
`, machineID).Scan(&timezone, &week, &exceptions)
	metrics.ObserveNetworkRequest("postgres", "machine_calendars_get", "machine_calendars", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MachineCalendar{}, false, nil
	}
	if err != nil {
		return domain.MachineCalendar{}, false, err
	}

	cal := domain.MachineCalendar{MachineID: machineID, Timezone: timezone.String}
	if len(week) > 0 {
		// В БД шаблон лежит с ключами-строками "0".."6".
		var raw map[string][]domain.ShiftWindow
		if err := json.Unmarshal(week, &raw); err != nil {
			return domain.MachineCalendar{}, false, fmt.Errorf("week_template: %w", err)
		}
		cal.WeekTemplate = make(map[int][]domain.ShiftWindow, len(raw))
		for k, v := range raw {
			idx, err := strconv.Atoi(k)
			if err != nil || idx < 0 || idx > 6 {
				continue
			}
			cal.WeekTemplate[idx] = v
		}
	}
	if len(exceptions) > 0 {
		if err := json.Unmarshal(exceptions, &cal.WorkExceptions); err != nil {
			return domain.MachineCalendar{}, false, fmt.Errorf("work_exceptions: %w", err)
		}
	}
	return cal, true, nil
}

// ReplaceForTask атомарно заменяет снапшоты задачи: старые строки
// удаляются и новые пишутся в одной транзакции, читатели не видят
// промежуточного состояния.
func (p *Postgres) ReplaceForTask(ctx context.Context, taskID string, total domain.CostSnapshot, perUser []domain.CostSnapshot) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "cost_snapshots", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM cost_snapshots WHERE task_key = $1`, taskID)
	metrics.ObserveNetworkRequest("postgres", "cost_snapshots_delete", "cost_snapshots", start, err)
	if err != nil {
		return err
	}

	if err := insertSnapshot(ctx, tx, total); err != nil {
		return err
	}
	for _, snap := range perUser {
		if err := insertSnapshot(ctx, tx, snap); err != nil {
			return err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "cost_snapshots", start, err)
	return err
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, snap domain.CostSnapshot) error {
	var userID sql.NullInt64
	if snap.UserID != nil {
		userID = sql.NullInt64{Int64: *snap.UserID, Valid: true}
	}
	start := time.Now()
	_, err := tx.Exec(ctx, `
INSERT INTO cost_snapshots
  (task_key, user_id, job_no_cached, currency, hours_ww, hours_ah, hours_su, cost_ww, cost_ah, cost_su, total_cost, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, snap.TaskID, userID, snap.JobNoCached, string(snap.Currency),
		snap.HoursWW.String(), snap.HoursAH.String(), snap.HoursSU.String(),
		snap.CostWW.String(), snap.CostAH.String(), snap.CostSU.String(),
		snap.TotalCost.String(), snap.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "cost_snapshots_insert", "cost_snapshots", start, err)
	return err
}

// DeleteForTask удаляет все снапшоты задачи.
func (p *Postgres) DeleteForTask(ctx context.Context, taskID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM cost_snapshots WHERE task_key = $1`, taskID)
	metrics.ObserveNetworkRequest("postgres", "cost_snapshots_delete", "cost_snapshots", start, err)
	return err
}

// GetByTask возвращает итоговый и пользовательские снапшоты задачи.
// Итог nil, если снапшота нет.
func (p *Postgres) GetByTask(taskID string) (*domain.CostSnapshot, []domain.CostSnapshot, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT task_key, user_id, job_no_cached, currency,
       hours_ww::text, hours_ah::text, hours_su::text,
       cost_ww::text, cost_ah::text, cost_su::text, total_cost::text, updated_at
FROM cost_snapshots
WHERE task_key = $1
ORDER BY user_id NULLS FIRST
`, taskID)
	metrics.ObserveNetworkRequest("postgres", "cost_snapshots_get", "cost_snapshots", start, err)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var total *domain.CostSnapshot
	var users []domain.CostSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, nil, err
		}
		if snap.UserID == nil {
			s := snap
			total = &s
		} else {
			users = append(users, snap)
		}
	}
	return total, users, rows.Err()
}

func scanSnapshot(rows pgx.Rows) (domain.CostSnapshot, error) {
	var (
		snap     domain.CostSnapshot
		userID   sql.NullInt64
		currency string
		raw      [7]string
	)
	if err := rows.Scan(&snap.TaskID, &userID, &snap.JobNoCached, &currency,
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &raw[6], &snap.UpdatedAt); err != nil {
		return domain.CostSnapshot{}, err
	}
	if userID.Valid {
		v := userID.Int64
		snap.UserID = &v
	}
	snap.Currency = domain.Currency(currency)

	fields := []*decimal.Decimal{
		&snap.HoursWW, &snap.HoursAH, &snap.HoursSU,
		&snap.CostWW, &snap.CostAH, &snap.CostSU, &snap.TotalCost,
	}
	for i, dst := range fields {
		val, err := decimal.NewFromString(raw[i])
		if err != nil {
			return domain.CostSnapshot{}, fmt.Errorf("snapshot decimal: %w", err)
		}
		*dst = val
	}
	return snap, nil
}

// Enqueue идемпотентно ставит задачу в очередь пересчёта.
func (p *Postgres) Enqueue(ctx context.Context, taskID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO cost_recalc_queue (task_key, enqueued_at)
VALUES ($1, now())
ON CONFLICT (task_key) DO NOTHING
`, taskID)
	metrics.ObserveNetworkRequest("postgres", "recalc_queue_enqueue", "cost_recalc_queue", start, err)
	return err
}

// ClaimBatch забирает до limit строк под lease. FOR UPDATE SKIP LOCKED
// не даёт воркерам конкурировать за одни и те же строки, lease закрывает
// окно между забором и обработкой.
func (p *Postgres) ClaimBatch(ctx context.Context, limit int) ([]domain.RecalcEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
UPDATE cost_recalc_queue
SET claimed_at = now()
WHERE task_key IN (
    SELECT task_key FROM cost_recalc_queue
    WHERE claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2)
    ORDER BY enqueued_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING task_key, enqueued_at
`, limit, claimLease.Seconds())
	metrics.ObserveNetworkRequest("postgres", "recalc_queue_claim", "cost_recalc_queue", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecalcEntry
	for rows.Next() {
		var e domain.RecalcEntry
		if err := rows.Scan(&e.TaskID, &e.EnqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ack удаляет строку очереди после успешного пересчёта.
func (p *Postgres) Ack(ctx context.Context, taskID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM cost_recalc_queue WHERE task_key = $1`, taskID)
	metrics.ObserveNetworkRequest("postgres", "recalc_queue_ack", "cost_recalc_queue", start, err)
	return err
}

// Depth возвращает размер очереди.
func (p *Postgres) Depth(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var depth int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM cost_recalc_queue`).Scan(&depth)
	metrics.ObserveNetworkRequest("postgres", "recalc_queue_depth", "cost_recalc_queue", start, err)
	return depth, err
}
