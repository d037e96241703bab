package recalc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shopfloor-costing/internal/domain"
	"shopfloor-costing/internal/usecase/costing"
)

type stubQueue struct {
	pending []string
	claimed map[string]bool
	acked   []string
}

func newStubQueue(tasks ...string) *stubQueue {
	return &stubQueue{pending: tasks, claimed: map[string]bool{}}
}

func (q *stubQueue) Enqueue(_ context.Context, taskID string) error {
	q.pending = append(q.pending, taskID)
	return nil
}

func (q *stubQueue) ClaimBatch(_ context.Context, limit int) ([]domain.RecalcEntry, error) {
	var out []domain.RecalcEntry
	for _, id := range q.pending {
		if len(out) >= limit {
			break
		}
		if q.claimed[id] {
			continue
		}
		q.claimed[id] = true
		out = append(out, domain.RecalcEntry{TaskID: id, EnqueuedAt: time.Now()})
	}
	return out, nil
}

func (q *stubQueue) Ack(_ context.Context, taskID string) error {
	q.acked = append(q.acked, taskID)
	rest := q.pending[:0]
	for _, id := range q.pending {
		if id != taskID {
			rest = append(rest, id)
		}
	}
	q.pending = rest
	return nil
}

func (q *stubQueue) Depth(context.Context) (int, error) { return len(q.pending), nil }

type stubRecomputer struct {
	calls  []string
	failOn map[string]bool
}

func (s *stubRecomputer) Recompute(_ context.Context, taskID string) (costing.Result, error) {
	s.calls = append(s.calls, taskID)
	if s.failOn[taskID] {
		return costing.Result{}, errors.New("пересчёт сломался")
	}
	return costing.Result{Wrote: true}, nil
}

type stubCancel struct {
	stopAfter int
	checks    int
}

func (s *stubCancel) Stopped(context.Context) bool {
	s.checks++
	return s.checks > s.stopAfter
}
func (s *stubCancel) Set(context.Context, time.Duration) error { return nil }
func (s *stubCancel) Clear(context.Context) error              { return nil }

func TestDrainProcessesAll(t *testing.T) {
	queue := newStubQueue("A", "B", "C")
	rec := &stubRecomputer{}
	runner := NewRunner(queue, rec, nil, 2, zerolog.Nop())

	processed, err := runner.Drain(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if processed != 3 {
		t.Fatalf("ожидали 3 обработанных, получили %d", processed)
	}
	if len(queue.pending) != 0 {
		t.Fatalf("очередь должна опустеть: %+v", queue.pending)
	}
}

func TestDrainRetainsFailedTask(t *testing.T) {
	queue := newStubQueue("A", "B")
	rec := &stubRecomputer{failOn: map[string]bool{"A": true}}
	runner := NewRunner(queue, rec, nil, 10, zerolog.Nop())

	processed, err := runner.Drain(context.Background())
	if err != nil {
		t.Fatalf("ошибка одной задачи не валит прогон: %v", err)
	}
	if processed != 1 {
		t.Fatalf("ожидали 1 обработанную, получили %d", processed)
	}
	// Упавшая задача осталась в очереди на повтор.
	if len(queue.pending) != 1 || queue.pending[0] != "A" {
		t.Fatalf("упавшая задача должна остаться: %+v", queue.pending)
	}
	for _, acked := range queue.acked {
		if acked == "A" {
			t.Fatal("упавшая задача не должна подтверждаться")
		}
	}
}

func TestDrainStopsOnCancelFlag(t *testing.T) {
	queue := newStubQueue("A", "B", "C")
	rec := &stubRecomputer{}
	// Флаг срабатывает перед второй задачей.
	runner := NewRunner(queue, rec, &stubCancel{stopAfter: 1}, 10, zerolog.Nop())

	processed, err := runner.Drain(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if processed != 1 {
		t.Fatalf("после стоп-флага новые задачи не начинаются, обработано %d", processed)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("ожидали один вызов пересчёта: %+v", rec.calls)
	}
}

func TestDrainRespectsContext(t *testing.T) {
	queue := newStubQueue("A")
	rec := &stubRecomputer{}
	runner := NewRunner(queue, rec, nil, 10, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
}
