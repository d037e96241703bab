package timeline

import (
	"fmt"
	"time"

	"shopfloor-costing/internal/domain"
)

// Service строит таймлайн машины: фактические сегменты из таймеров,
// простои между ними и плановые бары.
type Service struct {
	timers domain.TimerRepo
	plans  domain.PlanRepo
	now    func() time.Time
}

// NewService создаёт сервис таймлайна.
func NewService(timers domain.TimerRepo, plans domain.PlanRepo) *Service {
	return &Service{timers: timers, plans: plans, now: time.Now}
}

// BuildMachineTimeline собирает таймлайн машины в окне [fromMS, toMS).
// Открытый таймер тянется до текущего момента и обрезается окном.
func (s *Service) BuildMachineTimeline(machineID int64, fromMS, toMS int64) (domain.MachineTimeline, error) {
	if toMS <= fromMS {
		return domain.MachineTimeline{}, fmt.Errorf("пустое окно таймлайна [%d, %d)", fromMS, toMS)
	}

	timers, err := s.timers.ListForMachine(machineID, fromMS, toMS)
	if err != nil {
		return domain.MachineTimeline{}, fmt.Errorf("таймеры машины %d: %w", machineID, err)
	}

	nowMS := s.now().UnixMilli()
	raw := make([]domain.TimelineSegment, 0, len(timers))
	for _, t := range timers {
		endMS := nowMS
		if t.FinishMS != nil {
			endMS = *t.FinishMS
		}
		category := domain.CategoryWork
		if t.IsHold {
			category = domain.CategoryHold
		}
		raw = append(raw, domain.TimelineSegment{
			StartMS:  t.StartMS,
			EndMS:    endMS,
			TaskID:   t.TaskID,
			TaskName: t.TaskName,
			IsHold:   t.IsHold,
			Category: category,
		})
	}

	actual := Merge(raw, fromMS, toMS)
	idle := IdleGaps(actual, fromMS, toMS)

	bars, err := s.plans.ListPlannedForMachine(machineID, fromMS, toMS)
	if err != nil {
		return domain.MachineTimeline{}, fmt.Errorf("план машины %d: %w", machineID, err)
	}
	planned := make([]domain.TimelineSegment, 0, len(bars))
	for _, b := range bars {
		seg, ok := Clip(domain.TimelineSegment{
			StartMS:  b.StartMS,
			EndMS:    b.EndMS,
			TaskID:   b.TaskID,
			TaskName: b.TaskName,
			IsHold:   b.IsHold,
			Category: domain.CategoryPlanned,
		}, fromMS, toMS)
		if ok {
			planned = append(planned, seg)
		}
	}

	return domain.MachineTimeline{
		Actual:  actual,
		Idle:    idle,
		Planned: planned,
		Totals: domain.TimelineTotals{
			ProductiveSeconds: SumSeconds(actual, domain.CategoryWork),
			HoldSeconds:       SumSeconds(actual, domain.CategoryHold),
			IdleSeconds:       SumSeconds(idle, ""),
		},
	}, nil
}
