// Package timeline собирает таймлайн загрузки машины из таймеров и плана.
package timeline

import (
	"sort"

	"shopfloor-costing/internal/domain"
)

// Clip обрезает сегмент по окну [t0, t1). Второй результат false, если от
// сегмента ничего не осталось.
func Clip(seg domain.TimelineSegment, t0, t1 int64) (domain.TimelineSegment, bool) {
	if seg.StartMS < t0 {
		seg.StartMS = t0
	}
	if seg.EndMS > t1 {
		seg.EndMS = t1
	}
	if seg.EndMS <= seg.StartMS {
		return domain.TimelineSegment{}, false
	}
	return seg, true
}

// Merge обрезает сегменты по окну, сортирует и склеивает соседние с
// одинаковой идентичностью (задача, hold-флаг, категория), когда они
// касаются или перекрываются.
func Merge(segments []domain.TimelineSegment, t0, t1 int64) []domain.TimelineSegment {
	clipped := make([]domain.TimelineSegment, 0, len(segments))
	for _, seg := range segments {
		if c, ok := Clip(seg, t0, t1); ok {
			clipped = append(clipped, c)
		}
	}
	if len(clipped) == 0 {
		return nil
	}
	sort.SliceStable(clipped, func(i, j int) bool { return clipped[i].StartMS < clipped[j].StartMS })

	out := []domain.TimelineSegment{clipped[0]}
	for _, seg := range clipped[1:] {
		last := &out[len(out)-1]
		same := last.TaskID == seg.TaskID && last.IsHold == seg.IsHold && last.Category == seg.Category
		if same && seg.StartMS <= last.EndMS {
			if seg.EndMS > last.EndMS {
				last.EndMS = seg.EndMS
			}
			continue
		}
		out = append(out, seg)
	}
	return out
}

// IdleGaps возвращает idle-сегменты, закрывающие непокрытое время окна
// [t0, t1). merged должен быть отсортирован по началу.
func IdleGaps(merged []domain.TimelineSegment, t0, t1 int64) []domain.TimelineSegment {
	var idle []domain.TimelineSegment
	cursor := t0
	for _, seg := range merged {
		if seg.StartMS > cursor {
			idle = append(idle, idleSegment(cursor, seg.StartMS))
		}
		if seg.EndMS > cursor {
			cursor = seg.EndMS
		}
	}
	if cursor < t1 {
		idle = append(idle, idleSegment(cursor, t1))
	}
	return idle
}

func idleSegment(startMS, endMS int64) domain.TimelineSegment {
	return domain.TimelineSegment{StartMS: startMS, EndMS: endMS, Category: domain.CategoryIdle}
}

// SumSeconds суммирует длительность сегментов указанной категории
// (пустая категория — всех). Миллисекунды складываются до деления, чтобы
// усечение не съедало по секунде с каждого сегмента.
func SumSeconds(segments []domain.TimelineSegment, category domain.SegmentCategory) int64 {
	var totalMS int64
	for _, seg := range segments {
		if category != "" && seg.Category != category {
			continue
		}
		totalMS += seg.EndMS - seg.StartMS
	}
	return totalMS / 1000
}
