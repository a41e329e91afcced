package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/access"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// --- Статистика ---

type statsRepo struct{ *base }

func inPeriod(t time.Time, p repository.StatsParams) bool {
	return (p.From == nil || !t.Before(*p.From)) && (p.To == nil || !t.After(*p.To))
}

// scoped возвращает документы, доступные по правилам и созданные в периоде.
func scoped(st *state, p repository.StatsParams) []model.Document {
	var out []model.Document
	for _, d := range st.documents {
		if p.Access.Matches(&d) && inPeriod(d.CreatedAt, p) {
			out = append(out, d)
		}
	}
	return out
}

// topBuckets сортирует группы по убыванию количества, затем по имени.
func topBuckets(counts map[string]int, limit int) []model.CountBucket {
	out := make([]model.CountBucket, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.CountBucket{Name: name, Count: n})
	}
	slices.SortFunc(out, func(a, b model.CountBucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *statsRepo) CountByStatus(_ context.Context, p repository.StatsParams) (map[model.DocumentStatus]int, error) {
	result := make(map[model.DocumentStatus]int)
	err := r.do(func(st *state) error {
		for _, d := range scoped(st, p) {
			result[d.Status]++
		}
		return nil
	})
	return result, err
}

func (r *statsRepo) CountByDepartment(_ context.Context, p repository.StatsParams) ([]model.CountBucket, error) {
	counts := make(map[string]int)
	err := r.do(func(st *state) error {
		for _, d := range scoped(st, p) {
			counts[d.DepartmentID]++
		}
		return nil
	})
	return topBuckets(counts, 0), err
}

func (r *statsRepo) TopTags(_ context.Context, p repository.StatsParams, limit int) ([]model.CountBucket, error) {
	counts := make(map[string]int)
	err := r.do(func(st *state) error {
		for _, d := range scoped(st, p) {
			for k := range st.docTags {
				if k.documentID == d.ID {
					counts[st.tags[k.tagID].Name]++
				}
			}
		}
		return nil
	})
	return topBuckets(counts, limit), err
}

func (r *statsRepo) TopContributors(_ context.Context, p repository.StatsParams, limit int) ([]model.CountBucket, error) {
	counts := make(map[string]int)
	err := r.do(func(st *state) error {
		for _, d := range scoped(st, p) {
			counts[d.CreatedBy]++
		}
		return nil
	})
	return topBuckets(counts, limit), err
}

// accessibleTarget — запись аудита относится к документу, доступному по pr.
func accessibleTarget(st *state, e *model.AuditEntry, pr access.Predicate) bool {
	if e.TargetTable != "documents" {
		return false
	}
	d, ok := st.documents[e.TargetID]
	return ok && pr.Matches(&d)
}

func (r *statsRepo) CountInteractions(_ context.Context, p repository.StatsParams, actions []model.AuditAction) (int, error) {
	var n int
	err := r.do(func(st *state) error {
		for i := range st.audit {
			e := &st.audit[i]
			if slices.Contains(actions, e.Action) && inPeriod(e.CreatedAt, p) && accessibleTarget(st, e, p.Access) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *statsRepo) UploadsByMonth(_ context.Context, pr access.Predicate, since time.Time) (map[string]int, error) {
	result := make(map[string]int)
	err := r.do(func(st *state) error {
		for _, d := range st.documents {
			if pr.Matches(&d) && !d.CreatedAt.Before(since) {
				result[d.CreatedAt.UTC().Format("2006-01")]++
			}
		}
		return nil
	})
	return result, err
}

func (r *statsRepo) ActionsByMonth(_ context.Context, pr access.Predicate, action model.AuditAction, since time.Time) (map[string]int, error) {
	result := make(map[string]int)
	err := r.do(func(st *state) error {
		for i := range st.audit {
			e := &st.audit[i]
			if e.Action == action && !e.CreatedAt.Before(since) && accessibleTarget(st, e, pr) {
				result[e.CreatedAt.UTC().Format("2006-01")]++
			}
		}
		return nil
	})
	return result, err
}
