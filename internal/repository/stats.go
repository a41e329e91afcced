package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/access"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// StatsParams — область статистики: правила доступа и период.
// Период относится к дате создания документа, для аудита — к дате записи.
type StatsParams struct {
	Access access.Predicate
	From   *time.Time
	To     *time.Time
}

// StatsRepository — агрегаты по документам в пределах прав субъекта.
// Учитываются и архивные документы.
type StatsRepository interface {
	// CountByStatus возвращает число документов по статусам.
	CountByStatus(ctx context.Context, p StatsParams) (map[model.DocumentStatus]int, error)
	// CountByDepartment группирует документы по отделам, по убыванию количества.
	CountByDepartment(ctx context.Context, p StatsParams) ([]model.CountBucket, error)
	// TopTags возвращает limit самых частых тегов.
	TopTags(ctx context.Context, p StatsParams, limit int) ([]model.CountBucket, error)
	// TopContributors возвращает limit самых активных создателей документов.
	TopContributors(ctx context.Context, p StatsParams, limit int) ([]model.CountBucket, error)
	// CountInteractions считает записи аудита с действиями actions по доступным документам.
	CountInteractions(ctx context.Context, p StatsParams, actions []model.AuditAction) (int, error)
	// UploadsByMonth — число созданных документов по месяцам (ключ 2006-01) начиная с since.
	UploadsByMonth(ctx context.Context, pr access.Predicate, since time.Time) (map[string]int, error)
	// ActionsByMonth — число записей аудита action по доступным документам по месяцам.
	ActionsByMonth(ctx context.Context, pr access.Predicate, action model.AuditAction, since time.Time) (map[string]int, error)
}

type statsRepo struct {
	db DBTX
}

// NewStatsRepository создаёт репозиторий статистики.
func NewStatsRepository(db DBTX) StatsRepository {
	return &statsRepo{db: db}
}

// scopeCTE строит CTE scope с документами, доступными по pr.
// Условие доступа то же, что у выборки документов (buildAccessCondition).
func scopeCTE(pr access.Predicate) (cte string, args []any) {
	cond, args := buildAccessCondition(pr, 1)
	if cond == "" {
		cond = "TRUE"
	}
	return fmt.Sprintf(`WITH scope AS (
		SELECT id, department_id, created_by, status, created_at FROM documents WHERE %s
	)`, cond), args
}

// periodCondition добавляет ограничения периода на column.
func periodCondition(column string, p StatsParams, args []any) (string, []any) {
	conditions := []string{"TRUE"}
	if p.From != nil {
		args = append(args, *p.From)
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if p.To != nil {
		args = append(args, *p.To)
		conditions = append(conditions, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	return strings.Join(conditions, " AND "), args
}

func (r *statsRepo) CountByStatus(ctx context.Context, p StatsParams) (map[model.DocumentStatus]int, error) {
	cte, args := scopeCTE(p.Access)
	period, args := periodCondition("created_at", p, args)
	query := fmt.Sprintf(`%s SELECT status, COUNT(*) FROM scope WHERE %s GROUP BY status`, cte, period)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта по статусам: %w", err)
	}
	defer rows.Close()

	result := make(map[model.DocumentStatus]int)
	for rows.Next() {
		var status model.DocumentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		result[status] = n
	}
	return result, rows.Err()
}

func (r *statsRepo) CountByDepartment(ctx context.Context, p StatsParams) ([]model.CountBucket, error) {
	cte, args := scopeCTE(p.Access)
	period, args := periodCondition("created_at", p, args)
	query := fmt.Sprintf(`%s
		SELECT department_id, COUNT(*) AS n FROM scope WHERE %s
		GROUP BY department_id ORDER BY n DESC, department_id`, cte, period)
	return r.buckets(ctx, query, args)
}

func (r *statsRepo) TopTags(ctx context.Context, p StatsParams, limit int) ([]model.CountBucket, error) {
	cte, args := scopeCTE(p.Access)
	period, args := periodCondition("s.created_at", p, args)
	args = append(args, limit)
	query := fmt.Sprintf(`%s
		SELECT t.name, COUNT(*) AS n
		FROM scope s
		JOIN document_tags dt ON dt.document_id = s.id
		JOIN tags t ON t.id = dt.tag_id
		WHERE %s
		GROUP BY t.id, t.name ORDER BY n DESC, t.name LIMIT $%d`, cte, period, len(args))
	return r.buckets(ctx, query, args)
}

func (r *statsRepo) TopContributors(ctx context.Context, p StatsParams, limit int) ([]model.CountBucket, error) {
	cte, args := scopeCTE(p.Access)
	period, args := periodCondition("created_at", p, args)
	args = append(args, limit)
	query := fmt.Sprintf(`%s
		SELECT created_by, COUNT(*) AS n FROM scope WHERE %s
		GROUP BY created_by ORDER BY n DESC, created_by LIMIT $%d`, cte, period, len(args))
	return r.buckets(ctx, query, args)
}

func (r *statsRepo) CountInteractions(ctx context.Context, p StatsParams, actions []model.AuditAction) (int, error) {
	cte, args := scopeCTE(p.Access)
	period, args := periodCondition("a.created_at", p, args)
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	args = append(args, names)
	query := fmt.Sprintf(`%s
		SELECT COUNT(*) FROM audit_logs a
		JOIN scope s ON a.target_table = 'documents' AND a.target_id = s.id::text
		WHERE %s AND a.action = ANY($%d)`, cte, period, len(args))

	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта обращений: %w", err)
	}
	return n, nil
}

func (r *statsRepo) UploadsByMonth(ctx context.Context, pr access.Predicate, since time.Time) (map[string]int, error) {
	cte, args := scopeCTE(pr)
	args = append(args, since)
	query := fmt.Sprintf(`%s
		SELECT to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS m, COUNT(*)
		FROM scope WHERE created_at >= $%d GROUP BY m`, cte, len(args))
	return r.months(ctx, query, args)
}

func (r *statsRepo) ActionsByMonth(ctx context.Context, pr access.Predicate, action model.AuditAction, since time.Time) (map[string]int, error) {
	cte, args := scopeCTE(pr)
	args = append(args, since, string(action))
	query := fmt.Sprintf(`%s
		SELECT to_char(date_trunc('month', a.created_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS m, COUNT(*)
		FROM audit_logs a
		JOIN scope s ON a.target_table = 'documents' AND a.target_id = s.id::text
		WHERE a.created_at >= $%d AND a.action = $%d GROUP BY m`, cte, len(args)-1, len(args))
	return r.months(ctx, query, args)
}

func (r *statsRepo) buckets(ctx context.Context, query string, args []any) ([]model.CountBucket, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегирования документов: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CountBucket, error) {
		var b model.CountBucket
		err := row.Scan(&b.Name, &b.Count)
		return b, err
	})
}

func (r *statsRepo) months(ctx context.Context, query string, args []any) (map[string]int, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка помесячной статистики: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var month string
		var n int
		if err := rows.Scan(&month, &n); err != nil {
			return nil, fmt.Errorf("ошибка сканирования помесячной статистики: %w", err)
		}
		result[month] = n
	}
	return result, rows.Err()
}
