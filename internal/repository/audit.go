package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// AuditLogRepository — интерфейс доступа к таблице audit_logs (только добавление).
type AuditLogRepository interface {
	// Create добавляет запись журнала.
	Create(ctx context.Context, e *model.AuditEntry) error
	// List возвращает записи от новых к старым и общее количество.
	List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, int, error)
}

type auditLogRepo struct {
	db DBTX
}

// NewAuditLogRepository создаёт репозиторий журнала аудита.
func NewAuditLogRepository(db DBTX) AuditLogRepository {
	return &auditLogRepo{db: db}
}

func (r *auditLogRepo) Create(ctx context.Context, e *model.AuditEntry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, target_table, target_id, payload, source_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.ActorID, e.Action, e.TargetTable, e.TargetID, payload, e.SourceAddress,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditLogRepo) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if f.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argNum))
		args = append(args, f.ActorID)
		argNum++
	}
	if f.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argNum))
		args = append(args, f.Action)
		argNum++
	}
	if f.TargetID != "" {
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", argNum))
		args = append(args, f.TargetID)
		argNum++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, actor_id, action, target_table, target_id, payload, source_address, created_at
		FROM audit_logs
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)

	rows, err := r.db.Query(ctx, query, append(append([]any{}, args...), f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.TargetTable, &e.TargetID,
			&e.Payload, &e.SourceAddress, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации журнала аудита: %w", err)
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM audit_logs %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return result, total, nil
}
