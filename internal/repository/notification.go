package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// NotificationRepository — интерфейс доступа к notifications и notification_reads.
// Входящие пользователя — личные уведомления плюс рассылки на его отдел.
type NotificationRepository interface {
	// Create сохраняет уведомление.
	Create(ctx context.Context, n *model.Notification) error
	// ListInbox возвращает входящие пользователя от новых к старым и общее количество.
	ListInbox(ctx context.Context, userID, departmentID string, unreadOnly bool, limit, offset int) ([]*model.Notification, int, error)
	// MarkRead отмечает уведомление прочитанным. Чужое уведомление — ErrNotFound.
	MarkRead(ctx context.Context, notificationID, userID, departmentID string) error
	// MarkAllRead отмечает все входящие прочитанными, возвращает число отмеченных.
	MarkAllRead(ctx context.Context, userID, departmentID string) (int, error)
}

type notificationRepo struct {
	db DBTX
}

// NewNotificationRepository создаёт репозиторий уведомлений.
func NewNotificationRepository(db DBTX) NotificationRepository {
	return &notificationRepo{db: db}
}

// inboxCondition — уведомления, адресованные пользователю $1 или его отделу $2.
// Пустой отдел не совпадает с рассылками.
const inboxCondition = `(n.recipient_id = $1::text OR ($2::text <> '' AND n.department_id = $2::text))`

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (id, recipient_id, department_id, title, body, link)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		n.ID, n.RecipientID, n.DepartmentID, n.Title, n.Body, n.Link,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения уведомления: %w", err)
	}
	return nil
}

func (r *notificationRepo) ListInbox(ctx context.Context, userID, departmentID string, unreadOnly bool, limit, offset int) ([]*model.Notification, int, error) {
	where := "WHERE " + inboxCondition
	if unreadOnly {
		where += " AND nr.user_id IS NULL"
	}
	from := `
		FROM notifications n
		LEFT JOIN notification_reads nr ON nr.notification_id = n.id AND nr.user_id = $1`

	query := `
		SELECT n.id, n.recipient_id, n.department_id, n.title, n.body, n.link,
			nr.user_id IS NOT NULL, n.created_at` + from + " " + where + `
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, userID, departmentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения уведомлений: %w", err)
	}
	defer rows.Close()

	var result []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.DepartmentID, &n.Title, &n.Body, &n.Link,
			&n.IsRead, &n.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования уведомления: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации уведомлений: %w", err)
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*)"+from+" "+where, userID, departmentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта уведомлений: %w", err)
	}
	return result, total, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, notificationID, userID, departmentID string) error {
	var visible bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications n WHERE `+inboxCondition+` AND n.id = $3)`,
		userID, departmentID, notificationID).Scan(&visible)
	if err != nil {
		return fmt.Errorf("ошибка проверки уведомления: %w", err)
	}
	if !visible {
		return ErrNotFound
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO notification_reads (notification_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("ошибка отметки уведомления: %w", err)
	}
	return nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, userID, departmentID string) (int, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO notification_reads (notification_id, user_id)
		SELECT n.id, $1::text FROM notifications n WHERE `+inboxCondition+`
		ON CONFLICT DO NOTHING`, userID, departmentID)
	if err != nil {
		return 0, fmt.Errorf("ошибка отметки уведомлений: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
