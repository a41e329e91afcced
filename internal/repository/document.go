package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/access"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// documentColumns — столбцы documents для SELECT-запросов.
const documentColumns = `id, title, description, department_id, created_by,
	status, visibility, current_version_id, is_archived, archived_at,
	approved_by, approved_at, approval_signature, rejection_reason,
	created_at, updated_at`

// SearchParams — параметры выборки документов.
// Указатели: nil = фильтр не применяется.
type SearchParams struct {
	// Access — правила доступа субъекта, объединяются с фильтрами через AND
	Access access.Predicate
	// Query — подстрока в заголовке или описании (ILIKE)
	Query *string
	// DepartmentID — отдел-владелец
	DepartmentID *string
	// Status — статус согласования
	Status *model.DocumentStatus
	// Visibility — класс видимости
	Visibility *model.Visibility
	// CreatedBy — создатель
	CreatedBy *string
	// TagID — документ связан с тегом
	TagID *string
	// CreatedAfter / CreatedBefore — диапазон даты создания (включительно)
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// Archived — true: только архивные, false: только неархивные
	Archived bool
	Limit    int
	Offset   int
}

// DocumentRepository — интерфейс доступа к таблице documents.
// current_version_id меняется только через SetCurrentVersion.
type DocumentRepository interface {
	// Create создаёт документ без текущей версии.
	Create(ctx context.Context, doc *model.Document) error
	// GetByID возвращает документ по UUID.
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// GetForUpdate читает документ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (*model.Document, error)
	// Update сохраняет изменяемые поля документа, кроме current_version_id.
	Update(ctx context.Context, doc *model.Document) error
	// SetCurrentVersion переназначает текущую версию.
	SetCurrentVersion(ctx context.Context, documentID, versionID string) error
	// Delete удаляет документ. Версии и связи с тегами должны быть удалены раньше.
	Delete(ctx context.Context, id string) error
	// Search выполняет выборку с правилами доступа, фильтрами и пагинацией.
	// Возвращает: документы, общее количество, ошибка.
	Search(ctx context.Context, params SearchParams) ([]*model.Document, int, error)
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, doc *model.Document) error {
	query := `
		INSERT INTO documents (id, title, description, department_id, created_by,
			status, visibility, is_archived, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		doc.ID, doc.Title, doc.Description, doc.DepartmentID, doc.CreatedBy,
		doc.Status, doc.Visibility, doc.IsArchived, doc.ArchivedAt,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ %s уже существует", ErrConflict, doc.ID)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns), id)
}

func (r *documentRepo) GetForUpdate(ctx context.Context, id string) (*model.Document, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1 FOR UPDATE`, documentColumns), id)
}

func (r *documentRepo) get(ctx context.Context, query, id string) (*model.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return doc, nil
}

func (r *documentRepo) Update(ctx context.Context, doc *model.Document) error {
	query := `
		UPDATE documents
		SET title = $2, description = $3, department_id = $4, status = $5,
			visibility = $6, is_archived = $7, archived_at = $8,
			approved_by = $9, approved_at = $10, approval_signature = $11,
			rejection_reason = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		doc.ID, doc.Title, doc.Description, doc.DepartmentID, doc.Status,
		doc.Visibility, doc.IsArchived, doc.ArchivedAt,
		doc.Approval.ApprovedBy, doc.Approval.ApprovedAt, doc.Approval.Signature,
		doc.RejectionReason,
	).Scan(&doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления документа: %w", err)
	}
	return nil
}

func (r *documentRepo) SetCurrentVersion(ctx context.Context, documentID, versionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET current_version_id = $2, updated_at = NOW() WHERE id = $1`,
		documentID, versionID)
	if err != nil {
		return fmt.Errorf("ошибка переназначения текущей версии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: у документа %s остались версии или теги", ErrConflict, id)
		}
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) Search(ctx context.Context, params SearchParams) ([]*model.Document, int, error) {
	where, args := buildDocumentWhere(params, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM documents %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM documents %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}

	return result, total, nil
}

// buildAccessCondition транслирует access.Predicate в SQL.
// Пустые отдел и субъект не совпадают ни с одним документом, как в Predicate.Matches.
func buildAccessCondition(pr access.Predicate, startArg int) (cond string, args []any) {
	if pr.Unrestricted {
		return "", nil
	}
	argNum := startArg
	parts := []string{"visibility = 'PUBLIC'"}
	if pr.DepartmentID != "" {
		parts = append(parts, fmt.Sprintf("(visibility = 'DEPARTMENT' AND department_id = $%d)", argNum))
		args = append(args, pr.DepartmentID)
		argNum++
	}
	if pr.PrincipalID != "" {
		parts = append(parts, fmt.Sprintf("(visibility = 'PRIVATE' AND created_by = $%d)", argNum))
		args = append(args, pr.PrincipalID)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// buildDocumentWhere строит WHERE-условие и аргументы для выборки документов.
// startArg — номер первого $-параметра.
//
//nolint:cyclop // сложность обусловлена количеством фильтров
func buildDocumentWhere(params SearchParams, startArg int) (whereClause string, args []any) {
	var conditions []string

	accessCond, accessArgs := buildAccessCondition(params.Access, startArg)
	if accessCond != "" {
		conditions = append(conditions, accessCond)
		args = append(args, accessArgs...)
	}
	argNum := startArg + len(args)

	conditions = append(conditions, fmt.Sprintf("is_archived = $%d", argNum))
	args = append(args, params.Archived)
	argNum++

	// Поиск по заголовку и описанию
	if params.Query != nil && *params.Query != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+escapeLike(*params.Query)+"%")
		argNum++
	}

	if params.DepartmentID != nil && *params.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", argNum))
		args = append(args, *params.DepartmentID)
		argNum++
	}

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *params.Status)
		argNum++
	}

	if params.Visibility != nil {
		conditions = append(conditions, fmt.Sprintf("visibility = $%d", argNum))
		args = append(args, *params.Visibility)
		argNum++
	}

	if params.CreatedBy != nil && *params.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", argNum))
		args = append(args, *params.CreatedBy)
		argNum++
	}

	if params.TagID != nil && *params.TagID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM document_tags dt WHERE dt.document_id = documents.id AND dt.tag_id = $%d)", argNum))
		args = append(args, *params.TagID)
		argNum++
	}

	if params.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *params.CreatedAfter)
		argNum++
	}

	if params.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argNum))
		args = append(args, *params.CreatedBefore)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// scanDocument читает строку documentColumns.
func scanDocument(row pgx.Row) (*model.Document, error) {
	doc := &model.Document{}
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.Description, &doc.DepartmentID, &doc.CreatedBy,
		&doc.Status, &doc.Visibility, &doc.CurrentVersionID, &doc.IsArchived, &doc.ArchivedAt,
		&doc.Approval.ApprovedBy, &doc.Approval.ApprovedAt, &doc.Approval.Signature, &doc.RejectionReason,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
