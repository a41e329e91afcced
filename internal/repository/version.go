package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

const versionColumns = `id, document_id, version_number, location, file_name,
	size, content_type, checksum, uploaded_by, change_note,
	approved_by, approved_at, approval_signature, created_at`

// VersionRepository — интерфейс доступа к таблице document_versions.
// Версии неизменяемы, кроме снимка согласования.
type VersionRepository interface {
	// Create сохраняет версию. Повтор номера для документа — ErrConflict.
	Create(ctx context.Context, v *model.Version) error
	// GetByID возвращает версию по UUID.
	GetByID(ctx context.Context, id string) (*model.Version, error)
	// MaxNumber возвращает наибольший номер версии документа (0, если версий нет).
	MaxNumber(ctx context.Context, documentID string) (int, error)
	// ListByDocument возвращает версии документа от новых к старым.
	ListByDocument(ctx context.Context, documentID string) ([]*model.Version, error)
	// SetApproval сохраняет снимок согласования версии.
	SetApproval(ctx context.Context, versionID string, snap model.ApprovalSnapshot) error
	// DeleteByDocument удаляет все версии документа и возвращает их locations.
	DeleteByDocument(ctx context.Context, documentID string) ([]string, error)
}

type versionRepo struct {
	db DBTX
}

// NewVersionRepository создаёт репозиторий версий.
func NewVersionRepository(db DBTX) VersionRepository {
	return &versionRepo{db: db}
}

func (r *versionRepo) Create(ctx context.Context, v *model.Version) error {
	query := `
		INSERT INTO document_versions (id, document_id, version_number, location,
			file_name, size, content_type, checksum, uploaded_by, change_note,
			approved_by, approved_at, approval_signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		v.ID, v.DocumentID, v.Number, v.Location,
		v.FileName, v.Size, v.ContentType, v.Checksum, v.UploadedBy, v.ChangeNote,
		v.Approval.ApprovedBy, v.Approval.ApprovedAt, v.Approval.Signature,
	).Scan(&v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: версия %d документа %s уже существует", ErrConflict, v.Number, v.DocumentID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: документ %s", ErrNotFound, v.DocumentID)
		}
		return fmt.Errorf("ошибка создания версии: %w", err)
	}
	return nil
}

func (r *versionRepo) GetByID(ctx context.Context, id string) (*model.Version, error) {
	query := fmt.Sprintf(`SELECT %s FROM document_versions WHERE id = $1`, versionColumns)

	v, err := scanVersion(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения версии: %w", err)
	}
	return v, nil
}

func (r *versionRepo) MaxNumber(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM document_versions WHERE document_id = $1`,
		documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения номера версии: %w", err)
	}
	return n, nil
}

func (r *versionRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.Version, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM document_versions WHERE document_id = $1 ORDER BY version_number DESC`,
		versionColumns)

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения версий: %w", err)
	}
	defer rows.Close()

	var result []*model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования версии: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *versionRepo) SetApproval(ctx context.Context, versionID string, snap model.ApprovalSnapshot) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_versions
		SET approved_by = $2, approved_at = $3, approval_signature = $4
		WHERE id = $1`,
		versionID, snap.ApprovedBy, snap.ApprovedAt, snap.Signature)
	if err != nil {
		return fmt.Errorf("ошибка сохранения согласования версии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *versionRepo) DeleteByDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM document_versions WHERE document_id = $1 RETURNING location`, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка удаления версий: %w", err)
	}
	defer rows.Close()

	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("ошибка сканирования location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func scanVersion(row pgx.Row) (*model.Version, error) {
	v := &model.Version{}
	err := row.Scan(
		&v.ID, &v.DocumentID, &v.Number, &v.Location, &v.FileName,
		&v.Size, &v.ContentType, &v.Checksum, &v.UploadedBy, &v.ChangeNote,
		&v.Approval.ApprovedBy, &v.Approval.ApprovedAt, &v.Approval.Signature, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}
