package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// TagRepository — интерфейс доступа к таблицам tags и document_tags.
type TagRepository interface {
	// ResolveOrCreate возвращает теги с указанными именами, создавая отсутствующие.
	// Порядок результата совпадает с порядком names.
	ResolveOrCreate(ctx context.Context, names []string) ([]*model.Tag, error)
	// ReplaceForDocument заменяет набор тегов документа на tagIDs.
	ReplaceForDocument(ctx context.Context, documentID string, tagIDs []string) error
	// ListForDocument возвращает теги документа по имени.
	ListForDocument(ctx context.Context, documentID string) ([]*model.Tag, error)
	// DeleteForDocument удаляет все связи документа с тегами.
	DeleteForDocument(ctx context.Context, documentID string) error
	// List возвращает все теги по имени.
	List(ctx context.Context) ([]*model.Tag, error)
	// GetByID возвращает тег по UUID.
	GetByID(ctx context.Context, id string) (*model.Tag, error)
	// Rename переименовывает тег. Занятое имя — ErrConflict.
	Rename(ctx context.Context, id, name string) (*model.Tag, error)
	// Delete удаляет связи тега с документами, затем сам тег.
	Delete(ctx context.Context, id string) error
}

type tagRepo struct {
	db DBTX
}

// NewTagRepository создаёт репозиторий тегов.
func NewTagRepository(db DBTX) TagRepository {
	return &tagRepo{db: db}
}

func (r *tagRepo) ResolveOrCreate(ctx context.Context, names []string) ([]*model.Tag, error) {
	// DO UPDATE вместо DO NOTHING: RETURNING возвращает и существующую строку.
	query := `
		INSERT INTO tags (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`

	result := make([]*model.Tag, 0, len(names))
	for _, name := range names {
		t := &model.Tag{}
		if err := r.db.QueryRow(ctx, query, uuid.NewString(), name).Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка получения тега %q: %w", name, err)
		}
		result = append(result, t)
	}
	return result, nil
}

func (r *tagRepo) ReplaceForDocument(ctx context.Context, documentID string, tagIDs []string) error {
	if err := r.DeleteForDocument(ctx, documentID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_tags (document_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			documentID, tagID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: документ %s или тег %s", ErrNotFound, documentID, tagID)
			}
			return fmt.Errorf("ошибка привязки тега: %w", err)
		}
	}
	return nil
}

func (r *tagRepo) ListForDocument(ctx context.Context, documentID string) ([]*model.Tag, error) {
	return r.list(ctx, `
		SELECT t.id, t.name, t.created_at
		FROM tags t
		JOIN document_tags dt ON dt.tag_id = t.id
		WHERE dt.document_id = $1
		ORDER BY t.name`, documentID)
}

func (r *tagRepo) DeleteForDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM document_tags WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("ошибка удаления связей с тегами: %w", err)
	}
	return nil
}

func (r *tagRepo) List(ctx context.Context) ([]*model.Tag, error) {
	return r.list(ctx, `SELECT id, name, created_at FROM tags ORDER BY name`)
}

func (r *tagRepo) list(ctx context.Context, query string, args ...any) ([]*model.Tag, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тегов: %w", err)
	}
	defer rows.Close()

	var result []*model.Tag
	for rows.Next() {
		t := &model.Tag{}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования тега: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *tagRepo) GetByID(ctx context.Context, id string) (*model.Tag, error) {
	t := &model.Tag{}
	err := r.db.QueryRow(ctx, `SELECT id, name, created_at FROM tags WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения тега: %w", err)
	}
	return t, nil
}

func (r *tagRepo) Rename(ctx context.Context, id, name string) (*model.Tag, error) {
	t := &model.Tag{}
	err := r.db.QueryRow(ctx,
		`UPDATE tags SET name = $2 WHERE id = $1 RETURNING id, name, created_at`, id, name).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: тег %q уже существует", ErrConflict, name)
		}
		return nil, fmt.Errorf("ошибка переименования тега: %w", err)
	}
	return t, nil
}

func (r *tagRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM document_tags WHERE tag_id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления связей тега: %w", err)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления тега: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
