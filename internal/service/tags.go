// tags.go — справочник тегов.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

const tagsTable = "tags"

// TagService — администрирование тегов. Удаление тега снимает его
// с документов, сами документы не затрагиваются.
type TagService struct {
	uow    repository.UnitOfWork
	perms  *PermissionService
	audit  *AuditRecorder
	logger *slog.Logger
}

// NewTagService создаёт сервис тегов.
func NewTagService(uow repository.UnitOfWork, perms *PermissionService, audit *AuditRecorder, logger *slog.Logger) *TagService {
	return &TagService{
		uow:    uow,
		perms:  perms,
		audit:  audit,
		logger: logger.With(slog.String("component", "tag_service")),
	}
}

// List возвращает все теги по имени.
func (s *TagService) List(ctx context.Context, p model.Principal) ([]*model.Tag, error) {
	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	tags, err := s.uow.Repos().Tags.List(ctx)
	if err != nil {
		return nil, translate(err, "теги")
	}
	return tags, nil
}

// Create возвращает тег с указанным именем, создавая его при отсутствии.
func (s *TagService) Create(ctx context.Context, p model.Principal, name string) (*model.Tag, error) {
	if err := s.perms.Require(p, rbac.PermTagManage); err != nil {
		return nil, err
	}
	name, err := validTagName(name)
	if err != nil {
		return nil, err
	}

	tags, err := s.uow.Repos().Tags.ResolveOrCreate(ctx, []string{name})
	if err != nil {
		return nil, translate(err, "тег "+name)
	}
	return tags[0], nil
}

// Rename переименовывает тег. Имя, занятое другим тегом, — ErrConflict.
func (s *TagService) Rename(ctx context.Context, p model.Principal, id, name string) (*model.Tag, error) {
	if err := s.perms.Require(p, rbac.PermTagManage); err != nil {
		return nil, err
	}
	name, err := validTagName(name)
	if err != nil {
		return nil, err
	}

	tag, err := s.uow.Repos().Tags.Rename(ctx, id, name)
	if err != nil {
		return nil, translate(err, "тег "+id)
	}

	s.audit.Record(ctx, p.ID, model.AuditTag, tagsTable, id, map[string]any{"name": name})
	return tag, nil
}

// Delete удаляет тег вместе со связями с документами.
func (s *TagService) Delete(ctx context.Context, p model.Principal, id string) error {
	if err := s.perms.Require(p, rbac.PermTagManage); err != nil {
		return err
	}
	err := s.uow.InTx(ctx, func(r repository.Repositories) error {
		return r.Tags.Delete(ctx, id)
	})
	if err != nil {
		return translate(err, "тег "+id)
	}

	s.logger.Info("Тег удалён", slog.String("tag_id", id), slog.String("actor", p.ID))
	s.audit.Record(ctx, p.ID, model.AuditTag, tagsTable, id, map[string]any{"deleted": true})
	return nil
}

func validTagName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: имя тега обязательно", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxTagNameLength {
		return "", fmt.Errorf("%w: имя тега длиннее %d символов", ErrValidation, maxTagNameLength)
	}
	return name, nil
}
