// documents.go — жизненный цикл документа.
//
// Каждая операция сначала проверяет разрешение роли (PermissionSet),
// затем правила доступа к конкретному документу. Многошаговые изменения
// выполняются в одной транзакции; аудит и уведомления отправляются после
// фиксации, их ошибки не отменяют изменение.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
	"github.com/bigkaa/goartstore/document-module/internal/domain/access"
	"github.com/bigkaa/goartstore/document-module/internal/domain/approval"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// Ограничения входных данных.
const (
	maxTitleLength   = 500
	maxTagNameLength = 100
	maxTagsPerDoc    = 50
	documentsTable   = "documents"
)

var documentOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dm_document_operations_total",
	Help: "Операции над документами по типу и результату.",
}, []string{"operation", "result"})

// observe учитывает результат операции в метриках.
func observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = string(KindOf(err))
	}
	documentOperationsTotal.WithLabelValues(operation, result).Inc()
}

// CreateInput — метаданные нового документа.
type CreateInput struct {
	Title       string
	Description *string
	// DepartmentID — пусто: отдел создателя
	DepartmentID string
	// Visibility — пусто: DEPARTMENT
	Visibility model.Visibility
	Tags       []string
	Content    model.ContentMeta
}

// ListFilter — фильтры выборки документов.
type ListFilter struct {
	Query         *string
	DepartmentID  *string
	Status        *model.DocumentStatus
	Visibility    *model.Visibility
	CreatedBy     *string
	TagID         *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Archived      bool
	// Page — номер страницы с 1
	Page  int
	Limit int
}

// ListResult — страница документов.
type ListResult struct {
	Items      []*model.Document
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// DownloadLink — ссылка на содержимое текущей версии.
type DownloadLink struct {
	URL           string
	FileName      string
	ContentType   string
	Size          int64
	VersionNumber int
	ExpiresAt     time.Time
}

// DocumentDeps — зависимости DocumentService.
type DocumentDeps struct {
	UnitOfWork  repository.UnitOfWork
	Versions    *VersionStore
	Blobs       blobstore.Store
	URLs        *URLCache
	Permissions *PermissionService
	Audit       *AuditRecorder
	Notifier    Notifier
	Signer      *approval.Signer
	// Now — источник времени архивации; nil — time.Now
	Now func() time.Time
}

// DocumentService — операции над документами от имени субъекта.
type DocumentService struct {
	uow      repository.UnitOfWork
	versions *VersionStore
	blobs    blobstore.Store
	urls     *URLCache
	perms    *PermissionService
	audit    *AuditRecorder
	notifier Notifier
	signer   *approval.Signer
	now      func() time.Time
	logger   *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(deps DocumentDeps, logger *slog.Logger) *DocumentService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	signer := deps.Signer
	if signer == nil {
		signer = approval.NewSigner(now)
	}
	return &DocumentService{
		uow:      deps.UnitOfWork,
		versions: deps.Versions,
		blobs:    deps.Blobs,
		urls:     deps.URLs,
		perms:    deps.Permissions,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		signer:   signer,
		now:      now,
		logger:   logger.With(slog.String("component", "document_service")),
	}
}

// load читает документ вне транзакции и проверяет доступ субъекта.
func (s *DocumentService) load(ctx context.Context, p model.Principal, id string) (*model.Document, error) {
	doc, err := s.uow.Repos().Documents.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, "документ "+id)
	}
	if err := s.checkAccess(p, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// lockForUpdate читает документ с блокировкой строки и проверяет доступ.
func (s *DocumentService) lockForUpdate(ctx context.Context, r repository.Repositories, p model.Principal, id string) (*model.Document, error) {
	doc, err := r.Documents.GetForUpdate(ctx, id)
	if err != nil {
		return nil, translate(err, "документ "+id)
	}
	if err := s.checkAccess(p, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) checkAccess(p model.Principal, doc *model.Document) error {
	if !access.CanAccess(s.perms.Current(), p, doc) {
		return fmt.Errorf("%w: документ %s", ErrAccessDenied, doc.ID)
	}
	return nil
}

// Create создаёт документ вместе с первой версией.
func (s *DocumentService) Create(ctx context.Context, p model.Principal, in CreateInput, content io.Reader) (detail *model.DocumentDetail, err error) {
	defer func() { observe("create", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentCreate); err != nil {
		return nil, err
	}
	doc, tagNames, err := s.newDocument(p, in, content)
	if err != nil {
		return nil, err
	}

	put, err := s.versions.storeContent(ctx, content, in.Content)
	if err != nil {
		return nil, err
	}

	detail = &model.DocumentDetail{Document: doc}
	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		if err := r.Documents.Create(ctx, doc); err != nil {
			return err
		}
		v, err := s.versions.appendInTx(ctx, r, doc, put, in.Content, p.ID)
		if err != nil {
			return err
		}
		detail.Versions = []*model.Version{v}
		if len(tagNames) == 0 {
			return nil
		}
		tags, err := r.Tags.ResolveOrCreate(ctx, tagNames)
		if err != nil {
			return err
		}
		detail.Tags = tags
		return r.Tags.ReplaceForDocument(ctx, doc.ID, tagIDs(tags))
	})
	if err != nil {
		s.versions.discardContent(ctx, put.Location)
		return nil, translate(err, "документ")
	}

	s.logger.Info("Документ создан",
		slog.String("document_id", doc.ID),
		slog.String("department_id", doc.DepartmentID),
		slog.String("created_by", p.ID),
	)
	s.audit.Record(ctx, p.ID, model.AuditUpload, documentsTable, doc.ID, map[string]any{"title": doc.Title})
	s.notifier.Notify(model.NotificationEvent{
		Audience: model.Audience{Kind: model.AudienceDepartment, ID: doc.DepartmentID},
		Title:    "Новый документ ожидает согласования",
		Body:     fmt.Sprintf("Загружен документ: %s", doc.Title),
		Link:     "/documents/" + doc.ID,
	})
	return detail, nil
}

// newDocument проверяет входные данные и строит документ в статусе PENDING.
func (s *DocumentService) newDocument(p model.Principal, in CreateInput, content io.Reader) (*model.Document, []string, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: заголовок обязателен", ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, nil, fmt.Errorf("%w: заголовок длиннее %d символов", ErrValidation, maxTitleLength)
	}
	if content == nil || strings.TrimSpace(in.Content.FileName) == "" {
		return nil, nil, fmt.Errorf("%w: файл обязателен", ErrValidation)
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = model.VisibilityDepartment
	}
	if _, err := model.ParseVisibility(string(visibility)); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}

	department := strings.TrimSpace(in.DepartmentID)
	if department == "" {
		department = p.DepartmentID
	}
	if department == "" {
		return nil, nil, fmt.Errorf("%w: отдел документа обязателен", ErrValidation)
	}
	if department != p.DepartmentID && !s.perms.Current().IsAdministrative(p.Role) {
		return nil, nil, fmt.Errorf("%w: создание документов разрешено только в своём отделе", ErrAccessDenied)
	}

	tagNames, err := normalizeTagNames(in.Tags)
	if err != nil {
		return nil, nil, err
	}

	var description *string
	if in.Description != nil {
		if d := strings.TrimSpace(*in.Description); d != "" {
			description = &d
		}
	}

	return &model.Document{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		DepartmentID: department,
		CreatedBy:    p.ID,
		Status:       model.StatusPending,
		Visibility:   visibility,
	}, tagNames, nil
}

// Get возвращает документ с тегами и историей версий.
func (s *DocumentService) Get(ctx context.Context, p model.Principal, id string) (detail *model.DocumentDetail, err error) {
	defer func() { observe("get", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}

	repos := s.uow.Repos()
	tags, err := repos.Tags.ListForDocument(ctx, id)
	if err != nil {
		return nil, translate(err, "теги документа")
	}
	versions, err := repos.Versions.ListByDocument(ctx, id)
	if err != nil {
		return nil, translate(err, "версии документа")
	}

	s.audit.Record(ctx, p.ID, model.AuditView, documentsTable, id, nil)
	return &model.DocumentDetail{Document: doc, Tags: tags, Versions: versions}, nil
}

// List выполняет выборку документов, доступных субъекту.
// Правила доступа те же, что у одиночного чтения (access.Predicate).
func (s *DocumentService) List(ctx context.Context, p model.Principal, f ListFilter) (result *ListResult, err error) {
	defer func() { observe("list", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return nil, fmt.Errorf("%w: начало диапазона дат позже конца", ErrValidation)
	}

	page := max(f.Page, 1)
	limit, _ := clampPage(f.Limit, 0)
	offset, err := pageOffset(page, limit)
	if err != nil {
		return nil, err
	}

	items, total, err := s.uow.Repos().Documents.Search(ctx, repository.SearchParams{
		Access:        access.ForPrincipal(s.perms.Current(), p),
		Query:         f.Query,
		DepartmentID:  f.DepartmentID,
		Status:        f.Status,
		Visibility:    f.Visibility,
		CreatedBy:     f.CreatedBy,
		TagID:         f.TagID,
		CreatedAfter:  f.CreatedAfter,
		CreatedBefore: f.CreatedBefore,
		Archived:      f.Archived,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		return nil, translate(err, "выборка документов")
	}

	return &ListResult{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}

// Download возвращает ссылку на содержимое текущей версии.
// Архивные документы остаются доступными для скачивания.
func (s *DocumentService) Download(ctx context.Context, p model.Principal, id string) (link *DownloadLink, err error) {
	defer func() { observe("download", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if doc.CurrentVersionID == nil {
		return nil, fmt.Errorf("%w: у документа нет текущей версии", ErrInvalidState)
	}
	v, err := s.uow.Repos().Versions.GetByID(ctx, *doc.CurrentVersionID)
	if err != nil {
		return nil, translate(err, "версия "+*doc.CurrentVersionID)
	}

	u, err := s.urls.Get(ctx, v.Location)
	if err != nil {
		return nil, translate(err, "содержимое версии")
	}

	s.audit.Record(ctx, p.ID, model.AuditDownload, documentsTable, id, map[string]any{"version": v.Number})
	return &DownloadLink{
		URL:           u.URL,
		FileName:      v.FileName,
		ContentType:   v.ContentType,
		Size:          v.Size,
		VersionNumber: v.Number,
		ExpiresAt:     u.ExpiresAt,
	}, nil
}

// AppendVersion загружает новую версию документа.
func (s *DocumentService) AppendVersion(ctx context.Context, p model.Principal, id string, meta model.ContentMeta, content io.Reader) (doc *model.Document, v *model.Version, err error) {
	defer func() { observe("append_version", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentUpdate); err != nil {
		return nil, nil, err
	}
	if content == nil || strings.TrimSpace(meta.FileName) == "" {
		return nil, nil, fmt.Errorf("%w: файл обязателен", ErrValidation)
	}
	if _, err := s.load(ctx, p, id); err != nil {
		return nil, nil, err
	}

	doc, v, err = s.versions.Append(ctx, id, content, meta, p.ID)
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(ctx, p.ID, model.AuditUpdateVersion, documentsTable, id, map[string]any{"version": v.Number})
	s.notifier.Notify(model.NotificationEvent{
		Audience: model.Audience{Kind: model.AudienceDepartment, ID: doc.DepartmentID},
		Title:    "Новая версия документа",
		Body:     fmt.Sprintf("Загружена версия %d документа: %s", v.Number, doc.Title),
		Link:     "/documents/" + id,
	})
	return doc, v, nil
}

// RestoreVersion делает текущей ранее загруженную версию.
func (s *DocumentService) RestoreVersion(ctx context.Context, p model.Principal, id, versionID string) (doc *model.Document, err error) {
	defer func() { observe("restore_version", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentUpdate); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, p, id); err != nil {
		return nil, err
	}

	doc, target, changed, err := s.versions.Restore(ctx, id, versionID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.audit.Record(ctx, p.ID, model.AuditRestoreVersion, documentsTable, id, map[string]any{
			"version_id": target.ID,
			"version":    target.Number,
			"status":     string(doc.Status),
		})
	}
	return doc, nil
}

// ListVersions возвращает историю версий от новых к старым.
func (s *DocumentService) ListVersions(ctx context.Context, p model.Principal, id string) ([]*model.Version, error) {
	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, p, id); err != nil {
		return nil, err
	}
	return s.versions.List(ctx, id)
}

// Approve согласует текущую версию документа. Снимок согласования
// ставится и на документ, и на версию.
func (s *DocumentService) Approve(ctx context.Context, p model.Principal, id string) (doc *model.Document, err error) {
	defer func() { observe("approve", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentApprove); err != nil {
		return nil, err
	}

	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		var txErr error
		doc, txErr = s.lockForUpdate(ctx, r, p, id)
		if txErr != nil {
			return txErr
		}
		var current *model.Version
		if doc.CurrentVersionID != nil {
			if current, txErr = r.Versions.GetByID(ctx, *doc.CurrentVersionID); txErr != nil {
				return txErr
			}
		}
		at, signature := s.signer.Sign(p.ID)
		if txErr = approval.Approve(doc, current, p.ID, at, signature); txErr != nil {
			return txErr
		}
		if txErr = r.Documents.Update(ctx, doc); txErr != nil {
			return txErr
		}
		return r.Versions.SetApproval(ctx, current.ID, current.Approval)
	})
	if err != nil {
		return nil, translate(err, "документ "+id)
	}

	s.audit.Record(ctx, p.ID, model.AuditApprove, documentsTable, id, map[string]any{"signature": *doc.Approval.Signature})
	s.notifyCreator(doc, "Документ согласован", fmt.Sprintf("Документ %q согласован.", doc.Title))
	return doc, nil
}

// Reject отклоняет документ. Причина обязательна.
func (s *DocumentService) Reject(ctx context.Context, p model.Principal, id, reason string) (doc *model.Document, err error) {
	defer func() { observe("reject", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentApprove); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, approval.ErrEmptyReason) //nolint:errorlint // намеренный двойной wrap
	}

	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		var txErr error
		doc, txErr = s.lockForUpdate(ctx, r, p, id)
		if txErr != nil {
			return txErr
		}
		if txErr = approval.Reject(doc, reason); txErr != nil {
			return txErr
		}
		return r.Documents.Update(ctx, doc)
	})
	if err != nil {
		return nil, translate(err, "документ "+id)
	}

	s.audit.Record(ctx, p.ID, model.AuditReject, documentsTable, id, map[string]any{"reason": reason})
	s.notifyCreator(doc, "Документ отклонён",
		fmt.Sprintf("Документ %q отклонён. Причина: %s", doc.Title, reason))
	return doc, nil
}

// Publish публикует согласованный документ.
func (s *DocumentService) Publish(ctx context.Context, p model.Principal, id string) (doc *model.Document, err error) {
	defer func() { observe("publish", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentPublish); err != nil {
		return nil, err
	}

	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		var txErr error
		doc, txErr = s.lockForUpdate(ctx, r, p, id)
		if txErr != nil {
			return txErr
		}
		if txErr = approval.Publish(doc); txErr != nil {
			return txErr
		}
		return r.Documents.Update(ctx, doc)
	})
	if err != nil {
		return nil, translate(err, "документ "+id)
	}

	s.audit.Record(ctx, p.ID, model.AuditPublish, documentsTable, id, nil)
	s.notifyCreator(doc, "Документ опубликован", fmt.Sprintf("Документ %q опубликован.", doc.Title))
	return doc, nil
}

// Archive архивирует документ. Повторный вызов ничего не меняет.
func (s *DocumentService) Archive(ctx context.Context, p model.Principal, id string) (*model.Document, error) {
	return s.setArchived(ctx, p, id, true)
}

// Unarchive возвращает документ из архива. Повторный вызов ничего не меняет.
func (s *DocumentService) Unarchive(ctx context.Context, p model.Principal, id string) (*model.Document, error) {
	return s.setArchived(ctx, p, id, false)
}

func (s *DocumentService) setArchived(ctx context.Context, p model.Principal, id string, archived bool) (doc *model.Document, err error) {
	operation, action := "archive", model.AuditArchive
	if !archived {
		operation, action = "unarchive", model.AuditUnarchive
	}
	defer func() { observe(operation, err) }()

	if err := s.perms.Require(p, rbac.PermDocumentDelete); err != nil {
		return nil, err
	}

	changed := false
	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		var txErr error
		doc, txErr = s.lockForUpdate(ctx, r, p, id)
		if txErr != nil {
			return txErr
		}
		if doc.IsArchived == archived {
			return nil
		}
		doc.IsArchived = archived
		if archived {
			at := s.now().UTC()
			doc.ArchivedAt = &at
		} else {
			doc.ArchivedAt = nil
		}
		changed = true
		return r.Documents.Update(ctx, doc)
	})
	if err != nil {
		return nil, translate(err, "документ "+id)
	}

	if changed {
		s.audit.Record(ctx, p.ID, action, documentsTable, id, nil)
	}
	return doc, nil
}

// Delete удаляет документ со всеми версиями. Разрешено только создателю
// и администратору. Порядок внутри транзакции: связи с тегами, версии,
// документ. Содержимое версий удаляется из хранилища после фиксации.
func (s *DocumentService) Delete(ctx context.Context, p model.Principal, id string) (err error) {
	defer func() { observe("delete", err) }()

	var doc *model.Document
	var locations []string
	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		var txErr error
		doc, txErr = r.Documents.GetForUpdate(ctx, id)
		if txErr != nil {
			return txErr
		}
		if !access.IsOwnerOrAdmin(s.perms.Current(), p, doc) {
			return fmt.Errorf("%w: удалить документ может только создатель или администратор", ErrAccessDenied)
		}
		if txErr = r.Tags.DeleteForDocument(ctx, id); txErr != nil {
			return txErr
		}
		if locations, txErr = r.Versions.DeleteByDocument(ctx, id); txErr != nil {
			return txErr
		}
		return r.Documents.Delete(ctx, id)
	})
	if err != nil {
		return translate(err, "документ "+id)
	}

	s.urls.Invalidate(locations...)
	for _, loc := range locations {
		s.versions.discardContent(ctx, loc)
	}

	s.logger.Info("Документ удалён",
		slog.String("document_id", id),
		slog.Int("versions", len(locations)),
		slog.String("actor", p.ID),
	)
	s.audit.Record(ctx, p.ID, model.AuditDelete, documentsTable, id, map[string]any{"title": doc.Title})
	return nil
}

// Tag заменяет набор тегов документа. Отсутствующие теги создаются.
func (s *DocumentService) Tag(ctx context.Context, p model.Principal, id string, names []string) (tags []*model.Tag, err error) {
	defer func() { observe("tag", err) }()

	if err := s.perms.Require(p, rbac.PermTagManage); err != nil {
		return nil, err
	}
	names, err = normalizeTagNames(names)
	if err != nil {
		return nil, err
	}

	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		if _, txErr := s.lockForUpdate(ctx, r, p, id); txErr != nil {
			return txErr
		}
		var txErr error
		if tags, txErr = r.Tags.ResolveOrCreate(ctx, names); txErr != nil {
			return txErr
		}
		return r.Tags.ReplaceForDocument(ctx, id, tagIDs(tags))
	})
	if err != nil {
		return nil, translate(err, "документ "+id)
	}

	s.audit.Record(ctx, p.ID, model.AuditTag, documentsTable, id, map[string]any{"tags": names})
	return tags, nil
}

func (s *DocumentService) notifyCreator(doc *model.Document, title, body string) {
	s.notifier.Notify(model.NotificationEvent{
		Audience: model.Audience{Kind: model.AudienceUser, ID: doc.CreatedBy},
		Title:    title,
		Body:     body,
		Link:     "/documents/" + doc.ID,
	})
}

// normalizeTagNames обрезает пробелы, отбрасывает пустые и повторяющиеся имена.
func normalizeTagNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		if utf8.RuneCountInString(n) > maxTagNameLength {
			return nil, fmt.Errorf("%w: имя тега длиннее %d символов", ErrValidation, maxTagNameLength)
		}
		out = append(out, n)
	}
	if len(out) > maxTagsPerDoc {
		return nil, fmt.Errorf("%w: не более %d тегов на документ", ErrValidation, maxTagsPerDoc)
	}
	return out, nil
}

func tagIDs(tags []*model.Tag) []string {
	ids := make([]string, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}
