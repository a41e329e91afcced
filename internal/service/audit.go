// audit.go — журнал аудита.
// Запись выполняется после фиксации изменения; ошибка записи логируется
// и не возвращается вызывающему: изменение документа уже применено.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// auditWriteTimeout — лимит на запись одной записи журнала.
const auditWriteTimeout = 5 * time.Second

var auditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dm_audit_failures_total",
	Help: "Количество записей аудита, которые не удалось сохранить.",
})

type sourceAddressKey struct{}

// WithSourceAddress сохраняет IP-адрес клиента в контексте запроса.
func WithSourceAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, sourceAddressKey{}, addr)
}

// SourceAddress возвращает IP-адрес клиента из контекста или пустую строку.
func SourceAddress(ctx context.Context) string {
	addr, _ := ctx.Value(sourceAddressKey{}).(string)
	return addr
}

// AuditRecorder — приёмник событий аудита.
type AuditRecorder struct {
	repo   repository.AuditLogRepository
	perms  func() *rbac.PermissionSet
	logger *slog.Logger
}

// NewAuditRecorder создаёт приёмник аудита.
func NewAuditRecorder(repo repository.AuditLogRepository, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		repo:   repo,
		perms:  rbac.DefaultPermissionSet,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// SetPermissionSource подключает источник набора прав.
// Вызывается из NewPermissionService: сервису прав сам нужен AuditRecorder.
func (a *AuditRecorder) SetPermissionSource(fn func() *rbac.PermissionSet) {
	a.perms = fn
}

// Record сохраняет запись журнала. Ошибки не возвращаются.
// Отмена контекста запроса не прерывает запись.
func (a *AuditRecorder) Record(ctx context.Context, actorID string, action model.AuditAction, targetTable, targetID string, payload map[string]any) {
	entry := &model.AuditEntry{
		ID:            uuid.NewString(),
		ActorID:       actorID,
		Action:        action,
		TargetTable:   targetTable,
		TargetID:      targetID,
		Payload:       payload,
		SourceAddress: SourceAddress(ctx),
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Create(wctx, entry); err != nil {
		auditFailuresTotal.Inc()
		a.logger.Error("Не удалось записать аудит",
			slog.String("action", string(action)),
			slog.String("target_id", targetID),
			slog.String("actor", actorID),
			slog.String("error", err.Error()),
		)
	}
}

// AuditPage — страница журнала аудита.
type AuditPage struct {
	Items  []*model.AuditEntry
	Total  int
	Limit  int
	Offset int
}

// List возвращает записи журнала. Требует audit:read.
func (a *AuditRecorder) List(ctx context.Context, p model.Principal, f model.AuditFilter) (*AuditPage, error) {
	if !a.perms().Has(p.Role, rbac.PermAuditRead) {
		return nil, ErrAccessDenied
	}
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)

	items, total, err := a.repo.List(ctx, f)
	if err != nil {
		return nil, translate(err, "журнал аудита")
	}
	return &AuditPage{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
