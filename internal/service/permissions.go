// permissions.go — текущий набор прав ролей.
// Набор неизменяем; изменение роли или перезагрузка из БД строят новый
// PermissionSet и атомарно подменяют ссылку. Читатели получают снимок
// через Current и не видят частично применённых изменений.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// PermissionService — владелец текущего PermissionSet.
type PermissionService struct {
	uow     repository.UnitOfWork
	audit   *AuditRecorder
	current atomic.Pointer[rbac.PermissionSet]
	// mu сериализует писателей: чтение-изменение-подмена.
	mu     sync.Mutex
	logger *slog.Logger
}

// NewPermissionService создаёт сервис с набором прав по умолчанию.
// Набор из БД загружается вызовом Reload.
func NewPermissionService(uow repository.UnitOfWork, audit *AuditRecorder, logger *slog.Logger) *PermissionService {
	s := &PermissionService{
		uow:    uow,
		audit:  audit,
		logger: logger.With(slog.String("component", "permission_service")),
	}
	s.current.Store(rbac.DefaultPermissionSet())
	audit.SetPermissionSource(s.Current)
	return s
}

// Current возвращает действующий набор прав.
func (s *PermissionService) Current() *rbac.PermissionSet {
	return s.current.Load()
}

// Require проверяет разрешение роли субъекта.
func (s *PermissionService) Require(p model.Principal, perm rbac.Permission) error {
	if !s.Current().Has(p.Role, perm) {
		return fmt.Errorf("%w: у роли %q нет разрешения %s", ErrAccessDenied, p.Role, perm)
	}
	return nil
}

// Reload перечитывает набор прав из БД и подменяет текущий.
func (s *PermissionService) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants, err := s.uow.Repos().Permissions.Load(ctx)
	if err != nil {
		return translate(err, "набор прав")
	}
	ps, err := rbac.NewPermissionSet(grants)
	if err != nil {
		return fmt.Errorf("%w: некорректный набор прав в БД: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	s.current.Store(ps)

	s.logger.Info("Набор прав загружен", slog.Int("roles", len(ps.Roles())))
	return nil
}

// ReloadBy — явная перезагрузка по запросу администратора.
func (s *PermissionService) ReloadBy(ctx context.Context, actor model.Principal) (*rbac.PermissionSet, error) {
	if err := s.Require(actor, rbac.PermPermissionAdmin); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s.Current(), nil
}

// ReplaceRole заменяет разрешения роли, сохраняет их в БД и подменяет набор.
func (s *PermissionService) ReplaceRole(ctx context.Context, actor model.Principal, role string, perms []rbac.Permission) (*rbac.PermissionSet, error) {
	if err := s.Require(actor, rbac.PermPermissionAdmin); err != nil {
		return nil, err
	}

	role = rbac.NormalizeRole(role)
	perms = slices.Compact(slices.Sorted(slices.Values(perms)))

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.Current().WithRole(role, perms)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}

	err = s.uow.InTx(ctx, func(r repository.Repositories) error {
		return r.Permissions.ReplaceRole(ctx, role, perms)
	})
	if err != nil {
		return nil, translate(err, "набор прав")
	}
	s.current.Store(next)

	s.logger.Info("Права роли изменены",
		slog.String("role", role),
		slog.Any("permissions", perms),
		slog.String("actor", actor.ID),
	)

	payload := map[string]any{"permissions": perms}
	s.audit.Record(ctx, actor.ID, model.AuditUpdatePermissions, "role_permissions", role, payload)
	return next, nil
}
