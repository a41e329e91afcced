// admin.go — обработчики администрирования: набор прав ролей и журнал аудита.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
)

// meJSON — субъект запроса и его разрешения.
type meJSON struct {
	ID           string            `json:"id"`
	Username     string            `json:"username,omitempty"`
	Role         string            `json:"role"`
	DepartmentID string            `json:"department_id,omitempty"`
	Permissions  []rbac.Permission `json:"permissions"`
}

// GetMe — GET /api/v1/me. Субъект из токена и разрешения его роли.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	perms := h.perms.Current().Permissions(p.Role)
	if perms == nil {
		perms = []rbac.Permission{}
	}
	writeJSON(w, http.StatusOK, meJSON{
		ID:           p.ID,
		Username:     p.Username,
		Role:         p.Role,
		DepartmentID: p.DepartmentID,
		Permissions:  perms,
	})
}

// GetPermissions — GET /api/v1/permissions.
// Доступ: роль с разрешением permission:manage.
func (h *APIHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.perms.Require(p, rbac.PermPermissionAdmin); err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения набора прав")
		return
	}
	writeJSON(w, http.StatusOK, mapPermissionSet(h.perms.Current()))
}

type rolePermissionsRequest struct {
	Permissions []rbac.Permission `json:"permissions"`
}

// ReplaceRolePermissions — PUT /api/v1/permissions/{role}.
// Тело: {"permissions": ["document:read", ...]}. Изменение действует сразу.
func (h *APIHandler) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req rolePermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ps, err := h.perms.ReplaceRole(r.Context(), p, chi.URLParam(r, "role"), req.Permissions)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка изменения прав роли")
		return
	}
	writeJSON(w, http.StatusOK, mapPermissionSet(ps))
}

// ReloadPermissions — POST /api/v1/permissions/reload.
func (h *APIHandler) ReloadPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ps, err := h.perms.ReloadBy(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка перезагрузки набора прав")
		return
	}
	writeJSON(w, http.StatusOK, mapPermissionSet(ps))
}

// ListAuditLog — GET /api/v1/audit.
// Фильтры: actor_id, action, target_id; пагинация limit/offset.
func (h *APIHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var (
		actorID, action, targetID *string
		limit, offset             *int
	)
	if !queryParam(w, r, "actor_id", &actorID) ||
		!queryParam(w, r, "action", &action) ||
		!queryParam(w, r, "target_id", &targetID) ||
		!queryParam(w, r, "limit", &limit) ||
		!queryParam(w, r, "offset", &offset) {
		return
	}

	f := model.AuditFilter{
		ActorID:  deref(actorID),
		Action:   deref(action),
		TargetID: deref(targetID),
		Limit:    derefInt(limit),
		Offset:   derefInt(offset),
	}
	page, err := h.audit.List(r.Context(), p, f)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка чтения журнала аудита")
		return
	}
	writeJSON(w, http.StatusOK, mapAuditPage(page))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
