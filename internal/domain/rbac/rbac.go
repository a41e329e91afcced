// Пакет rbac — роли, разрешения и неизменяемый набор прав PermissionSet.
// PermissionSet загружается из БД при старте или по явному запросу
// администратора и передаётся в проверки доступа как значение.
package rbac

import (
	"fmt"
	"slices"
	"strings"
)

// Роли в порядке возрастания привилегий.
const (
	RoleViewer  = "VIEWER"
	RoleUser    = "USER"
	RoleManager = "MANAGER"
	RoleAdmin   = "ADMIN"
)

// Permission — разрешение вида "<ресурс>:<действие>".
type Permission string

const (
	PermDocumentRead    Permission = "document:read"
	PermDocumentCreate  Permission = "document:create"
	PermDocumentUpdate  Permission = "document:update"
	PermDocumentDelete  Permission = "document:delete"
	PermDocumentApprove Permission = "document:approve"
	PermDocumentPublish Permission = "document:publish"
	PermTagManage       Permission = "tag:manage"
	PermAuditRead       Permission = "audit:read"
	PermPermissionAdmin Permission = "permission:manage"
	// PermAll — все разрешения. Роль с PermAll считается административной.
	PermAll Permission = "*"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleViewer:  1,
	RoleUser:    2,
	RoleManager: 3,
	RoleAdmin:   4,
}

var knownPermissions = map[Permission]bool{
	PermDocumentRead:    true,
	PermDocumentCreate:  true,
	PermDocumentUpdate:  true,
	PermDocumentDelete:  true,
	PermDocumentApprove: true,
	PermDocumentPublish: true,
	PermTagManage:       true,
	PermAuditRead:       true,
	PermPermissionAdmin: true,
	PermAll:             true,
}

// DefaultGrants — набор прав по умолчанию (совпадает с seed-миграцией).
func DefaultGrants() map[string][]Permission {
	return map[string][]Permission{
		RoleAdmin: {PermAll},
		RoleManager: {
			PermDocumentRead, PermDocumentCreate, PermDocumentUpdate,
			PermDocumentDelete, PermDocumentApprove, PermDocumentPublish,
			PermTagManage,
		},
		RoleUser:   {PermDocumentRead, PermDocumentCreate, PermDocumentUpdate},
		RoleViewer: {PermDocumentRead},
	}
}

// PermissionSet — неизменяемое отображение роль → разрешения.
// После создания не модифицируется, безопасен для конкурентного чтения.
type PermissionSet struct {
	byRole map[string]map[Permission]struct{}
}

// NewPermissionSet строит PermissionSet из отображения роль → разрешения.
// Неизвестные роли и разрешения отклоняются. Роль ADMIN обязана иметь "*".
func NewPermissionSet(grants map[string][]Permission) (*PermissionSet, error) {
	byRole := make(map[string]map[Permission]struct{}, len(grants))
	for role, perms := range grants {
		if !IsValidRole(role) {
			return nil, fmt.Errorf("неизвестная роль %q", role)
		}
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			if !IsValidPermission(p) {
				return nil, fmt.Errorf("роль %s: неизвестное разрешение %q", role, p)
			}
			set[p] = struct{}{}
		}
		byRole[role] = set
	}
	if _, ok := byRole[RoleAdmin][PermAll]; !ok {
		return nil, fmt.Errorf("роль %s должна иметь разрешение %q", RoleAdmin, PermAll)
	}
	return &PermissionSet{byRole: byRole}, nil
}

// DefaultPermissionSet возвращает PermissionSet из DefaultGrants.
func DefaultPermissionSet() *PermissionSet {
	ps, err := NewPermissionSet(DefaultGrants())
	if err != nil {
		panic(err) // набор по умолчанию заведомо корректен
	}
	return ps
}

// Has проверяет, имеет ли роль разрешение p (напрямую или через "*").
func (ps *PermissionSet) Has(role string, p Permission) bool {
	perms, ok := ps.byRole[role]
	if !ok {
		return false
	}
	if _, all := perms[PermAll]; all {
		return true
	}
	_, ok = perms[p]
	return ok
}

// IsAdministrative сообщает, является ли роль административной.
func (ps *PermissionSet) IsAdministrative(role string) bool {
	_, ok := ps.byRole[role][PermAll]
	return ok
}

// Permissions возвращает отсортированный список разрешений роли.
func (ps *PermissionSet) Permissions(role string) []Permission {
	perms := make([]Permission, 0, len(ps.byRole[role]))
	for p := range ps.byRole[role] {
		perms = append(perms, p)
	}
	slices.Sort(perms)
	return perms
}

// Roles возвращает роли набора по возрастанию привилегий.
func (ps *PermissionSet) Roles() []string {
	roles := make([]string, 0, len(ps.byRole))
	for r := range ps.byRole {
		roles = append(roles, r)
	}
	slices.SortFunc(roles, func(a, b string) int { return roleWeight[a] - roleWeight[b] })
	return roles
}

// Grants возвращает копию отображения роль → разрешения.
func (ps *PermissionSet) Grants() map[string][]Permission {
	out := make(map[string][]Permission, len(ps.byRole))
	for role := range ps.byRole {
		out[role] = ps.Permissions(role)
	}
	return out
}

// WithRole возвращает новый PermissionSet, в котором разрешения роли
// заменены на perms. Исходный набор не изменяется.
func (ps *PermissionSet) WithRole(role string, perms []Permission) (*PermissionSet, error) {
	grants := ps.Grants()
	grants[role] = perms
	return NewPermissionSet(grants)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// IsValidPermission проверяет, является ли разрешение известным.
func IsValidPermission(p Permission) bool {
	return knownPermissions[p]
}

// NormalizeRole приводит роль из JWT к каноническому виду (ADMIN, USER, ...).
func NormalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную известную роль из набора.
// Неизвестные роли игнорируются. Если известных нет — пустая строка.
func HighestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		r = NormalizeRole(r)
		if !IsValidRole(r) {
			continue
		}
		if highest == "" {
			highest = r
			continue
		}
		highest = maxRole(highest, r)
	}
	return highest
}
