// Пакет access — правила чтения документов.
//
// Правила проверяются по порядку, срабатывает первое подходящее:
//  1. административная роль — разрешено;
//  2. PUBLIC — разрешено;
//  3. DEPARTMENT и отдел субъекта совпадает с отделом документа — разрешено;
//  4. PRIVATE и субъект является создателем — разрешено;
//  5. иначе — запрещено.
//
// Те же правила выражены декларативно в Predicate, который репозиторий
// транслирует в SQL для выборок списков. CanAccess реализован через
// Predicate, поэтому одиночное чтение и выборка не расходятся.
package access

import (
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
)

// Predicate — декларативная форма правил доступа для конкретного субъекта.
type Predicate struct {
	// Unrestricted — субъект административный, фильтр не применяется.
	Unrestricted bool
	// PrincipalID — для правила PRIVATE.
	PrincipalID string
	// DepartmentID — для правила DEPARTMENT. Пустой отдел не совпадает ни с чем.
	DepartmentID string
}

// ForPrincipal строит Predicate для субъекта с учётом набора прав.
func ForPrincipal(ps *rbac.PermissionSet, p model.Principal) Predicate {
	if ps.IsAdministrative(p.Role) {
		return Predicate{Unrestricted: true}
	}
	return Predicate{
		PrincipalID:  p.ID,
		DepartmentID: p.DepartmentID,
	}
}

// Matches применяет предикат к документу.
func (pr Predicate) Matches(doc *model.Document) bool {
	if pr.Unrestricted {
		return true
	}
	switch doc.Visibility {
	case model.VisibilityPublic:
		return true
	case model.VisibilityDepartment:
		return pr.DepartmentID != "" && doc.DepartmentID == pr.DepartmentID
	case model.VisibilityPrivate:
		return pr.PrincipalID != "" && doc.CreatedBy == pr.PrincipalID
	default:
		return false
	}
}

// CanAccess решает, может ли субъект читать документ. Без ввода-вывода.
func CanAccess(ps *rbac.PermissionSet, p model.Principal, doc *model.Document) bool {
	return ForPrincipal(ps, p).Matches(doc)
}

// IsOwnerOrAdmin — право на удаление: только создатель или администратор.
func IsOwnerOrAdmin(ps *rbac.PermissionSet, p model.Principal, doc *model.Document) bool {
	return ps.IsAdministrative(p.Role) || (p.ID != "" && doc.CreatedBy == p.ID)
}
