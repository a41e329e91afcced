package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
)

// PermissionRepository — интерфейс доступа к таблице role_permissions.
type PermissionRepository interface {
	// Load читает весь набор прав: роль → разрешения.
	Load(ctx context.Context) (map[string][]rbac.Permission, error)
	// ReplaceRole заменяет разрешения роли. Вызывается внутри транзакции.
	ReplaceRole(ctx context.Context, role string, perms []rbac.Permission) error
}

type permissionRepo struct {
	db DBTX
}

// NewPermissionRepository создаёт репозиторий набора прав.
func NewPermissionRepository(db DBTX) PermissionRepository {
	return &permissionRepo{db: db}
}

func (r *permissionRepo) Load(ctx context.Context) (map[string][]rbac.Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT role, permission FROM role_permissions ORDER BY role, permission`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения набора прав: %w", err)
	}
	defer rows.Close()

	grants := make(map[string][]rbac.Permission)
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, fmt.Errorf("ошибка сканирования права: %w", err)
		}
		grants[role] = append(grants[role], rbac.Permission(perm))
	}
	return grants, rows.Err()
}

func (r *permissionRepo) ReplaceRole(ctx context.Context, role string, perms []rbac.Permission) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1`, role); err != nil {
		return fmt.Errorf("ошибка очистки прав роли %s: %w", role, err)
	}
	for _, p := range perms {
		_, err := r.db.Exec(ctx,
			`INSERT INTO role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			role, string(p))
		if err != nil {
			return fmt.Errorf("ошибка сохранения права %s роли %s: %w", p, role, err)
		}
	}
	return nil
}
