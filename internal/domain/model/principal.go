package model

// Principal — аутентифицированный субъект запроса.
// Формируется JWT middleware, ядро доверяет ему как есть.
type Principal struct {
	// ID — sub из JWT
	ID string
	// Username — preferred_username из JWT (для логов)
	Username string
	// Role — роль (ADMIN, MANAGER, USER, VIEWER)
	Role string
	// DepartmentID — отдел пользователя (может быть пустым)
	DepartmentID string
}
