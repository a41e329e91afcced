// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
// Связи между сущностями загружаются только явными вызовами репозиториев.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс, гонка номеров версий).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories — набор репозиториев, работающих через одно подключение
// или одну транзакцию.
type Repositories struct {
	Documents     DocumentRepository
	Versions      VersionRepository
	Tags          TagRepository
	Audit         AuditLogRepository
	Notifications NotificationRepository
	Permissions   PermissionRepository
	Stats         StatsRepository
}

// NewRepositories создаёт набор репозиториев поверх db.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Documents:     NewDocumentRepository(db),
		Versions:      NewVersionRepository(db),
		Tags:          NewTagRepository(db),
		Audit:         NewAuditLogRepository(db),
		Notifications: NewNotificationRepository(db),
		Permissions:   NewPermissionRepository(db),
		Stats:         NewStatsRepository(db),
	}
}

// UnitOfWork — граница атомарности для многошаговых изменений.
// Repos возвращает репозитории вне транзакции (чтения, одиночные записи).
// InTx выполняет fn в одной транзакции: ошибка fn откатывает все шаги.
type UnitOfWork interface {
	Repos() Repositories
	InTx(ctx context.Context, fn func(r Repositories) error) error
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится. Отмена ctx откатывает незавершённую транзакцию.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// pgUnitOfWork — UnitOfWork поверх pgxpool.
type pgUnitOfWork struct {
	repos Repositories
	tx    *TxRunner
}

// NewUnitOfWork создаёт UnitOfWork для PostgreSQL.
func NewUnitOfWork(pool *pgxpool.Pool) UnitOfWork {
	return &pgUnitOfWork{
		repos: NewRepositories(pool),
		tx:    NewTxRunner(pool),
	}
}

func (u *pgUnitOfWork) Repos() Repositories {
	return u.repos
}

func (u *pgUnitOfWork) InTx(ctx context.Context, fn func(r Repositories) error) error {
	return u.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation — нарушение ссылочной целостности (RESTRICT).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
