// errors.go — ошибки бизнес-логики сервисного слоя.
// Каждая ошибка сервиса оборачивает один из sentinel-ов ниже,
// KindOf возвращает её устойчивый вид для API и метрик.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
	"github.com/bigkaa/goartstore/document-module/internal/domain/approval"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

var (
	// ErrNotFound — документ, версия, тег или уведомление не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrAccessDenied — недостаточно прав или документ недоступен субъекту.
	ErrAccessDenied = errors.New("доступ запрещён")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflict — гонка номеров версий, параллельное изменение, дубликат.
	ErrConflict = errors.New("конфликт параллельных изменений")
	// ErrInvalidState — действие недопустимо в текущем статусе документа.
	ErrInvalidState = errors.New("недопустимое состояние документа")
	// ErrDependency — недоступно хранилище содержимого или БД.
	ErrDependency = errors.New("зависимость недоступна")
)

// Kind — устойчивый вид ошибки.
type Kind string

const (
	KindNotFound     Kind = "NotFound"
	KindAccessDenied Kind = "AccessDenied"
	KindValidation   Kind = "ValidationError"
	KindConflict     Kind = "ConflictError"
	KindInvalidState Kind = "InvalidState"
	KindDependency   Kind = "DependencyError"
	KindInternal     Kind = "Internal"
)

// KindOf возвращает вид ошибки. nil — пустая строка.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrDependency):
		return KindDependency
	default:
		return KindInternal
	}
}

// translate приводит ошибки нижних слоёв к sentinel-ам сервиса.
// Уже переведённые ошибки возвращаются как есть.
func translate(err error, what string) error {
	if err == nil || KindOf(err) != KindInternal {
		return err
	}

	var te *approval.TransitionError
	switch {
	case errors.As(err, &te):
		return fmt.Errorf("%w: %s", ErrInvalidState, te.Message)
	case errors.Is(err, approval.ErrEmptyReason):
		return fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err) //nolint:errorlint // намеренный двойной wrap
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrDependency, what, err) //nolint:errorlint // намеренный двойной wrap
	}
}
