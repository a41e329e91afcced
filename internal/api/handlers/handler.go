// handler.go — основной обработчик API Document Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// defaultMaxUploadSize — ограничение тела multipart-запроса по умолчанию (100 MiB).
const defaultMaxUploadSize int64 = 100 << 20

// Services — сервисы, которые обслуживает API.
type Services struct {
	Documents   *service.DocumentService
	Tags        *service.TagService
	Permissions *service.PermissionService
	Audit       *service.AuditRecorder
	Inbox       *service.Dispatcher
	Stats       *service.StatsService
}

// APIHandler — основной обработчик API Document Module.
type APIHandler struct {
	health        *HealthHandler
	docs          *service.DocumentService
	tags          *service.TagService
	perms         *service.PermissionService
	audit         *service.AuditRecorder
	inbox         *service.Dispatcher
	stats         *service.StatsService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize <= 0 — значение по умолчанию.
func NewAPIHandler(health *HealthHandler, svc Services, maxUploadSize int64, logger *slog.Logger) *APIHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &APIHandler{
		health:        health,
		docs:          svc.Documents,
		tags:          svc.Tags,
		perms:         svc.Permissions,
		audit:         svc.Audit,
		inbox:         svc.Inbox,
		stats:         svc.Stats,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// principal возвращает субъекта запроса. Отсутствие субъекта означает,
// что маршрут не закрыт JWT middleware: отвечаем 401.
func principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
	}
	return p, ok
}

// pathUUID извлекает UUID из параметра пути.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный параметр "+name+": ожидается UUID")
		return "", false
	}
	return id.String(), true
}

// queryParam разбирает необязательный query-параметр в dst (указатель на указатель).
func queryParam(w http.ResponseWriter, r *http.Request, name string, dst any) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dst); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр "+name+": "+err.Error())
		return false
	}
	return true
}

// writeServiceError отображает вид ошибки сервиса на HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		apierrors.PayloadTooLarge(w, "Превышен допустимый размер файла")
		return
	}

	msg := err.Error()
	switch service.KindOf(err) {
	case service.KindNotFound:
		apierrors.NotFound(w, msg)
	case service.KindAccessDenied:
		apierrors.Forbidden(w, msg)
	case service.KindValidation:
		apierrors.ValidationError(w, msg)
	case service.KindConflict:
		apierrors.Conflict(w, msg)
	case service.KindInvalidState:
		apierrors.InvalidState(w, msg)
	case service.KindDependency:
		h.logger.Error(action,
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		apierrors.DependencyUnavailable(w, action)
	default:
		h.logger.Error(action,
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		apierrors.InternalError(w, action)
	}
}
