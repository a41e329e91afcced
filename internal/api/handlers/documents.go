// documents.go — обработчики /api/v1/documents endpoints.
// Загрузка, выборка, версии, согласование, архивирование, удаление, теги.
package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// multipartMemory — часть multipart-формы, которая держится в памяти;
// остальное ParseMultipartForm сбрасывает во временные файлы.
const multipartMemory = 32 << 20

// upload — разобранная multipart-форма с файлом.
type upload struct {
	form   *multipart.Form
	file   multipart.File
	header *multipart.FileHeader
}

func (u *upload) value(name string) string {
	if v := u.form.Value[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (u *upload) meta() model.ContentMeta {
	contentType := u.header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return model.ContentMeta{
		FileName:    u.header.Filename,
		ContentType: contentType,
		Size:        u.header.Size,
		ChangeNote:  strings.TrimSpace(u.value("change_note")),
	}
}

func (u *upload) close() {
	u.file.Close()
	_ = u.form.RemoveAll()
}

// readUpload разбирает multipart-запрос с полем file, ограничивая размер тела.
func (h *APIHandler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, "Превышен допустимый размер файла")
			return nil, false
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		if errors.Is(err, http.ErrMissingFile) {
			apierrors.ValidationError(w, "Файл обязателен")
			return nil, false
		}
		apierrors.ValidationError(w, "Некорректное поле file: "+err.Error())
		return nil, false
	}
	return &upload{form: r.MultipartForm, file: file, header: header}, true
}

// splitTags собирает теги из повторяющихся полей и списков через запятую.
func splitTags(values []string) []string {
	var out []string
	for _, v := range values {
		for t := range strings.SplitSeq(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// CreateDocument — POST /api/v1/documents (multipart/form-data).
// Поля: title, description, department_id, visibility, tags, change_note, file.
func (h *APIHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer up.close()

	in := service.CreateInput{
		Title:        up.value("title"),
		DepartmentID: up.value("department_id"),
		Visibility:   model.Visibility(strings.ToUpper(strings.TrimSpace(up.value("visibility")))),
		Tags:         splitTags(up.form.Value["tags"]),
		Content:      up.meta(),
	}
	if d, ok := up.form.Value["description"]; ok && len(d) > 0 {
		in.Description = &d[0]
	}

	detail, err := h.docs.Create(r.Context(), p, in, up.file)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка создания документа")
		return
	}
	writeJSON(w, http.StatusCreated, mapDetail(detail))
}

// ListDocuments — GET /api/v1/documents.
// Возвращает только документы, доступные субъекту.
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var (
		query, department, status, visibility, createdBy *string
		tagID                                            *openapi_types.UUID
		createdAfter, createdBefore                      *time.Time
		archived                                         *bool
		page, limit                                      *int
	)
	if !queryParam(w, r, "q", &query) ||
		!queryParam(w, r, "department_id", &department) ||
		!queryParam(w, r, "status", &status) ||
		!queryParam(w, r, "visibility", &visibility) ||
		!queryParam(w, r, "created_by", &createdBy) ||
		!queryParam(w, r, "tag_id", &tagID) ||
		!queryParam(w, r, "created_after", &createdAfter) ||
		!queryParam(w, r, "created_before", &createdBefore) ||
		!queryParam(w, r, "archived", &archived) ||
		!queryParam(w, r, "page", &page) ||
		!queryParam(w, r, "limit", &limit) {
		return
	}

	f := service.ListFilter{
		Query:         query,
		DepartmentID:  department,
		CreatedBy:     createdBy,
		CreatedAfter:  createdAfter,
		CreatedBefore: createdBefore,
	}
	if status != nil {
		s, err := model.ParseDocumentStatus(strings.ToUpper(*status))
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		f.Status = &s
	}
	if visibility != nil {
		v, err := model.ParseVisibility(strings.ToUpper(*visibility))
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		f.Visibility = &v
	}
	if tagID != nil {
		id := tagID.String()
		f.TagID = &id
	}
	if archived != nil {
		f.Archived = *archived
	}
	if page != nil {
		f.Page = *page
	}
	if limit != nil {
		f.Limit = *limit
	}

	res, err := h.docs.List(r.Context(), p, f)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка выборки документов")
		return
	}
	writeJSON(w, http.StatusOK, mapDocumentList(res))
}

// GetDocument — GET /api/v1/documents/{id}.
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.docs.Get(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения документа")
		return
	}
	writeJSON(w, http.StatusOK, mapDetail(detail))
}

// DownloadDocument — GET /api/v1/documents/{id}/download.
// По умолчанию возвращает JSON со ссылкой; ?redirect=true — 302 на ссылку.
func (h *APIHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var redirect *bool
	if !queryParam(w, r, "redirect", &redirect) {
		return
	}

	link, err := h.docs.Download(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения ссылки на содержимое")
		return
	}
	if redirect != nil && *redirect {
		http.Redirect(w, r, link.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, downloadJSON{
		URL:           link.URL,
		FileName:      link.FileName,
		ContentType:   link.ContentType,
		Size:          link.Size,
		VersionNumber: link.VersionNumber,
		ExpiresAt:     link.ExpiresAt,
	})
}

// ListVersions — GET /api/v1/documents/{id}/versions.
func (h *APIHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.docs.ListVersions(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения версий")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapVersions(versions)})
}

// AppendVersion — POST /api/v1/documents/{id}/versions (multipart/form-data).
// Поля: file, change_note. Согласование документа сбрасывается в PENDING.
func (h *APIHandler) AppendVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer up.close()

	doc, v, err := h.docs.AppendVersion(r.Context(), p, id, up.meta(), up.file)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка загрузки версии")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"document": mapDocument(doc),
		"version":  mapVersion(v),
	})
}

// RestoreVersion — POST /api/v1/documents/{id}/versions/{versionId}/restore.
func (h *APIHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := pathUUID(w, r, "versionId")
	if !ok {
		return
	}

	doc, err := h.docs.RestoreVersion(r.Context(), p, id, versionID)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка восстановления версии")
		return
	}
	writeJSON(w, http.StatusOK, mapDocument(doc))
}

// ApproveDocument — POST /api/v1/documents/{id}/approve.
func (h *APIHandler) ApproveDocument(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Ошибка согласования документа", h.docs.Approve)
}

// PublishDocument — POST /api/v1/documents/{id}/publish.
func (h *APIHandler) PublishDocument(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Ошибка публикации документа", h.docs.Publish)
}

// ArchiveDocument — POST /api/v1/documents/{id}/archive.
func (h *APIHandler) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Ошибка архивирования документа", h.docs.Archive)
}

// UnarchiveDocument — POST /api/v1/documents/{id}/unarchive.
func (h *APIHandler) UnarchiveDocument(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Ошибка восстановления документа из архива", h.docs.Unarchive)
}

// transition — общий обработчик действий без тела запроса.
func (h *APIHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(ctx context.Context, p model.Principal, id string) (*model.Document, error),
) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := fn(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, err, action)
		return
	}
	writeJSON(w, http.StatusOK, mapDocument(doc))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectDocument — POST /api/v1/documents/{id}/reject. Тело: {"reason": "..."}.
func (h *APIHandler) RejectDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doc, err := h.docs.Reject(r.Context(), p, id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка отклонения документа")
		return
	}
	writeJSON(w, http.StatusOK, mapDocument(doc))
}

// DeleteDocument — DELETE /api/v1/documents/{id}.
// Доступно создателю документа и администратору.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.docs.Delete(r.Context(), p, id); err != nil {
		h.writeServiceError(w, r, err, "Ошибка удаления документа")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

// SetDocumentTags — PUT /api/v1/documents/{id}/tags. Тело: {"tags": ["..."]}.
// Набор тегов документа заменяется целиком.
func (h *APIHandler) SetDocumentTags(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req tagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tags, err := h.docs.Tag(r.Context(), p, id, req.Tags)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка изменения тегов документа")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapTags(tags)})
}
