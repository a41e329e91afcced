// tags.go — обработчики /api/v1/tags endpoints.
package handlers

import (
	"net/http"
)

type tagRequest struct {
	Name string `json:"name"`
}

// ListTags — GET /api/v1/tags.
func (h *APIHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	tags, err := h.tags.List(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения тегов")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mapTags(tags)})
}

// CreateTag — POST /api/v1/tags. Существующий тег с тем же именем
// возвращается без создания нового.
func (h *APIHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tag, err := h.tags.Create(r.Context(), p, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка создания тега")
		return
	}
	writeJSON(w, http.StatusOK, mapTag(tag))
}

// RenameTag — PATCH /api/v1/tags/{id}.
func (h *APIHandler) RenameTag(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req tagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tag, err := h.tags.Rename(r.Context(), p, id, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка переименования тега")
		return
	}
	writeJSON(w, http.StatusOK, mapTag(tag))
}

// DeleteTag — DELETE /api/v1/tags/{id}. Тег снимается со всех документов.
func (h *APIHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.tags.Delete(r.Context(), p, id); err != nil {
		h.writeServiceError(w, r, err, "Ошибка удаления тега")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
