// notifications.go — обработчики входящих уведомлений субъекта.
package handlers

import (
	"net/http"
)

// ListNotifications — GET /api/v1/notifications.
// Личные уведомления и рассылки на отдел субъекта; ?unread=true — только непрочитанные.
func (h *APIHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var (
		unread        *bool
		limit, offset *int
	)
	if !queryParam(w, r, "unread", &unread) ||
		!queryParam(w, r, "limit", &limit) ||
		!queryParam(w, r, "offset", &offset) {
		return
	}

	page, err := h.inbox.Inbox(r.Context(), p, unread != nil && *unread, derefInt(limit), derefInt(offset))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения уведомлений")
		return
	}
	writeJSON(w, http.StatusOK, mapInboxPage(page))
}

// MarkNotificationRead — POST /api/v1/notifications/{id}/read.
func (h *APIHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.inbox.MarkRead(r.Context(), p, id); err != nil {
		h.writeServiceError(w, r, err, "Ошибка отметки уведомления")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllNotificationsRead — POST /api/v1/notifications/read-all.
func (h *APIHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.inbox.MarkAllRead(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка отметки уведомлений")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}
