// stats.go — обработчики статистики по доступным субъекту документам.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// GetStats — GET /api/v1/stats?from=&to=.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var from, to *time.Time
	if !queryParam(w, r, "from", &from) || !queryParam(w, r, "to", &to) {
		return
	}

	stats, err := h.stats.Summary(r.Context(), p, service.StatsFilter{From: from, To: to})
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка расчёта статистики")
		return
	}
	writeJSON(w, http.StatusOK, mapStats(stats))
}

// GetMonthlyStats — GET /api/v1/stats/monthly?months=6.
func (h *APIHandler) GetMonthlyStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var months *int
	if !queryParam(w, r, "months", &months) {
		return
	}

	activity, err := h.stats.Monthly(r.Context(), p, derefInt(months))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка расчёта статистики")
		return
	}
	writeJSON(w, http.StatusOK, mapMonthly(activity))
}
