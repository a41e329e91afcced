// routes.go — регистрация маршрутов API на chi-роутере.
package handlers

import (
	"github.com/go-chi/chi/v5"
)

// HealthRoutes регистрирует публичные маршруты health и metrics.
func (h *APIHandler) HealthRoutes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)
}

// APIRoutes регистрирует маршруты /api/v1, требующие субъекта в контексте.
func (h *APIHandler) APIRoutes(r chi.Router) {
	r.Get("/api/v1/me", h.GetMe)

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Get("/", h.ListDocuments)
		r.Post("/", h.CreateDocument)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDocument)
			r.Delete("/", h.DeleteDocument)
			r.Get("/download", h.DownloadDocument)
			r.Get("/versions", h.ListVersions)
			r.Post("/versions", h.AppendVersion)
			r.Post("/versions/{versionId}/restore", h.RestoreVersion)
			r.Post("/approve", h.ApproveDocument)
			r.Post("/reject", h.RejectDocument)
			r.Post("/publish", h.PublishDocument)
			r.Post("/archive", h.ArchiveDocument)
			r.Post("/unarchive", h.UnarchiveDocument)
			r.Put("/tags", h.SetDocumentTags)
		})
	})

	r.Route("/api/v1/tags", func(r chi.Router) {
		r.Get("/", h.ListTags)
		r.Post("/", h.CreateTag)
		r.Patch("/{id}", h.RenameTag)
		r.Delete("/{id}", h.DeleteTag)
	})

	r.Get("/api/v1/permissions", h.GetPermissions)
	r.Put("/api/v1/permissions/{role}", h.ReplaceRolePermissions)
	r.Post("/api/v1/permissions/reload", h.ReloadPermissions)

	r.Get("/api/v1/audit", h.ListAuditLog)

	r.Get("/api/v1/stats", h.GetStats)
	r.Get("/api/v1/stats/monthly", h.GetMonthlyStats)

	r.Get("/api/v1/notifications", h.ListNotifications)
	r.Post("/api/v1/notifications/read-all", h.MarkAllNotificationsRead)
	r.Post("/api/v1/notifications/{id}/read", h.MarkNotificationRead)
}
