// dto.go — JSON-представления ответов API и маппинг из доменных моделей.
package handlers

import (
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

type approvalJSON struct {
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Signature  *string    `json:"signature,omitempty"`
}

type documentJSON struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Description      *string       `json:"description,omitempty"`
	DepartmentID     string        `json:"department_id"`
	CreatedBy        string        `json:"created_by"`
	Status           string        `json:"status"`
	Visibility       string        `json:"visibility"`
	CurrentVersionID *string       `json:"current_version_id,omitempty"`
	IsArchived       bool          `json:"is_archived"`
	ArchivedAt       *time.Time    `json:"archived_at,omitempty"`
	Approval         *approvalJSON `json:"approval,omitempty"`
	RejectionReason  *string       `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type versionJSON struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	Number      int           `json:"version_number"`
	FileName    string        `json:"file_name"`
	Size        int64         `json:"file_size"`
	ContentType string        `json:"content_type"`
	Checksum    string        `json:"checksum"`
	UploadedBy  string        `json:"uploaded_by"`
	ChangeNote  string        `json:"change_note,omitempty"`
	Approval    *approvalJSON `json:"approval,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type tagJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type documentDetailJSON struct {
	documentJSON
	Tags     []tagJSON     `json:"tags"`
	Versions []versionJSON `json:"versions"`
}

type documentListJSON struct {
	Items      []documentJSON `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

type downloadJSON struct {
	URL           string    `json:"url"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"file_size"`
	VersionNumber int       `json:"version_number"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type auditEntryJSON struct {
	ID            string         `json:"id"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	TargetTable   string         `json:"target_table"`
	TargetID      string         `json:"target_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	SourceAddress string         `json:"source_address,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type notificationJSON struct {
	ID           string    `json:"id"`
	RecipientID  *string   `json:"recipient_id,omitempty"`
	DepartmentID *string   `json:"department_id,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body,omitempty"`
	Link         string    `json:"link,omitempty"`
	IsRead       bool      `json:"is_read"`
	CreatedAt    time.Time `json:"created_at"`
}

// pageJSON — страница с offset-пагинацией (аудит, уведомления).
type pageJSON[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type permissionSetJSON struct {
	Roles map[string][]rbac.Permission `json:"roles"`
}

func mapApproval(s model.ApprovalSnapshot) *approvalJSON {
	if s.ApprovedBy == nil && s.ApprovedAt == nil && s.Signature == nil {
		return nil
	}
	return &approvalJSON{ApprovedBy: s.ApprovedBy, ApprovedAt: s.ApprovedAt, Signature: s.Signature}
}

func mapDocument(d *model.Document) documentJSON {
	return documentJSON{
		ID:               d.ID,
		Title:            d.Title,
		Description:      d.Description,
		DepartmentID:     d.DepartmentID,
		CreatedBy:        d.CreatedBy,
		Status:           string(d.Status),
		Visibility:       string(d.Visibility),
		CurrentVersionID: d.CurrentVersionID,
		IsArchived:       d.IsArchived,
		ArchivedAt:       d.ArchivedAt,
		Approval:         mapApproval(d.Approval),
		RejectionReason:  d.RejectionReason,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func mapVersion(v *model.Version) versionJSON {
	return versionJSON{
		ID:          v.ID,
		DocumentID:  v.DocumentID,
		Number:      v.Number,
		FileName:    v.FileName,
		Size:        v.Size,
		ContentType: v.ContentType,
		Checksum:    v.Checksum,
		UploadedBy:  v.UploadedBy,
		ChangeNote:  v.ChangeNote,
		Approval:    mapApproval(v.Approval),
		CreatedAt:   v.CreatedAt,
	}
}

func mapVersions(vs []*model.Version) []versionJSON {
	out := make([]versionJSON, len(vs))
	for i, v := range vs {
		out[i] = mapVersion(v)
	}
	return out
}

func mapTag(t *model.Tag) tagJSON {
	return tagJSON{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt}
}

func mapTags(tags []*model.Tag) []tagJSON {
	out := make([]tagJSON, len(tags))
	for i, t := range tags {
		out[i] = mapTag(t)
	}
	return out
}

func mapDetail(d *model.DocumentDetail) documentDetailJSON {
	return documentDetailJSON{
		documentJSON: mapDocument(d.Document),
		Tags:         mapTags(d.Tags),
		Versions:     mapVersions(d.Versions),
	}
}

func mapDocumentList(res *service.ListResult) documentListJSON {
	items := make([]documentJSON, len(res.Items))
	for i, d := range res.Items {
		items[i] = mapDocument(d)
	}
	return documentListJSON{
		Items:      items,
		Total:      res.Total,
		Page:       res.Page,
		Limit:      res.Limit,
		TotalPages: res.TotalPages,
	}
}

func mapAuditPage(p *service.AuditPage) pageJSON[auditEntryJSON] {
	items := make([]auditEntryJSON, len(p.Items))
	for i, e := range p.Items {
		items[i] = auditEntryJSON{
			ID:            e.ID,
			ActorID:       e.ActorID,
			Action:        string(e.Action),
			TargetTable:   e.TargetTable,
			TargetID:      e.TargetID,
			Payload:       e.Payload,
			SourceAddress: e.SourceAddress,
			CreatedAt:     e.CreatedAt,
		}
	}
	return pageJSON[auditEntryJSON]{
		Items: items, Total: p.Total, Limit: p.Limit, Offset: p.Offset,
		HasMore: p.Offset+len(items) < p.Total,
	}
}

func mapInboxPage(p *service.InboxPage) pageJSON[notificationJSON] {
	items := make([]notificationJSON, len(p.Items))
	for i, n := range p.Items {
		items[i] = notificationJSON{
			ID:           n.ID,
			RecipientID:  n.RecipientID,
			DepartmentID: n.DepartmentID,
			Title:        n.Title,
			Body:         n.Body,
			Link:         n.Link,
			IsRead:       n.IsRead,
			CreatedAt:    n.CreatedAt,
		}
	}
	return pageJSON[notificationJSON]{
		Items: items, Total: p.Total, Limit: p.Limit, Offset: p.Offset,
		HasMore: p.Offset+len(items) < p.Total,
	}
}

func mapPermissionSet(ps *rbac.PermissionSet) permissionSetJSON {
	return permissionSetJSON{Roles: ps.Grants()}
}

type countJSON struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type statsJSON struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	Interactions    int            `json:"interactions"`
	ByDepartment    []countJSON    `json:"by_department"`
	TopTags         []countJSON    `json:"top_tags"`
	TopContributors []countJSON    `json:"top_contributors"`
}

type monthlyJSON struct {
	Month   string `json:"month"`
	Uploads int    `json:"uploads"`
	Views   int    `json:"views"`
}

func mapCounts(buckets []model.CountBucket) []countJSON {
	out := make([]countJSON, len(buckets))
	for i, b := range buckets {
		out[i] = countJSON{Name: b.Name, Count: b.Count}
	}
	return out
}

// mapStats заполняет все статусы, отсутствующие дают 0.
func mapStats(s *model.DocumentStats) statsJSON {
	byStatus := make(map[string]int, 4)
	for _, st := range []model.DocumentStatus{model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusPublished} {
		byStatus[string(st)] = s.ByStatus[st]
	}
	return statsJSON{
		Total:           s.Total,
		ByStatus:        byStatus,
		Interactions:    s.Interactions,
		ByDepartment:    mapCounts(s.ByDepartment),
		TopTags:         mapCounts(s.TopTags),
		TopContributors: mapCounts(s.TopContributors),
	}
}

func mapMonthly(activity []model.MonthlyActivity) []monthlyJSON {
	out := make([]monthlyJSON, len(activity))
	for i, a := range activity {
		out[i] = monthlyJSON{Month: a.Month, Uploads: a.Uploads, Views: a.Views}
	}
	return out
}
