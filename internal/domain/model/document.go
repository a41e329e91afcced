// Пакет model — доменные модели Document Module.
package model

import (
	"fmt"
	"time"
)

// DocumentStatus — статус документа в процессе согласования.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "PENDING"
	StatusApproved  DocumentStatus = "APPROVED"
	StatusRejected  DocumentStatus = "REJECTED"
	StatusPublished DocumentStatus = "PUBLISHED"
)

// ParseDocumentStatus преобразует строку в DocumentStatus.
func ParseDocumentStatus(s string) (DocumentStatus, error) {
	switch DocumentStatus(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusPublished:
		return DocumentStatus(s), nil
	default:
		return "", fmt.Errorf("неизвестный статус документа: %q", s)
	}
}

// Visibility — класс видимости документа.
type Visibility string

const (
	VisibilityPublic     Visibility = "PUBLIC"
	VisibilityDepartment Visibility = "DEPARTMENT"
	VisibilityPrivate    Visibility = "PRIVATE"
)

// ParseVisibility преобразует строку в Visibility.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityPublic, VisibilityDepartment, VisibilityPrivate:
		return Visibility(s), nil
	default:
		return "", fmt.Errorf("неизвестный класс видимости: %q", s)
	}
}

// ApprovalSnapshot — тройка (согласовавший, время, подпись).
// Все поля nil, пока согласования не было.
type ApprovalSnapshot struct {
	ApprovedBy *string
	ApprovedAt *time.Time
	Signature  *string
}

// IsSigned сообщает, содержит ли снимок подпись согласования.
func (s ApprovalSnapshot) IsSigned() bool {
	return s.Signature != nil && *s.Signature != ""
}

// Document — документ. Хранится в таблице documents.
type Document struct {
	// ID — UUID документа
	ID string
	// Title — заголовок
	Title string
	// Description — описание (опционально)
	Description *string
	// DepartmentID — отдел-владелец
	DepartmentID string
	// CreatedBy — идентификатор создателя (sub из JWT)
	CreatedBy string
	// Status — статус согласования
	Status DocumentStatus
	// Visibility — класс видимости
	Visibility Visibility
	// CurrentVersionID — текущая версия (nil только до первой загрузки)
	CurrentVersionID *string
	// IsArchived — признак архивации
	IsArchived bool
	// ArchivedAt — время архивации
	ArchivedAt *time.Time
	// Approval — данные последнего согласования
	Approval ApprovalSnapshot
	// RejectionReason — причина последнего отклонения
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Version — неизменяемая версия содержимого документа.
// Хранится в таблице document_versions.
type Version struct {
	// ID — UUID версии
	ID string
	// DocumentID — документ, которому принадлежит версия
	DocumentID string
	// Number — порядковый номер версии (1, 2, ...)
	Number int
	// Location — ссылка на содержимое в хранилище
	Location string
	// FileName — исходное имя файла
	FileName string
	// Size — размер в байтах
	Size int64
	// ContentType — MIME-тип
	ContentType string
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
	// UploadedBy — идентификатор загрузившего
	UploadedBy string
	// ChangeNote — комментарий к изменению
	ChangeNote string
	// Approval — снимок согласования, пока версия была текущей
	Approval  ApprovalSnapshot
	CreatedAt time.Time
}

// Tag — тег. Хранится в таблице tags, связь с документами — document_tags.
type Tag struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// DocumentDetail — документ вместе с тегами и историей версий.
type DocumentDetail struct {
	Document *Document
	Tags     []*Tag
	// Versions — от новых к старым
	Versions []*Version
}

// ContentMeta — метаданные загружаемого содержимого.
type ContentMeta struct {
	FileName    string
	ContentType string
	Size        int64
	ChangeNote  string
}
