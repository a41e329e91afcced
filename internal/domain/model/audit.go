package model

import "time"

// AuditAction — действие, фиксируемое в журнале аудита.
type AuditAction string

const (
	AuditUpload            AuditAction = "UPLOAD"
	AuditView              AuditAction = "VIEW"
	AuditDownload          AuditAction = "DOWNLOAD"
	AuditUpdateVersion     AuditAction = "UPDATE_VERSION"
	AuditRestoreVersion    AuditAction = "RESTORE_VERSION"
	AuditApprove           AuditAction = "APPROVE"
	AuditReject            AuditAction = "REJECT"
	AuditPublish           AuditAction = "PUBLISH"
	AuditArchive           AuditAction = "ARCHIVE"
	AuditUnarchive         AuditAction = "UNARCHIVE"
	AuditDelete            AuditAction = "DELETE"
	AuditTag               AuditAction = "TAG"
	AuditUpdatePermissions AuditAction = "UPDATE_PERMISSIONS"
)

// AuditEntry — запись журнала аудита. Хранится в таблице audit_logs.
type AuditEntry struct {
	ID          string
	ActorID     string
	Action      AuditAction
	TargetTable string
	TargetID    string
	// Payload — произвольные детали действия (JSONB)
	Payload map[string]any
	// SourceAddress — IP-адрес клиента
	SourceAddress string
	CreatedAt     time.Time
}

// AuditFilter — параметры выборки журнала аудита.
type AuditFilter struct {
	ActorID  string
	Action   string
	TargetID string
	Limit    int
	Offset   int
}
