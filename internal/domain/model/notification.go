package model

import "time"

// AudienceKind — тип адресата уведомления.
type AudienceKind string

const (
	// AudienceUser — конкретный пользователь.
	AudienceUser AudienceKind = "user"
	// AudienceDepartment — все пользователи отдела.
	AudienceDepartment AudienceKind = "department"
)

// Audience — адресат уведомления.
type Audience struct {
	Kind AudienceKind
	ID   string
}

// NotificationEvent — событие для исходящего канала уведомлений.
type NotificationEvent struct {
	Audience Audience
	Title    string
	Body     string
	Link     string
}

// Notification — сохранённое уведомление. Хранится в таблице notifications.
type Notification struct {
	ID string
	// RecipientID — пользователь (для AudienceUser)
	RecipientID *string
	// DepartmentID — отдел (для AudienceDepartment)
	DepartmentID *string
	Title        string
	Body         string
	Link         string
	IsRead       bool
	CreatedAt    time.Time
}
