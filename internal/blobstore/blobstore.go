// Пакет blobstore — интерфейс хранилища содержимого версий документов.
// Реализации: filestore (локальный диск) и s3store (S3/MinIO).
//
// Содержимое записывается целиком и надёжно до возврата из Put,
// поэтому строка версии в БД никогда не ссылается на незаписанные данные.
package blobstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — содержимое по ссылке отсутствует.
var ErrNotFound = errors.New("содержимое не найдено")

// PutInput — параметры записи содержимого.
type PutInput struct {
	// FileName — исходное имя файла (используется только расширение)
	FileName string
	// ContentType — MIME-тип
	ContentType string
}

// PutResult — результат записи.
type PutResult struct {
	// Location — непрозрачная ссылка на содержимое
	Location string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Store — хранилище содержимого.
type Store interface {
	// Put записывает содержимое и возвращает ссылку на него.
	Put(ctx context.Context, r io.Reader, in PutInput) (*PutResult, error)
	// Get открывает содержимое для чтения. Вызывающий обязан закрыть поток.
	Get(ctx context.Context, location string) (io.ReadCloser, error)
	// PresignedURL возвращает ссылку на скачивание, действующую ttl.
	PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error)
	// Delete удаляет содержимое. Отсутствие содержимого ошибкой не считается.
	Delete(ctx context.Context, location string) error
	// CheckReady — проверка готовности для /health/ready.
	CheckReady() (status string, message string)
}

// NewLocation генерирует ссылку вида documents/<uuid><ext>.
// Расширение берётся из имени файла, если оно безопасно.
func NewLocation(fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return "documents/" + uuid.New().String() + ext
}
