// Пакет filestore — хранилище содержимого на локальном диске.
// Streaming-запись с подсчётом SHA-256 на лету, чтение, удаление.
// Ссылки на скачивание подписываются HMAC-SHA256 и обслуживаются
// самим модулем через Handler.
package filestore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
)

// BlobPathPrefix — путь, по которому Handler обслуживает подписанные ссылки.
const BlobPathPrefix = "/api/v1/blobs/"

// FileStore — содержимое версий в каталоге на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (DM_BLOB_DIR)
	dataDir string
	// secret — ключ HMAC для подписи ссылок
	secret []byte
	// publicURL — внешний базовый URL модуля
	publicURL string
	now       func() time.Time
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string, secret []byte, publicURL string) (*FileStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("секрет подписи ссылок не задан")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "documents"), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{
		dataDir:   dataDir,
		secret:    secret,
		publicURL: publicURL,
		now:       time.Now,
	}, nil
}

// Put записывает данные из r на диск с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Put(ctx context.Context, r io.Reader, in blobstore.PutInput) (*blobstore.PutResult, error) {
	location := blobstore.NewLocation(in.FileName)
	fullPath := filepath.Join(fs.dataDir, filepath.FromSlash(location))
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: r}, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &blobstore.PutResult{
		Location: location,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get открывает содержимое для чтения.
func (fs *FileStore) Get(_ context.Context, location string) (io.ReadCloser, error) {
	return fs.open(location)
}

func (fs *FileStore) open(location string) (*os.File, error) {
	fullPath, err := fs.resolve(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, location)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", location, err)
	}
	return f, nil
}

// Delete удаляет файл. Возвращает nil, если файла уже нет.
func (fs *FileStore) Delete(_ context.Context, location string) error {
	fullPath, err := fs.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", location, err)
	}
	return nil
}

// PresignedURL формирует ссылку вида
// {publicURL}/api/v1/blobs/{location}?expires={unix}&signature={hmac}.
func (fs *FileStore) PresignedURL(_ context.Context, location string, ttl time.Duration) (string, error) {
	if _, err := fs.resolve(location); err != nil {
		return "", err
	}
	expires := fs.now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", fs.sign(location, expires))
	return fs.publicURL + BlobPathPrefix + location + "?" + q.Encode(), nil
}

// CheckReady проверяет, что директория данных доступна на запись.
func (fs *FileStore) CheckReady() (status, message string) {
	probe, err := os.CreateTemp(fs.dataDir, ".ready-*")
	if err != nil {
		return "fail", fmt.Sprintf("директория %s недоступна на запись: %v", fs.dataDir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return "ok", "директория данных доступна"
}

// sign вычисляет HMAC-SHA256 от "location|expires".
func (fs *FileStore) sign(location string, expires int64) string {
	mac := hmac.New(sha256.New, fs.secret)
	mac.Write([]byte(location))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify проверяет подпись и срок действия ссылки.
func (fs *FileStore) verify(location, expiresRaw, signature string) error {
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return errors.New("некорректный параметр expires")
	}
	want := fs.sign(location, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return errors.New("неверная подпись ссылки")
	}
	if fs.now().Unix() > expires {
		return errors.New("срок действия ссылки истёк")
	}
	return nil
}

// resolve переводит ссылку в путь на диске, не выходя за пределы dataDir.
func (fs *FileStore) resolve(location string) (string, error) {
	if location == "" || !filepath.IsLocal(filepath.FromSlash(location)) {
		return "", fmt.Errorf("%w: недопустимая ссылка %q", blobstore.ErrNotFound, location)
	}
	return filepath.Join(fs.dataDir, filepath.FromSlash(location)), nil
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
