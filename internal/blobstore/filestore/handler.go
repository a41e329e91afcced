// handler.go — раздача содержимого по подписанным ссылкам.
// Маршрут /api/v1/blobs/* исключён из JWT: доступ подтверждается подписью.
package filestore

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
)

// Handler обслуживает GET {BlobPathPrefix}{location}?expires=&signature=.
func (fs *FileStore) Handler(logger *slog.Logger) http.Handler {
	log := logger.With(slog.String("component", "blob_handler"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError, "Метод не поддерживается")
			return
		}

		location := strings.TrimPrefix(r.URL.Path, BlobPathPrefix)
		q := r.URL.Query()
		if err := fs.verify(location, q.Get("expires"), q.Get("signature")); err != nil {
			log.Debug("Отклонена ссылка на содержимое",
				slog.String("location", location),
				slog.String("error", err.Error()),
			)
			apierrors.Forbidden(w, err.Error())
			return
		}

		f, err := fs.open(location)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				apierrors.NotFound(w, "Содержимое не найдено")
				return
			}
			log.Error("Ошибка открытия содержимого",
				slog.String("location", location),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Ошибка чтения содержимого")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			apierrors.InternalError(w, "Ошибка чтения содержимого")
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=0")
		http.ServeContent(w, r, path.Base(location), info.ModTime(), f)
	})
}
