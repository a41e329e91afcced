// versions.go — хранилище версий документа.
//
// Единственный путь изменения текущей версии документа. Содержимое сначала
// записывается в хранилище, затем в одной транзакции блокируется строка
// документа, вычисляется следующий номер, вставляется версия и
// переназначается текущая версия. Если транзакция не удалась, записанное
// содержимое удаляется.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
	"github.com/bigkaa/goartstore/document-module/internal/domain/approval"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// blobCleanupTimeout — лимит на удаление осиротевшего содержимого.
const blobCleanupTimeout = 30 * time.Second

var versionConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dm_version_conflicts_total",
	Help: "Конфликты номеров версий (retried — повторено, surfaced — возвращено клиенту).",
}, []string{"outcome"})

// VersionStore — версии документа и указатель текущей версии.
type VersionStore struct {
	uow    repository.UnitOfWork
	blobs  blobstore.Store
	logger *slog.Logger
}

// NewVersionStore создаёт хранилище версий.
func NewVersionStore(uow repository.UnitOfWork, blobs blobstore.Store, logger *slog.Logger) *VersionStore {
	return &VersionStore{
		uow:    uow,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "version_store")),
	}
}

// storeContent записывает содержимое в хранилище.
func (vs *VersionStore) storeContent(ctx context.Context, content io.Reader, meta model.ContentMeta) (*blobstore.PutResult, error) {
	put, err := vs.blobs.Put(ctx, content, blobstore.PutInput{
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: запись содержимого: %w", ErrDependency, err) //nolint:errorlint // намеренный двойной wrap
	}
	return put, nil
}

// discardContent удаляет содержимое, на которое не сослалась ни одна версия.
func (vs *VersionStore) discardContent(ctx context.Context, location string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), blobCleanupTimeout)
	defer cancel()
	if err := vs.blobs.Delete(ctx, location); err != nil {
		vs.logger.Error("Не удалось удалить осиротевшее содержимое",
			slog.String("location", location),
			slog.String("error", err.Error()),
		)
	}
}

// appendInTx вставляет версию с номером max+1 и делает её текущей.
// Строка документа должна быть заблокирована вызывающим.
func (vs *VersionStore) appendInTx(
	ctx context.Context,
	r repository.Repositories,
	doc *model.Document,
	put *blobstore.PutResult,
	meta model.ContentMeta,
	uploadedBy string,
) (*model.Version, error) {
	maxNumber, err := r.Versions.MaxNumber(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	v := &model.Version{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID,
		Number:      maxNumber + 1,
		Location:    put.Location,
		FileName:    meta.FileName,
		Size:        put.Size,
		ContentType: contentType,
		Checksum:    put.Checksum,
		UploadedBy:  uploadedBy,
		ChangeNote:  meta.ChangeNote,
	}
	if err := r.Versions.Create(ctx, v); err != nil {
		return nil, err
	}
	if err := r.Documents.SetCurrentVersion(ctx, doc.ID, v.ID); err != nil {
		return nil, err
	}
	doc.CurrentVersionID = &v.ID
	return v, nil
}

// Append добавляет новую версию документа и делает её текущей.
// Новое содержимое не проверено: статус документа возвращается в PENDING.
// Конфликт номера версии повторяется один раз со свежим состоянием.
func (vs *VersionStore) Append(
	ctx context.Context,
	documentID string,
	content io.Reader,
	meta model.ContentMeta,
	uploadedBy string,
) (*model.Document, *model.Version, error) {
	put, err := vs.storeContent(ctx, content, meta)
	if err != nil {
		return nil, nil, err
	}

	var doc *model.Document
	var v *model.Version
	for attempt := 1; ; attempt++ {
		err = vs.uow.InTx(ctx, func(r repository.Repositories) error {
			var txErr error
			doc, txErr = r.Documents.GetForUpdate(ctx, documentID)
			if txErr != nil {
				return txErr
			}
			approval.ResetForNewVersion(doc)
			if txErr = r.Documents.Update(ctx, doc); txErr != nil {
				return txErr
			}
			v, txErr = vs.appendInTx(ctx, r, doc, put, meta, uploadedBy)
			return txErr
		})
		if err == nil || !errors.Is(err, repository.ErrConflict) || attempt > 1 {
			break
		}
		versionConflictsTotal.WithLabelValues("retried").Inc()
		vs.logger.Warn("Конфликт номера версии, повтор",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			versionConflictsTotal.WithLabelValues("surfaced").Inc()
		}
		vs.discardContent(ctx, put.Location)
		return nil, nil, translate(err, "документ "+documentID)
	}

	vs.logger.Info("Версия добавлена",
		slog.String("document_id", documentID),
		slog.Int("version", v.Number),
		slog.Int64("size", v.Size),
	)
	return doc, v, nil
}

// Restore делает текущей ранее загруженную версию и переносит её снимок
// согласования на документ. Более новые версии сохраняются.
// Восстановление уже текущей версии ничего не меняет: changed == false.
func (vs *VersionStore) Restore(ctx context.Context, documentID, versionID string) (doc *model.Document, target *model.Version, changed bool, err error) {
	err = vs.uow.InTx(ctx, func(r repository.Repositories) error {
		var txErr error
		doc, txErr = r.Documents.GetForUpdate(ctx, documentID)
		if txErr != nil {
			return txErr
		}
		target, txErr = r.Versions.GetByID(ctx, versionID)
		if errors.Is(txErr, repository.ErrNotFound) {
			return fmt.Errorf("%w: версия %s", ErrNotFound, versionID)
		}
		if txErr != nil {
			return txErr
		}
		if target.DocumentID != doc.ID {
			return fmt.Errorf("%w: версия %s не принадлежит документу %s", ErrNotFound, versionID, documentID)
		}
		if doc.CurrentVersionID != nil && *doc.CurrentVersionID == target.ID {
			return nil
		}

		approval.RestoreFrom(doc, target)
		if txErr = r.Documents.Update(ctx, doc); txErr != nil {
			return txErr
		}
		if txErr = r.Documents.SetCurrentVersion(ctx, doc.ID, target.ID); txErr != nil {
			return txErr
		}
		doc.CurrentVersionID = &target.ID
		changed = true
		return nil
	})
	if err != nil {
		return nil, nil, false, translate(err, "документ "+documentID)
	}
	return doc, target, changed, nil
}

// List возвращает версии документа от новых к старым.
func (vs *VersionStore) List(ctx context.Context, documentID string) ([]*model.Version, error) {
	versions, err := vs.uow.Repos().Versions.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, translate(err, "версии документа "+documentID)
	}
	return versions, nil
}
