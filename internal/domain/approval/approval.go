// Пакет approval — конечный автомат согласования документа.
//
// Статусы: PENDING (начальный) → APPROVED | REJECTED; APPROVED → PUBLISHED
// только явной публикацией. Загрузка новой версии возвращает документ
// в PENDING из любого статуса. Восстановление версии выводит статус из
// снимка согласования версии: APPROVED при наличии подписи, иначе PENDING.
//
// Функции пакета изменяют переданные документ и версию на месте и не
// выполняют ввода-вывода: сохранение — ответственность вызывающего.
package approval

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// Action — явное действие над статусом документа.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPublish Action = "publish"
)

// ErrEmptyReason — отклонение без причины.
var ErrEmptyReason = errors.New("причина отклонения обязательна")

// TransitionError — недопустимый переход или отсутствие текущей версии.
type TransitionError struct {
	Action  Action
	From    model.DocumentStatus
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

// allowedFrom — матрица допустимых переходов.
// Ключ — действие, значение — статусы, из которых оно допустимо.
var allowedFrom = map[Action]map[model.DocumentStatus]bool{
	ActionApprove: {model.StatusPending: true, model.StatusRejected: true, model.StatusApproved: true},
	ActionReject:  {model.StatusPending: true, model.StatusApproved: true, model.StatusRejected: true},
	ActionPublish: {model.StatusApproved: true},
}

// targetStatus — статус после действия.
var targetStatus = map[Action]model.DocumentStatus{
	ActionApprove: model.StatusApproved,
	ActionReject:  model.StatusRejected,
	ActionPublish: model.StatusPublished,
}

// CanApply проверяет, допустимо ли действие из статуса from.
func CanApply(action Action, from model.DocumentStatus) bool {
	return allowedFrom[action][from]
}

func checkTransition(action Action, from model.DocumentStatus) error {
	if CanApply(action, from) {
		return nil
	}
	return &TransitionError{
		Action:  action,
		From:    from,
		Message: fmt.Sprintf("переход %s → %s недопустим", from, targetStatus[action]),
	}
}

// Signer выпускает подписи согласования вида DIGITAL_SIG_<approverId>_<epochMillis>.
// Подпись — маркер прослеживаемости, а не криптографическая подпись.
// Моменты согласования внутри процесса строго возрастают, поэтому подписи
// не повторяются даже при нескольких согласованиях в одну миллисекунду.
type Signer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewSigner создаёт Signer. now == nil — time.Now.
func NewSigner(now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{now: now}
}

// Sign возвращает момент согласования и подпись для approverID.
func (s *Signer) Sign(approverID string) (time.Time, string) {
	s.mu.Lock()
	ms := s.now().UTC().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	s.mu.Unlock()

	return time.UnixMilli(ms).UTC(), Signature(approverID, ms)
}

// Signature формирует подпись из идентификатора и момента (мс от эпохи).
func Signature(approverID string, epochMillis int64) string {
	return fmt.Sprintf("DIGITAL_SIG_%s_%d", approverID, epochMillis)
}

// Approve переводит документ в APPROVED и ставит одинаковый снимок
// согласования на документ и на его текущую версию.
func Approve(doc *model.Document, current *model.Version, approverID string, at time.Time, signature string) error {
	if doc.CurrentVersionID == nil || current == nil || current.ID != *doc.CurrentVersionID {
		return &TransitionError{
			Action:  ActionApprove,
			From:    doc.Status,
			Message: "у документа нет текущей версии",
		}
	}
	if err := checkTransition(ActionApprove, doc.Status); err != nil {
		return err
	}

	snap := model.ApprovalSnapshot{
		ApprovedBy: &approverID,
		ApprovedAt: &at,
		Signature:  &signature,
	}
	doc.Status = model.StatusApproved
	doc.Approval = snap
	doc.RejectionReason = nil
	current.Approval = snap
	return nil
}

// Reject переводит документ в REJECTED. Снимки согласования версий
// не затрагиваются.
func Reject(doc *model.Document, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}
	if err := checkTransition(ActionReject, doc.Status); err != nil {
		return err
	}
	doc.Status = model.StatusRejected
	doc.RejectionReason = &reason
	return nil
}

// Publish переводит согласованный документ в PUBLISHED.
func Publish(doc *model.Document) error {
	if err := checkTransition(ActionPublish, doc.Status); err != nil {
		return err
	}
	doc.Status = model.StatusPublished
	return nil
}

// ResetForNewVersion — побочный эффект загрузки новой версии:
// новое содержимое не проверено, документ возвращается в PENDING
// из любого статуса, в том числе из PUBLISHED.
// Снимок согласования предыдущей версии остаётся на самой версии.
func ResetForNewVersion(doc *model.Document) {
	doc.Status = model.StatusPending
	doc.Approval = model.ApprovalSnapshot{}
	doc.RejectionReason = nil
}

// RestoreFrom переносит снимок согласования версии на документ и выводит
// статус: APPROVED при наличии подписи, иначе PENDING. REJECTED и PUBLISHED
// на версии не хранятся и не восстанавливаются. Указатель текущей
// версии здесь не меняется, это делает хранилище версий.
func RestoreFrom(doc *model.Document, target *model.Version) {
	doc.Approval = cloneSnapshot(target.Approval)
	doc.RejectionReason = nil
	if target.Approval.IsSigned() {
		doc.Status = model.StatusApproved
	} else {
		doc.Status = model.StatusPending
	}
}

func cloneSnapshot(s model.ApprovalSnapshot) model.ApprovalSnapshot {
	var out model.ApprovalSnapshot
	if s.ApprovedBy != nil {
		v := *s.ApprovedBy
		out.ApprovedBy = &v
	}
	if s.ApprovedAt != nil {
		v := *s.ApprovedAt
		out.ApprovedAt = &v
	}
	if s.Signature != nil {
		v := *s.Signature
		out.Signature = &v
	}
	return out
}
