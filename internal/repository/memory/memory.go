// Пакет memory — реализация repository.UnitOfWork в памяти процесса.
// Используется в unit-тестах сервисов и обработчиков вместо PostgreSQL.
//
// Транзакции сериализуются одним мьютексом: InTx снимает копию состояния
// и восстанавливает её, если fn вернула ошибку. Ограничения схемы
// (уникальность номера версии, RESTRICT для версий и тегов документа,
// принадлежность текущей версии документу) проверяются так же, как в БД.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

type readKey struct {
	notificationID string
	userID         string
}

type docTagKey struct {
	documentID string
	tagID      string
}

// state — содержимое «базы». Значения хранятся копиями.
type state struct {
	documents     map[string]model.Document
	versions      map[string]model.Version
	tags          map[string]model.Tag
	docTags       map[docTagKey]struct{}
	audit         []model.AuditEntry
	notifications []model.Notification
	reads         map[readKey]struct{}
	permissions   map[string][]rbac.Permission
}

func newState() *state {
	perms := make(map[string][]rbac.Permission)
	for role, p := range rbac.DefaultGrants() {
		perms[role] = slices.Clone(p)
	}
	return &state{
		documents:   make(map[string]model.Document),
		versions:    make(map[string]model.Version),
		tags:        make(map[string]model.Tag),
		docTags:     make(map[docTagKey]struct{}),
		reads:       make(map[readKey]struct{}),
		permissions: perms,
	}
}

func (s *state) clone() *state {
	perms := make(map[string][]rbac.Permission, len(s.permissions))
	for role, p := range s.permissions {
		perms[role] = slices.Clone(p)
	}
	return &state{
		documents:     maps.Clone(s.documents),
		versions:      maps.Clone(s.versions),
		tags:          maps.Clone(s.tags),
		docTags:       maps.Clone(s.docTags),
		audit:         slices.Clone(s.audit),
		notifications: slices.Clone(s.notifications),
		reads:         maps.Clone(s.reads),
		permissions:   perms,
	}
}

// checkCurrentVersions — отложенная проверка внешнего ключа current_version_id
// на момент фиксации.
func (s *state) checkCurrentVersions() error {
	for _, d := range s.documents {
		if d.CurrentVersionID == nil {
			continue
		}
		v, ok := s.versions[*d.CurrentVersionID]
		if !ok || v.DocumentID != d.ID {
			return fmt.Errorf("нарушение fk_documents_current_version: документ %s", d.ID)
		}
	}
	return nil
}

// Store — UnitOfWork в памяти.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New создаёт пустое хранилище с набором прав по умолчанию.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock — как New, но created_at и updated_at берутся из now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{st: newState(), now: now}
}

// Repos возвращает репозитории, каждая операция которых атомарна сама по себе.
func (s *Store) Repos() repository.Repositories {
	return s.repos(false)
}

// InTx выполняет fn атомарно: при ошибке состояние откатывается.
func (s *Store) InTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.repos(true)); err != nil {
		s.st = snapshot
		return err
	}
	if err := s.st.checkCurrentVersions(); err != nil {
		s.st = snapshot
		return err
	}
	return ctx.Err()
}

func (s *Store) repos(inTx bool) repository.Repositories {
	b := &base{store: s, inTx: inTx}
	return repository.Repositories{
		Documents:     &documentRepo{b},
		Versions:      &versionRepo{b},
		Tags:          &tagRepo{b},
		Audit:         &auditRepo{b},
		Notifications: &notificationRepo{b},
		Permissions:   &permissionRepo{b},
		Stats:         &statsRepo{b},
	}
}

// base — общий доступ к состоянию: вне транзакции каждая операция
// берёт мьютекс сама, внутри транзакции он уже захвачен InTx.
type base struct {
	store *Store
	inTx  bool
}

func (b *base) do(fn func(st *state) error) error {
	if !b.inTx {
		b.store.mu.Lock()
		defer b.store.mu.Unlock()
	}
	return fn(b.store.st)
}

// --- Документы ---

type documentRepo struct{ *base }

func (r *documentRepo) Create(_ context.Context, doc *model.Document) error {
	return r.do(func(st *state) error {
		if _, ok := st.documents[doc.ID]; ok {
			return fmt.Errorf("%w: документ %s уже существует", repository.ErrConflict, doc.ID)
		}
		now := r.store.now().UTC()
		doc.CreatedAt, doc.UpdatedAt = now, now
		stored := *doc
		stored.CurrentVersionID = nil
		stored.Approval = model.ApprovalSnapshot{}
		stored.RejectionReason = nil
		st.documents[doc.ID] = stored
		return nil
	})
}

func (r *documentRepo) GetByID(_ context.Context, id string) (*model.Document, error) {
	var out *model.Document
	err := r.do(func(st *state) error {
		d, ok := st.documents[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (r *documentRepo) GetForUpdate(ctx context.Context, id string) (*model.Document, error) {
	return r.GetByID(ctx, id)
}

func (r *documentRepo) Update(_ context.Context, doc *model.Document) error {
	return r.do(func(st *state) error {
		cur, ok := st.documents[doc.ID]
		if !ok {
			return repository.ErrNotFound
		}
		doc.UpdatedAt = r.store.now().UTC()
		stored := *doc
		stored.CurrentVersionID = cur.CurrentVersionID
		stored.CreatedAt = cur.CreatedAt
		stored.CreatedBy = cur.CreatedBy
		st.documents[doc.ID] = stored
		return nil
	})
}

func (r *documentRepo) SetCurrentVersion(_ context.Context, documentID, versionID string) error {
	return r.do(func(st *state) error {
		d, ok := st.documents[documentID]
		if !ok {
			return repository.ErrNotFound
		}
		id := versionID
		d.CurrentVersionID = &id
		d.UpdatedAt = r.store.now().UTC()
		st.documents[documentID] = d
		return nil
	})
}

func (r *documentRepo) Delete(_ context.Context, id string) error {
	return r.do(func(st *state) error {
		if _, ok := st.documents[id]; !ok {
			return repository.ErrNotFound
		}
		for _, v := range st.versions {
			if v.DocumentID == id {
				return fmt.Errorf("%w: у документа %s остались версии", repository.ErrConflict, id)
			}
		}
		for k := range st.docTags {
			if k.documentID == id {
				return fmt.Errorf("%w: у документа %s остались теги", repository.ErrConflict, id)
			}
		}
		delete(st.documents, id)
		return nil
	})
}

func (r *documentRepo) Search(_ context.Context, p repository.SearchParams) ([]*model.Document, int, error) {
	var page []*model.Document
	var total int
	err := r.do(func(st *state) error {
		var matched []model.Document
		for _, d := range st.documents {
			if matchesSearch(st, &d, p) {
				matched = append(matched, d)
			}
		}
		slices.SortFunc(matched, func(a, b model.Document) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
		total = len(matched)
		offset := max(p.Offset, 0)
		for i := offset; i < len(matched) && (p.Limit <= 0 || i-offset < p.Limit); i++ {
			d := matched[i]
			page = append(page, &d)
		}
		return nil
	})
	return page, total, err
}

//nolint:cyclop // сложность обусловлена количеством фильтров
func matchesSearch(st *state, d *model.Document, p repository.SearchParams) bool {
	if !p.Access.Matches(d) || d.IsArchived != p.Archived {
		return false
	}
	if p.Query != nil && *p.Query != "" {
		q := strings.ToLower(*p.Query)
		desc := ""
		if d.Description != nil {
			desc = strings.ToLower(*d.Description)
		}
		if !strings.Contains(strings.ToLower(d.Title), q) && !strings.Contains(desc, q) {
			return false
		}
	}
	if p.DepartmentID != nil && *p.DepartmentID != "" && d.DepartmentID != *p.DepartmentID {
		return false
	}
	if p.Status != nil && d.Status != *p.Status {
		return false
	}
	if p.Visibility != nil && d.Visibility != *p.Visibility {
		return false
	}
	if p.CreatedBy != nil && *p.CreatedBy != "" && d.CreatedBy != *p.CreatedBy {
		return false
	}
	if p.TagID != nil && *p.TagID != "" {
		if _, ok := st.docTags[docTagKey{documentID: d.ID, tagID: *p.TagID}]; !ok {
			return false
		}
	}
	if p.CreatedAfter != nil && d.CreatedAt.Before(*p.CreatedAfter) {
		return false
	}
	if p.CreatedBefore != nil && d.CreatedAt.After(*p.CreatedBefore) {
		return false
	}
	return true
}

// --- Версии ---

type versionRepo struct{ *base }

func (r *versionRepo) Create(_ context.Context, v *model.Version) error {
	return r.do(func(st *state) error {
		if _, ok := st.documents[v.DocumentID]; !ok {
			return fmt.Errorf("%w: документ %s", repository.ErrNotFound, v.DocumentID)
		}
		for _, existing := range st.versions {
			if existing.DocumentID == v.DocumentID && existing.Number == v.Number {
				return fmt.Errorf("%w: версия %d документа %s уже существует",
					repository.ErrConflict, v.Number, v.DocumentID)
			}
		}
		v.CreatedAt = r.store.now().UTC()
		st.versions[v.ID] = *v
		return nil
	})
}

func (r *versionRepo) GetByID(_ context.Context, id string) (*model.Version, error) {
	var out *model.Version
	err := r.do(func(st *state) error {
		v, ok := st.versions[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &v
		return nil
	})
	return out, err
}

func (r *versionRepo) MaxNumber(_ context.Context, documentID string) (int, error) {
	var n int
	err := r.do(func(st *state) error {
		for _, v := range st.versions {
			if v.DocumentID == documentID && v.Number > n {
				n = v.Number
			}
		}
		return nil
	})
	return n, err
}

func (r *versionRepo) ListByDocument(_ context.Context, documentID string) ([]*model.Version, error) {
	var out []*model.Version
	err := r.do(func(st *state) error {
		for _, v := range st.versions {
			if v.DocumentID == documentID {
				out = append(out, &v)
			}
		}
		slices.SortFunc(out, func(a, b *model.Version) int { return cmp.Compare(b.Number, a.Number) })
		return nil
	})
	return out, err
}

func (r *versionRepo) SetApproval(_ context.Context, versionID string, snap model.ApprovalSnapshot) error {
	return r.do(func(st *state) error {
		v, ok := st.versions[versionID]
		if !ok {
			return repository.ErrNotFound
		}
		v.Approval = snap
		st.versions[versionID] = v
		return nil
	})
}

func (r *versionRepo) DeleteByDocument(_ context.Context, documentID string) ([]string, error) {
	var locations []string
	err := r.do(func(st *state) error {
		for id, v := range st.versions {
			if v.DocumentID == documentID {
				locations = append(locations, v.Location)
				delete(st.versions, id)
			}
		}
		return nil
	})
	return locations, err
}

// --- Теги ---

type tagRepo struct{ *base }

func (r *tagRepo) ResolveOrCreate(_ context.Context, names []string) ([]*model.Tag, error) {
	var out []*model.Tag
	err := r.do(func(st *state) error {
		for _, name := range names {
			t, ok := findTag(st, name)
			if !ok {
				t = model.Tag{ID: uuid.NewString(), Name: name, CreatedAt: r.store.now().UTC()}
				st.tags[t.ID] = t
			}
			out = append(out, &t)
		}
		return nil
	})
	return out, err
}

func findTag(st *state, name string) (model.Tag, bool) {
	for _, t := range st.tags {
		if t.Name == name {
			return t, true
		}
	}
	return model.Tag{}, false
}

func (r *tagRepo) ReplaceForDocument(_ context.Context, documentID string, tagIDs []string) error {
	return r.do(func(st *state) error {
		if _, ok := st.documents[documentID]; !ok {
			return fmt.Errorf("%w: документ %s", repository.ErrNotFound, documentID)
		}
		for _, id := range tagIDs {
			if _, ok := st.tags[id]; !ok {
				return fmt.Errorf("%w: тег %s", repository.ErrNotFound, id)
			}
		}
		maps.DeleteFunc(st.docTags, func(k docTagKey, _ struct{}) bool { return k.documentID == documentID })
		for _, id := range tagIDs {
			st.docTags[docTagKey{documentID: documentID, tagID: id}] = struct{}{}
		}
		return nil
	})
}

func (r *tagRepo) ListForDocument(_ context.Context, documentID string) ([]*model.Tag, error) {
	var out []*model.Tag
	err := r.do(func(st *state) error {
		for k := range st.docTags {
			if k.documentID == documentID {
				t := st.tags[k.tagID]
				out = append(out, &t)
			}
		}
		sortTags(out)
		return nil
	})
	return out, err
}

func (r *tagRepo) DeleteForDocument(_ context.Context, documentID string) error {
	return r.do(func(st *state) error {
		maps.DeleteFunc(st.docTags, func(k docTagKey, _ struct{}) bool { return k.documentID == documentID })
		return nil
	})
}

func (r *tagRepo) List(_ context.Context) ([]*model.Tag, error) {
	var out []*model.Tag
	err := r.do(func(st *state) error {
		for _, t := range st.tags {
			out = append(out, &t)
		}
		sortTags(out)
		return nil
	})
	return out, err
}

func sortTags(tags []*model.Tag) {
	slices.SortFunc(tags, func(a, b *model.Tag) int { return cmp.Compare(a.Name, b.Name) })
}

func (r *tagRepo) GetByID(_ context.Context, id string) (*model.Tag, error) {
	var out *model.Tag
	err := r.do(func(st *state) error {
		t, ok := st.tags[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *tagRepo) Rename(_ context.Context, id, name string) (*model.Tag, error) {
	var out *model.Tag
	err := r.do(func(st *state) error {
		t, ok := st.tags[id]
		if !ok {
			return repository.ErrNotFound
		}
		if other, exists := findTag(st, name); exists && other.ID != id {
			return fmt.Errorf("%w: тег %q уже существует", repository.ErrConflict, name)
		}
		t.Name = name
		st.tags[id] = t
		out = &t
		return nil
	})
	return out, err
}

func (r *tagRepo) Delete(_ context.Context, id string) error {
	return r.do(func(st *state) error {
		if _, ok := st.tags[id]; !ok {
			return repository.ErrNotFound
		}
		maps.DeleteFunc(st.docTags, func(k docTagKey, _ struct{}) bool { return k.tagID == id })
		delete(st.tags, id)
		return nil
	})
}

// --- Аудит ---

type auditRepo struct{ *base }

func (r *auditRepo) Create(_ context.Context, e *model.AuditEntry) error {
	return r.do(func(st *state) error {
		e.CreatedAt = r.store.now().UTC()
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (r *auditRepo) List(_ context.Context, f model.AuditFilter) ([]*model.AuditEntry, int, error) {
	var out []*model.AuditEntry
	var total int
	err := r.do(func(st *state) error {
		// От новых к старым: записи добавляются в хронологическом порядке.
		for i := len(st.audit) - 1; i >= 0; i-- {
			e := st.audit[i]
			if (f.ActorID != "" && e.ActorID != f.ActorID) ||
				(f.Action != "" && string(e.Action) != f.Action) ||
				(f.TargetID != "" && e.TargetID != f.TargetID) {
				continue
			}
			if total >= f.Offset && (f.Limit <= 0 || len(out) < f.Limit) {
				out = append(out, &e)
			}
			total++
		}
		return nil
	})
	return out, total, err
}

// --- Уведомления ---

type notificationRepo struct{ *base }

func (r *notificationRepo) Create(_ context.Context, n *model.Notification) error {
	return r.do(func(st *state) error {
		n.CreatedAt = r.store.now().UTC()
		st.notifications = append(st.notifications, *n)
		return nil
	})
}

func inInbox(n *model.Notification, userID, departmentID string) bool {
	if n.RecipientID != nil && *n.RecipientID == userID {
		return true
	}
	return departmentID != "" && n.DepartmentID != nil && *n.DepartmentID == departmentID
}

func (r *notificationRepo) ListInbox(_ context.Context, userID, departmentID string, unreadOnly bool, limit, offset int) ([]*model.Notification, int, error) {
	var out []*model.Notification
	var total int
	err := r.do(func(st *state) error {
		for i := len(st.notifications) - 1; i >= 0; i-- {
			n := st.notifications[i]
			if !inInbox(&n, userID, departmentID) {
				continue
			}
			_, n.IsRead = st.reads[readKey{notificationID: n.ID, userID: userID}]
			if unreadOnly && n.IsRead {
				continue
			}
			if total >= offset && (limit <= 0 || len(out) < limit) {
				out = append(out, &n)
			}
			total++
		}
		return nil
	})
	return out, total, err
}

func (r *notificationRepo) MarkRead(_ context.Context, notificationID, userID, departmentID string) error {
	return r.do(func(st *state) error {
		for i := range st.notifications {
			n := &st.notifications[i]
			if n.ID == notificationID && inInbox(n, userID, departmentID) {
				st.reads[readKey{notificationID: notificationID, userID: userID}] = struct{}{}
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

func (r *notificationRepo) MarkAllRead(_ context.Context, userID, departmentID string) (int, error) {
	var marked int
	err := r.do(func(st *state) error {
		for i := range st.notifications {
			n := &st.notifications[i]
			if !inInbox(n, userID, departmentID) {
				continue
			}
			key := readKey{notificationID: n.ID, userID: userID}
			if _, ok := st.reads[key]; !ok {
				st.reads[key] = struct{}{}
				marked++
			}
		}
		return nil
	})
	return marked, err
}

// --- Набор прав ---

type permissionRepo struct{ *base }

func (r *permissionRepo) Load(_ context.Context) (map[string][]rbac.Permission, error) {
	out := make(map[string][]rbac.Permission)
	err := r.do(func(st *state) error {
		for role, p := range st.permissions {
			out[role] = slices.Clone(p)
		}
		return nil
	})
	return out, err
}

func (r *permissionRepo) ReplaceRole(_ context.Context, role string, perms []rbac.Permission) error {
	return r.do(func(st *state) error {
		st.permissions[role] = slices.Clone(perms)
		return nil
	})
}

var _ repository.UnitOfWork = (*Store)(nil)
