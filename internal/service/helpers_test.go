package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
	"github.com/bigkaa/goartstore/document-module/internal/domain/approval"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
	"github.com/bigkaa/goartstore/document-module/internal/repository/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fake blob store ---

type fakeBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	presigns int
	deleted  []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, r io.Reader, in blobstore.PutInput) (*blobstore.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	loc := blobstore.NewLocation(in.FileName)
	f.objects[loc] = data
	sum := sha256.Sum256(data)
	return &blobstore.PutResult{Location: loc, Size: int64(len(data)), Checksum: hex.EncodeToString(sum[:])}, nil
}

func (f *fakeBlobs) Get(_ context.Context, location string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[location]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, location string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[location]; !ok {
		return "", blobstore.ErrNotFound
	}
	f.presigns++
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d&n=%d", location, int(ttl.Seconds()), f.presigns), nil
}

func (f *fakeBlobs) Delete(_ context.Context, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, location)
	f.deleted = append(f.deleted, location)
	return nil
}

func (f *fakeBlobs) CheckReady() (string, string) { return "ok", "" }

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// --- recording notifier ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.NotificationEvent
}

func (n *recordingNotifier) Notify(ev model.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) snapshot() []model.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.NotificationEvent(nil), n.events...)
}

// --- UnitOfWork с внедрением ошибок ---

// faultyUoW возвращает err из первых failures вызовов InTx, не выполняя fn.
type faultyUoW struct {
	repository.UnitOfWork
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

// failNext заставляет следующие n вызовов InTx вернуть err.
func (u *faultyUoW) failNext(n int, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures, u.err = n, err
}

func (u *faultyUoW) InTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	u.mu.Lock()
	u.calls++
	fail := u.failures > 0
	if fail {
		u.failures--
	}
	u.mu.Unlock()
	if fail {
		return u.err
	}
	return u.UnitOfWork.InTx(ctx, fn)
}

// --- тестовое окружение сервисов ---

type testEnv struct {
	store    *memory.Store
	uow      repository.UnitOfWork
	blobs    *fakeBlobs
	notifier *recordingNotifier
	audit    *AuditRecorder
	perms    *PermissionService
	versions *VersionStore
	urls     *URLCache
	docs     *DocumentService
	tags     *TagService
	stats    *StatsService
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithUoW(t, nil)
}

// newTestEnvWithUoW — wrap позволяет подменить UnitOfWork (внедрение ошибок).
func newTestEnvWithUoW(t *testing.T, wrap func(repository.UnitOfWork) repository.UnitOfWork) *testEnv {
	t.Helper()
	logger := testLogger()
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := memory.NewWithClock(clock.Now)

	var uow repository.UnitOfWork = store
	if wrap != nil {
		uow = wrap(store)
	}

	env := &testEnv{
		store:    store,
		uow:      uow,
		blobs:    newFakeBlobs(),
		notifier: &recordingNotifier{},
		clock:    clock,
	}
	env.audit = NewAuditRecorder(store.Repos().Audit, logger)
	env.perms = NewPermissionService(uow, env.audit, logger)
	env.versions = NewVersionStore(uow, env.blobs, logger)
	env.urls = NewURLCache(env.blobs, 100, 10*time.Minute)
	env.docs = NewDocumentService(DocumentDeps{
		UnitOfWork:  uow,
		Versions:    env.versions,
		Blobs:       env.blobs,
		URLs:        env.urls,
		Permissions: env.perms,
		Audit:       env.audit,
		Notifier:    env.notifier,
		Signer:      approval.NewSigner(clock.Now),
		Now:         clock.Now,
	}, logger)
	env.tags = NewTagService(uow, env.perms, env.audit, logger)
	env.stats = NewStatsService(uow, env.perms, clock.Now, logger)
	return env
}

// Субъекты тестов.
var (
	adminAlice   = model.Principal{ID: "alice", Role: rbac.RoleAdmin, DepartmentID: "hq"}
	managerBob   = model.Principal{ID: "bob", Role: rbac.RoleManager, DepartmentID: "finance"}
	userCarol    = model.Principal{ID: "carol", Role: rbac.RoleUser, DepartmentID: "finance"}
	userDave     = model.Principal{ID: "dave", Role: rbac.RoleUser, DepartmentID: "finance"}
	userErin     = model.Principal{ID: "erin", Role: rbac.RoleUser, DepartmentID: "legal"}
	viewerFrank  = model.Principal{ID: "frank", Role: rbac.RoleViewer, DepartmentID: "finance"}
	noDeptGrace  = model.Principal{ID: "grace", Role: rbac.RoleUser}
	managerHeidi = model.Principal{ID: "heidi", Role: rbac.RoleManager, DepartmentID: "legal"}
)

func content(s string) io.Reader { return strings.NewReader(s) }

func meta(name string) model.ContentMeta {
	return model.ContentMeta{FileName: name, ContentType: "text/plain"}
}

// mustCreate создаёт документ и завершает тест при ошибке.
func (e *testEnv) mustCreate(t *testing.T, p model.Principal, title string, vis model.Visibility) *model.Document {
	t.Helper()
	detail, err := e.docs.Create(context.Background(), p, CreateInput{
		Title:      title,
		Visibility: vis,
		Content:    meta(title + ".txt"),
	}, content("v1 "+title))
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return detail.Document
}

func (e *testEnv) auditActions(t *testing.T, targetID string) []model.AuditAction {
	t.Helper()
	entries, _, err := e.store.Repos().Audit.List(context.Background(), model.AuditFilter{TargetID: targetID})
	if err != nil {
		t.Fatalf("Audit.List: %v", err)
	}
	out := make([]model.AuditAction, 0, len(entries))
	// Возвращаем в хронологическом порядке.
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Action)
	}
	return out
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("ожидалась ошибка вида %s, получено nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("вид ошибки = %s, ожидался %s (err=%v)", got, want, err)
	}
}

var errInjected = errors.New("внедрённая ошибка")

func putInput(name string) blobstore.PutInput {
	return blobstore.PutInput{FileName: name, ContentType: "text/plain"}
}
