package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/goartstore/document-module/internal/domain/access"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// checkVersionInvariants проверяет, что текущая версия принадлежит документу,
// а номера версий образуют ряд 1..n.
func checkVersionInvariants(t *testing.T, env *testEnv, docID string) []*model.Version {
	t.Helper()
	ctx := context.Background()
	doc, err := env.store.Repos().Documents.GetByID(ctx, docID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	versions, err := env.store.Repos().Versions.ListByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if doc.CurrentVersionID == nil {
		t.Fatal("у документа нет текущей версии")
	}
	found := false
	numbers := make([]int, 0, len(versions))
	for _, v := range versions {
		if v.ID == *doc.CurrentVersionID {
			found = true
			if v.DocumentID != docID {
				t.Errorf("текущая версия %s принадлежит документу %s", v.ID, v.DocumentID)
			}
		}
		numbers = append(numbers, v.Number)
	}
	if !found {
		t.Errorf("текущая версия %s не найдена среди версий документа", *doc.CurrentVersionID)
	}
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != i+1 {
			t.Fatalf("номера версий %v не образуют ряд 1..n", numbers)
		}
	}
	return versions
}

func TestCreate_FirstVersionAndSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desc := "  квартальный отчёт  "

	detail, err := env.docs.Create(ctx, userCarol, CreateInput{
		Title:       "  Отчёт Q1  ",
		Description: &desc,
		Tags:        []string{"отчёт", " финансы ", "отчёт", ""},
		Content:     meta("q1.pdf"),
	}, content("содержимое"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	doc := detail.Document
	if doc.Title != "Отчёт Q1" {
		t.Errorf("Title = %q, ожидался %q", doc.Title, "Отчёт Q1")
	}
	if doc.Description == nil || *doc.Description != "квартальный отчёт" {
		t.Errorf("Description = %v, ожидалось обрезанное описание", doc.Description)
	}
	if doc.Status != model.StatusPending {
		t.Errorf("Status = %s, ожидался PENDING", doc.Status)
	}
	if doc.Visibility != model.VisibilityDepartment {
		t.Errorf("Visibility = %s, ожидалась DEPARTMENT по умолчанию", doc.Visibility)
	}
	if doc.DepartmentID != "finance" || doc.CreatedBy != "carol" {
		t.Errorf("отдел/создатель = %s/%s, ожидались finance/carol", doc.DepartmentID, doc.CreatedBy)
	}
	if len(detail.Versions) != 1 || detail.Versions[0].Number != 1 {
		t.Fatalf("ожидалась одна версия с номером 1, получено %+v", detail.Versions)
	}
	if detail.Versions[0].Checksum == "" || detail.Versions[0].Size != int64(len("содержимое")) {
		t.Errorf("версия без контрольной суммы или с неверным размером: %+v", detail.Versions[0])
	}
	if len(detail.Tags) != 2 {
		t.Errorf("ожидалось 2 тега после нормализации, получено %d", len(detail.Tags))
	}
	checkVersionInvariants(t, env, doc.ID)

	if got := env.auditActions(t, doc.ID); !slices.Equal(got, []model.AuditAction{model.AuditUpload}) {
		t.Errorf("аудит = %v, ожидался [UPLOAD]", got)
	}
	events := env.notifier.snapshot()
	if len(events) != 1 {
		t.Fatalf("ожидалось одно уведомление, получено %d", len(events))
	}
	if events[0].Audience != (model.Audience{Kind: model.AudienceDepartment, ID: "finance"}) {
		t.Errorf("адресат = %+v, ожидался отдел finance", events[0].Audience)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		p       model.Principal
		in      CreateInput
		body    bool
		want    Kind
		wantErr bool
	}{
		{name: "пустой заголовок", p: userCarol, in: CreateInput{Title: "  ", Content: meta("a.txt")}, body: true, want: KindValidation, wantErr: true},
		{name: "слишком длинный заголовок", p: userCarol, in: CreateInput{Title: strings.Repeat("я", 501), Content: meta("a.txt")}, body: true, want: KindValidation, wantErr: true},
		{name: "без файла", p: userCarol, in: CreateInput{Title: "Док"}, body: false, want: KindValidation, wantErr: true},
		{name: "неизвестная видимость", p: userCarol, in: CreateInput{Title: "Док", Visibility: "SECRET", Content: meta("a.txt")}, body: true, want: KindValidation, wantErr: true},
		{name: "чужой отдел", p: userCarol, in: CreateInput{Title: "Док", DepartmentID: "legal", Content: meta("a.txt")}, body: true, want: KindAccessDenied, wantErr: true},
		{name: "пользователь без отдела", p: noDeptGrace, in: CreateInput{Title: "Док", Content: meta("a.txt")}, body: true, want: KindValidation, wantErr: true},
		{name: "роль без document:create", p: viewerFrank, in: CreateInput{Title: "Док", Content: meta("a.txt")}, body: true, want: KindAccessDenied, wantErr: true},
		{name: "тег длиннее 100 символов", p: userCarol, in: CreateInput{Title: "Док", Tags: []string{strings.Repeat("t", 101)}, Content: meta("a.txt")}, body: true, want: KindValidation, wantErr: true},
		{name: "администратор в любом отделе", p: adminAlice, in: CreateInput{Title: "Док", DepartmentID: "legal", Content: meta("a.txt")}, body: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var body = content("x")
			if !tt.body {
				body = nil
			}
			_, err := env.docs.Create(context.Background(), tt.p, tt.in, body)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Create: неожиданная ошибка %v", err)
				}
				return
			}
			requireKind(t, err, tt.want)
			if env.blobs.count() != 0 {
				t.Errorf("после ошибки валидации в хранилище осталось %d объектов", env.blobs.count())
			}
		})
	}
}

func TestCreate_BlobFailureLeavesNoRows(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.putErr = errInjected

	_, err := env.docs.Create(context.Background(), userCarol, CreateInput{Title: "Док", Content: meta("a.txt")}, content("x"))
	requireKind(t, err, KindDependency)

	_, total, err := env.store.Repos().Documents.Search(context.Background(), repository.SearchParams{
		Access: access.Predicate{Unrestricted: true},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 0 {
		t.Errorf("после ошибки хранилища осталось %d документов", total)
	}
}

func TestCreate_TransactionFailureDiscardsBlob(t *testing.T) {
	var uow *faultyUoW
	env := newTestEnvWithUoW(t, func(inner repository.UnitOfWork) repository.UnitOfWork {
		uow = &faultyUoW{UnitOfWork: inner}
		return uow
	})
	uow.failNext(1, errInjected)

	_, err := env.docs.Create(context.Background(), userCarol, CreateInput{Title: "Док", Content: meta("a.txt")}, content("x"))
	requireKind(t, err, KindDependency)
	if env.blobs.count() != 0 {
		t.Errorf("содержимое не удалено после отката: %d объектов", env.blobs.count())
	}
	if len(env.notifier.snapshot()) != 0 {
		t.Error("уведомление отправлено при неудачном создании")
	}
}

func TestGet_AccessRules(t *testing.T) {
	env := newTestEnv(t)
	deptDoc := env.mustCreate(t, userCarol, "Отдел", model.VisibilityDepartment)
	privDoc := env.mustCreate(t, userCarol, "Личный", model.VisibilityPrivate)
	pubDoc := env.mustCreate(t, userCarol, "Публичный", model.VisibilityPublic)

	tests := []struct {
		name  string
		p     model.Principal
		doc   *model.Document
		allow bool
	}{
		{"DEPARTMENT: тот же отдел", userDave, deptDoc, true},
		{"DEPARTMENT: другой отдел", userErin, deptDoc, false},
		{"DEPARTMENT: администратор другого отдела", adminAlice, deptDoc, true},
		{"DEPARTMENT: без отдела", noDeptGrace, deptDoc, false},
		{"PRIVATE: создатель", userCarol, privDoc, true},
		{"PRIVATE: коллега по отделу", userDave, privDoc, false},
		{"PRIVATE: менеджер отдела", managerBob, privDoc, false},
		{"PRIVATE: администратор", adminAlice, privDoc, true},
		{"PUBLIC: другой отдел", userErin, pubDoc, true},
		{"PUBLIC: без отдела", noDeptGrace, pubDoc, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detail, err := env.docs.Get(context.Background(), tt.p, tt.doc.ID)
			if !tt.allow {
				requireKind(t, err, KindAccessDenied)
				return
			}
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if detail.Document.ID != tt.doc.ID || len(detail.Versions) != 1 {
				t.Errorf("неожиданная детализация: %+v", detail)
			}
		})
	}

	if _, err := env.docs.Get(context.Background(), userCarol, "00000000-0000-0000-0000-000000000000"); KindOf(err) != KindNotFound {
		t.Errorf("отсутствующий документ: вид ошибки %s, ожидался NotFound", KindOf(err))
	}
}

// TestList_MatchesSingleReadRules — выборка возвращает ровно те документы,
// которые субъект может прочитать по одному.
func TestList_MatchesSingleReadRules(t *testing.T) {
	env := newTestEnv(t)
	creators := []model.Principal{userCarol, userErin, managerBob, adminAlice, managerHeidi}
	visibilities := []model.Visibility{model.VisibilityPublic, model.VisibilityDepartment, model.VisibilityPrivate}

	var all []*model.Document
	for _, c := range creators {
		for _, v := range visibilities {
			all = append(all, env.mustCreate(t, c, fmt.Sprintf("%s-%s", c.ID, v), v))
		}
	}

	ps := env.perms.Current()
	for _, p := range []model.Principal{adminAlice, managerBob, userCarol, userDave, userErin, viewerFrank, noDeptGrace} {
		t.Run(p.ID, func(t *testing.T) {
			res, err := env.docs.List(context.Background(), p, ListFilter{Limit: 100})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var got, want []string
			for _, d := range res.Items {
				got = append(got, d.ID)
			}
			for _, d := range all {
				if access.CanAccess(ps, p, d) {
					want = append(want, d.ID)
				}
			}
			slices.Sort(got)
			slices.Sort(want)
			if !slices.Equal(got, want) {
				t.Errorf("выборка расходится с правилами доступа:\n got=%v\nwant=%v", got, want)
			}
			if res.Total != len(want) {
				t.Errorf("Total = %d, ожидалось %d", res.Total, len(want))
			}
		})
	}
}

func TestList_PaginationAndFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var created []*model.Document
	for i := range 5 {
		created = append(created, env.mustCreate(t, userCarol, fmt.Sprintf("Договор %d", i), model.VisibilityDepartment))
	}
	env.mustCreate(t, userCarol, "Счёт", model.VisibilityDepartment)

	q := "договор"
	res, err := env.docs.List(ctx, userDave, ListFilter{Query: &q, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 5 || res.TotalPages != 3 || res.Page != 2 || res.Limit != 2 {
		t.Errorf("пагинация = total %d, pages %d, page %d, limit %d; ожидалось 5/3/2/2",
			res.Total, res.TotalPages, res.Page, res.Limit)
	}
	// От новых к старым: вторая страница — договоры 2 и 1.
	if len(res.Items) != 2 || res.Items[0].ID != created[2].ID || res.Items[1].ID != created[1].ID {
		t.Errorf("неожиданный порядок второй страницы: %v", res.Items)
	}

	if _, err := env.docs.Archive(ctx, managerBob, created[0].ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	res, err = env.docs.List(ctx, userDave, ListFilter{Query: &q})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 4 || res.Limit != defaultPageLimit || res.Page != 1 {
		t.Errorf("архивный документ в выборке по умолчанию или неверные умолчания: %+v", res)
	}
	res, err = env.docs.List(ctx, userDave, ListFilter{Query: &q, Archived: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 || res.Items[0].ID != created[0].ID {
		t.Errorf("выборка архива: %+v", res.Items)
	}
}

func TestList_PageBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, userCarol, "Единственный", model.VisibilityPublic)

	tests := []struct {
		name      string
		filter    ListFilter
		wantKind  Kind
		wantItems int
	}{
		{name: "отрицательная страница как первая", filter: ListFilter{Page: -3, Limit: 10}, wantItems: 1},
		{name: "далёкая страница пуста", filter: ListFilter{Page: 1_000_000, Limit: 10}, wantItems: 0},
		{name: "переполнение offset", filter: ListFilter{Page: math.MaxInt / 5, Limit: 10}, wantKind: KindValidation},
		{name: "максимальная страница", filter: ListFilter{Page: math.MaxInt, Limit: 1}, wantKind: KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.docs.List(ctx, userCarol, tt.filter)
			if tt.wantKind != "" {
				requireKind(t, err, tt.wantKind)
				return
			}
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(res.Items) != tt.wantItems || res.Total != 1 {
				t.Errorf("элементов %d (total %d), ожидалось %d (total 1)", len(res.Items), res.Total, tt.wantItems)
			}
		})
	}
}

func TestApproveRejectPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Политика", model.VisibilityDepartment)

	// Публикация до согласования недопустима.
	_, err := env.docs.Publish(ctx, managerBob, doc.ID)
	requireKind(t, err, KindInvalidState)

	// Пользователь без document:approve.
	_, err = env.docs.Approve(ctx, userDave, doc.ID)
	requireKind(t, err, KindAccessDenied)

	// Менеджер другого отдела не видит документ.
	_, err = env.docs.Approve(ctx, managerHeidi, doc.ID)
	requireKind(t, err, KindAccessDenied)

	approved, err := env.docs.Approve(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != model.StatusApproved {
		t.Errorf("Status = %s, ожидался APPROVED", approved.Status)
	}
	sig := approved.Approval.Signature
	if sig == nil || !strings.HasPrefix(*sig, "DIGITAL_SIG_bob_") {
		t.Fatalf("подпись = %v, ожидался префикс DIGITAL_SIG_bob_", sig)
	}
	v, err := env.store.Repos().Versions.GetByID(ctx, *approved.CurrentVersionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if v.Approval.Signature == nil || *v.Approval.Signature != *sig {
		t.Errorf("снимок версии = %v, ожидалась подпись документа %q", v.Approval.Signature, *sig)
	}

	// Повторное согласование выдаёт новую подпись.
	again, err := env.docs.Approve(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("повторный Approve: %v", err)
	}
	if *again.Approval.Signature == *sig {
		t.Error("подписи двух согласований совпадают")
	}

	published, err := env.docs.Publish(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if published.Status != model.StatusPublished {
		t.Errorf("Status = %s, ожидался PUBLISHED", published.Status)
	}

	_, err = env.docs.Approve(ctx, managerBob, doc.ID)
	requireKind(t, err, KindInvalidState)

	want := []model.AuditAction{model.AuditUpload, model.AuditApprove, model.AuditApprove, model.AuditPublish}
	if got := env.auditActions(t, doc.ID); !slices.Equal(got, want) {
		t.Errorf("аудит = %v, ожидался %v", got, want)
	}

	// Создатель получает уведомления о согласовании и публикации.
	creatorEvents := 0
	for _, ev := range env.notifier.snapshot() {
		if ev.Audience == (model.Audience{Kind: model.AudienceUser, ID: "carol"}) {
			creatorEvents++
		}
	}
	if creatorEvents != 3 {
		t.Errorf("уведомлений создателю = %d, ожидалось 3", creatorEvents)
	}
}

func TestReject_EmptyReasonKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Смета", model.VisibilityDepartment)
	if _, err := env.docs.Approve(ctx, managerBob, doc.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	for _, reason := range []string{"", "   \t"} {
		_, err := env.docs.Reject(ctx, managerBob, doc.ID, reason)
		requireKind(t, err, KindValidation)
	}
	stored, _ := env.store.Repos().Documents.GetByID(ctx, doc.ID)
	if stored.Status != model.StatusApproved {
		t.Errorf("Status после отклонения без причины = %s, ожидался APPROVED", stored.Status)
	}

	rejected, err := env.docs.Reject(ctx, managerBob, doc.ID, "  нет подписи главбуха ")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != model.StatusRejected {
		t.Errorf("Status = %s, ожидался REJECTED", rejected.Status)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "нет подписи главбуха" {
		t.Errorf("RejectionReason = %v", rejected.RejectionReason)
	}

	// Снимок согласования версии не затрагивается.
	v, _ := env.store.Repos().Versions.GetByID(ctx, *rejected.CurrentVersionID)
	if !v.Approval.IsSigned() {
		t.Error("отклонение стёрло снимок согласования версии")
	}

	events := env.notifier.snapshot()
	last := events[len(events)-1]
	if !strings.Contains(last.Body, "нет подписи главбуха") {
		t.Errorf("уведомление об отклонении без причины: %q", last.Body)
	}
}

func TestAppendVersion_ResetsApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Регламент", model.VisibilityDepartment)
	approved, err := env.docs.Approve(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	v1ID := *approved.CurrentVersionID
	v1Sig := *approved.Approval.Signature

	updated, v2, err := env.docs.AppendVersion(ctx, userDave, doc.ID, meta("v2.txt"), content("v2"))
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	if v2.Number != 2 || *updated.CurrentVersionID != v2.ID {
		t.Errorf("версия %d, текущая %s; ожидалась текущая версия 2", v2.Number, *updated.CurrentVersionID)
	}
	if updated.Status != model.StatusPending || updated.Approval.IsSigned() {
		t.Errorf("после загрузки статус %s, подпись %v; ожидался PENDING без подписи", updated.Status, updated.Approval.Signature)
	}
	v1, _ := env.store.Repos().Versions.GetByID(ctx, v1ID)
	if v1.Approval.Signature == nil || *v1.Approval.Signature != v1Sig {
		t.Error("снимок согласования версии 1 изменился")
	}
	checkVersionInvariants(t, env, doc.ID)

	_, _, err = env.docs.AppendVersion(ctx, viewerFrank, doc.ID, meta("v3.txt"), content("v3"))
	requireKind(t, err, KindAccessDenied)
	_, _, err = env.docs.AppendVersion(ctx, userDave, doc.ID, model.ContentMeta{}, nil)
	requireKind(t, err, KindValidation)
}

func TestAppendVersion_PublishedReturnsToPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Прейскурант", model.VisibilityDepartment)
	if _, err := env.docs.Approve(ctx, managerBob, doc.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	published, err := env.docs.Publish(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	v1ID := *published.CurrentVersionID

	updated, _, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("v2.txt"), content("v2"))
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	if updated.Status != model.StatusPending || updated.Approval.IsSigned() {
		t.Errorf("после загрузки в опубликованный: статус %s, подпись %v; ожидались PENDING без подписи",
			updated.Status, updated.Approval.Signature)
	}
	v1, err := env.store.Repos().Versions.GetByID(ctx, v1ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !v1.Approval.IsSigned() || *v1.Approval.Signature != *published.Approval.Signature {
		t.Error("снимок согласования опубликованной версии 1 изменён")
	}

	// Новая версия проходит согласование и публикацию заново.
	if _, err := env.docs.Publish(ctx, managerBob, doc.ID); KindOf(err) != KindInvalidState {
		t.Errorf("Publish без согласования: вид ошибки %s, ожидался InvalidState", KindOf(err))
	}
	if _, err := env.docs.Approve(ctx, managerBob, doc.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := env.docs.Publish(ctx, managerBob, doc.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestAppendVersion_ConcurrentNumbering(t *testing.T) {
	env := newTestEnv(t)
	doc := env.mustCreate(t, userCarol, "Гонка", model.VisibilityDepartment)

	const workers = 8
	var wg sync.WaitGroup
	numbers := make([]int, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, v, err := env.docs.AppendVersion(context.Background(), userCarol, doc.ID,
				meta(fmt.Sprintf("w%d.txt", i)), content(fmt.Sprintf("w%d", i)))
			errs[i] = err
			if v != nil {
				numbers[i] = v.Number
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("воркер %d: %v", i, err)
		}
	}
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != i+2 {
			t.Fatalf("номера версий %v, ожидались 2..%d без повторов", numbers, workers+1)
		}
	}
	checkVersionInvariants(t, env, doc.ID)
}

func TestAppendVersion_ConflictRetry(t *testing.T) {
	var uow *faultyUoW
	env := newTestEnvWithUoW(t, func(inner repository.UnitOfWork) repository.UnitOfWork {
		uow = &faultyUoW{UnitOfWork: inner}
		return uow
	})
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Повтор", model.VisibilityDepartment)

	t.Run("один конфликт повторяется", func(t *testing.T) {
		uow.failNext(1, repository.ErrConflict)
		_, v, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("a.txt"), content("a"))
		if err != nil {
			t.Fatalf("AppendVersion: %v", err)
		}
		if v.Number != 2 {
			t.Errorf("Number = %d, ожидался 2", v.Number)
		}
	})

	t.Run("второй конфликт возвращается", func(t *testing.T) {
		before := env.blobs.count()
		uow.failNext(2, repository.ErrConflict)
		_, _, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("b.txt"), content("b"))
		requireKind(t, err, KindConflict)
		if env.blobs.count() != before {
			t.Errorf("осиротевшее содержимое не удалено: было %d, стало %d", before, env.blobs.count())
		}
	})
	checkVersionInvariants(t, env, doc.ID)
}

func TestRestoreVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Устав", model.VisibilityDepartment)
	approved, err := env.docs.Approve(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	v1ID := *approved.CurrentVersionID

	afterUpload, v2, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("v2.txt"), content("v2"))
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}

	restored, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v1ID)
	if err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	if restored.Status != model.StatusApproved || *restored.CurrentVersionID != v1ID {
		t.Errorf("после восстановления статус %s, текущая %s; ожидались APPROVED и v1", restored.Status, *restored.CurrentVersionID)
	}
	if *restored.Approval.Signature != *approved.Approval.Signature {
		t.Error("подпись версии 1 не перенесена на документ")
	}

	// Обратное восстановление возвращает состояние до восстановления.
	back, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v2.ID)
	if err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	if back.Status != afterUpload.Status || back.Approval.IsSigned() != afterUpload.Approval.IsSigned() ||
		back.RejectionReason != nil {
		t.Errorf("обратное восстановление: статус %s, подпись %v", back.Status, back.Approval.Signature)
	}

	versions := checkVersionInvariants(t, env, doc.ID)
	if len(versions) != 2 {
		t.Errorf("восстановление изменило историю: %d версий", len(versions))
	}

	// Восстановление текущей версии ничего не меняет и не пишется в аудит.
	before := len(env.auditActions(t, doc.ID))
	if _, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v2.ID); err != nil {
		t.Fatalf("RestoreVersion текущей версии: %v", err)
	}
	if after := len(env.auditActions(t, doc.ID)); after != before {
		t.Errorf("восстановление текущей версии записано в аудит: %d → %d", before, after)
	}

	// Версия другого документа.
	other := env.mustCreate(t, userCarol, "Другой", model.VisibilityDepartment)
	_, err = env.docs.RestoreVersion(ctx, userCarol, doc.ID, *other.CurrentVersionID)
	requireKind(t, err, KindNotFound)
	_, err = env.docs.RestoreVersion(ctx, userCarol, doc.ID, "00000000-0000-0000-0000-000000000000")
	requireKind(t, err, KindNotFound)
}

// Статус при восстановлении выводится только из подписи версии:
// REJECTED и PUBLISHED после ухода и возврата не воспроизводятся.
func TestRestoreVersion_StatusFromSignatureOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("отклонённый документ возвращается в PENDING", func(t *testing.T) {
		doc := env.mustCreate(t, userCarol, "Положение", model.VisibilityDepartment)
		v1ID := *doc.CurrentVersionID
		_, v2, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("v2.txt"), content("v2"))
		if err != nil {
			t.Fatalf("AppendVersion: %v", err)
		}
		rejected, err := env.docs.Reject(ctx, managerBob, doc.ID, "нет подписи главбуха")
		if err != nil {
			t.Fatalf("Reject: %v", err)
		}
		if rejected.Status != model.StatusRejected {
			t.Fatalf("Status = %s, ожидается REJECTED", rejected.Status)
		}

		if _, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v1ID); err != nil {
			t.Fatalf("RestoreVersion: %v", err)
		}
		back, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v2.ID)
		if err != nil {
			t.Fatalf("RestoreVersion: %v", err)
		}
		if back.Status != model.StatusPending || back.RejectionReason != nil {
			t.Errorf("после возврата: статус %s, причина %v; ожидались PENDING без причины", back.Status, back.RejectionReason)
		}
	})

	t.Run("опубликованный документ возвращается в APPROVED", func(t *testing.T) {
		doc := env.mustCreate(t, userCarol, "Инструкция", model.VisibilityDepartment)
		v1ID := *doc.CurrentVersionID
		_, v2, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("v2.txt"), content("v2"))
		if err != nil {
			t.Fatalf("AppendVersion: %v", err)
		}
		if _, err := env.docs.Approve(ctx, managerBob, doc.ID); err != nil {
			t.Fatalf("Approve: %v", err)
		}
		if _, err := env.docs.Publish(ctx, managerBob, doc.ID); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		if _, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v1ID); err != nil {
			t.Fatalf("RestoreVersion: %v", err)
		}
		back, err := env.docs.RestoreVersion(ctx, userCarol, doc.ID, v2.ID)
		if err != nil {
			t.Fatalf("RestoreVersion: %v", err)
		}
		if back.Status != model.StatusApproved || !back.Approval.IsSigned() {
			t.Errorf("после возврата: статус %s, подпись %v; ожидались APPROVED с подписью", back.Status, back.Approval.Signature)
		}
	})
}

func TestListVersions_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "История", model.VisibilityPrivate)
	for i := range 3 {
		if _, _, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta(fmt.Sprintf("%d.txt", i)), content("x")); err != nil {
			t.Fatalf("AppendVersion: %v", err)
		}
	}

	versions, err := env.docs.ListVersions(ctx, userCarol, doc.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	for i, v := range versions {
		if v.Number != 4-i {
			t.Fatalf("порядок версий нарушен: позиция %d, номер %d", i, v.Number)
		}
	}

	_, err = env.docs.ListVersions(ctx, userDave, doc.ID)
	requireKind(t, err, KindAccessDenied)
}

func TestArchive_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Архив", model.VisibilityDepartment)

	first, err := env.docs.Archive(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	second, err := env.docs.Archive(ctx, managerBob, doc.ID)
	if err != nil {
		t.Fatalf("повторный Archive: %v", err)
	}
	if !second.IsArchived || second.ArchivedAt == nil || !second.ArchivedAt.Equal(*first.ArchivedAt) {
		t.Errorf("повторная архивация изменила состояние: %v → %v", first.ArchivedAt, second.ArchivedAt)
	}

	// Архивный документ доступен для чтения и скачивания.
	if _, err := env.docs.Get(ctx, userDave, doc.ID); err != nil {
		t.Errorf("Get архивного документа: %v", err)
	}
	if _, err := env.docs.Download(ctx, userDave, doc.ID); err != nil {
		t.Errorf("Download архивного документа: %v", err)
	}

	for range 2 {
		un, err := env.docs.Unarchive(ctx, managerBob, doc.ID)
		if err != nil {
			t.Fatalf("Unarchive: %v", err)
		}
		if un.IsArchived || un.ArchivedAt != nil {
			t.Errorf("после разархивации: IsArchived=%v ArchivedAt=%v", un.IsArchived, un.ArchivedAt)
		}
	}

	_, err = env.docs.Archive(ctx, userCarol, doc.ID)
	requireKind(t, err, KindAccessDenied)

	var archiveEvents []model.AuditAction
	for _, a := range env.auditActions(t, doc.ID) {
		if a == model.AuditArchive || a == model.AuditUnarchive {
			archiveEvents = append(archiveEvents, a)
		}
	}
	if !slices.Equal(archiveEvents, []model.AuditAction{model.AuditArchive, model.AuditUnarchive}) {
		t.Errorf("аудит архивации = %v, ожидалась одна пара ARCHIVE/UNARCHIVE", archiveEvents)
	}
}

func TestDownload_CachesURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Скачать", model.VisibilityPublic)

	first, err := env.docs.Download(ctx, userErin, doc.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	second, err := env.docs.Download(ctx, userErin, doc.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if first.URL != second.URL {
		t.Errorf("ссылка не взята из кэша: %q != %q", first.URL, second.URL)
	}
	if first.FileName != "Скачать.txt" || first.VersionNumber != 1 || first.ContentType != "text/plain" {
		t.Errorf("неожиданная ссылка: %+v", first)
	}

	// Новая версия — новая ссылка.
	if _, _, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("v2.txt"), content("v2")); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	third, err := env.docs.Download(ctx, userErin, doc.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if third.URL == first.URL || third.VersionNumber != 2 {
		t.Errorf("после загрузки версии 2 выдана старая ссылка: %+v", third)
	}
}

func TestDelete_OwnerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Удалить", model.VisibilityDepartment)
	if _, _, err := env.docs.AppendVersion(ctx, userCarol, doc.ID, meta("v2.txt"), content("v2")); err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	if _, err := env.docs.Tag(ctx, managerBob, doc.ID, []string{"черновик"}); err != nil {
		t.Fatalf("Tag: %v", err)
	}

	// Коллега и менеджер отдела не являются создателями.
	for _, p := range []model.Principal{userDave, managerBob} {
		requireKind(t, env.docs.Delete(ctx, p, doc.ID), KindAccessDenied)
	}

	if err := env.docs.Delete(ctx, userCarol, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := env.store.Repos().Documents.GetByID(ctx, doc.ID); err == nil {
		t.Error("документ не удалён")
	}
	versions, _ := env.store.Repos().Versions.ListByDocument(ctx, doc.ID)
	if len(versions) != 0 {
		t.Errorf("осталось %d версий", len(versions))
	}
	if env.blobs.count() != 0 {
		t.Errorf("содержимое версий не удалено: %d объектов", env.blobs.count())
	}
	actions := env.auditActions(t, doc.ID)
	if actions[len(actions)-1] != model.AuditDelete {
		t.Errorf("последнее действие аудита = %s, ожидалось DELETE", actions[len(actions)-1])
	}

	requireKind(t, env.docs.Delete(ctx, userCarol, doc.ID), KindNotFound)

	// Администратор удаляет чужой документ.
	other := env.mustCreate(t, userErin, "Чужой", model.VisibilityPrivate)
	if err := env.docs.Delete(ctx, adminAlice, other.ID); err != nil {
		t.Errorf("Delete администратором: %v", err)
	}
}

func TestTag_ReplacesSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.mustCreate(t, userCarol, "Теги", model.VisibilityDepartment)

	if _, err := env.docs.Tag(ctx, managerBob, doc.ID, []string{"a", "b"}); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	tags, err := env.docs.Tag(ctx, managerBob, doc.ID, []string{" b ", "c", "c"})
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("ожидалось 2 тега, получено %d", len(tags))
	}

	stored, err := env.store.Repos().Tags.ListForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListForDocument: %v", err)
	}
	var names []string
	for _, tg := range stored {
		names = append(names, tg.Name)
	}
	if !slices.Equal(names, []string{"b", "c"}) {
		t.Errorf("теги документа = %v, ожидались [b c]", names)
	}

	// Пустой набор снимает все теги.
	if _, err := env.docs.Tag(ctx, managerBob, doc.ID, nil); err != nil {
		t.Fatalf("Tag(nil): %v", err)
	}
	stored, _ = env.store.Repos().Tags.ListForDocument(ctx, doc.ID)
	if len(stored) != 0 {
		t.Errorf("после пустого набора осталось %d тегов", len(stored))
	}

	_, err = env.docs.Tag(ctx, userCarol, doc.ID, []string{"x"})
	requireKind(t, err, KindAccessDenied)
}

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Диспетчер с буфером 1 без потребителя: второе событие отбрасывается.
	d := NewDispatcher(env.store.Repos().Notifications, 1, testLogger())
	env.docs.notifier = d

	doc := env.mustCreate(t, userCarol, "Один", model.VisibilityDepartment)
	if _, err := env.docs.Approve(ctx, managerBob, doc.ID); err != nil {
		t.Fatalf("Approve при переполненном буфере уведомлений: %v", err)
	}
}
