package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/repository/memory"
)

func TestDispatcher_DeliversToInbox(t *testing.T) {
	store := memory.New()
	d := NewDispatcher(store.Repos().Notifications, 16, testLogger())
	d.Start(context.Background())

	d.Notify(model.NotificationEvent{
		Audience: model.Audience{Kind: model.AudienceUser, ID: "carol"},
		Title:    "Документ согласован",
		Link:     "/documents/1",
	})
	d.Notify(model.NotificationEvent{
		Audience: model.Audience{Kind: model.AudienceDepartment, ID: "finance"},
		Title:    "Новый документ ожидает согласования",
	})
	d.Notify(model.NotificationEvent{
		Audience: model.Audience{Kind: model.AudienceDepartment, ID: "legal"},
		Title:    "Чужой отдел",
	})
	// Stop дожидается записи поставленных в очередь событий.
	d.Stop()

	ctx := context.Background()
	page, err := d.Inbox(ctx, userCarol, false, 0, 0)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("входящие carol: %d, ожидалось 2 (личное + отдел)", page.Total)
	}

	davePage, err := d.Inbox(ctx, userDave, false, 0, 0)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if davePage.Total != 1 {
		t.Fatalf("входящие dave: %d, ожидалось 1 (рассылка отдела)", davePage.Total)
	}

	// Прочтение рассылки одним пользователем не влияет на другого.
	if err := d.MarkRead(ctx, userDave, davePage.Items[0].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	unread, _ := d.Inbox(ctx, userCarol, true, 0, 0)
	if unread.Total != 2 {
		t.Errorf("непрочитанных у carol: %d, ожидалось 2", unread.Total)
	}

	n, err := d.MarkAllRead(ctx, userCarol)
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if n != 2 {
		t.Errorf("MarkAllRead отметил %d, ожидалось 2", n)
	}
	unread, _ = d.Inbox(ctx, userCarol, true, 0, 0)
	if unread.Total != 0 {
		t.Errorf("после MarkAllRead непрочитанных: %d", unread.Total)
	}

	err = d.MarkRead(ctx, userCarol, "00000000-0000-0000-0000-000000000000")
	requireKind(t, err, KindNotFound)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	store := memory.New()
	d := NewDispatcher(store.Repos().Notifications, 1, testLogger())

	// Потребитель не запущен: второе событие не помещается в буфер.
	done := make(chan struct{})
	go func() {
		d.Notify(model.NotificationEvent{Audience: model.Audience{Kind: model.AudienceUser, ID: "carol"}, Title: "1"})
		d.Notify(model.NotificationEvent{Audience: model.Audience{Kind: model.AudienceUser, ID: "carol"}, Title: "2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify заблокировался при заполненном буфере")
	}

	d.Start(context.Background())
	d.Stop()

	page, err := d.Inbox(context.Background(), userCarol, false, 0, 0)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if page.Total != 1 || page.Items[0].Title != "1" {
		t.Errorf("входящие после переполнения: %+v", page.Items)
	}

	// После Stop события отбрасываются без паники.
	d.Notify(model.NotificationEvent{Audience: model.Audience{Kind: model.AudienceUser, ID: "carol"}, Title: "3"})
}
