// notifier.go — исходящий канал уведомлений.
//
// Сервисы документов отправляют события (адресат, заголовок, текст, ссылка)
// в буферизованный канал без блокировки. Фоновый потребитель сохраняет
// их во входящие пользователей. Переполнение буфера или ошибка сохранения
// теряют уведомление, но не влияют на изменение документа.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

const notifyWriteTimeout = 5 * time.Second

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_notifications_total",
		Help: "Количество уведомлений по результату доставки во входящие.",
	}, []string{"result"})
)

// Notifier — приёмник событий уведомлений. Отправка не блокирует.
type Notifier interface {
	Notify(ev model.NotificationEvent)
}

// Dispatcher — буферизованный канал уведомлений с фоновой записью во входящие.
type Dispatcher struct {
	repo   repository.NotificationRepository
	events chan model.NotificationEvent
	done   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewDispatcher создаёт канал уведомлений с буфером buffer событий.
func NewDispatcher(repo repository.NotificationRepository, buffer int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		events: make(chan model.NotificationEvent, buffer),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// Notify ставит событие в очередь. При заполненном буфере или после Stop
// событие отбрасывается.
func (d *Dispatcher) Notify(ev model.NotificationEvent) {
	select {
	case <-d.done:
		notificationsTotal.WithLabelValues("dropped").Inc()
		return
	default:
	}

	select {
	case d.events <- ev:
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("Буфер уведомлений заполнен, уведомление отброшено",
			slog.String("audience", string(ev.Audience.Kind)),
			slog.String("audience_id", ev.Audience.ID),
			slog.String("title", ev.Title),
		)
	}
}

// Start запускает фонового потребителя.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
	d.logger.Info("Обработчик уведомлений запущен", slog.Int("buffer", cap(d.events)))
}

// Stop прекращает приём событий, дожидается записи уже поставленных в очередь.
func (d *Dispatcher) Stop() {
	d.stop.Do(func() { close(d.done) })
	d.wg.Wait()
	d.logger.Info("Обработчик уведомлений остановлен")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.done:
			d.drain()
			return
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev model.NotificationEvent) {
	n := &model.Notification{
		ID:    uuid.NewString(),
		Title: ev.Title,
		Body:  ev.Body,
		Link:  ev.Link,
	}
	audienceID := ev.Audience.ID
	switch ev.Audience.Kind {
	case model.AudienceDepartment:
		n.DepartmentID = &audienceID
	default:
		n.RecipientID = &audienceID
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyWriteTimeout)
	defer cancel()

	if err := d.repo.Create(ctx, n); err != nil {
		notificationsTotal.WithLabelValues("failed").Inc()
		d.logger.Error("Не удалось сохранить уведомление",
			slog.String("audience", string(ev.Audience.Kind)),
			slog.String("audience_id", audienceID),
			slog.String("error", err.Error()),
		)
		return
	}
	notificationsTotal.WithLabelValues("delivered").Inc()
}

// InboxPage — страница входящих уведомлений.
type InboxPage struct {
	Items  []*model.Notification
	Total  int
	Limit  int
	Offset int
}

// Inbox возвращает входящие субъекта: личные и рассылки на его отдел.
func (d *Dispatcher) Inbox(ctx context.Context, p model.Principal, unreadOnly bool, limit, offset int) (*InboxPage, error) {
	limit, offset = clampPage(limit, offset)
	items, total, err := d.repo.ListInbox(ctx, p.ID, p.DepartmentID, unreadOnly, limit, offset)
	if err != nil {
		return nil, translate(err, "уведомления")
	}
	return &InboxPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// MarkRead отмечает уведомление прочитанным для субъекта.
func (d *Dispatcher) MarkRead(ctx context.Context, p model.Principal, notificationID string) error {
	return translate(d.repo.MarkRead(ctx, notificationID, p.ID, p.DepartmentID), "уведомление "+notificationID)
}

// MarkAllRead отмечает все входящие субъекта прочитанными.
func (d *Dispatcher) MarkAllRead(ctx context.Context, p model.Principal) (int, error) {
	n, err := d.repo.MarkAllRead(ctx, p.ID, p.DepartmentID)
	if err != nil {
		return 0, translate(err, "уведомления")
	}
	return n, nil
}
