// stats.go — статистика по документам.
// Область подсчёта совпадает с выборкой документов: те же правила доступа
// (access.Predicate), архивные документы учитываются.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/access"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

const (
	topTagsLimit         = 10
	topContributorsLimit = 5
	defaultStatsMonths   = 6
	maxStatsMonths       = 24
)

// interactionActions — действия аудита, считающиеся обращением к документу.
var interactionActions = []model.AuditAction{model.AuditView, model.AuditDownload}

// StatsFilter — период статистики (включительно); nil — без ограничения.
type StatsFilter struct {
	From *time.Time
	To   *time.Time
}

// StatsService — агрегаты по документам в пределах прав субъекта.
type StatsService struct {
	uow    repository.UnitOfWork
	perms  *PermissionService
	now    func() time.Time
	logger *slog.Logger
}

// NewStatsService создаёт сервис статистики. now == nil — time.Now.
func NewStatsService(uow repository.UnitOfWork, perms *PermissionService, now func() time.Time, logger *slog.Logger) *StatsService {
	if now == nil {
		now = time.Now
	}
	return &StatsService{
		uow:    uow,
		perms:  perms,
		now:    now,
		logger: logger.With(slog.String("component", "stats_service")),
	}
}

// Summary возвращает сводку: статусы, отделы, теги, авторы, обращения.
func (s *StatsService) Summary(ctx context.Context, p model.Principal, f StatsFilter) (stats *model.DocumentStats, err error) {
	defer func() { observe("stats", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, fmt.Errorf("%w: начало периода позже конца", ErrValidation)
	}

	params := repository.StatsParams{
		Access: access.ForPrincipal(s.perms.Current(), p),
		From:   f.From,
		To:     f.To,
	}
	repo := s.uow.Repos().Stats
	stats = &model.DocumentStats{}

	if stats.ByStatus, err = repo.CountByStatus(ctx, params); err != nil {
		return nil, translate(err, "статистика")
	}
	for _, n := range stats.ByStatus {
		stats.Total += n
	}
	if stats.ByDepartment, err = repo.CountByDepartment(ctx, params); err != nil {
		return nil, translate(err, "статистика")
	}
	if stats.TopTags, err = repo.TopTags(ctx, params, topTagsLimit); err != nil {
		return nil, translate(err, "статистика")
	}
	if stats.TopContributors, err = repo.TopContributors(ctx, params, topContributorsLimit); err != nil {
		return nil, translate(err, "статистика")
	}
	if stats.Interactions, err = repo.CountInteractions(ctx, params, interactionActions); err != nil {
		return nil, translate(err, "статистика")
	}
	return stats, nil
}

// Monthly возвращает загрузки и просмотры за последние months месяцев,
// включая текущий, от старых к новым. Месяцы без событий дают нули.
func (s *StatsService) Monthly(ctx context.Context, p model.Principal, months int) (activity []model.MonthlyActivity, err error) {
	defer func() { observe("stats_monthly", err) }()

	if err := s.perms.Require(p, rbac.PermDocumentRead); err != nil {
		return nil, err
	}
	if months <= 0 {
		months = defaultStatsMonths
	}
	if months > maxStatsMonths {
		return nil, fmt.Errorf("%w: не более %d месяцев", ErrValidation, maxStatsMonths)
	}

	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	pr := access.ForPrincipal(s.perms.Current(), p)
	repo := s.uow.Repos().Stats

	uploads, err := repo.UploadsByMonth(ctx, pr, first)
	if err != nil {
		return nil, translate(err, "статистика")
	}
	views, err := repo.ActionsByMonth(ctx, pr, model.AuditView, first)
	if err != nil {
		return nil, translate(err, "статистика")
	}

	activity = make([]model.MonthlyActivity, 0, months)
	for i := range months {
		key := first.AddDate(0, i, 0).Format("2006-01")
		activity = append(activity, model.MonthlyActivity{Month: key, Uploads: uploads[key], Views: views[key]})
	}
	return activity, nil
}
