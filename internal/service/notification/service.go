package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/avoronkov/push-dispatcher/internal/model"
	"github.com/avoronkov/push-dispatcher/internal/rabbitmq/queue"
	"github.com/avoronkov/push-dispatcher/internal/repository/device"
	"github.com/avoronkov/push-dispatcher/pkg/push"
)

var (
	// ErrNoTarget is returned before a record is persisted, when the
	// request names neither a topic nor any recipients.
	ErrNoTarget = errors.New("either topic or userIds must be provided")

	// ErrNoValidTargets is returned when none of the requested recipients
	// resolve to a delivery token. The record is persisted as failed.
	ErrNoValidTargets = errors.New("no valid delivery targets")
)

const (
	maxListLimit     = 100
	defaultListLimit = 20
	statsDays        = 30
)

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

type notificationRepository interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, messageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
	ClaimFailed(ctx context.Context, id uuid.UUID) (model.Notification, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	List(ctx context.Context, f model.ListFilter) ([]model.Notification, int, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	DailyCounts(ctx context.Context, days int) ([]model.DailyCount, error)
}

type tokenLookup interface {
	GetDeliveryToken(ctx context.Context, userID string) (string, error)
}

type pushProvider interface {
	Send(ctx context.Context, msg push.Message) (string, error)
}

type dispatchPublisher interface {
	Publish(msg queue.DispatchMessage, strategy retry.Strategy) error
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// Service owns the notification state machine: it creates records, decides
// between immediate and deferred dispatch, performs delivery attempts and
// retries, and answers history/stats queries.
type Service struct {
	repo     notificationRepository
	tokens   tokenLookup
	provider pushProvider
	queue    dispatchPublisher
	cache    cache
}

func NewService(
	repo notificationRepository,
	tokens tokenLookup,
	provider pushProvider,
	queue dispatchPublisher,
	cache cache,
) *Service {
	return &Service{repo: repo, tokens: tokens, provider: provider, queue: queue, cache: cache}
}

// Dispatch validates the cross-field addressing rule, persists the record
// and either sends it immediately or leaves it for the scheduler sweep.
// The returned bool reports whether the notification was deferred.
//
// The record is always persisted before any provider contact, so a crash
// mid-send leaves an inspectable pending record rather than an invisible
// in-flight request.
func (s *Service) Dispatch(ctx context.Context, strategy retry.Strategy, n model.Notification) (model.Notification, bool, error) {
	if n.Topic == "" && len(n.UserIDs) == 0 {
		return model.Notification{}, false, ErrNoTarget
	}

	n.Status = model.StatusPending
	if n.ScheduledAt != nil && n.ScheduledAt.After(time.Now()) {
		n.Status = model.StatusScheduled
	}

	created, err := s.repo.Create(ctx, n)
	if err != nil {
		return model.Notification{}, false, fmt.Errorf("create notification: %w", err)
	}

	s.cacheStatus(ctx, strategy, created.ID, created.Status)

	if created.Status == model.StatusScheduled {
		return created, true, nil
	}

	attempted, err := s.attempt(ctx, strategy, created)
	return attempted, false, err
}

// Deliver performs the delivery attempt for a record claimed by the
// scheduler sweep. It returns an error only when the attempt could not be
// run at all; delivery outcomes are recorded in the store.
func (s *Service) Deliver(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	// Cheap pre-check: skip records already driven to a terminal state.
	if status, err := s.cache.GetWithRetry(ctx, strategy, id.String()); err == nil {
		if model.Status(status) == model.StatusSent || model.Status(status) == model.StatusFailed {
			zlog.Logger.Info().Str("id", id.String()).Str("status", status).Msg("notification already terminal, skipping")
			return nil
		}
	} else if !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("failed to get notification status from cache")
	}

	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get notification: %w", err)
	}

	if n.Status != model.StatusPending {
		zlog.Logger.Info().Str("id", id.String()).Str("status", string(n.Status)).Msg("notification not pending, skipping")
		return nil
	}

	if _, err := s.attempt(ctx, strategy, n); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("delivery attempt failed")
	}

	return nil
}

// SweepDue claims scheduled notifications whose send time has arrived and
// hands them to the dispatch queue. It returns the number of records
// enqueued. Safe to run concurrently: the claim is atomic in the store.
func (s *Service) SweepDue(ctx context.Context, strategy retry.Strategy, limit int) (int, error) {
	due, err := s.repo.ClaimDue(ctx, time.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due notifications: %w", err)
	}

	enqueued := 0
	for _, n := range due {
		s.cacheStatus(ctx, strategy, n.ID, model.StatusPending)

		if err := s.queue.Publish(queue.DispatchMessage{ID: n.ID}, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to enqueue due notification")
			// Record the failure so the record stays retryable instead of
			// sitting in pending forever.
			s.markFailed(ctx, strategy, n.ID, fmt.Sprintf("enqueue dispatch: %v", err))
			continue
		}

		enqueued++
	}

	return enqueued, nil
}

// Retry re-attempts a failed notification. The claim increments the retry
// count and moves the record to pending atomically; recipients are
// re-resolved from scratch in case their tokens changed since the failure.
func (s *Service) Retry(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.ClaimFailed(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}

	s.cacheStatus(ctx, strategy, n.ID, model.StatusPending)

	return s.attempt(ctx, strategy, n)
}

// attempt resolves the delivery target, invokes the provider once and
// records the terminal outcome. The returned record reflects the new state.
func (s *Service) attempt(ctx context.Context, strategy retry.Strategy, n model.Notification) (model.Notification, error) {
	msg, err := s.resolveTarget(ctx, n)
	if err != nil {
		n = s.markFailed(ctx, strategy, n.ID, err.Error())
		return n, err
	}

	messageID, err := s.provider.Send(ctx, msg)
	if err != nil {
		n = s.markFailed(ctx, strategy, n.ID, err.Error())
		return n, fmt.Errorf("send notification: %w", err)
	}

	if err := s.repo.MarkSent(ctx, n.ID, messageID); err != nil {
		zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to mark notification sent")
	}

	s.cacheStatus(ctx, strategy, n.ID, model.StatusSent)

	n.Status = model.StatusSent
	n.MessageID = messageID
	n.Error = ""
	n.UpdatedAt = time.Now()

	return n, nil
}

// resolveTarget turns the record's addressing into a concrete provider
// message. A topic wins over userIds when both are present. Per-recipient
// lookups are best-effort: a failed lookup skips that recipient only.
func (s *Service) resolveTarget(ctx context.Context, n model.Notification) (push.Message, error) {
	msg := push.Message{
		Title:    n.Title,
		Body:     n.Body,
		ImageURL: n.ImageURL,
		Data:     n.Data,
	}

	if n.Topic != "" {
		msg.Topic = n.Topic
		return msg, nil
	}

	var tokens []string
	for _, userID := range n.UserIDs {
		token, err := s.tokens.GetDeliveryToken(ctx, userID)
		if err != nil {
			if !errors.Is(err, device.ErrTokenNotFound) {
				zlog.Logger.Warn().Err(err).Str("user_id", userID).Msg("failed to look up delivery token")
			}
			continue
		}

		tokens = append(tokens, token)
	}

	if len(tokens) == 0 {
		return push.Message{}, ErrNoValidTargets
	}

	msg.Tokens = tokens
	return msg, nil
}

// Get retrieves a single notification by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}

	return n, nil
}

// List returns a filtered, paginated page of notification history.
//
// Free-text search is matched in memory against title/body over the
// structurally filtered scan; correctness over compactness of the query
// plan is deliberate here.
func (s *Service) List(ctx context.Context, f model.ListFilter) ([]model.Notification, model.Pagination, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	if f.Search == "" {
		items, total, err := s.repo.List(ctx, f)
		if err != nil {
			return nil, model.Pagination{}, fmt.Errorf("list notifications: %w", err)
		}

		return items, model.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total}, nil
	}

	scan := f
	scan.Limit = 0
	scan.Offset = 0

	items, _, err := s.repo.List(ctx, scan)
	if err != nil {
		return nil, model.Pagination{}, fmt.Errorf("list notifications: %w", err)
	}

	needle := strings.ToLower(f.Search)
	matched := make([]model.Notification, 0, len(items))
	for _, n := range items {
		if strings.Contains(strings.ToLower(n.Title), needle) || strings.Contains(strings.ToLower(n.Body), needle) {
			matched = append(matched, n)
		}
	}

	total := len(matched)

	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}

	return matched[start:end], model.Pagination{Limit: f.Limit, Offset: f.Offset, Total: total}, nil
}

// Stats returns per-status totals plus a zero-filled per-day creation
// histogram for the trailing 30 days.
func (s *Service) Stats(ctx context.Context) (model.StatsSummary, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return model.StatsSummary{}, fmt.Errorf("count notifications: %w", err)
	}

	daily, err := s.repo.DailyCounts(ctx, statsDays)
	if err != nil {
		return model.StatsSummary{}, fmt.Errorf("get daily counts: %w", err)
	}

	summary := model.StatsSummary{
		Sent:      counts[model.StatusSent],
		Failed:    counts[model.StatusFailed],
		Pending:   counts[model.StatusPending],
		Scheduled: counts[model.StatusScheduled],
		DailyData: daily,
	}
	summary.Total = summary.Sent + summary.Failed + summary.Pending + summary.Scheduled

	return summary, nil
}

// markFailed records a terminal failure and returns the record mutated to
// match the stored state.
func (s *Service) markFailed(ctx context.Context, strategy retry.Strategy, id uuid.UUID, cause string) model.Notification {
	if err := s.repo.MarkFailed(ctx, id, cause); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to mark notification failed")
	}

	s.cacheStatus(ctx, strategy, id, model.StatusFailed)

	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to reload notification")
		return model.Notification{ID: id, Status: model.StatusFailed, Error: cause}
	}

	return n
}

func (s *Service) cacheStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status) {
	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}
}
