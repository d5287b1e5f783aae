package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/avoronkov/push-dispatcher/internal/api/respond"
	"github.com/avoronkov/push-dispatcher/internal/config"
	"github.com/avoronkov/push-dispatcher/internal/model"
	notifrepo "github.com/avoronkov/push-dispatcher/internal/repository/notification"
	notifsvc "github.com/avoronkov/push-dispatcher/internal/service/notification"
)

// notificationService defines the interface that the Handler depends on.
//
// It abstracts dispatching, retrying and querying notifications.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/notification/mock.go -package=mocks
type notificationService interface {
	Dispatch(ctx context.Context, strategy retry.Strategy, n model.Notification) (model.Notification, bool, error)
	Retry(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error)
	Get(ctx context.Context, id uuid.UUID) (model.Notification, error)
	List(ctx context.Context, f model.ListFilter) ([]model.Notification, model.Pagination, error)
	Stats(ctx context.Context) (model.StatsSummary, error)
}

// Handler handles HTTP requests related to notifications.
type Handler struct {
	service   notificationService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(
	s notificationService,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// DispatchRequest represents the JSON body of a dispatch request.
type DispatchRequest struct {
	Title         string                 `json:"title" validate:"required,min=1,max=100"`
	Body          string                 `json:"body" validate:"required,min=1,max=500"`
	Data          map[string]interface{} `json:"data,omitempty"`
	ImageURL      string                 `json:"imageUrl,omitempty" validate:"omitempty,httpurl"`
	UserIDs       []string               `json:"userIds,omitempty" validate:"omitempty,dive,required"`
	Topic         string                 `json:"topic,omitempty" validate:"omitempty,topicname"`
	ScheduledTime string                 `json:"scheduledTime,omitempty"`
}

var (
	httpURLRe = regexp.MustCompile(`^https?://\S+$`)
	topicRe   = regexp.MustCompile(`^[A-Za-z0-9\-_.~%]+$`)
)

// RegisterValidations installs the custom field rules used by
// DispatchRequest and makes violation messages use JSON field names.
func RegisterValidations(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		return httpURLRe.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}

	return v.RegisterValidation("topicname", func(fl validator.FieldLevel) bool {
		return topicRe.MatchString(fl.Field().String())
	})
}

// violationMessages turns a validator error into human-readable reasons.
func violationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, violationMessage(fe))
	}

	return out
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "httpurl":
		return fmt.Sprintf("%s must be a valid http(s) URL", fe.Field())
	case "topicname":
		return fmt.Sprintf("%s may only contain letters, digits and -_.~%%", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// dataViolations checks that every data value is a JSON primitive.
func dataViolations(data map[string]interface{}) []string {
	var out []string
	for key, value := range data {
		switch value.(type) {
		case nil, string, bool, float64:
		default:
			out = append(out, fmt.Sprintf("data.%s must be a string, number, boolean or null", key))
		}
	}

	return out
}

// Dispatch handles HTTP POST requests to send or schedule a notification.
//
// Immediate sends return 200 with the provider message id; deferred sends
// return 202 with the scheduled time. A provider failure on an immediate
// send returns 500 even though the record has already been persisted as
// failed.
func (h *Handler) Dispatch(c *ginext.Context) {
	var req DispatchRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, "validation failed", violationMessages(err)...)
		return
	}

	if details := dataViolations(req.Data); len(details) > 0 {
		zlog.Logger.Warn().Strs("details", details).Msg("non-primitive data values")
		respond.Fail(c.Writer, http.StatusBadRequest, "validation failed", details...)
		return
	}

	var scheduledAt *time.Time
	if req.ScheduledTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("failed to parse scheduledTime")
			respond.Fail(c.Writer, http.StatusBadRequest, "validation failed",
				"scheduledTime must be a valid RFC 3339 timestamp")
			return
		}
		scheduledAt = &parsed
	}

	n := model.Notification{
		Title:       req.Title,
		Body:        req.Body,
		Data:        model.DataMap(req.Data),
		ImageURL:    req.ImageURL,
		UserIDs:     req.UserIDs,
		Topic:       req.Topic,
		ScheduledAt: scheduledAt,
	}

	dispatched, scheduled, err := h.service.Dispatch(c.Request.Context(), h.cfg.Retry, n)
	if err != nil {
		if errors.Is(err, notifsvc.ErrNoTarget) {
			zlog.Logger.Warn().Msg("request without delivery target")
			respond.Fail(c.Writer, http.StatusBadRequest, "validation failed", notifsvc.ErrNoTarget.Error())
			return
		}

		zlog.Logger.Error().Err(err).Str("title", n.Title).Msg("failed to dispatch notification")
		respond.Error(c.Writer, http.StatusInternalServerError, "failed to send notification", err.Error())
		return
	}

	if scheduled {
		respond.Accepted(c.Writer, map[string]interface{}{
			"success":       true,
			"message":       "notification scheduled",
			"scheduledTime": dispatched.ScheduledAt,
			"notification":  dispatched,
		})
		return
	}

	respond.OK(c.Writer, map[string]interface{}{
		"success":      true,
		"messageId":    dispatched.MessageID,
		"notification": dispatched,
	})
}

// List handles HTTP GET requests for the notification history.
func (h *Handler) List(c *ginext.Context) {
	var f model.ListFilter

	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			respond.Fail(c.Writer, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = v
	}

	if s := c.Query("offset"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			respond.Fail(c.Writer, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		f.Offset = v
	}

	if s := c.Query("status"); s != "" {
		status := model.Status(s)
		if !status.Valid() {
			respond.Fail(c.Writer, http.StatusBadRequest, "unknown status "+s)
			return
		}
		f.Status = status
	}

	f.Topic = c.Query("topic")
	f.Search = c.Query("search")

	if s := c.Query("startDate"); s != "" {
		from, err := time.Parse("2006-01-02", s)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, "startDate must be a YYYY-MM-DD date")
			return
		}
		f.From = &from
	}

	if s := c.Query("endDate"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, "endDate must be a YYYY-MM-DD date")
			return
		}

		// Inclusive end of day.
		to := parsed.AddDate(0, 0, 1)
		f.To = &to
	}

	notifications, pagination, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list notifications")
		respond.Error(c.Writer, http.StatusInternalServerError, "internal server error", "")
		return
	}

	if notifications == nil {
		notifications = []model.Notification{}
	}

	respond.OK(c.Writer, map[string]interface{}{
		"data":       notifications,
		"pagination": pagination,
	})
}

// Get handles HTTP GET requests for a single notification.
func (h *Handler) Get(c *ginext.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, "invalid id")
		return
	}

	n, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			respond.NotFound(c.Writer, "notification not found")
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get notification")
		respond.Error(c.Writer, http.StatusInternalServerError, "internal server error", "")
		return
	}

	respond.OK(c.Writer, map[string]interface{}{
		"success": true,
		"data":    n,
	})
}

// Retry handles HTTP POST requests to re-attempt a failed notification.
func (h *Handler) Retry(c *ginext.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", idStr).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, "invalid id")
		return
	}

	retried, err := h.service.Retry(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		switch {
		case errors.Is(err, notifrepo.ErrNotificationNotFound):
			respond.NotFound(c.Writer, "notification not found")
		case errors.Is(err, notifrepo.ErrInvalidStatus):
			respond.Fail(c.Writer, http.StatusBadRequest, "only failed notifications can be retried")
		default:
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("retry attempt failed")
			respond.Error(c.Writer, http.StatusInternalServerError, "failed to send notification", err.Error())
		}
		return
	}

	respond.OK(c.Writer, map[string]interface{}{
		"success":      true,
		"messageId":    retried.MessageID,
		"notification": retried,
	})
}

// Stats handles HTTP GET requests for aggregate notification statistics.
func (h *Handler) Stats(c *ginext.Context) {
	summary, err := h.service.Stats(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get stats")
		respond.Error(c.Writer, http.StatusInternalServerError, "internal server error", "")
		return
	}

	respond.OK(c.Writer, map[string]interface{}{
		"success": true,
		"data":    summary,
	})
}
