package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/avoronkov/push-dispatcher/internal/rabbitmq/queue"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/rabbitmq/handlers/notification/mock.go -package=mocks
type deliveryService interface {
	Deliver(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
}

// Handler consumes dispatch messages and runs the delivery attempt for
// each. Delivery outcomes (sent/failed) are recorded by the service; an
// error here means the attempt itself could not be run, so it is retried
// with the configured strategy before the message is given up on.
type Handler struct {
	service deliveryService
}

func NewHandler(svc deliveryService) *Handler {
	return &Handler{
		service: svc,
	}
}

func (h *Handler) HandleMessage(ctx context.Context, msg queue.DispatchMessage, strategy retry.Strategy) {
	zlog.Logger.Info().Str("id", msg.ID.String()).Msg("handling dispatch message")

	err := retry.Do(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return h.service.Deliver(ctx, strategy, msg.ID)
		}
	}, strategy)

	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", msg.ID.String()).Msg("failed to run delivery attempt")
		return
	}

	zlog.Logger.Info().Str("id", msg.ID.String()).Msg("dispatch message handled")
}
