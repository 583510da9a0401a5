package lifecycle

import (
	"context"

	"auction-engine/internal/models"
	"auction-engine/internal/payment"
)

type noopGateway struct{}

func (noopGateway) Capture(_ context.Context, req payment.CaptureRequest) (string, error) {
	return "ref-" + req.IdempotencyKey, nil
}

type noopNotifier struct{}

func (noopNotifier) Emit(string, models.NotificationType, models.NotificationRef) {}
