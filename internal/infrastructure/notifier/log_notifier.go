// Package notifier holds notifiers that need no external service
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
)

// LogNotifier writes notifications to the log. It stands in for a real
// channel when none is configured.
type LogNotifier struct {
	logger *zap.Logger
}

var _ port.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg port.Notification) (string, error) {
	n.logger.Info("Notification",
		zap.String("delivery_id", msg.DeliveryID),
		zap.Int64("instance_id", msg.InstanceID),
		zap.String("template", msg.Template),
		zap.Strings("recipients", msg.Recipients),
		zap.Any("payload", msg.Payload))
	return msg.DeliveryID, nil
}
