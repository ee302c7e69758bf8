package messaging

import (
	"context"
	"fmt"

	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// dispatchToHandler safely dispatches an envelope to a handler. Handler
// errors and panics are logged; the broker never redelivers on its own.
// The handler context carries the remote trace, the correlation and message
// IDs, and the broker logger tagged with the destination.
func dispatchToHandler(ctx context.Context, log *zap.Logger, destination string, handler shared.MessageHandler, env *shared.Envelope) (err error) {
	ctx = ExtractTraceContext(ctx, env)
	ctx, _ = logger.WithMessage(ctx, log.With(zap.String("destination", destination)), env.CorrelationID, env.MessageID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			logger.L(ctx).Error("handler panicked", zap.Any("panic", r))
		}
	}()

	if err = handler.Handle(ctx, env); err != nil {
		logger.L(ctx).Error("handler failed to process message", zap.Error(err))
	}
	return err
}
