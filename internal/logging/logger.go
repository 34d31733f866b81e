package logging

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithTrigger returns a logger scoped to one trigger event.
// Every call gets a fresh event_id so that interleaved events can be told apart.
func WithTrigger(logger *zap.Logger, address string) *zap.Logger {
	return logger.With(
		zap.String("event_id", uuid.NewString()),
		zap.String("trigger_address", address),
	)
}
