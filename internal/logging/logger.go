package logging

import (
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

// WithClient returns a logger with a client_id field for per-connection logs.
func WithClient(logger *zap.Logger, clientID string) *zap.Logger {
	return logger.With(zap.String("client_id", clientID))
}
