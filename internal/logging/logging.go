// Package logging builds the single zap logger instance threaded through
// the gateway, its pipeline stages, and the control surface.
package logging

import "go.uber.org/zap"

// New builds a production zap logger and returns it pre-sugared; the
// single instance is threaded through every constructor that logs.
func New() (*zap.SugaredLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewDevelopment builds a human-readable logger, selected by
// cmd/gateway's -dev-log flag for local runs where production JSON
// logging is noise.
func NewDevelopment() (*zap.SugaredLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
