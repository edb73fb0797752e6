package main

import (
	"github.com/dev-anmol/iec-gateway/internal/config"
	"github.com/dev-anmol/iec-gateway/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
