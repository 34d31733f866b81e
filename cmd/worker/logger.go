package main

import (
	"github.com/septivank/occupancy-billing-worker/internal/config"
	"github.com/septivank/occupancy-billing-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
