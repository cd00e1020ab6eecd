package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录一段操作的耗时，用法: defer util.Trace(logger, "remove background")()
func Trace(logger *zap.Logger, msg string) func() {
	start := time.Now()
	logger.Debug("start " + msg)
	return func() {
		logger.Debug("finish "+msg, zap.Duration("elapsed", time.Since(start)))
	}
}
