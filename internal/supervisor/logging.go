package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"conductor/internal/config"
)

// NewLogger builds the process logger: JSON to stderr, teed into the
// daily file <orchestrator>/logs/executor_<YYYYMMDD>.log. The file date
// is fixed at startup; a long-lived process keeps writing to the file
// it opened.
func NewLogger(cfg config.Config, verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	consoleCore := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)

	if err := os.MkdirAll(cfg.LogDir(), 0755); err != nil {
		// Console-only is better than refusing to start.
		logger := zap.New(consoleCore)
		logger.Warn("log directory not writable, console only", zap.Error(err))
		return logger, nil
	}
	path := filepath.Join(cfg.LogDir(),
		fmt.Sprintf("executor_%s.log", time.Now().Format("20060102")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logger := zap.New(consoleCore)
		logger.Warn("daily log file not writable, console only",
			zap.String("path", path), zap.Error(err))
		return logger, nil
	}

	fileCore := zapcore.NewCore(encoder, zapcore.AddSync(file), level)
	return zap.New(zapcore.NewTee(consoleCore, fileCore)), nil
}
