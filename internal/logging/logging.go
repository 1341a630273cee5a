package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a JSON production logger, or a console development logger when
// mode is "dev" or "development".
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}

// Must is New with a no-op fallback.
func Must(mode string) *zap.Logger {
	logger, err := New(mode)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
