package cli

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a console (development) or JSON (production) logger at
// level.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = lvl
	return cfg.Build()
}
