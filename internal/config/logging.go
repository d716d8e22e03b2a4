package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the zap logger the config describes
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if c.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}
