package observability

import (
	"strings"

	"github.com/opencorehq/tenantcore/internal/config"
)

// Config holds observability settings derived from process configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelSamplingRatio float64
}

func LoadConfig(appCfg config.Config) Config {
	return Config{
		ServiceName:      appCfg.AppName,
		Environment:      appCfg.Environment,
		Version:          appCfg.AppVersion,
		LogLevel:         appCfg.LogLevel,
		LogFormat:        appCfg.LogFormat,
		OtelEnabled:       appCfg.OtelEnabled,
		OtelEndpoint:      appCfg.OTLPEndpoint,
		OtelSamplingRatio: 1.0,
	}
}

func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}
