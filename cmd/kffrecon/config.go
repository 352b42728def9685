package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"kff-recon/pkg/episode"
	"kff-recon/pkg/fifo"
	"kff-recon/pkg/qpsolve"
)

const (
	envActiveThreshold   = "KFF_ACTIVE_THRESHOLD"
	envMinActiveMinutes  = "KFF_MIN_ACTIVE_MINUTES"
	envMaxGapMinutes     = "KFF_MAX_GAP_MINUTES"
	envMinEpisodeMinutes = "KFF_MIN_EPISODE_MINUTES"
	envBufferMinutes     = "KFF_BUFFER_MINUTES"
	envWIn               = "KFF_W_IN"
	envWOut              = "KFF_W_OUT"
	envSmoothIn          = "KFF_SMOOTH_IN"
	envSmoothOut         = "KFF_SMOOTH_OUT"
	envAdaptivePrior     = "KFF_ADAPTIVE_INFLOW_PRIOR"
	envEpsOut            = "KFF_EPS_OUT"
	envWorkers           = "KFF_WORKERS"
)

// runtimeConfig bundles the three pipeline stage configs plus the worker
// pool size, loaded from defaults, overlaid with an optional YAML file,
// overlaid with environment variables, the same three-tier precedence the
// teacher's loadConfig uses for runtimeConfig.
type runtimeConfig struct {
	Episode episode.Config
	QP      qpsolve.Config
	FIFO    fifo.Config
	Pool    poolConfig
}

type poolConfig struct {
	Workers int
}

type fileConfig struct {
	Episode episodeFileConfig `yaml:"episode"`
	QP      qpFileConfig      `yaml:"reconcile"`
	FIFO    fifoFileConfig    `yaml:"fifo"`
	Pool    poolFileConfig    `yaml:"pool"`
}

type episodeFileConfig struct {
	ActiveThreshold   *float64 `yaml:"activeThreshold"`
	MinActiveMinutes  *int     `yaml:"minActiveMinutes"`
	MaxGapMinutes     *int     `yaml:"maxGapMinutes"`
	MinEpisodeMinutes *int     `yaml:"minEpisodeMinutes"`
	BufferMinutes     *int     `yaml:"bufferMinutes"`
}

type qpFileConfig struct {
	Q0                  *float64 `yaml:"q0"`
	WIn                 *float64 `yaml:"wIn"`
	WOut                *float64 `yaml:"wOut"`
	SmoothIn            *float64 `yaml:"smoothIn"`
	SmoothOut           *float64 `yaml:"smoothOut"`
	NonnegativeFlows    *bool    `yaml:"nonnegativeFlows"`
	AdaptiveInflowPrior *bool    `yaml:"adaptiveInflowPrior"`
}

type fifoFileConfig struct {
	EpsOut *float64 `yaml:"epsOut"`
	Delta  *float64 `yaml:"delta"`
}

type poolFileConfig struct {
	Workers *int `yaml:"workers"`
}

func defaultRuntimeConfig() runtimeConfig {
	workers := runtime.NumCPU()
	if workers <= 0 {
		workers = 1
	}

	return runtimeConfig{
		Episode: episode.DefaultConfig(),
		QP:      qpsolve.DefaultConfig(),
		FIFO:    fifo.DefaultConfig(),
		Pool:    poolConfig{Workers: workers},
	}
}

func loadConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)

		return cfg, nil
	}

	data, err := os.ReadFile(trimmed) //nolint:gosec // CLI-provided path is operator-controlled
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return runtimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	} else {
		var fileCfg fileConfig

		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return runtimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
		}

		mergeEpisodeConfig(&cfg.Episode, fileCfg.Episode)
		mergeQPConfig(&cfg.QP, fileCfg.QP)
		mergeFIFOConfig(&cfg.FIFO, fileCfg.FIFO)
		mergePoolConfig(&cfg.Pool, fileCfg.Pool)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergeEpisodeConfig(dst *episode.Config, src episodeFileConfig) {
	assignFloat(&dst.ActiveThreshold, src.ActiveThreshold)
	assignInt(&dst.MinActiveMinutes, src.MinActiveMinutes)
	assignInt(&dst.MaxGapMinutes, src.MaxGapMinutes)
	assignInt(&dst.MinEpisodeMinutes, src.MinEpisodeMinutes)
	assignInt(&dst.BufferMinutes, src.BufferMinutes)
}

func mergeQPConfig(dst *qpsolve.Config, src qpFileConfig) {
	assignFloat(&dst.Q0, src.Q0)
	assignFloat(&dst.WIn, src.WIn)
	assignFloat(&dst.WOut, src.WOut)
	assignFloat(&dst.SmoothIn, src.SmoothIn)
	assignFloat(&dst.SmoothOut, src.SmoothOut)
	assignBool(&dst.NonnegativeFlows, src.NonnegativeFlows)
	assignBool(&dst.AdaptiveInflowPrior, src.AdaptiveInflowPrior)
}

func mergeFIFOConfig(dst *fifo.Config, src fifoFileConfig) {
	assignFloat(&dst.EpsOut, src.EpsOut)
	assignFloat(&dst.Delta, src.Delta)
}

func mergePoolConfig(dst *poolConfig, src poolFileConfig) {
	assignInt(&dst.Workers, src.Workers)
}

func applyEnvOverrides(cfg *runtimeConfig) {
	cfg.Episode.ActiveThreshold = envFloat(envActiveThreshold, cfg.Episode.ActiveThreshold)
	cfg.Episode.MinActiveMinutes = envInt(envMinActiveMinutes, cfg.Episode.MinActiveMinutes)
	cfg.Episode.MaxGapMinutes = envInt(envMaxGapMinutes, cfg.Episode.MaxGapMinutes)
	cfg.Episode.MinEpisodeMinutes = envInt(envMinEpisodeMinutes, cfg.Episode.MinEpisodeMinutes)
	cfg.Episode.BufferMinutes = envInt(envBufferMinutes, cfg.Episode.BufferMinutes)

	cfg.QP.WIn = envFloat(envWIn, cfg.QP.WIn)
	cfg.QP.WOut = envFloat(envWOut, cfg.QP.WOut)
	cfg.QP.SmoothIn = envFloat(envSmoothIn, cfg.QP.SmoothIn)
	cfg.QP.SmoothOut = envFloat(envSmoothOut, cfg.QP.SmoothOut)
	cfg.QP.AdaptiveInflowPrior = envBool(envAdaptivePrior, cfg.QP.AdaptiveInflowPrior)

	cfg.FIFO.EpsOut = envFloat(envEpsOut, cfg.FIFO.EpsOut)

	cfg.Pool.Workers = envInt(envWorkers, cfg.Pool.Workers)
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 1
	}
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func assignFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func assignInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func assignBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}

func envFloat(key string, fallback float64) float64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envInt(key string, fallback int) int {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}

	return parsed
}

func envBool(key string, fallback bool) bool {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}

	return parsed
}
