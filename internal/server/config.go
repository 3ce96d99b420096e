package server

import (
	"os"
	"path/filepath"
)

type Config struct {
	CacheRoot                string
	PruneCron                string // recurring background prune schedule, robfig/cron syntax
	StatsLogCron             string
	InitialPruneDelaySeconds int
}

const (
	defaultPruneCron                = "@every 5m"
	defaultStatsLogCron             = "@every 1m"
	defaultInitialPruneDelaySeconds = 8 // spec.md §4.A: "e.g. 5-10s later"
)

// NewDefaultConfig mirrors the teacher's NewDefault*Config idiom. cacheRoot
// defaults to the OS user cache dir + "hlscacheproxy" (the Go analogue of
// spec.md §6's "platform caches directory + ExpoVideoCache/").
func NewDefaultConfig() *Config {
	root, err := os.UserCacheDir()
	if err != nil || root == "" {
		root = os.TempDir()
	}
	cfg := &Config{
		CacheRoot:                filepath.Join(root, "hlscacheproxy"),
		PruneCron:                defaultPruneCron,
		StatsLogCron:             defaultStatsLogCron,
		InitialPruneDelaySeconds: defaultInitialPruneDelaySeconds,
	}
	if v, ok := os.LookupEnv("HLS_PROXY_CACHE_ROOT"); ok && v != "" {
		cfg.CacheRoot = v
	}
	if v, ok := os.LookupEnv("HLS_PROXY_PRUNE_CRON"); ok && v != "" {
		cfg.PruneCron = v
	}
	return cfg
}
