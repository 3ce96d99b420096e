package datasource

import (
	"os"
	"strconv"
)

type Config struct {
	Port             int
	HeadOnly         bool
	HeadOnlySegments int
}

const defaultHeadOnlySegments = 3

// NewDefaultConfig mirrors the teacher's NewDefaultConfig pattern: typed
// fallbacks read from the environment, overridable by whatever
// PublicFacade.start_server was actually called with.
func NewDefaultConfig(port int) *Config {
	cfg := &Config{Port: port, HeadOnlySegments: defaultHeadOnlySegments}
	if v, ok := os.LookupEnv("HLS_PROXY_HEAD_ONLY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HeadOnly = b
		}
	}
	if v, ok := os.LookupEnv("HLS_PROXY_HEAD_ONLY_SEGMENTS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HeadOnlySegments = n
		}
	}
	return cfg
}
