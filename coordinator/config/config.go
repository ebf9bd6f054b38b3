// Package config loads coordinator settings from the environment, grounded
// on coordinator_service/settings.py's Settings.from_env and on the
// teacher's plain os.Getenv-based wiring in control_plane/main.go.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every coordinator environment setting.
type Config struct {
	Host                string
	Port                string
	LogLevel            string
	HeartbeatTTLSeconds int
	NodeStaleSeconds    int
	CORSOrigins         []string
	DBURL               string
	SharedSecret        string
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// FromEnv reads COORDINATOR_* and related variables, applying the same
// defaults as the original implementation's Settings.from_env.
func FromEnv() Config {
	var origins []string
	if raw := os.Getenv("COORDINATOR_CORS_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				origins = append(origins, o)
			}
		}
	}

	return Config{
		Host:                getEnvDefault("COORDINATOR_HOST", "0.0.0.0"),
		Port:                getEnvDefault("COORDINATOR_PORT", "8080"),
		LogLevel:            getEnvDefault("COORDINATOR_LOG_LEVEL", "info"),
		HeartbeatTTLSeconds: getEnvIntDefault("COORDINATOR_HEARTBEAT_TTL_SECONDS", 30),
		NodeStaleSeconds:    getEnvIntDefault("NODE_STALE_SECONDS", 15),
		CORSOrigins:         origins,
		DBURL:               os.Getenv("COORDINATOR_DB_URL"),
		SharedSecret:        strings.TrimSpace(os.Getenv("EDGE_MESH_SHARED_SECRET")),
	}
}

// Addr is the listen address derived from Host and Port.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
