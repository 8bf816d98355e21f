package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// CacheConfig holds all cache-related configuration
type CacheConfig struct {
	// CHS code to UUID resolutions
	ResolutionLRUSize       int
	ResolutionLRUTTLMinutes int

	// Monthly event lists keyed by station, year and month
	EventLRUSize       int
	EventLRUTTLMinutes int

	EnableEventCache bool
}

const (
	defaultResolutionLRUSize       = 2000
	defaultResolutionLRUTTLMinutes = 24 * 60
	defaultEventLRUSize            = 500
	defaultEventLRUTTLMinutes      = 60
)

// GetCacheConfig returns the cache configuration from environment variables or defaults
func GetCacheConfig() *CacheConfig {
	config := &CacheConfig{
		ResolutionLRUSize:       getEnvInt("CACHE_RESOLUTION_LRU_SIZE", defaultResolutionLRUSize),
		ResolutionLRUTTLMinutes: getEnvInt("CACHE_RESOLUTION_TTL_MINUTES", defaultResolutionLRUTTLMinutes),
		EventLRUSize:            getEnvInt("CACHE_EVENT_LRU_SIZE", defaultEventLRUSize),
		EventLRUTTLMinutes:      getEnvInt("CACHE_EVENT_TTL_MINUTES", defaultEventLRUTTLMinutes),
		EnableEventCache:        getEnvBool("CACHE_ENABLE_EVENTS", true),
	}

	log.Debug().
		Int("ResolutionLRUSize", config.ResolutionLRUSize).
		Int("ResolutionLRUTTLMinutes", config.ResolutionLRUTTLMinutes).
		Int("EventLRUSize", config.EventLRUSize).
		Int("EventLRUTTLMinutes", config.EventLRUTTLMinutes).
		Bool("EnableEventCache", config.EnableEventCache).
		Msg("Cache configuration loaded")

	return config
}

func (c *CacheConfig) GetResolutionTTL() time.Duration {
	return time.Duration(c.ResolutionLRUTTLMinutes) * time.Minute
}

func (c *CacheConfig) GetEventTTL() time.Duration {
	return time.Duration(c.EventLRUTTLMinutes) * time.Minute
}

// Helper functions to get environment variables with defaults
func getEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
		log.Warn().Str("key", key).Msg("Invalid integer value in environment variable, using default")
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Msg("Invalid float value in environment variable, using default")
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}
