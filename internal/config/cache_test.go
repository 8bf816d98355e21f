package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var cacheEnvVars = []string{
	"CACHE_RESOLUTION_LRU_SIZE",
	"CACHE_RESOLUTION_TTL_MINUTES",
	"CACHE_EVENT_LRU_SIZE",
	"CACHE_EVENT_TTL_MINUTES",
	"CACHE_ENABLE_EVENTS",
}

// clearCacheEnv blanks every cache variable for the duration of the test.
// t.Setenv restores the originals on cleanup.
func clearCacheEnv(t *testing.T) {
	t.Helper()
	for _, k := range cacheEnvVars {
		t.Setenv(k, "")
	}
}

func TestGetCacheConfig(t *testing.T) {
	tests := []struct {
		name            string
		envVars         map[string]string
		wantResolution  int
		wantResTTL      time.Duration
		wantEventSize   int
		wantEventTTL    time.Duration
		wantEventsOnOff bool
	}{
		{
			name:            "default configuration",
			envVars:         map[string]string{},
			wantResolution:  defaultResolutionLRUSize,
			wantResTTL:      time.Duration(defaultResolutionLRUTTLMinutes) * time.Minute,
			wantEventSize:   defaultEventLRUSize,
			wantEventTTL:    time.Duration(defaultEventLRUTTLMinutes) * time.Minute,
			wantEventsOnOff: true,
		},
		{
			name: "custom configuration",
			envVars: map[string]string{
				"CACHE_RESOLUTION_LRU_SIZE":    "50",
				"CACHE_RESOLUTION_TTL_MINUTES": "30",
				"CACHE_EVENT_LRU_SIZE":         "10",
				"CACHE_EVENT_TTL_MINUTES":      "5",
			},
			wantResolution:  50,
			wantResTTL:      30 * time.Minute,
			wantEventSize:   10,
			wantEventTTL:    5 * time.Minute,
			wantEventsOnOff: true,
		},
		{
			name: "disabled event cache",
			envVars: map[string]string{
				"CACHE_ENABLE_EVENTS": "false",
			},
			wantResolution:  defaultResolutionLRUSize,
			wantResTTL:      time.Duration(defaultResolutionLRUTTLMinutes) * time.Minute,
			wantEventSize:   defaultEventLRUSize,
			wantEventTTL:    time.Duration(defaultEventLRUTTLMinutes) * time.Minute,
			wantEventsOnOff: false,
		},
		{
			name: "invalid numeric values fall back to defaults",
			envVars: map[string]string{
				"CACHE_RESOLUTION_LRU_SIZE": "invalid",
				"CACHE_EVENT_LRU_SIZE":      "not_a_number",
			},
			wantResolution:  defaultResolutionLRUSize,
			wantResTTL:      time.Duration(defaultResolutionLRUTTLMinutes) * time.Minute,
			wantEventSize:   defaultEventLRUSize,
			wantEventTTL:    time.Duration(defaultEventLRUTTLMinutes) * time.Minute,
			wantEventsOnOff: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearCacheEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config := GetCacheConfig()

			assert.Equal(t, tt.wantResolution, config.ResolutionLRUSize)
			assert.Equal(t, tt.wantResTTL, config.GetResolutionTTL())
			assert.Equal(t, tt.wantEventSize, config.EventLRUSize)
			assert.Equal(t, tt.wantEventTTL, config.GetEventTTL())
			assert.Equal(t, tt.wantEventsOnOff, config.EnableEventCache)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT_ENV_VAR", "0.25")
	t.Setenv("TEST_BAD_FLOAT_ENV_VAR", "low")

	assert.InDelta(t, 0.25, getEnvFloat("TEST_FLOAT_ENV_VAR", 1), 1e-9)
	assert.InDelta(t, 1.0, getEnvFloat("TEST_BAD_FLOAT_ENV_VAR", 1), 1e-9)
	assert.InDelta(t, 2.0, getEnvFloat("NON_EXISTENT_FLOAT_ENV_VAR", 2), 1e-9)
}
