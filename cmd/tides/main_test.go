package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bbernstein/tidecal/internal/adapter"
	"github.com/bbernstein/tidecal/internal/catalog"
	"github.com/bbernstein/tidecal/internal/config"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/internal/tide"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noaaCSV = "Date,Time, Prediction, Type\n2024-06-01,00:17, 3.245, H\n2024-06-01,06:42, 0.123, L\n2024-06-01,12:55, 2.981, H"

func TestMain(m *testing.M) {
	_ = os.Setenv("LOG_LEVEL", "debug")
	_ = os.Setenv("ENV", "test")
	os.Exit(m.Run())
}

func newNOAAServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "predictions", q.Get("product"))
		assert.Equal(t, "tidecal", q.Get("application"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestConfig(t *testing.T, noaaURL string) *config.Config {
	t.Helper()
	return config.New(
		config.WithNOAABaseURL(noaaURL),
		config.WithCHSBaseURL(noaaURL),
		config.WithCatalogDSN("sqlite:"+filepath.Join(t.TempDir(), "catalog.db")),
		config.WithHTTPTimeout(5*time.Second),
	)
}

func runTides(t *testing.T, cfg *config.Config, m *metrics.Metrics, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := run(context.Background(), cfg, m, args, &out)
	return code, out.String()
}

func TestRunPrintsMonth(t *testing.T) {
	server := newNOAAServer(t, http.StatusOK, noaaCSV)
	cfg := newTestConfig(t, server.URL)
	m := metrics.NewMetricsForTesting()

	code, out := runTides(t, cfg, m, "-station", "9447130", "-year", "2024", "-month", "6")
	require.Equal(t, exitOK, code, out)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"9447130 (NOAA) June 2024",
		"6/1  00:17 High 3.2 m",
		"6/1*  06:42 Low 0.1 m",
		"6/1  12:55 High 3.0 m",
	}, lines)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderFetches.WithLabelValues("NOAA", "ok")), 1e-9)

	// the lookup landed in the catalog
	store, err := catalog.Open(context.Background(), cfg.CatalogDSN)
	require.NoError(t, err)
	defer store.Close()
	record, err := store.Get(context.Background(), "9447130")
	require.NoError(t, err)
	assert.Equal(t, 1, record.UsageCount)
	assert.Equal(t, models.SourceNOAA, record.Source)
}

func TestRunLowWaterFlag(t *testing.T) {
	server := newNOAAServer(t, http.StatusOK, noaaCSV)
	cfg := newTestConfig(t, server.URL)

	code, out := runTides(t, cfg, metrics.NewMetricsForTesting(),
		"-station", "9447130", "-year", "2024", "-month", "6", "-low-water", "0.05")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "6/1  06:42 Low 0.1 m")
	assert.NotContains(t, out, "*")
}

func TestRunJSON(t *testing.T) {
	server := newNOAAServer(t, http.StatusOK, noaaCSV)
	cfg := newTestConfig(t, server.URL)

	code, out := runTides(t, cfg, metrics.NewMetricsForTesting(),
		"-station", "9447130", "-year", "2024", "-month", "6", "-json")
	require.Equal(t, exitOK, code)

	var result tide.MonthEvents
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "9447130", result.StationID)
	assert.Equal(t, models.SourceNOAA, result.Source)
	assert.Len(t, result.Events, 3)
	assert.Equal(t, 1, result.LookupCount)
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		args   []string
		want   int
	}{
		{
			name: "missing station",
			args: []string{"-year", "2024"},
			want: exitUsage,
		},
		{
			name: "bad flag",
			args: []string{"-station", "9447130", "-month", "June"},
			want: exitUsage,
		},
		{
			name: "month out of range",
			args: []string{"-station", "9447130", "-year", "2024", "-month", "13"},
			want: exitUsage,
		},
		{
			name: "unrecognized station id",
			args: []string{"-station", "12", "-year", "2024", "-month", "6"},
			want: exitUnknown,
		},
		{
			name:   "provider has no data",
			status: http.StatusOK,
			body:   "Error: No Predictions data was found. Please make sure the Datum input is valid.",
			args:   []string{"-station", "9447130", "-year", "2024", "-month", "6"},
			want:   exitNoData,
		},
		{
			name:   "provider down",
			status: http.StatusServiceUnavailable,
			args:   []string{"-station", "9447130", "-year", "2024", "-month", "6"},
			want:   exitUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.status
			if status == 0 {
				status = http.StatusOK
			}
			server := newNOAAServer(t, status, tt.body)
			cfg := newTestConfig(t, server.URL)

			code, _ := runTides(t, cfg, metrics.NewMetricsForTesting(), tt.args...)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestRunWithoutCatalog(t *testing.T) {
	server := newNOAAServer(t, http.StatusOK, noaaCSV)
	cfg := newTestConfig(t, server.URL)
	cfg.CatalogDSN = "sqlite:" + filepath.Join(t.TempDir(), "missing", "dir", "catalog.db")

	code, out := runTides(t, cfg, metrics.NewMetricsForTesting(), "-station", "9447130", "-year", "2024", "-month", "6")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "6/1  00:17 High 3.2 m")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitUsage, exitCode(adapter.NewInputError("month", "out of range")))
	assert.Equal(t, exitUnknown, exitCode(adapter.NewUnknownStationError("x", "bad", nil)))
	assert.Equal(t, exitNoData, exitCode(fmt.Errorf("wrapped: %w", adapter.ErrNoData)))
	assert.Equal(t, exitUnavailable, exitCode(adapter.NewUnavailableError(models.SourceCHS, "down", 502, nil)))
	assert.Equal(t, exitUnavailable, exitCode(context.DeadlineExceeded))
	assert.Equal(t, exitError, exitCode(errors.New("boom")))
}
