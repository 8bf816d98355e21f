package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultNOAABaseURL = "https://api.tidesandcurrents.noaa.gov/api/prod/datagetter"
	DefaultCHSBaseURL  = "https://api-iwls.dfo-mpo.gc.ca/api/v1"
	DefaultUserAgent   = "TideCalendarSite/1.0 (tide calendar generator)"
	DefaultCatalogDSN  = "sqlite:tide_station_ids.db"

	defaultPopulationThreshold = 100
	defaultLowWaterMark        = 0.3
)

// DefaultCHSDirectoryURLs are tried in order when syncing the Canadian catalog.
var DefaultCHSDirectoryURLs = []string{
	"https://api.iwls-sine.azure.cloud-nuage.dfo-mpo.gc.ca/api/v1",
	"https://api-iwls.dfo-mpo.gc.ca/api/v1",
}

type Config struct {
	Environment string
	LogLevel    zerolog.Level
	HTTPTimeout time.Duration
	UserAgent   string

	NOAABaseURL      string
	CHSBaseURL       string
	CHSDirectoryURLs []string

	// CatalogDSN selects the catalog backend: "sqlite:<path>", a bare path,
	// or a postgres:// URL.
	CatalogDSN string

	CanadianSnapshotPath string
	USSnapshotPath       string
	SnapshotBucket       string
	CanadianSnapshotKey  string
	USSnapshotKey        string
	S3Endpoint           string
	AWSRegion            string

	// PopulationThreshold skips the US snapshot import when the catalog
	// already holds at least this many described NOAA rows.
	PopulationThreshold int
	LowWaterMark        float64
	MetricsTextfile     string
}

type Option func(*Config)

// WithEnvironment allows setting the environment
func WithEnvironment(env string) Option {
	return func(c *Config) {
		c.Environment = env
	}
}

// WithLogLevel allows setting the log level
func WithLogLevel(level string) Option {
	return func(c *Config) {
		parsedLevel, err := zerolog.ParseLevel(level)
		if err != nil {
			parsedLevel = zerolog.InfoLevel
		}
		c.LogLevel = parsedLevel
	}
}

// WithHTTPTimeout allows setting the HTTP timeout
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HTTPTimeout = timeout
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

func WithNOAABaseURL(u string) Option {
	return func(c *Config) {
		c.NOAABaseURL = u
	}
}

func WithCHSBaseURL(u string) Option {
	return func(c *Config) {
		c.CHSBaseURL = u
	}
}

// WithCHSDirectoryURLs replaces the ordered directory endpoint list.
func WithCHSDirectoryURLs(urls ...string) Option {
	return func(c *Config) {
		if len(urls) > 0 {
			c.CHSDirectoryURLs = urls
		}
	}
}

func WithCatalogDSN(dsn string) Option {
	return func(c *Config) {
		c.CatalogDSN = dsn
	}
}

func WithSnapshotPaths(canadian, us string) Option {
	return func(c *Config) {
		c.CanadianSnapshotPath = canadian
		c.USSnapshotPath = us
	}
}

// WithSnapshotBucket enables the S3 snapshot source.
func WithSnapshotBucket(bucket, canadianKey, usKey string) Option {
	return func(c *Config) {
		c.SnapshotBucket = bucket
		if canadianKey != "" {
			c.CanadianSnapshotKey = canadianKey
		}
		if usKey != "" {
			c.USSnapshotKey = usKey
		}
	}
}

func WithS3Endpoint(endpoint, region string) Option {
	return func(c *Config) {
		c.S3Endpoint = endpoint
		if region != "" {
			c.AWSRegion = region
		}
	}
}

func WithPopulationThreshold(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.PopulationThreshold = n
		}
	}
}

func WithLowWaterMark(mark float64) Option {
	return func(c *Config) {
		c.LowWaterMark = mark
	}
}

func WithMetricsTextfile(path string) Option {
	return func(c *Config) {
		c.MetricsTextfile = path
	}
}

// New creates a new configuration with default values
func New(opts ...Option) *Config {
	cfg := &Config{
		Environment:         "production",
		LogLevel:            zerolog.InfoLevel,
		HTTPTimeout:         30 * time.Second,
		UserAgent:           DefaultUserAgent,
		NOAABaseURL:         DefaultNOAABaseURL,
		CHSBaseURL:          DefaultCHSBaseURL,
		CHSDirectoryURLs:    append([]string(nil), DefaultCHSDirectoryURLs...),
		CatalogDSN:          DefaultCatalogDSN,
		CanadianSnapshotKey: "snapshots/canadian_tide_stations.csv",
		USSnapshotKey:       "snapshots/tide_stations.csv",
		AWSRegion:           "us-east-1",
		PopulationThreshold: defaultPopulationThreshold,
		LowWaterMark:        defaultLowWaterMark,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// InitializeLogging sets up logging based on the configuration
func (c *Config) InitializeLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(c.LogLevel)

	if c.Environment == "local" || c.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return New(
		WithEnvironment(getEnvOrDefault("ENV", "production")),
		WithLogLevel(getEnvOrDefault("LOG_LEVEL", "info")),
		WithHTTPTimeout(getDurationEnvOrDefault("HTTP_TIMEOUT", 30*time.Second)),
		WithUserAgent(getEnvOrDefault("USER_AGENT", DefaultUserAgent)),
		WithNOAABaseURL(getEnvOrDefault("NOAA_BASE_URL", DefaultNOAABaseURL)),
		WithCHSBaseURL(getEnvOrDefault("CHS_BASE_URL", DefaultCHSBaseURL)),
		WithCHSDirectoryURLs(splitList(os.Getenv("CHS_DIRECTORY_URLS"))...),
		WithCatalogDSN(getEnvOrDefault("CATALOG_DSN", DefaultCatalogDSN)),
		WithSnapshotPaths(os.Getenv("SNAPSHOT_CA_PATH"), os.Getenv("SNAPSHOT_US_PATH")),
		WithSnapshotBucket(os.Getenv("SNAPSHOT_BUCKET"), os.Getenv("SNAPSHOT_CA_KEY"), os.Getenv("SNAPSHOT_US_KEY")),
		WithS3Endpoint(os.Getenv("S3_ENDPOINT"), os.Getenv("AWS_REGION")),
		WithPopulationThreshold(getEnvInt("POPULATION_THRESHOLD", defaultPopulationThreshold)),
		WithLowWaterMark(getEnvFloat("LOW_WATER_MARK", defaultLowWaterMark)),
		WithMetricsTextfile(os.Getenv("METRICS_TEXTFILE")),
	)
}

// Load reads the environment and then overlays the YAML file named by
// TIDECAL_CONFIG, when set.
func Load() (*Config, error) {
	cfg := LoadFromEnv()
	if path := os.Getenv("TIDECAL_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

type fileConfig struct {
	Environment      string   `yaml:"environment"`
	LogLevel         string   `yaml:"log_level"`
	HTTPTimeout      string   `yaml:"http_timeout"`
	UserAgent        string   `yaml:"user_agent"`
	NOAABaseURL      string   `yaml:"noaa_base_url"`
	CHSBaseURL       string   `yaml:"chs_base_url"`
	CHSDirectoryURLs []string `yaml:"chs_directory_urls"`
	CatalogDSN       string   `yaml:"catalog_dsn"`
	Snapshots        struct {
		CanadianPath string `yaml:"canadian_path"`
		USPath       string `yaml:"us_path"`
		Bucket       string `yaml:"bucket"`
		CanadianKey  string `yaml:"canadian_key"`
		USKey        string `yaml:"us_key"`
		S3Endpoint   string `yaml:"s3_endpoint"`
		Region       string `yaml:"region"`
	} `yaml:"snapshots"`
	PopulationThreshold *int     `yaml:"population_threshold"`
	LowWaterMark        *float64 `yaml:"low_water_mark"`
	MetricsTextfile     string   `yaml:"metrics_textfile"`
}

// LoadFile overlays non-empty values from a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	var opts []Option
	if fc.Environment != "" {
		opts = append(opts, WithEnvironment(fc.Environment))
	}
	if fc.LogLevel != "" {
		opts = append(opts, WithLogLevel(fc.LogLevel))
	}
	if fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("parsing http_timeout: %w", err)
		}
		opts = append(opts, WithHTTPTimeout(d))
	}
	if fc.UserAgent != "" {
		opts = append(opts, WithUserAgent(fc.UserAgent))
	}
	if fc.NOAABaseURL != "" {
		opts = append(opts, WithNOAABaseURL(fc.NOAABaseURL))
	}
	if fc.CHSBaseURL != "" {
		opts = append(opts, WithCHSBaseURL(fc.CHSBaseURL))
	}
	opts = append(opts, WithCHSDirectoryURLs(fc.CHSDirectoryURLs...))
	if fc.CatalogDSN != "" {
		opts = append(opts, WithCatalogDSN(fc.CatalogDSN))
	}
	if fc.Snapshots.CanadianPath != "" {
		c.CanadianSnapshotPath = fc.Snapshots.CanadianPath
	}
	if fc.Snapshots.USPath != "" {
		c.USSnapshotPath = fc.Snapshots.USPath
	}
	if fc.Snapshots.Bucket != "" {
		opts = append(opts, WithSnapshotBucket(fc.Snapshots.Bucket, fc.Snapshots.CanadianKey, fc.Snapshots.USKey))
	}
	if fc.Snapshots.S3Endpoint != "" || fc.Snapshots.Region != "" {
		opts = append(opts, WithS3Endpoint(fc.Snapshots.S3Endpoint, fc.Snapshots.Region))
	}
	if fc.PopulationThreshold != nil {
		opts = append(opts, WithPopulationThreshold(*fc.PopulationThreshold))
	}
	if fc.LowWaterMark != nil {
		opts = append(opts, WithLowWaterMark(*fc.LowWaterMark))
	}
	if fc.MetricsTextfile != "" {
		opts = append(opts, WithMetricsTextfile(fc.MetricsTextfile))
	}

	for _, opt := range opts {
		opt(c)
	}
	log.Debug().Str("path", path).Msg("Config file applied")
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
