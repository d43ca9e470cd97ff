package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"DUET_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"DUET_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DUET_LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"DUET_LOG_COLOR" envDefault:"false"`

	ReadHeaderTimeout time.Duration `env:"DUET_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"DUET_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"DUET_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"DUET_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"DUET_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxHeaderBytes    int           `env:"DUET_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	MaxBodyBytes      int64         `env:"DUET_MAX_BODY_BYTES" envDefault:"65536"`

	DatabaseURL string `env:"DUET_DATABASE_URL"`
	DBSchema    string `env:"DUET_DB_SCHEMA" envDefault:"duet"`
	DBMaxConns  int32  `env:"DUET_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DUET_DB_MIN_CONNS" envDefault:"0"`
	// DBAutoMigrate applies the schema on startup; otherwise run `duet migrate`.
	DBAutoMigrate bool `env:"DUET_DB_AUTO_MIGRATE" envDefault:"false"`

	// SQLitePath selects the embedded store when no DatabaseURL is set.
	SQLitePath string `env:"DUET_SQLITE_PATH"`

	RedisURL      string        `env:"DUET_REDIS_URL"`
	JoinSignalTTL time.Duration `env:"DUET_JOIN_SIGNAL_TTL" envDefault:"24h"`

	CatalogPath       string `env:"DUET_CATALOG_PATH"`
	CatalogRequireAll bool   `env:"DUET_CATALOG_REQUIRE_ALL" envDefault:"false"`

	AnalysisAPIKey      string        `env:"DUET_ANALYSIS_API_KEY"`
	AnalysisBaseURL     string        `env:"DUET_ANALYSIS_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AnalysisModel       string        `env:"DUET_ANALYSIS_MODEL" envDefault:"google/gemini-2.0-flash-exp:free"`
	AnalysisTimeout     time.Duration `env:"DUET_ANALYSIS_TIMEOUT" envDefault:"45s"`
	AnalysisMaxAttempts uint          `env:"DUET_ANALYSIS_MAX_ATTEMPTS" envDefault:"5"`
	AnalysisBackoff     time.Duration `env:"DUET_ANALYSIS_BACKOFF" envDefault:"500ms"`
	AnalysisReferer     string        `env:"DUET_ANALYSIS_REFERER"`
	AnalysisTitle       string        `env:"DUET_ANALYSIS_TITLE" envDefault:"duet"`

	CORSAllowedOrigins   []string `env:"DUET_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"DUET_CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"DUET_CORS_MAX_AGE_SECONDS" envDefault:"600"`

	PaymentMockEnabled bool `env:"DUET_PAYMENT_MOCK_ENABLED" envDefault:"true"`

	// Invalid invite codes tolerated per client IP before submit answers 429.
	InviteFailureMax    int           `env:"DUET_INVITE_FAILURE_MAX" envDefault:"20"`
	InviteFailureWindow time.Duration `env:"DUET_INVITE_FAILURE_WINDOW" envDefault:"10m"`
	TrustProxy          bool          `env:"DUET_TRUST_PROXY" envDefault:"false"`

	// If true:
	// - /readyz returns 503 unless a durable store is configured and reachable.
	ReadinessRequireDB bool `env:"DUET_READINESS_REQUIRE_DB" envDefault:"false"`
}

// LoadConfig reads an optional .env file, then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize clamps non-positive values back to defaults.
func (c *Config) normalize() {
	c.ReadHeaderTimeout = nonZeroDuration(c.ReadHeaderTimeout, 5*time.Second)
	c.ReadTimeout = nonZeroDuration(c.ReadTimeout, 15*time.Second)
	c.WriteTimeout = nonZeroDuration(c.WriteTimeout, 15*time.Second)
	c.IdleTimeout = nonZeroDuration(c.IdleTimeout, 60*time.Second)
	c.ShutdownTimeout = nonZeroDuration(c.ShutdownTimeout, 15*time.Second)
	c.MaxHeaderBytes = nonZeroInt(c.MaxHeaderBytes, 1<<20)
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 10
	}
	if c.DBMinConns < 0 {
		c.DBMinConns = 0
	}
	c.JoinSignalTTL = nonZeroDuration(c.JoinSignalTTL, 24*time.Hour)
	c.AnalysisTimeout = nonZeroDuration(c.AnalysisTimeout, 45*time.Second)
	c.AnalysisBackoff = nonZeroDuration(c.AnalysisBackoff, 500*time.Millisecond)
	if c.AnalysisMaxAttempts == 0 {
		c.AnalysisMaxAttempts = 5
	}
	if c.InviteFailureMax < 0 {
		c.InviteFailureMax = 0
	}
	c.InviteFailureWindow = nonZeroDuration(c.InviteFailureWindow, 10*time.Minute)
	if c.CORSMaxAgeSeconds < 0 {
		c.CORSMaxAgeSeconds = 0
	}

	origins := c.CORSAllowedOrigins[:0]
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSAllowedOrigins = origins
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
