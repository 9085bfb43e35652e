package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	billPlaceholder = "{bill}"

	configPathEnv      = "BILLSCANNER_CONFIG"
	runEnv             = "DATARUN"
	pdfClientIDEnv     = "PDF_SERVICES_CLIENT_ID"
	pdfClientSecretEnv = "PDF_SERVICES_CLIENT_SECRET"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL"
	databaseDSNEnv     = "DATABASE_DSN"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	objectAccessKeyEnv = "MINIO_ACCESS_KEY"
	objectSecretKeyEnv = "MINIO_SECRET_KEY"
	logLevelEnv        = "LOG_LEVEL"
)

// Validation errors.
var (
	ErrInvalidRateLimit    = errors.New("rate limit calls must be >= 1 and period > 0")
	ErrInvalidRetry        = errors.New("retry maxAttempts must be >= 1 and multiplier >= 1")
	ErrMissingListingURL   = errors.New("legislature.listingUrl is required")
	ErrInvalidTemplate     = errors.New("legislature.documentUrlTemplate must contain {bill}")
	ErrInvalidPollInterval = errors.New("pdfServices.pollInterval must be > 0")
	ErrMissingDataRoot     = errors.New("data.root is required")
)

// Config holds every setting the pipeline, its adapters and the read API need.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Data          DataConfig         `yaml:"data"`
	Legislature   LegislatureConfig  `yaml:"legislature"`
	HTTP          HTTPConfig         `yaml:"http"`
	PDFServices   PDFServicesConfig  `yaml:"pdfServices"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Database      DatabaseConfig     `yaml:"database"`
	ObjectStore   ObjectStoreConfig  `yaml:"objectStore"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Server        ServerConfig       `yaml:"server"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DataConfig describes where run artifacts live.
type DataConfig struct {
	Root  string `yaml:"root"`
	Run   string `yaml:"run"`
	Force bool   `yaml:"force"`
}

// LegislatureConfig points the scraper at one session of a legislature site.
type LegislatureConfig struct {
	Name                string `yaml:"name"`
	ListingURL          string `yaml:"listingUrl"`
	BaseURL             string `yaml:"baseUrl"`
	Session             string `yaml:"session"`
	DocumentURLTemplate string `yaml:"documentUrlTemplate"`
	HeaderTables        int    `yaml:"headerTables"`
}

// RateLimitConfig caps calls per period.
type RateLimitConfig struct {
	Calls  int           `yaml:"calls"`
	Period time.Duration `yaml:"period"`
}

// RetryConfig mirrors the exponential backoff knobs.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// HTTPConfig tunes the client used for the legislature site.
type HTTPConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	UserAgent string          `yaml:"userAgent"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Retry     RetryConfig     `yaml:"retry"`
}

// PDFServicesConfig describes the document-conversion service.
type PDFServicesConfig struct {
	Endpoint     string          `yaml:"endpoint"`
	ClientID     string          `yaml:"clientId"`
	ClientSecret string          `yaml:"clientSecret"`
	PollInterval time.Duration   `yaml:"pollInterval"`
	JobTimeout   time.Duration   `yaml:"jobTimeout"`
	JobAttempts  int             `yaml:"jobAttempts"`
	JobRetryWait time.Duration   `yaml:"jobRetryWait"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
	Retry        RetryConfig     `yaml:"retry"`
}

// AnalysisConfig defines how to contact the chat-completion API.
type AnalysisConfig struct {
	Endpoint       string          `yaml:"endpoint"`
	APIKey         string          `yaml:"apiKey"`
	Model          string          `yaml:"model"`
	ReconcileModel string          `yaml:"reconcileModel"`
	Timeout        time.Duration   `yaml:"timeout"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// DatabaseConfig describes the optional Postgres ledger.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ObjectStoreConfig describes the optional S3-compatible mirror.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Enabled reports whether enough is configured to mirror artifacts.
func (o ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != "" && o.AccessKey != ""
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// MetricsConfig points at a node-exporter textfile; empty disables the export.
// Addr, when set, serves the collectors over HTTP while watching.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfilePath"`
	Addr         string `yaml:"addr"`
}

// ServerConfig configures the read-only dataset API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// SchedulerConfig defines how often watch mode repeats the pipeline.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Load reads YAML configuration over defaults and applies environment overrides.
// An empty path falls back to BILLSCANNER_CONFIG; no file at all means defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Data.Root) == "" {
		return ErrMissingDataRoot
	}
	if c.Legislature.ListingURL == "" {
		return ErrMissingListingURL
	}
	if !strings.Contains(c.Legislature.DocumentURLTemplate, billPlaceholder) {
		return ErrInvalidTemplate
	}

	for name, rl := range map[string]RateLimitConfig{
		"http":        c.HTTP.RateLimit,
		"pdfServices": c.PDFServices.RateLimit,
		"analysis":    c.Analysis.RateLimit,
	} {
		if rl.Calls < 1 || rl.Period <= 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidRateLimit)
		}
	}

	for name, rc := range map[string]RetryConfig{
		"http":        c.HTTP.Retry,
		"pdfServices": c.PDFServices.Retry,
		"analysis":    c.Analysis.Retry,
	} {
		if rc.MaxAttempts < 1 || rc.Multiplier < 1 {
			return fmt.Errorf("%s: %w", name, ErrInvalidRetry)
		}
	}

	if c.PDFServices.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{runEnv, &c.Data.Run},
		{pdfClientIDEnv, &c.PDFServices.ClientID},
		{pdfClientSecretEnv, &c.PDFServices.ClientSecret},
		{openAIAPIKeyEnv, &c.Analysis.APIKey},
		{openAIModelEnv, &c.Analysis.Model},
		{databaseDSNEnv, &c.Database.DSN},
		{telegramTokenEnv, &c.Notifications.Telegram.BotToken},
		{telegramChatIDEnv, &c.Notifications.Telegram.ChatID},
		{objectAccessKeyEnv, &c.ObjectStore.AccessKey},
		{objectSecretKeyEnv, &c.ObjectStore.SecretKey},
		{logLevelEnv, &c.Logging.Level},
	}

	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Data:    DataConfig{Root: "Data"},
		Legislature: LegislatureConfig{
			Name:                "idaho",
			ListingURL:          "https://legislature.idaho.gov/sessioninfo/2025/legislation/",
			BaseURL:             "https://legislature.idaho.gov",
			Session:             "2025",
			DocumentURLTemplate: "https://legislature.idaho.gov/wp-content/uploads/sessioninfo/{session}/legislation/{bill}.pdf",
			HeaderTables:        2,
		},
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "BillScanner/1.0",
			RateLimit: RateLimitConfig{Calls: 10, Period: time.Second},
			Retry:     RetryConfig{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Multiplier: 2},
		},
		PDFServices: PDFServicesConfig{
			Endpoint:     "https://pdf-services.adobe.io",
			PollInterval: 2 * time.Second,
			JobTimeout:   3 * time.Minute,
			JobAttempts:  3,
			JobRetryWait: time.Second,
			RateLimit:    RateLimitConfig{Calls: 10, Period: time.Second},
			Retry:        RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2},
		},
		Analysis: AnalysisConfig{
			Endpoint:       "https://api.openai.com/v1",
			Model:          "gpt-4o",
			ReconcileModel: "gpt-4o-mini",
			Timeout:        2 * time.Minute,
			RateLimit:      RateLimitConfig{Calls: 10, Period: time.Second},
			Retry:          RetryConfig{MaxAttempts: 6, InitialDelay: 4 * time.Second, MaxDelay: time.Minute, Multiplier: 2},
		},
		ObjectStore: ObjectStoreConfig{Bucket: "bills", Region: "us-east-1", UseSSL: true},
		Server:      ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Scheduler:   SchedulerConfig{Interval: 24 * time.Hour, Timezone: defaultTimezone, location: tz},
	}
}
