package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "IGBATCH_"

// Config holds all configuration options for the scraping engine
type Config struct {
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Scrape    ScrapeConfig    `yaml:"scrape" json:"scrape"`
	Batch     BatchConfig     `yaml:"batch" json:"batch"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// InstagramConfig holds the login identity used for every scrape
type InstagramConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// BrowserConfig controls the headless browser
type BrowserConfig struct {
	ExecPath           string        `yaml:"exec_path" json:"exec_path"`
	Headless           bool          `yaml:"headless" json:"headless"`
	NoSandbox          bool          `yaml:"no_sandbox" json:"no_sandbox"`
	UserAgent          string        `yaml:"user_agent" json:"user_agent"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	LoginTimeout       time.Duration `yaml:"login_timeout" json:"login_timeout"`
	SettleTime         time.Duration `yaml:"settle_time" json:"settle_time"`
	MaxPagesPerBrowser int           `yaml:"max_pages_per_browser" json:"max_pages_per_browser"`
}

// ScrapeConfig holds single-profile tuning
type ScrapeConfig struct {
	PostLimit       int `yaml:"post_limit" json:"post_limit"`
	BatchSize       int `yaml:"batch_size" json:"batch_size"`
	MaxPosts        int `yaml:"max_posts" json:"max_posts"`
	PinnedAllowance int `yaml:"pinned_allowance" json:"pinned_allowance"`
	TimeThreshold   int `yaml:"time_threshold_hours" json:"time_threshold_hours"`
}

// BatchConfig holds multi-account tuning
type BatchConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit" json:"concurrency_limit"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	CleanupGrace     time.Duration `yaml:"cleanup_grace" json:"cleanup_grace"`
}

// SessionConfig holds cookie persistence settings
type SessionConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// RateLimitConfig paces browser navigations per login identity
type RateLimitConfig struct {
	NavigationsPerMinute int `yaml:"navigations_per_minute" json:"navigations_per_minute"`
	BurstSize            int `yaml:"burst_size" json:"burst_size"`
}

// RetryConfig controls retries around login
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// StorageConfig holds persistence locations
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path" json:"database_path"`
	ReportDirectory string `yaml:"report_directory" json:"report_directory"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	ListenAddr         string `yaml:"listen_addr" json:"listen_addr"`
	RequestsPerMinute  int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize          int    `yaml:"burst_size" json:"burst_size"`
	DefaultConcurrency int    `yaml:"default_concurrency" json:"default_concurrency"`
	DefaultPostLimit   int    `yaml:"default_post_limit" json:"default_post_limit"`
	DefaultThreshold   int    `yaml:"default_time_threshold" json:"default_time_threshold"`
}

// ScheduleConfig holds the recurring scrape job
type ScheduleConfig struct {
	Spec             string        `yaml:"spec" json:"spec"`
	Timezone         string        `yaml:"timezone" json:"timezone"`
	RunTimeout       time.Duration `yaml:"run_timeout" json:"run_timeout"`
	ConcurrencyLimit int           `yaml:"concurrency_limit" json:"concurrency_limit"`
	PostLimit        int           `yaml:"post_limit" json:"post_limit"`
	TimeThreshold    int           `yaml:"time_threshold_hours" json:"time_threshold_hours"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Browser: BrowserConfig{
			Headless:           true,
			UserAgent:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			NavigationTimeout:  30 * time.Second,
			ProbeTimeout:       8 * time.Second,
			LoginTimeout:       20 * time.Second,
			SettleTime:         2 * time.Second,
			MaxPagesPerBrowser: 6,
		},
		Scrape: ScrapeConfig{
			PostLimit:       5,
			BatchSize:       3,
			PinnedAllowance: 3,
			TimeThreshold:   12,
		},
		Batch: BatchConfig{
			ConcurrencyLimit: 2,
			Timeout:          120 * time.Second,
			CleanupGrace:     10 * time.Second,
		},
		Session: SessionConfig{
			Directory: filepath.Join(dataDir, "sessions"),
		},
		RateLimit: RateLimitConfig{
			NavigationsPerMinute: 40,
			BurstSize:            6,
		},
		Retry: RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   2 * time.Second,
			MaxDelay:    15 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath:    filepath.Join(dataDir, "igbatch.db"),
			ReportDirectory: filepath.Join(dataDir, "reports"),
		},
		Server: ServerConfig{
			ListenAddr:         ":8080",
			RequestsPerMinute:  30,
			BurstSize:          5,
			DefaultConcurrency: 3,
			DefaultPostLimit:   10,
			DefaultThreshold:   24,
		},
		Schedule: ScheduleConfig{
			Spec:             "0 0 * * *",
			Timezone:         "Local",
			RunTimeout:       2 * time.Hour,
			ConcurrencyLimit: 2,
			PostLimit:        10,
			TimeThreshold:    24,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Plain names kept for deployments that already export them
	if v := os.Getenv("INSTAGRAM_USERNAME"); v != "" {
		c.Instagram.Username = v
	}
	if v := os.Getenv("INSTAGRAM_PASSWORD"); v != "" {
		c.Instagram.Password = v
	}
	if v := getenv("INSTAGRAM_USERNAME"); v != "" {
		c.Instagram.Username = v
	}
	if v := getenv("INSTAGRAM_PASSWORD"); v != "" {
		c.Instagram.Password = v
	}

	if v := getenv("CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := getenv("HEADLESS"); v != "" {
		c.Browser.Headless = parseBool(v)
	}
	if v := getenv("NO_SANDBOX"); v != "" {
		c.Browser.NoSandbox = parseBool(v)
	}
	if v := getenv("USER_AGENT"); v != "" {
		c.Browser.UserAgent = v
	}

	envInt(&errs, "POST_LIMIT", &c.Scrape.PostLimit)
	envInt(&errs, "BATCH_SIZE", &c.Scrape.BatchSize)
	envInt(&errs, "MAX_POSTS", &c.Scrape.MaxPosts)
	envInt(&errs, "PINNED_ALLOWANCE", &c.Scrape.PinnedAllowance)
	envInt(&errs, "TIME_THRESHOLD", &c.Scrape.TimeThreshold)
	envInt(&errs, "CONCURRENCY", &c.Batch.ConcurrencyLimit)
	envDuration(&errs, "TIMEOUT", &c.Batch.Timeout)
	envInt(&errs, "NAVIGATIONS_PER_MINUTE", &c.RateLimit.NavigationsPerMinute)

	if v := getenv("SESSION_DIR"); v != "" {
		c.Session.Directory = v
	}
	if v := getenv("DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := getenv("REPORT_DIR"); v != "" {
		c.Storage.ReportDirectory = v
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := getenv("SCHEDULE"); v != "" {
		c.Schedule.Spec = v
	}
	if v := getenv("TIMEZONE"); v != "" {
		c.Schedule.Timezone = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igbatch.yaml",
		".igbatch.yml",
		filepath.Join(home, ".config", "igbatch", "config.yaml"),
		filepath.Join(home, ".config", "igbatch", "config.yml"),
		filepath.Join(home, ".igbatch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. Credentials are checked by
// the commands that need them, not here.
func (c *Config) Validate() error {
	var errs []error

	if c.Scrape.PostLimit <= 0 {
		errs = append(errs, errors.New("post limit must be positive"))
	}
	if c.Scrape.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Scrape.MaxPosts < 0 {
		errs = append(errs, errors.New("max posts cannot be negative"))
	}
	if c.Scrape.PinnedAllowance < 0 {
		errs = append(errs, errors.New("pinned allowance cannot be negative"))
	}
	if c.Scrape.TimeThreshold <= 0 {
		errs = append(errs, errors.New("time threshold must be positive"))
	}
	if c.Batch.ConcurrencyLimit <= 0 {
		errs = append(errs, errors.New("concurrency limit must be positive"))
	}
	if c.Batch.Timeout <= 0 {
		errs = append(errs, errors.New("per-account timeout must be positive"))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}
	if c.Browser.MaxPagesPerBrowser <= 0 {
		errs = append(errs, errors.New("max pages per browser must be positive"))
	}
	if c.RateLimit.NavigationsPerMinute <= 0 {
		errs = append(errs, errors.New("navigations per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.Session.Directory == "" {
		errs = append(errs, errors.New("session directory is required"))
	}
	if c.Schedule.Spec == "" {
		errs = append(errs, errors.New("schedule spec is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// HasCredentials reports whether both halves of the login identity are set
func (c *Config) HasCredentials() bool {
	return c.Instagram.Username != "" && c.Instagram.Password != ""
}

// Save saves the configuration to a file. The password is never written.
func (c *Config) Save(path string) error {
	clone := *c
	clone.Instagram.Password = ""

	data, err := yaml.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys match the cobra flag names; zero values are ignored.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["username"].(string); ok && v != "" {
		c.Instagram.Username = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Batch.ConcurrencyLimit = v
	}
	if v, ok := flags["post-limit"].(int); ok && v > 0 {
		c.Scrape.PostLimit = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Scrape.BatchSize = v
	}
	if v, ok := flags["max-posts"].(int); ok && v > 0 {
		c.Scrape.MaxPosts = v
	}
	if v, ok := flags["pinned"].(int); ok && v >= 0 {
		c.Scrape.PinnedAllowance = v
	}
	if v, ok := flags["threshold"].(int); ok && v > 0 {
		c.Scrape.TimeThreshold = v
	}
	if v, ok := flags["timeout"].(time.Duration); ok && v > 0 {
		c.Batch.Timeout = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["listen"].(string); ok && v != "" {
		c.Server.ListenAddr = v
	}
	if v, ok := flags["db"].(string); ok && v != "" {
		c.Storage.DatabasePath = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment > .env files > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igbatch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// DataDir returns the per-user data directory for the current OS.
// It does not create the directory.
func DataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "igbatch")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "igbatch")
		}
		return filepath.Join(home, "igbatch")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "igbatch")
		}
		return filepath.Join(home, ".local", "share", "igbatch")
	}
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func envInt(errs *[]error, name string, dst *int) {
	raw := getenv(name)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: not an integer: %q", EnvPrefix, name, raw))
		return
	}
	*dst = v
}

func envDuration(errs *[]error, name string, dst *time.Duration) {
	raw := getenv(name)
	if raw == "" {
		return
	}
	// Bare integers are milliseconds, matching the per-account timeout unit
	if ms, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: invalid duration: %q", EnvPrefix, name, raw))
		return
	}
	*dst = d
}
