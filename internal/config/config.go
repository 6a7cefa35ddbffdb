package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Export     ExportConfig     `mapstructure:"export"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExtractionConfig holds extraction provider and resilience configuration
type ExtractionConfig struct {
	Provider       string        `mapstructure:"provider"` // openai or dummy
	OpenAIAPIKey   string        `mapstructure:"openai_api_key"`
	OpenAIModel    string        `mapstructure:"openai_model"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxRPS         float64       `mapstructure:"max_rps"`
	MaxInflight    int           `mapstructure:"max_inflight"`
	AdmissionWait  time.Duration `mapstructure:"admission_wait"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	MaxSleep       time.Duration `mapstructure:"max_sleep"`
	CacheDir       string        `mapstructure:"cache_dir"`
	CacheEnabled   bool          `mapstructure:"cache_enabled"`
	BreakerFailures int          `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	BreakerMaxCooldown time.Duration `mapstructure:"breaker_max_cooldown"`
	FallbackEnabled bool         `mapstructure:"fallback_enabled"`
}

// RulesConfig holds validation and duplicate-detection tunables.
// AmountTolerance and DuplicateAmountTolerance are deliberately distinct
// knobs: the asymmetry (0.02 vs 0.01) is inherited policy, not business law.
type RulesConfig struct {
	AmountTolerance          string `mapstructure:"amount_tolerance"`
	DuplicateAmountTolerance string `mapstructure:"duplicate_amount_tolerance"`
	DuplicateWindowDays      int    `mapstructure:"duplicate_window_days"`
	FutureDateDays           int    `mapstructure:"future_date_days"`
	FuzzyNameRatio           float64 `mapstructure:"fuzzy_name_ratio"`
}

// PolicyConfig holds tenant policy configuration
type PolicyConfig struct {
	Dir           string  `mapstructure:"dir"`
	DefaultTenant string  `mapstructure:"default_tenant"`
	MinEntryConf  float64 `mapstructure:"min_entry_conf"`
}

// WatcherConfig holds batch orchestration configuration
type WatcherConfig struct {
	Root             string        `mapstructure:"root"`
	Pattern          string        `mapstructure:"pattern"`
	ArchiveDir       string        `mapstructure:"archive_dir"`
	BatchSize        int           `mapstructure:"batch_size"`
	BatchTimeout     time.Duration `mapstructure:"batch_timeout"`
	StabilizeFor     time.Duration `mapstructure:"stabilize_for"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Concurrency      int           `mapstructure:"concurrency"`
	LockWindow       time.Duration `mapstructure:"lock_window"`
	SkipArchive      bool          `mapstructure:"skip_archive"`
}

// ExportConfig holds entry export configuration
type ExportConfig struct {
	CSVDir     string `mapstructure:"csv_dir"`
	SummaryDir string `mapstructure:"summary_dir"`
}

// NotifyConfig holds review notification configuration
type NotifyConfig struct {
	LarkAppID     string `mapstructure:"lark_app_id"`
	LarkAppSecret string `mapstructure:"lark_app_secret"`
	LarkReceiveID string `mapstructure:"lark_receive_id"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/docpipe.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Extraction defaults
	viper.SetDefault("extraction.provider", "openai")
	viper.SetDefault("extraction.openai_model", "gpt-4o")
	viper.SetDefault("extraction.read_timeout", 120*time.Second)
	viper.SetDefault("extraction.max_rps", 0.8)
	viper.SetDefault("extraction.max_inflight", 1)
	viper.SetDefault("extraction.admission_wait", 30*time.Second)
	viper.SetDefault("extraction.max_attempts", 4)
	viper.SetDefault("extraction.backoff_factor", 1.0)
	viper.SetDefault("extraction.max_sleep", 45*time.Second)
	viper.SetDefault("extraction.cache_dir", "data/ocr_cache")
	viper.SetDefault("extraction.cache_enabled", true)
	viper.SetDefault("extraction.breaker_failures", 3)
	viper.SetDefault("extraction.breaker_cooldown", 60*time.Second)
	viper.SetDefault("extraction.breaker_max_cooldown", 10*time.Minute)
	viper.SetDefault("extraction.fallback_enabled", true)

	// Rules defaults
	viper.SetDefault("rules.amount_tolerance", "0.02")
	viper.SetDefault("rules.duplicate_amount_tolerance", "0.01")
	viper.SetDefault("rules.duplicate_window_days", 180)
	viper.SetDefault("rules.future_date_days", 3)
	viper.SetDefault("rules.fuzzy_name_ratio", 0.82)

	// Policy defaults
	viper.SetDefault("policy.dir", "configs/tenants")
	viper.SetDefault("policy.default_tenant", "default")
	viper.SetDefault("policy.min_entry_conf", 0.85)

	// Watcher defaults
	viper.SetDefault("watcher.root", "data/in")
	viper.SetDefault("watcher.pattern", "*.pdf")
	viper.SetDefault("watcher.archive_dir", "data/archive")
	viper.SetDefault("watcher.batch_size", 10)
	viper.SetDefault("watcher.batch_timeout", 60*time.Second)
	viper.SetDefault("watcher.stabilize_for", 2*time.Second)
	viper.SetDefault("watcher.poll_interval", 2*time.Second)
	viper.SetDefault("watcher.concurrency", 1)
	viper.SetDefault("watcher.lock_window", 5*time.Minute)
	viper.SetDefault("watcher.skip_archive", false)

	// Export defaults
	viper.SetDefault("export.csv_dir", "data/out/csv")
	viper.SetDefault("export.summary_dir", "data/out/batches")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("extraction.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("notify.lark_app_id", "LARK_APP_ID")
	viper.BindEnv("notify.lark_app_secret", "LARK_APP_SECRET")
	viper.BindEnv("notify.lark_receive_id", "LARK_RECEIVE_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Extraction.Provider == "openai" && c.Extraction.OpenAIAPIKey == "" && !c.Extraction.FallbackEnabled {
		return fmt.Errorf("extraction.openai_api_key is required when provider is openai and fallback is disabled")
	}
	if c.Extraction.MaxAttempts < 1 {
		return fmt.Errorf("extraction.max_attempts must be at least 1")
	}
	if c.Extraction.MaxRPS <= 0 {
		return fmt.Errorf("extraction.max_rps must be positive")
	}
	if c.Extraction.BreakerFailures < 1 {
		return fmt.Errorf("extraction.breaker_failures must be at least 1")
	}
	if c.Policy.MinEntryConf < 0 || c.Policy.MinEntryConf > 1 {
		return fmt.Errorf("policy.min_entry_conf must be between 0.0 and 1.0")
	}
	if c.Watcher.BatchSize < 1 {
		return fmt.Errorf("watcher.batch_size must be at least 1")
	}
	if c.Watcher.Root == "" {
		return fmt.Errorf("watcher.root is required")
	}
	return nil
}
