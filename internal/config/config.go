package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Detection DetectionConfig `mapstructure:"detection"`
	DB        DBConfig        `mapstructure:"db"`
	Output    OutputConfig    `mapstructure:"output"`
	Mock      MockConfig      `mapstructure:"mock"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig holds upstream feed API configuration
type APIConfig struct {
	Key           string        `mapstructure:"key" envconfig:"TIKAPI_KEY"`
	BaseURL       string        `mapstructure:"base_url" envconfig:"TIKAPI_BASE_URL"`
	Strategies    []string      `mapstructure:"strategies" envconfig:"TIKAPI_STRATEGIES"`
	PageSize      int           `mapstructure:"page_size" envconfig:"TIKAPI_PAGE_SIZE"`
	MinInterval   time.Duration `mapstructure:"min_interval" envconfig:"TIKAPI_MIN_INTERVAL"`
	Timeout       time.Duration `mapstructure:"timeout" envconfig:"TIKAPI_TIMEOUT"`
	MaxRetries    int           `mapstructure:"max_retries" envconfig:"TIKAPI_MAX_RETRIES"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" envconfig:"TIKAPI_RETRY_BACKOFF"`
	UserAgent     string        `mapstructure:"user_agent" envconfig:"TIKAPI_USER_AGENT"`
	ProxyURL      string        `mapstructure:"proxy_url" envconfig:"TIKAPI_PROXY_URL"`
	VerifyOnStart bool          `mapstructure:"verify_on_start" envconfig:"TIKAPI_VERIFY"`
}

// DetectionConfig holds thresholds and the per-run request budget
type DetectionConfig struct {
	MinViews       int64    `mapstructure:"min_views" envconfig:"MIN_VIEWS"`
	TimeLimitHours float64  `mapstructure:"time_limit_hours" envconfig:"TIME_LIMIT_HOURS"`
	MaxRequests    int      `mapstructure:"max_requests" envconfig:"MAX_REQUESTS"`
	Countries      []string `mapstructure:"countries" envconfig:"COUNTRIES"`
	Concurrency    int      `mapstructure:"concurrency" envconfig:"REGION_CONCURRENCY"`
}

// DBConfig holds database configuration
type DBConfig struct {
	Driver   string `mapstructure:"driver" envconfig:"DB_DRIVER"`
	Host     string `mapstructure:"host" envconfig:"DB_HOST"`
	Port     int    `mapstructure:"port" envconfig:"DB_PORT"`
	User     string `mapstructure:"user" envconfig:"DB_USER"`
	Password string `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Database string `mapstructure:"database" envconfig:"DB_NAME"`
	MaxConns int    `mapstructure:"max_conns" envconfig:"DB_MAX_CONNS"`
}

// OutputConfig holds export configuration
type OutputConfig struct {
	ViralOnly   bool              `mapstructure:"viral_only" envconfig:"OUTPUT_VIRAL_ONLY"`
	Mode        string            `mapstructure:"mode" envconfig:"OUTPUT_MODE"`
	Limit       int               `mapstructure:"limit" envconfig:"OUTPUT_LIMIT"`
	CSV         CSVConfig         `mapstructure:"csv" ignored:"true"`
	Sheets      SheetsConfig      `mapstructure:"sheets" ignored:"true"`
	Telegram    TelegramConfig    `mapstructure:"telegram" ignored:"true"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" ignored:"true"`
}

// CSVConfig holds local file export configuration
type CSVConfig struct {
	Enabled  bool   `mapstructure:"enabled" envconfig:"CSV_ENABLED"`
	Dir      string `mapstructure:"dir" envconfig:"CSV_DIR"`
	Filename string `mapstructure:"filename" envconfig:"CSV_FILENAME"`
	Required bool   `mapstructure:"required" envconfig:"CSV_REQUIRED"`
}

// SheetsConfig holds spreadsheet export configuration
type SheetsConfig struct {
	Enabled         bool   `mapstructure:"enabled" envconfig:"SHEETS_ENABLED"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id" envconfig:"SHEETS_SPREADSHEET_ID"`
	CredentialsPath string `mapstructure:"credentials_path" envconfig:"SHEETS_CREDENTIALS"`
	SheetName       string `mapstructure:"sheet_name" envconfig:"SHEETS_SHEET_NAME"`
	Required        bool   `mapstructure:"required" envconfig:"SHEETS_REQUIRED"`
}

// TelegramConfig holds digest notification configuration
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token   string `mapstructure:"token" envconfig:"TELEGRAM_TOKEN"`
	ChatID  int64  `mapstructure:"chat_id" envconfig:"TELEGRAM_CHAT_ID"`
	TopN    int    `mapstructure:"top_n" envconfig:"TELEGRAM_TOP_N"`
}

// ObjectStoreConfig holds S3-compatible upload configuration
type ObjectStoreConfig struct {
	Enabled   bool   `mapstructure:"enabled" envconfig:"OBJECT_STORE_ENABLED"`
	Endpoint  string `mapstructure:"endpoint" envconfig:"OBJECT_STORE_ENDPOINT"`
	AccessKey string `mapstructure:"access_key" envconfig:"OBJECT_STORE_ACCESS_KEY"`
	SecretKey string `mapstructure:"secret_key" envconfig:"OBJECT_STORE_SECRET_KEY"`
	Bucket    string `mapstructure:"bucket" envconfig:"OBJECT_STORE_BUCKET"`
	Prefix    string `mapstructure:"prefix" envconfig:"OBJECT_STORE_PREFIX"`
	UseSSL    bool   `mapstructure:"use_ssl" envconfig:"OBJECT_STORE_USE_SSL"`
	Required  bool   `mapstructure:"required" envconfig:"OBJECT_STORE_REQUIRED"`
}

// MockConfig controls the fixture feed used instead of the upstream API
type MockConfig struct {
	Enabled        bool  `mapstructure:"enabled" envconfig:"MOCK_MODE"`
	Seed           int64 `mapstructure:"seed" envconfig:"MOCK_SEED"`
	PagesPerRegion int   `mapstructure:"pages_per_region" envconfig:"MOCK_PAGES"`
	ItemsPerPage   int   `mapstructure:"items_per_page" envconfig:"MOCK_ITEMS_PER_PAGE"`
}

// SchedulerConfig holds daemon mode configuration
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval" envconfig:"SCHEDULER_INTERVAL"`
	InitialDelay time.Duration `mapstructure:"initial_delay" envconfig:"SCHEDULER_INITIAL_DELAY"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `mapstructure:"port" envconfig:"SERVER_PORT"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" envconfig:"LOG_LEVEL"`
	Format string `mapstructure:"format" envconfig:"LOG_FORMAT"`
}

// Database drivers
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// PlaceholderKey is the API key written by WriteSample
const PlaceholderKey = "YOUR_TIKAPI_KEY_HERE"

// Export modes
const (
	ModeReplace = "replace"
	ModeAppend  = "append"
)

// Default returns the configuration used when neither file nor environment
// override a value
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "https://api.tikapi.io",
			Strategies:    []string{"explore", "trending"},
			PageSize:      30,
			MinInterval:   time.Second,
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			RetryBackoff:  time.Second,
			UserAgent:     "TikTok-Viral-Detector/2.0",
			VerifyOnStart: true,
		},
		Detection: DetectionConfig{
			MinViews:       500000,
			TimeLimitHours: 24,
			MaxRequests:    10,
			Countries:      []string{"us", "jp"},
			Concurrency:    1,
		},
		DB: DBConfig{
			Driver:   DriverMemory,
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Database: "viral_detector",
			MaxConns: 10,
		},
		Output: OutputConfig{
			ViralOnly: true,
			Mode:      ModeReplace,
			CSV: CSVConfig{
				Enabled:  true,
				Dir:      ".",
				Filename: "viral_videos_{timestamp}.csv",
			},
			Sheets: SheetsConfig{
				CredentialsPath: "credentials.json",
				SheetName:       "viral_{timestamp}",
			},
			Telegram: TelegramConfig{
				TopN: 10,
			},
			ObjectStore: ObjectStoreConfig{
				Prefix: "exports/",
				UseSSL: true,
			},
		},
		Mock: MockConfig{
			Seed:           1,
			PagesPerRegion: 3,
			ItemsPerPage:   20,
		},
		Scheduler: SchedulerConfig{
			Interval:     time.Hour,
			InitialDelay: 5 * time.Second,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DSN returns the data source name for the configured SQL driver
func (c *DBConfig) DSN() string {
	if c.Driver == DriverPostgres {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Load builds the configuration from defaults, the optional config file at
// path and environment variables, in increasing order of precedence
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadEnv(cfg); err != nil {
		return nil, err
	}

	for i, c := range cfg.Detection.Countries {
		cfg.Detection.Countries[i] = strings.ToLower(strings.TrimSpace(c))
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	sections := []struct {
		name string
		spec interface{}
	}{
		{"api", &cfg.API},
		{"detection", &cfg.Detection},
		{"db", &cfg.DB},
		{"output", &cfg.Output},
		{"csv", &cfg.Output.CSV},
		{"sheets", &cfg.Output.Sheets},
		{"telegram", &cfg.Output.Telegram},
		{"object store", &cfg.Output.ObjectStore},
		{"mock", &cfg.Mock},
		{"scheduler", &cfg.Scheduler},
		{"server", &cfg.Server},
		{"log", &cfg.Log},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.spec); err != nil {
			return fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if (c.API.Key == "" || c.API.Key == PlaceholderKey) && !c.Mock.Enabled {
		return fmt.Errorf("TIKAPI_KEY is required unless mock mode is enabled")
	}
	if len(c.API.Strategies) == 0 {
		return fmt.Errorf("at least one feed strategy is required")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("TIKAPI_PAGE_SIZE must be positive")
	}
	if c.API.MinInterval <= 0 {
		return fmt.Errorf("TIKAPI_MIN_INTERVAL must be positive")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("TIKAPI_MAX_RETRIES must not be negative")
	}
	if c.Detection.MinViews < 0 {
		return fmt.Errorf("MIN_VIEWS must not be negative")
	}
	if c.Detection.TimeLimitHours <= 0 {
		return fmt.Errorf("TIME_LIMIT_HOURS must be positive")
	}
	if c.Detection.MaxRequests < 1 {
		return fmt.Errorf("MAX_REQUESTS must be at least 1")
	}
	if len(c.Detection.Countries) == 0 {
		return fmt.Errorf("COUNTRIES must name at least one region")
	}
	if c.Detection.Concurrency < 1 {
		return fmt.Errorf("REGION_CONCURRENCY must be at least 1")
	}
	if c.Mock.Enabled && (c.Mock.PagesPerRegion < 1 || c.Mock.ItemsPerPage < 1) {
		return fmt.Errorf("MOCK_PAGES and MOCK_ITEMS_PER_PAGE must be at least 1")
	}
	if err := c.ValidateExport(); err != nil {
		return err
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	return nil
}

// ValidateExport checks only the store and output sections, which is all an
// export of already stored rows needs
func (c *Config) ValidateExport() error {
	switch c.DB.Driver {
	case DriverMemory:
	case DriverMySQL, DriverPostgres:
		if c.DB.MaxConns <= 0 {
			return fmt.Errorf("DB_MAX_CONNS must be positive")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DB.Driver)
	}

	if c.Output.Mode != ModeReplace && c.Output.Mode != ModeAppend {
		return fmt.Errorf("OUTPUT_MODE must be %q or %q", ModeReplace, ModeAppend)
	}
	if c.Output.Limit < 0 {
		return fmt.Errorf("OUTPUT_LIMIT must not be negative")
	}
	if c.Output.CSV.Enabled && c.Output.CSV.Filename == "" {
		return fmt.Errorf("CSV_FILENAME is required when CSV export is enabled")
	}
	if c.Output.Sheets.Enabled {
		if c.Output.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("SHEETS_SPREADSHEET_ID is required when sheets export is enabled")
		}
		if c.Output.Sheets.CredentialsPath == "" {
			return fmt.Errorf("SHEETS_CREDENTIALS is required when sheets export is enabled")
		}
		if c.Output.Sheets.SheetName == "" {
			return fmt.Errorf("SHEETS_SHEET_NAME is required when sheets export is enabled")
		}
	}
	if c.Output.Telegram.Enabled {
		if c.Output.Telegram.Token == "" {
			return fmt.Errorf("TELEGRAM_TOKEN is required when telegram digest is enabled")
		}
		if c.Output.Telegram.ChatID == 0 {
			return fmt.Errorf("TELEGRAM_CHAT_ID is required when telegram digest is enabled")
		}
	}
	if c.Output.ObjectStore.Enabled {
		if c.Output.ObjectStore.Endpoint == "" || c.Output.ObjectStore.Bucket == "" {
			return fmt.Errorf("OBJECT_STORE_ENDPOINT and OBJECT_STORE_BUCKET are required when object store export is enabled")
		}
	}
	return nil
}

// WriteSample writes a starter config file to path. Existing files are
// never overwritten.
func WriteSample(path string) error {
	def := Default()

	v := viper.New()
	v.Set("api.key", PlaceholderKey)
	v.Set("api.base_url", def.API.BaseURL)
	v.Set("api.strategies", def.API.Strategies)
	v.Set("api.min_interval", def.API.MinInterval.String())
	v.Set("api.max_retries", def.API.MaxRetries)
	v.Set("detection.min_views", def.Detection.MinViews)
	v.Set("detection.time_limit_hours", def.Detection.TimeLimitHours)
	v.Set("detection.max_requests", def.Detection.MaxRequests)
	v.Set("detection.countries", def.Detection.Countries)
	v.Set("db.driver", def.DB.Driver)
	v.Set("output.viral_only", def.Output.ViralOnly)
	v.Set("output.mode", def.Output.Mode)
	v.Set("output.limit", def.Output.Limit)
	v.Set("output.csv.enabled", def.Output.CSV.Enabled)
	v.Set("output.csv.filename", def.Output.CSV.Filename)
	v.Set("output.sheets.enabled", false)
	v.Set("output.sheets.spreadsheet_id", "YOUR_SPREADSHEET_ID_HERE")
	v.Set("output.sheets.credentials_path", def.Output.Sheets.CredentialsPath)
	v.Set("output.sheets.sheet_name", def.Output.Sheets.SheetName)
	v.Set("mock.enabled", false)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}
