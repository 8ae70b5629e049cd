package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Detection defaults
	if cfg.Detection.MinViews != 500000 {
		t.Errorf("Detection.MinViews = %v, want %v", cfg.Detection.MinViews, 500000)
	}
	if cfg.Detection.TimeLimitHours != 24 {
		t.Errorf("Detection.TimeLimitHours = %v, want %v", cfg.Detection.TimeLimitHours, 24)
	}
	if cfg.Detection.MaxRequests != 10 {
		t.Errorf("Detection.MaxRequests = %v, want %v", cfg.Detection.MaxRequests, 10)
	}
	if len(cfg.Detection.Countries) != 2 || cfg.Detection.Countries[0] != "us" || cfg.Detection.Countries[1] != "jp" {
		t.Errorf("Detection.Countries = %v, want [us jp]", cfg.Detection.Countries)
	}

	// API defaults
	if cfg.API.MinInterval != time.Second {
		t.Errorf("API.MinInterval = %v, want %v", cfg.API.MinInterval, time.Second)
	}
	if cfg.API.PageSize != 30 {
		t.Errorf("API.PageSize = %v, want %v", cfg.API.PageSize, 30)
	}
	if len(cfg.API.Strategies) != 2 || cfg.API.Strategies[0] != "explore" {
		t.Errorf("API.Strategies = %v, want [explore trending]", cfg.API.Strategies)
	}

	// Output defaults
	if !cfg.Output.ViralOnly {
		t.Errorf("Output.ViralOnly = %v, want true", cfg.Output.ViralOnly)
	}
	if cfg.Output.Mode != ModeReplace {
		t.Errorf("Output.Mode = %v, want %v", cfg.Output.Mode, ModeReplace)
	}
	if cfg.DB.Driver != DriverMemory {
		t.Errorf("DB.Driver = %v, want %v", cfg.DB.Driver, DriverMemory)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "api": {"key": "file-key", "min_interval": "2s"},
  "detection": {"min_views": 1000, "countries": ["de", "FR"]},
  "output": {"csv": {"filename": "out.csv"}}
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("TIKAPI_KEY", "env-key")
	t.Setenv("MAX_REQUESTS", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Key != "env-key" {
		t.Errorf("API.Key = %v, want %v", cfg.API.Key, "env-key")
	}
	if cfg.API.MinInterval != 2*time.Second {
		t.Errorf("API.MinInterval = %v, want %v", cfg.API.MinInterval, 2*time.Second)
	}
	if cfg.Detection.MinViews != 1000 {
		t.Errorf("Detection.MinViews = %v, want %v", cfg.Detection.MinViews, 1000)
	}
	if cfg.Detection.MaxRequests != 3 {
		t.Errorf("Detection.MaxRequests = %v, want %v", cfg.Detection.MaxRequests, 3)
	}
	if len(cfg.Detection.Countries) != 2 || cfg.Detection.Countries[1] != "fr" {
		t.Errorf("Detection.Countries = %v, want [de fr]", cfg.Detection.Countries)
	}
	if cfg.Output.CSV.Filename != "out.csv" {
		t.Errorf("Output.CSV.Filename = %v, want %v", cfg.Output.CSV.Filename, "out.csv")
	}
	// untouched nested defaults survive the file merge
	if !cfg.Output.CSV.Enabled {
		t.Errorf("Output.CSV.Enabled = %v, want true", cfg.Output.CSV.Enabled)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Detection.MaxRequests != 10 {
		t.Errorf("Detection.MaxRequests = %v, want %v", cfg.Detection.MaxRequests, 10)
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Key != "YOUR_TIKAPI_KEY_HERE" {
		t.Errorf("API.Key = %v, want placeholder", cfg.API.Key)
	}
	if cfg.Detection.MinViews != 500000 {
		t.Errorf("Detection.MinViews = %v, want %v", cfg.Detection.MinViews, 500000)
	}

	if err := WriteSample(path); err == nil {
		t.Error("WriteSample() should refuse to overwrite an existing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.API.Key = "" },
			wantErr: true,
		},
		{
			name:    "placeholder api key",
			mutate:  func(c *Config) { c.API.Key = PlaceholderKey },
			wantErr: true,
		},
		{
			name: "missing api key in mock mode",
			mutate: func(c *Config) {
				c.API.Key = ""
				c.Mock.Enabled = true
			},
			wantErr: false,
		},
		{
			name:    "zero time limit",
			mutate:  func(c *Config) { c.Detection.TimeLimitHours = 0 },
			wantErr: true,
		},
		{
			name:    "negative min views",
			mutate:  func(c *Config) { c.Detection.MinViews = -1 },
			wantErr: true,
		},
		{
			name:    "zero max requests",
			mutate:  func(c *Config) { c.Detection.MaxRequests = 0 },
			wantErr: true,
		},
		{
			name:    "no countries",
			mutate:  func(c *Config) { c.Detection.Countries = nil },
			wantErr: true,
		},
		{
			name:    "zero min interval",
			mutate:  func(c *Config) { c.API.MinInterval = 0 },
			wantErr: true,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.DB.Driver = "sqlite" },
			wantErr: true,
		},
		{
			name:    "unknown output mode",
			mutate:  func(c *Config) { c.Output.Mode = "merge" },
			wantErr: true,
		},
		{
			name: "sheets without spreadsheet id",
			mutate: func(c *Config) {
				c.Output.Sheets.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "telegram without chat id",
			mutate: func(c *Config) {
				c.Output.Telegram.Enabled = true
				c.Output.Telegram.Token = "token"
			},
			wantErr: true,
		},
		{
			name: "object store without bucket",
			mutate: func(c *Config) {
				c.Output.ObjectStore.Enabled = true
				c.Output.ObjectStore.Endpoint = "localhost:9000"
			},
			wantErr: true,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "negative output limit",
			mutate:  func(c *Config) { c.Output.Limit = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.API.Key = "key"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateExport(t *testing.T) {
	cfg := Default()
	cfg.API.Key = ""
	cfg.Output.Limit = 100

	if err := cfg.ValidateExport(); err != nil {
		t.Errorf("ValidateExport() without api key error = %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without api key should fail")
	}

	cfg.Output.Limit = -1
	if err := cfg.ValidateExport(); err == nil {
		t.Error("ValidateExport() should reject a negative limit")
	}
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := &DBConfig{Driver: DriverMySQL, Host: "db", Port: 3306, User: "u", Password: "p", Database: "v"}
	want := "u:p@tcp(db:3306)/v?charset=utf8mb4&parseTime=True&loc=UTC"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %v, want %v", got, want)
	}

	cfg.Driver = DriverPostgres
	cfg.Port = 5432
	want = "host=db port=5432 user=u password=p dbname=v sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %v, want %v", got, want)
	}
}
