package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverMongo    = "mongo"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// -----------------------------------------------------------------------------

type Config struct {
	Name           string           `yaml:"name"`
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	LogLevel       string           `yaml:"log_level"`
	AdminToken     string           `yaml:"admin_token"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	Storage        StorageConfig    `yaml:"storage"`
	Auth           AuthConfig       `yaml:"auth"`
	Trading        TradingConfig    `yaml:"trading"`
	Market         MarketConfig     `yaml:"market"`
	Prediction     PredictionConfig `yaml:"prediction"`
}

type StorageConfig struct {
	Driver   string `yaml:"driver"`
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn"`
	// Transactions requires a replica set on the mongo side. Without it trades
	// fall back to compensating writes.
	Transactions bool `yaml:"transactions"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	KeysDir   string        `yaml:"keys_dir"`
}

type TradingConfig struct {
	StartingBalance decimal.Decimal `yaml:"starting_balance"`
	CommissionRate  decimal.Decimal `yaml:"commission_rate"`
}

type MarketConfig struct {
	Simulate bool          `yaml:"simulate"`
	Interval time.Duration `yaml:"interval"`
}

type PredictionConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// -----------------------------------------------------------------------------

// Default returns the configuration used when neither file nor environment
// say otherwise.
func Default() *Config {
	return &Config{
		Name:           "StockAnalytica",
		Host:           "",
		Port:           5000,
		LogLevel:       "info",
		RequestTimeout: 10 * time.Second,
		Storage: StorageConfig{
			Driver:   DriverMongo,
			Database: "stock-analytica",
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
			KeysDir:  "keys",
		},
		Trading: TradingConfig{
			StartingBalance: decimal.NewFromInt(50000),
			CommissionRate:  decimal.RequireFromString("0.04"),
		},
		Market: MarketConfig{
			Interval: 3 * time.Second,
		},
		Prediction: PredictionConfig{
			URL:     "http://localhost:5001/api",
			Timeout: 60 * time.Second,
		},
	}
}

// LoadDotEnv populates the environment from the given files (".env" when
// none are given). Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file '%s': %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional YAML file at path
// and environment variables, in that order of precedence, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("MONGODB_URI", &c.Storage.MongoURI)
	setString("DATABASE_NAME", &c.Storage.Database)
	setString("DATABASE_DSN", &c.Storage.DSN)
	setString("STORAGE_DRIVER", &c.Storage.Driver)
	setString("JWT_SECRET", &c.Auth.JWTSecret)
	setString("KEYS_DIR", &c.Auth.KeysDir)
	setString("PREDICTION_URL", &c.Prediction.URL)
	setString("ADMIN_TOKEN", &c.AdminToken)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("HOST", &c.Host)

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("MONGODB_TRANSACTIONS"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MONGODB_TRANSACTIONS %q: %w", v, err)
		}
		c.Storage.Transactions = on
	}
	if v := os.Getenv("MARKET_SIMULATE"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MARKET_SIMULATE %q: %w", v, err)
		}
		c.Market.Simulate = on
	}
	return nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d", c.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty (set JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be greater than 0")
	}
	if c.Auth.KeysDir == "" {
		return fmt.Errorf("keys directory cannot be empty")
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("mongo uri cannot be empty (set MONGODB_URI)")
		}
		if c.Storage.Database == "" {
			return fmt.Errorf("database name cannot be empty")
		}
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for %s", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if !c.Trading.StartingBalance.IsPositive() {
		return fmt.Errorf("starting balance must be greater than 0")
	}
	if c.Trading.CommissionRate.IsNegative() || c.Trading.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate must be in [0, 1)")
	}
	if c.Market.Simulate && c.Market.Interval <= 0 {
		return fmt.Errorf("market interval must be greater than 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
