package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Storage       StorageConfig       `json:"storage"`
	Notifications NotificationsConfig `json:"notifications"`
	Logging       LoggingConfig       `json:"logging"`
	Factors       FactorsConfig       `json:"factors"`
	Frameworks    FrameworksConfig    `json:"frameworks"`
	Propagation   PropagationConfig   `json:"propagation"`
	Dashboard     DashboardConfig     `json:"dashboard"`
	Schedules     SchedulesConfig     `json:"schedules"`
}

// Duration is a time.Duration that reads "30s"-style strings from JSON
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
	IdleTimeout    Duration `json:"idle_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig represents database configuration. An empty host runs the
// whole stack in memory.
type DatabaseConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
	AutoMigrate    bool     `json:"auto_migrate"`
}

// StorageConfig is the report payload archive
type StorageConfig struct {
	Bucket          string   `json:"bucket"`
	Prefix          string   `json:"prefix"`
	Region          string   `json:"region"`
	Endpoint        string   `json:"endpoint"`
	AccessKeyID     string   `json:"access_key_id"`
	SecretAccessKey string   `json:"secret_access_key"`
	UsePathStyle    bool     `json:"use_path_style"`
	PresignExpiry   Duration `json:"presign_expiry"`
}

// NotificationsConfig forwards committed results and reports to SNS when a
// topic is set
type NotificationsConfig struct {
	SNSTopicARN string `json:"sns_topic_arn"`
	Region      string `json:"region"`
	Endpoint    string `json:"endpoint"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// FactorsConfig selects the emission factor catalog. The builtin catalog is
// loaded when CatalogPath is empty.
type FactorsConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// FrameworksConfig adds framework definitions on top of the builtin ones
type FrameworksConfig struct {
	ConfigDir string `json:"config_dir"`
}

// PropagationConfig tunes the retry worker
type PropagationConfig struct {
	RetrySchedule string   `json:"retry_schedule"`
	RetryBatch    int      `json:"retry_batch"`
	MaxAttempts   int      `json:"max_attempts"`
	BaseBackoff   Duration `json:"base_backoff"`
	MaxBackoff    Duration `json:"max_backoff"`
}

// DashboardConfig
type DashboardConfig struct {
	CacheTTL     Duration `json:"cache_ttl"`
	TopSources   int      `json:"top_sources"`
	YearOverYear bool     `json:"year_over_year"`
}

// SchedulesConfig points at the YAML file of recurring report requests
type SchedulesConfig struct {
	Path    string   `json:"path"`
	Timeout Duration `json:"timeout"`
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
			IdleTimeout:  Duration(120 * time.Second),
		},
		Database: DatabaseConfig{
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "ghg_reporting",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration(5 * time.Minute),
			AutoMigrate:    true,
		},
		Storage: StorageConfig{
			Prefix:        "reports",
			PresignExpiry: Duration(15 * time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Propagation: PropagationConfig{
			RetrySchedule: "@every 30s",
			RetryBatch:    100,
			MaxAttempts:   8,
			BaseBackoff:   Duration(30 * time.Second),
			MaxBackoff:    Duration(6 * time.Hour),
		},
		Dashboard: DashboardConfig{
			CacheTTL:     Duration(5 * time.Minute),
			TopSources:   10,
			YearOverYear: true,
		},
		Schedules: SchedulesConfig{
			Timeout: Duration(30 * time.Minute),
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A
// missing file is not an error; a malformed one is. A .env file in the
// working directory is loaded first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("SERVER_HOST", &config.Server.Host)
	num("SERVER_PORT", &config.Server.Port)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitList(origins)
	}

	str("DATABASE_HOST", &config.Database.Host)
	num("DATABASE_PORT", &config.Database.Port)
	str("DATABASE_USER", &config.Database.User)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_DBNAME", &config.Database.DBName)
	str("DATABASE_SSLMODE", &config.Database.SSLMode)
	flag("DATABASE_AUTO_MIGRATE", &config.Database.AutoMigrate)

	str("STORAGE_BUCKET", &config.Storage.Bucket)
	str("STORAGE_PREFIX", &config.Storage.Prefix)
	str("AWS_REGION", &config.Storage.Region)
	str("STORAGE_ENDPOINT", &config.Storage.Endpoint)
	str("AWS_ACCESS_KEY_ID", &config.Storage.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &config.Storage.SecretAccessKey)

	str("SNS_TOPIC_ARN", &config.Notifications.SNSTopicARN)
	str("SNS_ENDPOINT", &config.Notifications.Endpoint)
	if config.Notifications.Region == "" {
		config.Notifications.Region = config.Storage.Region
	}

	str("LOG_LEVEL", &config.Logging.Level)
	flag("LOG_DEVELOPMENT", &config.Logging.Development)

	str("FACTOR_CATALOG_PATH", &config.Factors.CatalogPath)
	str("FRAMEWORK_CONFIG_DIR", &config.Frameworks.ConfigDir)

	str("RETRY_SCHEDULE", &config.Propagation.RetrySchedule)
	num("RETRY_MAX_ATTEMPTS", &config.Propagation.MaxAttempts)
	dur("RETRY_BASE_BACKOFF", &config.Propagation.BaseBackoff)

	dur("DASHBOARD_CACHE_TTL", &config.Dashboard.CacheTTL)
	str("REPORT_SCHEDULES_PATH", &config.Schedules.Path)

	return errors.Join(errs...)
}

// Validate rejects configurations the services cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Propagation.MaxAttempts < 1 {
		errs = append(errs, errors.New("propagation.max_attempts must be at least 1"))
	}
	if c.Propagation.BaseBackoff <= 0 {
		errs = append(errs, errors.New("propagation.base_backoff must be positive"))
	}
	if c.Propagation.MaxBackoff < c.Propagation.BaseBackoff {
		errs = append(errs, errors.New("propagation.max_backoff must not be below base_backoff"))
	}
	if c.Notifications.SNSTopicARN != "" && !strings.HasPrefix(c.Notifications.SNSTopicARN, "arn:") {
		errs = append(errs, fmt.Errorf("notifications.sns_topic_arn %q is not an ARN", c.Notifications.SNSTopicARN))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UseDatabase reports whether a PostgreSQL host is configured
func (c *DatabaseConfig) UseDatabase() bool {
	return c.Host != ""
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
