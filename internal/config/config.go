package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Upstream UpstreamConfig
	Sync     SyncConfig
	Store    StoreConfig
	Cache    CacheConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"3000s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"wholecell-mirror-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// UpstreamConfig holds WholeCell API credentials and endpoint settings.
type UpstreamConfig struct {
	AppID     string        `envconfig:"WHOLECELL_APP_ID" default:""`
	AppSecret string        `envconfig:"WHOLECELL_APP_SECRET" default:""`
	APIBase   string        `envconfig:"WHOLECELL_API_BASE" default:"https://api.wholecell.io/api/v1/inventories"`
	Timeout   time.Duration `envconfig:"WHOLECELL_TIMEOUT" default:"20s"`
}

// SyncConfig holds sync orchestration settings.
type SyncConfig struct {
	// RequestDelay is the minimum spacing between upstream page
	// requests. WholeCell enforces 2 req/s; 500ms stays under it.
	RequestDelay time.Duration `envconfig:"SYNC_REQUEST_DELAY" default:"500ms"`

	// MaxRetries is the per-page retry budget for 429s and transient
	// network failures.
	MaxRetries int `envconfig:"SYNC_MAX_RETRIES" default:"3"`

	// RetryCooldown is the pause before retrying a rate-limited or
	// failed page.
	RetryCooldown time.Duration `envconfig:"SYNC_RETRY_COOLDOWN" default:"2s"`

	// IncrementalPages is how many leading pages an incremental check
	// re-scans. The front-window heuristic assumes recent mutations
	// surface near the front of the listing; it is a tunable, not a
	// correctness guarantee.
	IncrementalPages int `envconfig:"SYNC_INCREMENTAL_PAGES" default:"10"`
}

// StoreConfig holds persistent store settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, mysql, or memory
	Path string `envconfig:"STORE_PATH" default:"./data/inventory.db"`

	// MySQL settings
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"3306"`
	Name     string `envconfig:"STORE_DB_NAME" default:"wholecell_mirror"`
	User     string `envconfig:"STORE_DB_USER" default:"root"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
}

// CacheConfig holds snapshot cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		s.User, s.Password, s.Host, s.Port, s.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
