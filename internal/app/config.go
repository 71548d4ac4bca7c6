package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
)

// Config holds the complete application configuration, loadable from
// environment variables (HOMEDECO_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (HOMEDECO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (HOMEDECO_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Timing       TimingConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// TimingConfig selects how delivery time is simulated.
type TimingConfig struct {
	Mode     string `default:"realistic" usage:"Delivery timing mode: realistic or demo"`
	Location string `default:"Europe/Paris" usage:"Time zone of warehouse and delivery hours"`
}

// RedisConfig enables the route cache when Addr is set.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for the route cache; empty disables it"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	RouteTTL time.Duration `default:"24h" usage:"Route cache entry lifetime" flag:"redis-route-ttl"`
}

// KafkaConfig enables order lifecycle events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers; empty disables events"`
	Topic   string   `default:"homedeco.orders" usage:"Topic for order lifecycle events"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "HOMEDECO",
		Files:     []string{"config.yaml", "/etc/homedeco/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set HOMEDECO_DATABASE_URL or DATABASE_URL")
	}
	if _, err := delivery.ParseMode(c.Timing.Mode); err != nil {
		return errors.Wrap(err, "timing mode")
	}
	if _, err := time.LoadLocation(c.Timing.Location); err != nil {
		return errors.Wrap(err, "timing location")
	}
	return nil
}

// Clock builds the delivery clock from the timing settings.
func (c *Config) Clock() (delivery.Clock, error) {
	mode, err := delivery.ParseMode(c.Timing.Mode)
	if err != nil {
		return delivery.Clock{}, errors.Wrap(err, "timing mode")
	}
	loc, err := time.LoadLocation(c.Timing.Location)
	if err != nil {
		return delivery.Clock{}, errors.Wrap(err, "timing location")
	}
	return delivery.NewClock(mode, loc), nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's HOMEDECO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
