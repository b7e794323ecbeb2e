// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the Gateway configuration parsed from environment variables.
// The broker, store and credential variables are required; a missing one is a
// startup failure (the caller writes the health sentinel and exits 1).
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	RabbitMQServer string `env:"RABBITMQ_SERVER,required"`
	RabbitMQPort   int    `env:"RABBITMQ_PORT,required"`
	RabbitMQUser   string `env:"RABBITMQ_DEFAULT_USER,required"`
	RabbitMQPass   string `env:"RABBITMQ_DEFAULT_PASS,required"`

	DBServerName string `env:"DB_SERVER_NAME,required"`
	DBAuthSource string `env:"DB_AUTH_SOURCE,required"`
	DBUsername   string `env:"MONGO_INITDB_ROOT_USERNAME,required"`
	DBPassword   string `env:"MONGO_INITDB_ROOT_PASSWORD,required"`

	StackVersion        string `env:"STACK_VERSION,required"`
	APIToken            string `env:"API_TOKEN,required"`
	APITokenWorkers     string `env:"API_TOKEN_WORKERS,required"`
	AdvworkidCredential string `env:"ADVWORKID_CREDENTIAL,required"`

	// RegistryReload bounds how often the in-memory queue registry is
	// refreshed from the store; multiple Gateway instances converge within
	// this window.
	RegistryReload time.Duration `env:"REGISTRY_RELOAD" envDefault:"300s"`

	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ml-gateway"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// MongoURI assembles the store connection string with the configured auth
// source.
func (c Config) MongoURI() string {
	return fmt.Sprintf("mongodb://%s:%s@%s/?authSource=%s",
		url.QueryEscape(c.DBUsername), url.QueryEscape(c.DBPassword), c.DBServerName, url.QueryEscape(c.DBAuthSource))
}

// AMQPURL assembles the broker connection string.
func (c Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		url.QueryEscape(c.RabbitMQUser), url.QueryEscape(c.RabbitMQPass), c.RabbitMQServer, c.RabbitMQPort)
}

// WorkerConfig holds the Executor configuration. The worker shares the broker
// variables with the Gateway and adds its own identity and API location.
type WorkerConfig struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	RabbitMQServer string `env:"RABBITMQ_SERVER,required"`
	RabbitMQPort   int    `env:"RABBITMQ_PORT,required"`
	RabbitMQUser   string `env:"RABBITMQ_DEFAULT_USER,required"`
	RabbitMQPass   string `env:"RABBITMQ_DEFAULT_PASS,required"`

	APIURL              string `env:"API_URL,required"`
	WorkerID            string `env:"WORKER_ID_001,required"`
	AdvworkidCredential string `env:"ADVWORKID_CREDENTIAL,required"`

	// Models served by the bundled loader. The model runtime proper is a
	// user-supplied collaborator; this list only names what to instantiate.
	Models []string `env:"WORKER_MODELS" envSeparator:","`

	MetricsPort int `env:"METRICS_PORT" envDefault:"9090"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ml-worker"`
}

// LoadWorker parses environment variables into a WorkerConfig.
func LoadWorker() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("op=config.LoadWorker: %w", err)
	}
	return cfg, nil
}

// AMQPURL assembles the broker connection string.
func (c WorkerConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		url.QueryEscape(c.RabbitMQUser), url.QueryEscape(c.RabbitMQPass), c.RabbitMQServer, c.RabbitMQPort)
}
