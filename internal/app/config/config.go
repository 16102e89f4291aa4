package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logger   LoggerConfig   `yaml:"logger"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	MongoDB  MongoDBConfig  `yaml:"mongo"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Sync     SyncConfig     `yaml:"sync"`
	Auth     AuthConfig     `yaml:"auth"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port" env:"HTTP_PORT_CACHE_SERVICE" env-default:"8085"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"60s"`
	TimeoutGraceful time.Duration `yaml:"timeout_graceful_shutdown" env-default:"15s"`
}

type LoggerConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding   string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
	TimeFormat string `yaml:"time_format" env:"LOG_TIME_FORMAT" env-default:"2006-01-02T15:04:05.000Z07:00"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"refulearn:"`
}

// SessionConfig controls the process-local session-scoped surface.
type SessionConfig struct {
	Enabled bool `yaml:"enabled" env:"SESSION_STORAGE_ENABLED" env-default:"true"`
}

type MongoDBConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	User     string `yaml:"user" env:"MONGO_USER"`
	Password string `yaml:"password" env:"MONGO_PASSWORD"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"refulearn_offline_data"`
}

type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled" env:"MINIO_ENABLED" env-default:"false"`
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"refulearn-response-cache"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
}

type NATSConfig struct {
	URL            string        `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"NATS_CONNECT_TIMEOUT" env-default:"5s"`
	SubjectPrefix  string        `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"refulearn"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" env:"UPSTREAM_BASE_URL" env-default:"http://localhost:5000"`
	Token   string        `yaml:"token" env:"UPSTREAM_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT" env-default:"10s"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"3"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY" env-default:"1s"`
	MaxElapsed  time.Duration `yaml:"max_elapsed" env:"RETRY_MAX_ELAPSED" env-default:"0s"`
	Coalesce    bool          `yaml:"coalesce" env:"RETRY_COALESCE" env-default:"true"`
}

type CacheConfig struct {
	Databases       []string `yaml:"databases" env:"CACHE_CLEARABLE_DATABASES" env-separator:"," env-default:"refulearn_courses,refulearn_progress,refulearn_assessments,refulearn_offline_data,_pouch_refulearn_courses,_pouch_refulearn_progress,_pouch_refulearn_assessments"`
	UserKeys        []string `yaml:"user_keys" env:"CACHE_USER_KEYS" env-separator:"," env-default:"token,user,userRole,courseOverviewReturnUrl"`
	UserNamespaces  []string `yaml:"user_namespaces" env:"CACHE_USER_NAMESPACES" env-separator:"," env-default:"course_completions_"`
	WarmOnStartup   bool     `yaml:"warm_on_startup" env:"CACHE_WARM_ON_STARTUP" env-default:"true"`
	PublishClearing bool     `yaml:"publish_clearing" env:"CACHE_PUBLISH_CLEARING" env-default:"true"`
}

type SyncConfig struct {
	Interval   time.Duration `yaml:"interval" env:"SYNC_INTERVAL" env-default:"30s"`
	Collection string        `yaml:"collection" env:"SYNC_COLLECTION" env-default:"sync_queue"`
	Workers    bool          `yaml:"workers" env:"SYNC_WORKERS_ENABLED" env-default:"true"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AdminRole string `yaml:"admin_role" env:"JWT_ADMIN_ROLE" env-default:"admin"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"cache-service"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"METRICS_NAMESPACE" env-default:"refulearn_cache"`
}

func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	err := cleanenv.ReadConfig(path, &cfg)
	if err != nil {
		if _, ok := err.(*os.PathError); ok {
			log.Printf("Warning: config file not found at %s, loading from environment variables only.", path)
			if errEnv := cleanenv.ReadEnv(&cfg); errEnv != nil {
				return nil, errEnv
			}
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH_CACHE_SERVICE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	return cfg
}
