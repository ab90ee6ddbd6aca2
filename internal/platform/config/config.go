package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	strutil "gatehouse/pkg/platform/strings"
)

// Config is the full runtime configuration. Values come from defaults, then
// an optional YAML file, then environment variables.
type Config struct {
	Server   Server      `yaml:"server"`
	Database Database    `yaml:"database"`
	Redis    RedisConfig `yaml:"redis"`
	Auth     Auth        `yaml:"auth"`
	Facility Facility    `yaml:"facility"`
	Photos   Photos      `yaml:"photos"`
	Kafka    Kafka       `yaml:"kafka"`
	Audit    Audit       `yaml:"audit"`
	Log      Log         `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Database selects Postgres; an empty URL runs on in-memory stores.
type Database struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the revocation-list connection; empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Auth struct {
	JWTSigningKey          string        `yaml:"jwt_signing_key"`
	Issuer                 string        `yaml:"issuer"`
	Audience               string        `yaml:"audience"`
	AccessTokenTTL         time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `yaml:"refresh_token_ttl"`
	BootstrapAdminEmail    string        `yaml:"bootstrap_admin_email"`
	BootstrapAdminPassword string        `yaml:"bootstrap_admin_password"`
	// RevocationFailureMode is "warn" (logout succeeds even if the access
	// token could not be revoked) or "fail".
	RevocationFailureMode string `yaml:"revocation_failure_mode"`
	// Lockout blocks an email and client address after repeated failures.
	LockoutAttempts int           `yaml:"lockout_attempts"`
	LockoutWindow   time.Duration `yaml:"lockout_window"`
	LockoutDuration time.Duration `yaml:"lockout_duration"`
}

type Facility struct {
	Timezone string `yaml:"timezone"`
}

// Photos selects where check-in photos are written: "fs" or "s3".
type Photos struct {
	Backend      string `yaml:"backend"`
	Dir          string `yaml:"dir"`
	PublicPrefix string `yaml:"public_prefix"`
	S3           S3     `yaml:"s3"`
}

type S3 struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Kafka mirrors audit entries to a topic when Brokers is non-empty.
type Kafka struct {
	Brokers    []string `yaml:"brokers"`
	AuditTopic string   `yaml:"audit_topic"`
}

type Audit struct {
	QueueSize int `yaml:"queue_size"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const devSigningKey = "dev-secret-key-change-in-production"

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			Environment:     "development",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Database: Database{MaxOpenConns: 25, MaxIdleConns: 5},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Auth: Auth{
			JWTSigningKey:          devSigningKey,
			Issuer:                 "gatehouse",
			Audience:               "gatehouse-api",
			AccessTokenTTL:         2 * time.Hour,
			RefreshTokenTTL:        7 * 24 * time.Hour,
			BootstrapAdminEmail:    "admin@local",
			BootstrapAdminPassword: "Admin123",
			RevocationFailureMode:  "warn",
			LockoutAttempts:        5,
			LockoutWindow:          15 * time.Minute,
			LockoutDuration:        15 * time.Minute,
		},
		Facility: Facility{Timezone: "America/Bogota"},
		Photos: Photos{
			Backend:      "fs",
			Dir:          "uploads/personal",
			PublicPrefix: "/uploads/personal",
		},
		Kafka: Kafka{AuditTopic: "gatehouse.audit"},
		Audit: Audit{QueueSize: 1024},
		Log:   Log{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}

	str("GATEHOUSE_ADDR", &cfg.Server.Addr)
	str("ENVIRONMENT", &cfg.Server.Environment)
	str("DATABASE_URL", &cfg.Database.URL)
	num("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	str("REDIS_URL", &cfg.Redis.URL)
	str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("JWT_ISSUER", &cfg.Auth.Issuer)
	str("JWT_AUDIENCE", &cfg.Auth.Audience)
	dur("ACCESS_TOKEN_TTL", &cfg.Auth.AccessTokenTTL)
	dur("REFRESH_TOKEN_TTL", &cfg.Auth.RefreshTokenTTL)
	str("BOOTSTRAP_ADMIN_EMAIL", &cfg.Auth.BootstrapAdminEmail)
	str("BOOTSTRAP_ADMIN_PASSWORD", &cfg.Auth.BootstrapAdminPassword)
	str("REVOCATION_FAILURE_MODE", &cfg.Auth.RevocationFailureMode)
	num("LOGIN_LOCKOUT_ATTEMPTS", &cfg.Auth.LockoutAttempts)
	dur("LOGIN_LOCKOUT_WINDOW", &cfg.Auth.LockoutWindow)
	dur("LOGIN_LOCKOUT_DURATION", &cfg.Auth.LockoutDuration)
	str("FACILITY_TIMEZONE", &cfg.Facility.Timezone)
	str("PHOTO_STORAGE", &cfg.Photos.Backend)
	str("PHOTO_DIR", &cfg.Photos.Dir)
	str("S3_BUCKET", &cfg.Photos.S3.Bucket)
	str("S3_REGION", &cfg.Photos.S3.Region)
	str("S3_ENDPOINT", &cfg.Photos.S3.Endpoint)
	str("S3_ACCESS_KEY", &cfg.Photos.S3.AccessKey)
	str("S3_SECRET_KEY", &cfg.Photos.S3.SecretKey)
	str("S3_PUBLIC_BASE_URL", &cfg.Photos.S3.PublicBaseURL)
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = strutil.SplitList(v)
	}
	if v, ok := lookup("CORS_ORIGIN"); ok && v != "" {
		cfg.Server.CORSOrigins = strutil.SplitList(v)
	}
	str("KAFKA_AUDIT_TOPIC", &cfg.Kafka.AuditTopic)
	num("AUDIT_QUEUE_SIZE", &cfg.Audit.QueueSize)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

// IsProduction reports whether development shortcuts must be refused.
func (c Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Auth.JWTSigningKey == "" {
		problems = append(problems, "auth.jwt_signing_key is required")
	}
	if c.IsProduction() && c.Auth.JWTSigningKey == devSigningKey {
		problems = append(problems, "auth.jwt_signing_key must be overridden in production")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		problems = append(problems, "token TTLs must be positive")
	}
	if m := c.Auth.RevocationFailureMode; m != "warn" && m != "fail" {
		problems = append(problems, fmt.Sprintf("auth.revocation_failure_mode %q must be warn or fail", m))
	}
	if c.Auth.LockoutAttempts <= 0 || c.Auth.LockoutWindow <= 0 || c.Auth.LockoutDuration <= 0 {
		problems = append(problems, "auth lockout attempts, window and duration must be positive")
	}
	switch c.Photos.Backend {
	case "fs":
		if c.Photos.Dir == "" {
			problems = append(problems, "photos.dir is required for the fs backend")
		}
	case "s3":
		if c.Photos.S3.Bucket == "" {
			problems = append(problems, "photos.s3.bucket is required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("photos.backend %q must be fs or s3", c.Photos.Backend))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		problems = append(problems, "kafka.audit_topic is required when brokers are set")
	}
	if c.Audit.QueueSize <= 0 {
		problems = append(problems, "audit.queue_size must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
