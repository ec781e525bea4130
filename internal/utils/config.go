package utils

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	ServerPort     string
	AllowedOrigins []string
	MaxBodyBytes   int64
	Upstream       UpstreamConfig
	Audit          AuditConfig
	Logging        LoggingConfig
}

type UpstreamConfig struct {
	IdentityURL    string
	CompletionURL  string
	Timeout        time.Duration
	SystemPreamble string
	Placeholder    string
}

type AuditConfig struct {
	Backend      string
	WriteTimeout time.Duration
	Mongo        MongoConfig
	Postgres     PostgresConfig
}

type PostgresConfig struct {
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

const defaultUpstreamBase = "https://tl-onboarding-project-dxm7krgnwa-uc.a.run.app"

func LoadConfig() (*Config, error) {
	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))

	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		mongoURI = envOrDefault("MONGO_URI", "mongodb://localhost:27017")
	}

	cfg := &Config{
		ServerPort:     envOrDefault("PORT", "3001"),
		AllowedOrigins: parseList(envOrDefault("ALLOWED_ORIGINS", "*")),
		MaxBodyBytes:   parseInt64(envOrDefault("MAX_BODY_BYTES", "1048576"), 1<<20),
		Upstream: UpstreamConfig{
			IdentityURL:    envOrDefault("IDENTITY_URL", defaultUpstreamBase+"/login"),
			CompletionURL:  envOrDefault("COMPLETION_URL", defaultUpstreamBase+"/prompt"),
			Timeout:        parseDuration(envOrDefault("UPSTREAM_TIMEOUT", "20s"), 20*time.Second),
			SystemPreamble: envOrDefault("SYSTEM_PREAMBLE", "You are a helpful assistant."),
			Placeholder:    envOrDefault("NO_RESPONSE_PLACEHOLDER", "No response"),
		},
		Audit: AuditConfig{
			Backend:      strings.ToLower(envOrDefault("AUDIT_BACKEND", BackendMongo)),
			WriteTimeout: parseDuration(envOrDefault("STORE_WRITE_TIMEOUT", "5s"), 5*time.Second),
			Mongo: MongoConfig{
				URI:            mongoURI,
				Database:       envOrDefault("MONGO_DATABASE", "Cluster0"),
				Collection:     envOrDefault("MONGO_COLLECTION", "prompts"),
				ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
			Postgres: PostgresConfig{
				DSN:             os.Getenv("POSTGRES_DSN"),
				Host:            envOrDefault("POSTGRES_HOST", "localhost"),
				Port:            pgPort,
				User:            envOrDefault("POSTGRES_USER", "postgres"),
				Password:        envOrDefault("POSTGRES_PASSWORD", "postgres"),
				Database:        envOrDefault("POSTGRES_DB", "postgres"),
				MaxConns:        parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "4"), 4),
				MaxConnLifetime: parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
				ConnectTimeout:  parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
		},
		Logging: LoggingConfig{
			Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
			Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
			EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
			ServiceName:  envOrDefault("SERVICE_NAME", "prompt-relay"),
		},
	}

	if v, ok := os.LookupEnv("SYSTEM_PREAMBLE"); ok {
		cfg.Upstream.SystemPreamble = strings.TrimSpace(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"IDENTITY_URL":   c.Upstream.IdentityURL,
		"COMPLETION_URL": c.Upstream.CompletionURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s must be an absolute url, got %q", name, raw)
		}
	}

	switch c.Audit.Backend {
	case BackendMongo, BackendPostgres:
	default:
		return fmt.Errorf("config: unknown AUDIT_BACKEND %q", c.Audit.Backend)
	}

	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("config: UPSTREAM_TIMEOUT must be positive")
	}

	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseInt64(value string, fallback int64) int64 {
	i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || i <= 0 {
		return fallback
	}
	return i
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
