package config

import (
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheTiered = "tiered"
	CacheNone   = "none"
)

// Config is the root application configuration. A loaded Config is never
// mutated; Holder.Reload swaps in a fresh one.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
	CORS     CORSConfig     `yaml:"cors"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"*"`
	AllowedMethods   string `yaml:"allowed_methods"   env:"CORS_ALLOWED_METHODS"   env-default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   string `yaml:"allowed_headers"   env:"CORS_ALLOWED_HEADERS"   env-default:"Authorization,Content-Type,X-Timezone-Offset"`
	ExposedHeaders   string `yaml:"exposed_headers"   env:"CORS_EXPOSED_HEADERS"   env-default:"X-Pagination-Total-Count,X-Pagination-Page-Count,X-Pagination-Current-Page,X-Pagination-Per-Page"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"true"`
	MaxAge           int    `yaml:"max_age"           env:"CORS_MAX_AGE"           env-default:"86400"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"  env:"STORE_DRIVER"  env-default:"memory"`
	Migrate bool   `yaml:"migrate" env:"STORE_MIGRATE" env-default:"true"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI            string        `yaml:"uri"             env:"MONGO_URI"             env-default:"mongodb://localhost:27017"`
	Database       string        `yaml:"database"        env:"MONGO_DATABASE"        env-default:"tenantkit"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"MONGO_CONNECT_TIMEOUT" env-default:"10s"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Driver           string        `yaml:"driver"             env:"CACHE_DRIVER"             env-default:"memory"`
	TTL              time.Duration `yaml:"ttl"                env:"CACHE_TTL"                env-default:"60s"`
	FrontTTL         time.Duration `yaml:"front_ttl"          env:"CACHE_FRONT_TTL"          env-default:"5s"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"   env:"CACHE_CLEANUP_INTERVAL"   env-default:"5m"`
	RedisAddr        string        `yaml:"redis_addr"         env:"CACHE_REDIS_ADDR"         env-default:"localhost:6379"`
	RedisPassword    string        `yaml:"redis_password"     env:"CACHE_REDIS_PASSWORD"`
	RedisDB          int           `yaml:"redis_db"           env:"CACHE_REDIS_DB"           env-default:"0"`
	RedisMasterName  string        `yaml:"redis_master_name"  env:"CACHE_REDIS_MASTER_NAME"`
	RedisSentinelRaw string        `yaml:"redis_sentinels"    env:"CACHE_REDIS_SENTINELS"`
}

// SentinelAddrs splits RedisSentinelRaw on commas.
func (c CacheConfig) SentinelAddrs() []string {
	return splitList(c.RedisSentinelRaw)
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"       env:"AUTH_JWT_SECRET"       env-required:"true"`
	JWTIssuer      string        `yaml:"jwt_issuer"       env:"AUTH_JWT_ISSUER"       env-default:"tenantkit"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"AUTH_ACCESS_TOKEN_TTL" env-default:"15m"`
	// Anonymous lets requests without a bearer token through unscoped.
	Anonymous bool `yaml:"anonymous" env:"AUTH_ANONYMOUS" env-default:"false"`
}

// APIConfig holds REST controller settings.
type APIConfig struct {
	Prefix       string `yaml:"prefix"         env:"API_PREFIX"         env-default:"/api"`
	DefaultLimit int    `yaml:"default_limit"  env:"API_DEFAULT_LIMIT"  env-default:"25"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" env:"API_MAX_BODY_BYTES" env-default:"1048576"`
	// RateLimitPerMinute caps requests per tenant; 0 disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" env:"API_RATE_LIMIT_PER_MINUTE" env-default:"600"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
