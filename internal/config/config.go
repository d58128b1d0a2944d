package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	JWT         JWTConfig         `yaml:"jwt"`
	Security    SecurityConfig    `yaml:"security"`
	Redis       RedisConfig       `yaml:"redis"`
	CORS        CORSConfig        `yaml:"cors"`
	Logging     LoggingConfig     `yaml:"logging"`
	DefaultUser DefaultUserConfig `yaml:"default_user"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// JWTConfig holds the signing key and token lifetimes. RoleAccessTTL
// overrides AccessTTL for individual roles.
type JWTConfig struct {
	Secret        string              `yaml:"secret"`
	Issuer        string              `yaml:"issuer"`
	AccessTTL     Duration            `yaml:"access_ttl"`
	RefreshTTL    Duration            `yaml:"refresh_ttl"`
	RoleAccessTTL map[string]Duration `yaml:"role_access_ttl"`
}

type SecurityConfig struct {
	BcryptCost           int             `yaml:"bcrypt_cost"`
	ResetTokenTTL        Duration        `yaml:"reset_token_ttl"`
	UniformResetResponse bool            `yaml:"uniform_reset_response"`
	LoginRateLimit       RateLimitConfig `yaml:"login_rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Window  Duration `yaml:"window"`
}

type RedisConfig struct {
	URL          string `yaml:"url"`
	ResetChannel string `yaml:"reset_channel"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type DefaultUserConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// Duration is a time.Duration that unmarshals from a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// knownRoles mirrors models.Role. Kept local so config has no dependency on models.
var knownRoles = map[string]bool{
	"admin":         true,
	"teacher":       true,
	"student":       true,
	"parent":        true,
	"library_staff": true,
	"finance":       true,
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "release"},
		Database: DatabaseConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "data/school-auth.db"},
			MySQL:  MySQLConfig{Port: 3306, Charset: "utf8mb4"},
			Postgres: PostgresConfig{
				Port:    5432,
				SSLMode: "disable",
			},
		},
		JWT: JWTConfig{
			Issuer:     "school-auth",
			AccessTTL:  Duration(15 * time.Minute),
			RefreshTTL: Duration(7 * 24 * time.Hour),
		},
		Security: SecurityConfig{
			BcryptCost:    12,
			ResetTokenTTL: Duration(time.Hour),
			LoginRateLimit: RateLimitConfig{
				Window: Duration(2 * time.Second),
			},
		},
		Redis:   RedisConfig{ResetChannel: "password_reset"},
		CORS:    CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	// .env is optional; production sets real environment variables.
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists for SQLite
	if cfg.Database.Type == "sqlite" {
		dataDir := filepath.Dir(cfg.Database.SQLite.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if jwtSecret := os.Getenv("SCHOOLAUTH_JWT_SECRET"); jwtSecret != "" {
		cfg.JWT.Secret = jwtSecret
	}

	if ttl := os.Getenv("SCHOOLAUTH_ACCESS_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid SCHOOLAUTH_ACCESS_TTL: %w", err)
		}
		cfg.JWT.AccessTTL = Duration(parsed)
	}

	if ttl := os.Getenv("SCHOOLAUTH_REFRESH_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid SCHOOLAUTH_REFRESH_TTL: %w", err)
		}
		cfg.JWT.RefreshTTL = Duration(parsed)
	}

	if port := os.Getenv("SCHOOLAUTH_PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SCHOOLAUTH_PORT: %w", err)
		}
		cfg.Server.Port = parsed
	}

	if dbType := os.Getenv("SCHOOLAUTH_DB_TYPE"); dbType != "" {
		cfg.Database.Type = dbType
	}

	if dbPath := os.Getenv("SCHOOLAUTH_DB_PATH"); dbPath != "" {
		cfg.Database.SQLite.Path = dbPath
	}

	if mysqlHost := os.Getenv("SCHOOLAUTH_MYSQL_HOST"); mysqlHost != "" {
		cfg.Database.MySQL.Host = mysqlHost
	}

	if mysqlUser := os.Getenv("SCHOOLAUTH_MYSQL_USER"); mysqlUser != "" {
		cfg.Database.MySQL.Username = mysqlUser
	}

	if mysqlPass := os.Getenv("SCHOOLAUTH_MYSQL_PASSWORD"); mysqlPass != "" {
		cfg.Database.MySQL.Password = mysqlPass
	}

	if mysqlDB := os.Getenv("SCHOOLAUTH_MYSQL_DATABASE"); mysqlDB != "" {
		cfg.Database.MySQL.Database = mysqlDB
	}

	if pgHost := os.Getenv("SCHOOLAUTH_POSTGRES_HOST"); pgHost != "" {
		cfg.Database.Postgres.Host = pgHost
	}

	if pgUser := os.Getenv("SCHOOLAUTH_POSTGRES_USER"); pgUser != "" {
		cfg.Database.Postgres.Username = pgUser
	}

	if pgPass := os.Getenv("SCHOOLAUTH_POSTGRES_PASSWORD"); pgPass != "" {
		cfg.Database.Postgres.Password = pgPass
	}

	if pgDB := os.Getenv("SCHOOLAUTH_POSTGRES_DATABASE"); pgDB != "" {
		cfg.Database.Postgres.Database = pgDB
	}

	if redisURL := os.Getenv("SCHOOLAUTH_REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}

	if origins := os.Getenv("SCHOOLAUTH_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORS.AllowedOrigins = strings.Split(origins, ",")
	}

	return nil
}

// Validate checks the settings the auth core cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("jwt secret is required")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt access_ttl must be positive")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt refresh_ttl must be positive")
	}
	if c.Security.ResetTokenTTL <= 0 {
		return errors.New("security reset_token_ttl must be positive")
	}

	for role, ttl := range c.JWT.RoleAccessTTL {
		if !knownRoles[role] {
			return fmt.Errorf("role_access_ttl: unknown role %q", role)
		}
		if ttl <= 0 {
			return fmt.Errorf("role_access_ttl: duration for role %s must be positive", role)
		}
	}

	switch c.Database.Type {
	case "sqlite":
	case "mysql":
		if c.Database.MySQL.Username == "" {
			return fmt.Errorf("MySQL username is required")
		}
		if c.Database.MySQL.Database == "" {
			return fmt.Errorf("MySQL database name is required")
		}
	case "postgres":
		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("Postgres database name is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	return nil
}

// AccessTTLFor returns the access token lifetime for a role.
func (c *Config) AccessTTLFor(role string) time.Duration {
	if ttl, ok := c.JWT.RoleAccessTTL[role]; ok && ttl > 0 {
		return ttl.Std()
	}
	return c.JWT.AccessTTL.Std()
}
