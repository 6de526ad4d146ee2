package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DatabaseDriver string
	SQLitePath     string
	DatabaseURL    string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string
	LegacyEncryptKeys  []string

	CORSOrigins []string

	WSAuthTimeout     time.Duration
	WSAllowQueryToken bool
	WSSendBuffer      int
	WSRatePerSec      float64
	WSRateBurst       int

	LogLevel  string
	LogFormat string

	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// Load reads configuration from the environment. When CONFIG_FILE names a
// YAML file, its top-level keys (same names as the variables) fill in
// whatever the environment leaves unset.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func load(src source) (*Config, error) {
	dbHost := src.get("POSTGRES_HOST", "localhost")
	dbPort := src.get("POSTGRES_PORT", "5432")
	dbUser := src.get("POSTGRES_USER", "postgres")
	dbPass := src.get("POSTGRES_PASSWORD", "postgres")
	dbName := src.get("POSTGRES_DB", "portal")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=" + src.get("POSTGRES_SSLMODE", "disable"),
	}

	cfg := &Config{
		AppName: src.get("APP_NAME", "Pacific Health Portal API"),
		Env:     src.get("APP_ENV", "development"),
		Host:    src.get("HTTP_HOST", "0.0.0.0"),
		Port:    src.getInt("HTTP_PORT", 8000),

		DatabaseDriver: strings.ToLower(src.get("DATABASE_DRIVER", "sqlite")),
		SQLitePath:     src.get("SQLITE_PATH", "portal.db"),
		DatabaseURL:    src.get("DATABASE_URL", u.String()),

		JWTSecret:          src.get("JWT_SECRET", ""),
		AccessTokenMinutes: src.getInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         src.get("ENCRYPTION_KEY", ""),
		LegacyEncryptKeys:  src.getList("ENCRYPTION_LEGACY_KEYS", nil),

		CORSOrigins: src.getList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		WSAuthTimeout:     src.getDuration("WS_AUTH_TIMEOUT", 10*time.Second),
		WSAllowQueryToken: src.getBool("WS_ALLOW_QUERY_TOKEN", false),
		WSSendBuffer:      src.getInt("WS_SEND_BUFFER", 256),
		WSRatePerSec:      src.getFloat("WS_RATE_PER_SEC", 10),
		WSRateBurst:       src.getInt("WS_RATE_BURST", 20),

		LogLevel:  src.get("LOG_LEVEL", "info"),
		LogFormat: src.get("LOG_FORMAT", "text"),

		AdminName:     src.get("ADMIN_NAME", "Pacific Health Admin"),
		AdminEmail:    src.get("ADMIN_EMAIL", ""),
		AdminPassword: src.get("ADMIN_PASSWORD", ""),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.DatabaseDriver != "sqlite" && cfg.DatabaseDriver != "postgres" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", cfg.DatabaseDriver)
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}
	// Tokens in URLs end up in access logs.
	if cfg.IsProduction() {
		cfg.WSAllowQueryToken = false
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return src, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			src.file[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			src.file[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return src, nil
}

func (s source) get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return def
}

func (s source) getInt(key string, def int) int {
	if v := s.get(key, ""); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) getFloat(key string, def float64) float64 {
	if v := s.get(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) getBool(key string, def bool) bool {
	if v := s.get(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getDuration accepts Go durations ("15s") or a plain number of seconds.
func (s source) getDuration(key string, def time.Duration) time.Duration {
	v := s.get(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func (s source) getList(key string, def []string) []string {
	v := s.get(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
