package config

import (
	"os"
	"strings"
	"time"
)

type NonceBackend string

const (
	NonceSQL    NonceBackend = "sql"
	NonceRedis  NonceBackend = "redis"
	NonceMemory NonceBackend = "memory"
)

var defaultScopes = strings.Join([]string{
	"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem",
	"https://purl.imsglobal.org/spec/lti-ags/scope/score",
	"https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly",
	"https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly",
}, ",")

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string // sqlite|postgres
	DBDSN    string

	NonceBackend NonceBackend
	RedisURL     string
	NonceTTL     time.Duration

	// Tool identity
	ToolName            string
	ToolDescription     string
	ToolPrivateKeyFile  string // PEM; a key is generated when empty
	ToolKID             string
	ToolSignatureMethod string
	ToolRequiredScopes  []string

	AllowSharing   bool
	AllowJKUHeader bool
	StrictMode     bool
	DefaultEmail   string

	JWTLife           time.Duration
	JWTLeeway         time.Duration
	HTTPClientTimeout time.Duration

	EnableAdmin   bool
	AdminUser     string
	AdminPassHash string // bcrypt; empty denies all admin requests

	CORSOrigins []string

	LogLevel string
	LogJSON  bool
}

func FromEnv() Config {
	pub := strings.TrimSuffix(envOr("PUBLIC_URL", "http://localhost:8080"), "/")
	return Config{
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: pub,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", "file:ltitool.db?_pragma=busy_timeout(5000)"),

		NonceBackend: NonceBackend(strings.ToLower(envOr("NONCE_BACKEND", string(NonceSQL)))),
		RedisURL:     envOr("REDIS_URL", "redis://localhost:6379/0"),
		NonceTTL:     envDuration("NONCE_TTL", 30*time.Minute),

		ToolName:            envOr("TOOL_NAME", "MindEngage LTI Tool"),
		ToolDescription:     envOr("TOOL_DESCRIPTION", ""),
		ToolPrivateKeyFile:  os.Getenv("TOOL_PRIVATE_KEY_FILE"),
		ToolKID:             os.Getenv("TOOL_KID"),
		ToolSignatureMethod: envOr("TOOL_SIGNATURE_METHOD", "RS256"),
		ToolRequiredScopes:  csvOr("TOOL_REQUIRED_SCOPES", defaultScopes),

		AllowSharing:   envBool("ALLOW_SHARING", false),
		AllowJKUHeader: envBool("ALLOW_JKU_HEADER", false),
		StrictMode:     envBool("STRICT_MODE", false),
		DefaultEmail:   os.Getenv("DEFAULT_EMAIL"),

		JWTLife:           envDuration("JWT_LIFE", 60*time.Second),
		JWTLeeway:         envDuration("JWT_LEEWAY", 60*time.Second),
		HTTPClientTimeout: envDuration("HTTP_CLIENT_TIMEOUT", 15*time.Second),

		EnableAdmin:   envBool("ENABLE_ADMIN", true),
		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: os.Getenv("ADMIN_PASS_HASH"),

		CORSOrigins: csvOr("CORS_ORIGINS", "*"),

		LogLevel: strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogJSON:  envBool("LOG_JSON", true),
	}
}

// URL joins path onto PublicURL.
func (c Config) URL(path string) string {
	return c.PublicURL + "/" + strings.TrimPrefix(path, "/")
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return def
}
