package config

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultEnvFile            = ".env"
	defaultAddress            = ":8080"
	defaultBasePath           = "/admin"
	defaultEnvironment        = "Development"
	defaultReadTimeout        = 10 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 60 * time.Second
	defaultHandlerTimeout     = 60 * time.Second
	defaultCSRFCookieName     = "admin_csrf"
	defaultCSRFHeaderName     = "X-CSRF-Token"
	defaultCSRFFieldName      = "csrf_token"
	defaultSessionCookieName  = "admin_session"
	defaultSessionIdleTimeout = 30 * time.Minute
	defaultSessionLifetime    = 12 * time.Hour
	defaultLogLevel           = "info"
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("config: invalid")

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	CSRF     CSRFConfig
	Session  SessionConfig
	Firebase FirebaseConfig
	Log      LogConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address        string
	BasePath       string
	Environment    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	HandlerTimeout time.Duration
}

// AuthConfig points the admin site at the project-level login and logout pages.
type AuthConfig struct {
	LoginURL           string
	LogoutURL          string
	PermanentRedirects bool
}

// CSRFConfig names the CSRF cookie, header and form field.
type CSRFConfig struct {
	CookieName   string
	HeaderName   string
	FieldName    string
	CookieSecure bool
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	CookieName   string
	CookieSecure bool
	HashKey      []byte
	BlockKey     []byte
	IdleTimeout  time.Duration
	Lifetime     time.Duration
}

// FirebaseConfig enables Firebase ID token verification when ProjectID is set.
type FirebaseConfig struct {
	ProjectID string
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Is lets errors.Is match ErrInvalidConfig.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the dotenv file path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, the .env file and the environment.
// Precedence, highest first: WithEnvMap values, process environment, .env file.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	secure := boolWithDefault(lookup, "ADMIN_COOKIE_SECURE", false)
	cfg := Config{
		Server: ServerConfig{
			Address:        stringWithDefault(lookup, "ADMIN_HTTP_ADDR", defaultAddress),
			BasePath:       stringWithDefault(lookup, "ADMIN_BASE_PATH", defaultBasePath),
			Environment:    stringWithDefault(lookup, "ADMIN_ENVIRONMENT", defaultEnvironment),
			ReadTimeout:    durationWithDefault(lookup, "ADMIN_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "ADMIN_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "ADMIN_HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
			HandlerTimeout: durationWithDefault(lookup, "ADMIN_HTTP_HANDLER_TIMEOUT", defaultHandlerTimeout),
		},
		Auth: AuthConfig{
			LoginURL:           stringWithDefault(lookup, "LOGIN_URL", ""),
			LogoutURL:          stringWithDefault(lookup, "LOGOUT_URL", ""),
			PermanentRedirects: boolWithDefault(lookup, "ADMIN_AUTH_PERMANENT_REDIRECTS", true),
		},
		CSRF: CSRFConfig{
			CookieName:   stringWithDefault(lookup, "ADMIN_CSRF_COOKIE_NAME", defaultCSRFCookieName),
			HeaderName:   stringWithDefault(lookup, "ADMIN_CSRF_HEADER_NAME", defaultCSRFHeaderName),
			FieldName:    stringWithDefault(lookup, "ADMIN_CSRF_FIELD_NAME", defaultCSRFFieldName),
			CookieSecure: secure,
		},
		Session: SessionConfig{
			CookieName:   stringWithDefault(lookup, "ADMIN_SESSION_COOKIE_NAME", defaultSessionCookieName),
			CookieSecure: secure,
			IdleTimeout:  durationWithDefault(lookup, "ADMIN_SESSION_IDLE_TIMEOUT", defaultSessionIdleTimeout),
			Lifetime:     durationWithDefault(lookup, "ADMIN_SESSION_LIFETIME", defaultSessionLifetime),
		},
		Firebase: FirebaseConfig{
			ProjectID: stringWithDefault(lookup, "FIREBASE_PROJECT_ID", ""),
		},
		Log: LogConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
	}

	var invalid []string
	if cfg.Session.HashKey, err = keyWithDefault(lookup, "ADMIN_SESSION_HASH_KEY"); err != nil {
		invalid = append(invalid, "Session.HashKey")
	}
	if cfg.Session.BlockKey, err = keyWithDefault(lookup, "ADMIN_SESSION_BLOCK_KEY"); err != nil {
		invalid = append(invalid, "Session.BlockKey")
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Address) == "" {
		missing = append(missing, "Server.Address")
	}
	if strings.TrimSpace(cfg.Auth.LoginURL) == "" {
		missing = append(missing, "Auth.LoginURL")
	}
	if strings.TrimSpace(cfg.Auth.LogoutURL) == "" {
		missing = append(missing, "Auth.LogoutURL")
	}
	if cfg.Session.IdleTimeout <= 0 {
		missing = append(missing, "Session.IdleTimeout")
	}
	if cfg.Session.Lifetime <= 0 {
		missing = append(missing, "Session.Lifetime")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		missing = append(missing, "Session.BlockKey")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// keyWithDefault reads a base64 (standard or URL alphabet) encoded key. Unset
// keys return nil so the caller can generate an ephemeral one.
func keyWithDefault(lookup func(string) (string, bool), key string) ([]byte, error) {
	value, ok := lookup(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return nil, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("config: %s is not valid base64", key)
}
