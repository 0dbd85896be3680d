package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process and syncctl.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Authority AuthorityConfig
	Workspace WorkspaceConfig
	Login     LoginConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig points at the workspace store.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is empty the token denylist is disabled
// and issued tokens stay valid until their natural expiry.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AuthorityConfig locates the identity authority store.
// Empty BaseURL and AccessKey put the adapter in disabled mode.
type AuthorityConfig struct {
	BaseURL   string
	AccessKey string
	Timeout   time.Duration

	// UserKeyColumn is the primary key column of the authority users table
	// ("id" on current schemas, "user_id" on legacy ones).
	UserKeyColumn string
}

type WorkspaceConfig struct {
	// RolePolicy is "authority" (sync overwrites local role overrides) or
	// "sticky" (local overrides survive sync).
	RolePolicy string
}

type LoginConfig struct {
	RatePerSecond int
	RateBurst     int
}

const minProductionSecretLen = 32

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	// Duration env vars are optional; defaults applied in Validate().
	{
		d, err := optionalDuration("JWT_ACCESS_TTL")
		parseErrs = appendErr(parseErrs, err)
		c.Auth.AccessTokenTTL = d
	}
	{
		d, err := optionalDuration("JWT_REFRESH_TTL")
		parseErrs = appendErr(parseErrs, err)
		c.Auth.RefreshTokenTTL = d
	}

	c.Authority.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("IDENTITY_AUTHORITY_URL")), "/")
	c.Authority.AccessKey = strings.TrimSpace(os.Getenv("IDENTITY_AUTHORITY_KEY"))
	c.Authority.UserKeyColumn = strings.TrimSpace(os.Getenv("IDENTITY_AUTHORITY_USER_KEY"))
	{
		d, err := optionalDuration("IDENTITY_AUTHORITY_TIMEOUT")
		parseErrs = appendErr(parseErrs, err)
		c.Authority.Timeout = d
	}

	c.Workspace.RolePolicy = strings.TrimSpace(os.Getenv("WORKSPACE_ROLE_POLICY"))

	{
		n, err := optionalInt("LOGIN_RATE_PER_SECOND")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Login.RatePerSecond = n
	}
	{
		n, err := optionalInt("LOGIN_RATE_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Login.RateBurst = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < minProductionSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretLen))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = time.Hour
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Authority.BaseURL != "" {
		u, err := url.Parse(c.Authority.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("IDENTITY_AUTHORITY_URL must be an absolute http(s) URL, got %q", c.Authority.BaseURL))
		}
		if c.Authority.AccessKey == "" {
			errs = append(errs, errors.New("IDENTITY_AUTHORITY_KEY is required when IDENTITY_AUTHORITY_URL is set"))
		}
	} else if c.Authority.AccessKey != "" {
		errs = append(errs, errors.New("IDENTITY_AUTHORITY_URL is required when IDENTITY_AUTHORITY_KEY is set"))
	}
	if c.Authority.Timeout <= 0 {
		c.Authority.Timeout = 5 * time.Second
	}
	switch c.Authority.UserKeyColumn {
	case "":
		c.Authority.UserKeyColumn = "id"
	case "id", "user_id":
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_AUTHORITY_USER_KEY must be id or user_id, got %q", c.Authority.UserKeyColumn))
	}

	switch c.Workspace.RolePolicy {
	case "":
		c.Workspace.RolePolicy = "authority"
	case "authority", "sticky":
	default:
		errs = append(errs, fmt.Errorf("WORKSPACE_ROLE_POLICY must be authority or sticky, got %q", c.Workspace.RolePolicy))
	}

	if c.Login.RatePerSecond <= 0 {
		c.Login.RatePerSecond = 5
	}
	if c.Login.RateBurst <= 0 {
		c.Login.RateBurst = 10
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// AuthorityEnabled reports whether the identity authority is configured.
func (c Config) AuthorityEnabled() bool {
	return c.Authority.BaseURL != ""
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
