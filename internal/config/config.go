package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config is the process configuration snapshot. Build it once with Load and
// pass it by pointer; nothing mutates it afterwards.
type Config struct {
	Env  string `env:"APP_ENV" validate:"required"`
	Port int    `env:"PORT" validate:"min=0,max=65535"`

	DatabaseURI      string `env:"DB_URI" validate:"required"`
	JWTAccessSecret  string `env:"JWT_ACCESS_SECRET" validate:"required"`
	JWTRefreshSecret string `env:"JWT_REFRESH_TOKEN" validate:"required"`

	WhitelistOrigins []string `env:"WHITELIST_ORIGINS" validate:"min=1"`

	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=console json"`

	HealthPath string `env:"HEALTH_PATH" validate:"required,startswith=/,ne=/"`

	RedisAddr string `env:"REDIS_ADDR"`
	RedisDB   int    `env:"REDIS_DB" validate:"min=0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// levelAliases folds the npm-style level names onto the four levels the
// logger knows.
var levelAliases = map[string]string{
	"verbose": "debug",
	"http":    "debug",
	"silly":   "debug",
	"warning": "warn",
}

// RunMode returns the run mode from APP_ENV (or NODE_ENV), defaulting to
// development. Any other value is accepted and behaves like development
// apart from the env file it selects.
func RunMode() string {
	for _, k := range []string{"APP_ENV", "NODE_ENV"} {
		if v := strings.ToLower(strings.TrimSpace(os.Getenv(k))); v != "" {
			return v
		}
	}
	return EnvDevelopment
}

// LoadEnvFiles loads <dir>/.env.<mode> and then .env into the process
// environment. Missing files are skipped and variables that are already set
// are never overwritten.
func LoadEnvFiles(dir, mode string) error {
	files := []string{filepath.Join(dir, ".env."+mode), ".env"}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the environment and returns a validated Config. A missing
// required secret is reported by variable name.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("app_env", "APP_ENV", "NODE_ENV")
	_ = v.BindEnv("db_uri", "DB_URI", "DATABASE_URL")

	v.SetDefault("app_env", EnvDevelopment)
	v.SetDefault("port", "3000")
	v.SetDefault("whitelist_origins", strings.Join(defaultOrigins, ","))
	v.SetDefault("log_level", "info")
	v.SetDefault("health_path", "/health")
	v.SetDefault("redis_db", "0")
	v.SetDefault("shutdown_timeout", "10s")

	c := &Config{
		Env:              strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		DatabaseURI:      strings.TrimSpace(v.GetString("db_uri")),
		JWTAccessSecret:  v.GetString("jwt_access_secret"),
		JWTRefreshSecret: v.GetString("jwt_refresh_token"),
		WhitelistOrigins: splitList(v.GetString("whitelist_origins")),
		LogLevel:         normalizeLevel(v.GetString("log_level")),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		HealthPath:       cleanPath(v.GetString("health_path")),
		RedisAddr:        strings.TrimSpace(v.GetString("redis_addr")),
	}
	if c.LogFormat == "" {
		c.LogFormat = FormatConsole
		if c.IsProduction() {
			c.LogFormat = FormatJSON
		}
	}

	var err error
	if c.Port, err = strconv.Atoi(strings.TrimSpace(v.GetString("port"))); err != nil {
		return nil, fmt.Errorf("invalid PORT %q: %w", v.GetString("port"), err)
	}
	if c.RedisDB, err = strconv.Atoi(strings.TrimSpace(v.GetString("redis_db"))); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v.GetString("redis_db"), err)
	}
	if c.ShutdownTimeout, err = time.ParseDuration(strings.TrimSpace(v.GetString("shutdown_timeout"))); err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v.GetString("shutdown_timeout"), err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their environment variable name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks the struct tags and maps failures to readable messages.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, e := range ve {
		field := e.Field()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, "missing "+field)
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("invalid %s %q: must be one of %s", field, e.Value(), e.Param()))
		case "min", "max", "gt":
			msgs = append(msgs, fmt.Sprintf("invalid %s %v: out of range", field, e.Value()))
		case "startswith":
			msgs = append(msgs, fmt.Sprintf("invalid %s %q: must start with %s", field, e.Value(), e.Param()))
		case "ne":
			msgs = append(msgs, fmt.Sprintf("invalid %s %q: must not be %s", field, e.Value(), e.Param()))
		default:
			msgs = append(msgs, field+" "+e.Tag()+" validation failed")
		}
	}
	return errors.New("config: " + strings.Join(msgs, "; "))
}

func (c *Config) IsProduction() bool { return c.Env == EnvProduction }
func (c *Config) IsTest() bool       { return c.Env == EnvTest }

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return net.JoinHostPort("", strconv.Itoa(c.Port)) }

func normalizeLevel(raw string) string {
	lvl := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := levelAliases[lvl]; ok {
		return alias
	}
	return lvl
}

// cleanPath drops trailing slashes but keeps a bare "/" so validation can
// reject it.
func cleanPath(raw string) string {
	p := strings.TrimSpace(raw)
	if trimmed := strings.TrimRight(p, "/"); trimmed != "" {
		return trimmed
	}
	if p != "" {
		return "/"
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
