// Package config loads relq's YAML configuration.
//
// A configuration names the target dialect, the paging strategy, the
// database to execute against, the CUE schema catalogs that declare
// entities, and logging:
//
//	dialect: postgres
//	paging: native            # native | row_number
//	database:
//	  driver: postgres        # defaults to the dialect's driver
//	  dsn: ${DATABASE_URL}
//	schema:
//	  - ./schema
//	logging:
//	  level: info             # debug | info | warn | error
//	  format: text            # text | json
//
// ${VAR} and ${VAR:-default} are replaced from the environment before
// parsing. Relative paths resolve against the file's directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/querysql"
)

// Paging modes.
const (
	PagingNative    = "native"
	PagingRowNumber = "row_number"
)

// EnvConfig names the environment variable holding a config path.
const EnvConfig = "RELQ_CONFIG"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "relq.yaml"

// Config is the complete relq configuration.
type Config struct {
	BaseDir  string         `yaml:"-"` // directory of the loaded file
	Dialect  string         `yaml:"dialect"`
	Paging   string         `yaml:"paging"`
	Database DatabaseConfig `yaml:"database"`
	Schema   []string       `yaml:"schema"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig says where commands execute.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when no file is found.
func Defaults() *Config {
	return &Config{
		Dialect: querysql.SQLite.Name,
		Paging:  PagingNative,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration at path. With an empty path it tries
// $RELQ_CONFIG and then ./relq.yaml, and returns Defaults when neither
// exists.
func Load(path string, getenv func(string) string) (*Config, error) {
	path, err := resolvePath(path, getenv)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return Defaults(), nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(interpolateEnv(data, getenv))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(abs)
	cfg.resolvePaths()
	return cfg, nil
}

// Parse decodes YAML over Defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	if env := getenv(EnvConfig); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("%s file not found: %s", EnvConfig, env)
		}
		return env, nil
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile, nil
	}
	return "", nil
}

// resolvePaths makes schema paths and a SQLite database file absolute.
func (c *Config) resolvePaths() {
	for i, p := range c.Schema {
		if !filepath.IsAbs(p) {
			c.Schema[i] = filepath.Join(c.BaseDir, p)
		}
	}
	dsn := c.Database.DSN
	if c.isSQLite() && dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
		c.Database.DSN = filepath.Join(c.BaseDir, dsn)
	}
}

func (c *Config) isSQLite() bool {
	if c.Database.Driver != "" {
		return c.Database.Driver == "sqlite3"
	}
	return strings.EqualFold(c.Dialect, querysql.SQLite.Name)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string
	if _, err := querysql.LookupDialect(c.Dialect); err != nil {
		errs = append(errs, fmt.Sprintf("unknown dialect %q (want one of %s)", c.Dialect, strings.Join(querysql.DialectNames(), ", ")))
	}
	switch c.Paging {
	case PagingNative, PagingRowNumber:
	default:
		errs = append(errs, fmt.Sprintf("invalid paging %q (want %s or %s)", c.Paging, PagingNative, PagingRowNumber))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format %q (want text or json)", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// NewLogger builds a logger writing to w. verbose forces debug level.
func (l LoggingConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		value := getenv(string(parts[1]))
		if value == "" && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}
