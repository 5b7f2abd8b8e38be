package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no path is
// given.
const EnvConfigPath = "CSW_CONFIG"

// Load reads configuration from a file with ENV interpolation. An empty
// path falls back to $CSW_CONFIG, then ./csw.yaml; when none exists the
// defaults are returned.
func Load(configPath string, getenv func(string) string) (*Config, error) {
	path := configPath
	if path == "" {
		path = getenv(EnvConfigPath)
	}
	if path == "" {
		if _, err := os.Stat("csw.yaml"); err != nil {
			return Defaults(), nil
		}
		path = "csw.yaml"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, getenv)
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = filepath.Dir(absPath)

	if cfg.Queryables != "" && !filepath.IsAbs(cfg.Queryables) {
		cfg.Queryables = filepath.Join(cfg.BaseDir, cfg.Queryables)
	}
	if cfg.Store.Driver == DriverSQLite && isRelativeFile(cfg.Store.DSN) {
		cfg.Store.DSN = filepath.Join(cfg.BaseDir, cfg.Store.DSN)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	data = interpolateEnv(data, getenv)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isRelativeFile(dsn string) bool {
	return dsn != "" && !strings.HasPrefix(dsn, "file:") && !strings.HasPrefix(dsn, ":memory:") && !filepath.IsAbs(dsn)
}

// envPattern matches ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv replaces ${VAR} and ${VAR:-default} patterns with environment values.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		value := getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}

// Validate reports every configuration error at once.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if cfg.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: dsn is required for driver %q", cfg.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q (must be memory, sqlite, or postgres)", cfg.Store.Driver))
	}

	if cfg.Paging.DefaultMaxRecords < 0 {
		errs = append(errs, fmt.Errorf("paging: default_max_records must not be negative"))
	}
	if cfg.Paging.MaxRecordsLimit < 0 {
		errs = append(errs, fmt.Errorf("paging: max_records_limit must not be negative"))
	}

	if f := cfg.Output.Format; f != "xml" && f != "json" {
		errs = append(errs, fmt.Errorf("output: invalid format %q (must be xml or json)", f))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be json or text)", cfg.Logging.Format))
	}

	if cfg.Harvest.URL != "" {
		if u, err := url.Parse(cfg.Harvest.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("harvest: invalid url %q", cfg.Harvest.URL))
		}
	}
	if cfg.Harvest.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("harvest: batch_size must be positive"))
	}

	seen := map[string]bool{}
	for i := range cfg.StoredQueries {
		sq := &cfg.StoredQueries[i]
		if sq.ID == "" {
			errs = append(errs, fmt.Errorf("stored_queries[%d]: id is required", i))
			continue
		}
		if seen[sq.ID] {
			errs = append(errs, fmt.Errorf("stored_queries[%d]: duplicate id %q", i, sq.ID))
		}
		seen[sq.ID] = true
		if _, err := sq.StoredQuery(); err != nil {
			errs = append(errs, fmt.Errorf("stored_queries[%d]: %w", i, err))
		}
	}

	for i := range cfg.Records {
		if cfg.Records[i].ID == "" {
			errs = append(errs, fmt.Errorf("records[%d]: id is required", i))
			continue
		}
		if _, err := cfg.Records[i].Record(); err != nil {
			errs = append(errs, fmt.Errorf("records[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// LoadQueryables reads the configured queryables document. It returns nil
// when none is configured.
func (c *Config) LoadQueryables() (*filter.Queryables, error) {
	if c.Queryables == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Queryables)
	if err != nil {
		return nil, fmt.Errorf("read queryables: %w", err)
	}
	q, err := filter.ParseQueryables(data)
	if err != nil {
		return nil, fmt.Errorf("parse queryables %s: %w", c.Queryables, err)
	}
	return q, nil
}
