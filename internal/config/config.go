// Package config loads the catalogue's YAML configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration document.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Paging        PagingConfig        `yaml:"paging"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Harvest       HarvestConfig       `yaml:"harvest"`

	// Queryables is the path of a JSON Schema queryables document.
	Queryables string `yaml:"queryables"`

	StoredQueries []StoredQueryConfig `yaml:"stored_queries"`
	Records       []RecordConfig      `yaml:"records"`

	// BaseDir is the directory of the loaded file; relative paths resolve
	// against it.
	BaseDir string `yaml:"-"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PagingConfig holds GetRecords window defaults.
type PagingConfig struct {
	DefaultMaxRecords int `yaml:"default_max_records"`
	// MaxRecordsLimit caps maxRecords; zero disables the cap.
	MaxRecordsLimit int `yaml:"max_records_limit"`
}

// OutputConfig holds CLI output defaults.
type OutputConfig struct {
	Format string `yaml:"format"`
	Indent bool   `yaml:"indent"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig names the service in traces and metrics.
type ObservabilityConfig struct {
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	DetailedDBTracing bool   `yaml:"detailed_db_tracing"`
}

// HarvestConfig configures the STAC harvester.
type HarvestConfig struct {
	URL          string        `yaml:"url"`
	Collections  []string      `yaml:"collections"`
	BatchSize    int           `yaml:"batch_size"`
	MaxItems     int           `yaml:"max_items"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BearerToken  string        `yaml:"bearer_token"`
	APIKey       string        `yaml:"api_key"`
	APIKeyHeader string        `yaml:"api_key_header"`
}

// StoredQueryConfig declares a stored ad-hoc query inline.
type StoredQueryConfig struct {
	ID              string       `yaml:"id"`
	Constraint      string       `yaml:"constraint"`
	Language        string       `yaml:"language"`
	Slots           []adhoc.Slot `yaml:"slots"`
	QueryTypeNames  []string     `yaml:"query_type_names"`
	ReturnTypeNames []string     `yaml:"return_type_names"`
	SortBy          string       `yaml:"sort_by"`
}

// StoredQuery parses the declared constraint and sort order.
func (c *StoredQueryConfig) StoredQuery() (*adhoc.StoredQuery, error) {
	q := &adhoc.StoredQuery{
		ID:              c.ID,
		Slots:           c.Slots,
		QueryTypeNames:  c.QueryTypeNames,
		ReturnTypeNames: c.ReturnTypeNames,
	}
	if text := strings.TrimSpace(c.Constraint); text != "" {
		op, err := discovery.ParseConstraint(c.Language, text)
		if err != nil {
			return nil, fmt.Errorf("stored query %q: %w", c.ID, err)
		}
		q.Constraint = op
	}
	if c.SortBy != "" {
		sortBy, err := discovery.ParseSortBy(c.SortBy)
		if err != nil {
			return nil, fmt.Errorf("stored query %q: %w", c.ID, err)
		}
		q.SortBy = sortBy
	}
	return q, nil
}

// RecordConfig declares a catalogue record inline.
type RecordConfig struct {
	ID         string         `yaml:"id"`
	TypeName   string         `yaml:"type_name"`
	Title      string         `yaml:"title"`
	Abstract   string         `yaml:"abstract"`
	Type       string         `yaml:"type"`
	Format     string         `yaml:"format"`
	Subjects   []string       `yaml:"subjects"`
	Modified   string         `yaml:"modified"`
	BBox       []float64      `yaml:"bbox"`
	Properties map[string]any `yaml:"properties"`
}

// Record converts the declaration into a store record.
func (c *RecordConfig) Record() (*discovery.Record, error) {
	rec := &discovery.Record{
		ID:         c.ID,
		TypeName:   c.TypeName,
		Title:      c.Title,
		Abstract:   c.Abstract,
		Type:       c.Type,
		Format:     c.Format,
		Subjects:   c.Subjects,
		Properties: c.Properties,
	}
	if c.Modified != "" {
		t, err := parseTime(c.Modified)
		if err != nil {
			return nil, fmt.Errorf("record %q: modified: %w", c.ID, err)
		}
		rec.Modified = t
	}
	switch len(c.BBox) {
	case 0:
	case 4:
		rec.BBox = &orb.Bound{
			Min: orb.Point{c.BBox[0], c.BBox[1]},
			Max: orb.Point{c.BBox[2], c.BBox[3]},
		}
	default:
		return nil, fmt.Errorf("record %q: bbox needs 4 values, got %d", c.ID, len(c.BBox))
	}
	return rec, nil
}

// parseTime reads a timestamp in any common layout. Zone-less values are UTC.
func parseTime(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(false))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{Driver: DriverMemory},
		Paging: PagingConfig{
			DefaultMaxRecords: 10,
			MaxRecordsLimit:   1000,
		},
		Output: OutputConfig{Format: "xml", Indent: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{ServiceName: "csw-catalog"},
		Harvest: HarvestConfig{
			BatchSize:  100,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
	}
}
