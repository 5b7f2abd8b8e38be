package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

const sample = `
store:
  driver: ${CSW_DRIVER:-sqlite}
  dsn: catalogue.db
paging:
  default_max_records: 20
logging:
  level: debug
  format: json
harvest:
  url: https://earth-search.example.com/v1
  collections: [sentinel-2-l2a]
  bearer_token: ${STAC_TOKEN}
  timeout: 5s
stored_queries:
  - id: by-type
    constraint: "dc:type = '$type'"
    slots:
      - name: type
        default: dataset
    sort_by: dc:title:D
records:
  - id: rec-1
    title: Lakes
    type: dataset
    modified: "2024-05-01"
    bbox: [0, 0, 10, 10]
    subjects: [water]
    properties:
      eo:cloud_cover: 12
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), env(map[string]string{"STAC_TOKEN": "t0k"}))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Paging.DefaultMaxRecords)
	assert.Equal(t, 1000, cfg.Paging.MaxRecordsLimit, "unset values keep their defaults")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "t0k", cfg.Harvest.BearerToken)
	assert.Equal(t, 5*time.Second, cfg.Harvest.Timeout)
	assert.Equal(t, 100, cfg.Harvest.BatchSize)
	assert.Equal(t, []string{"sentinel-2-l2a"}, cfg.Harvest.Collections)

	require.Len(t, cfg.StoredQueries, 1)
	sq, err := cfg.StoredQueries[0].StoredQuery()
	require.NoError(t, err)
	assert.Equal(t, "by-type", sq.ID)
	assert.Equal(t, filter.Eq("dc:type", filter.Slot("type")), sq.Constraint)
	assert.Equal(t, []filter.SortProperty{filter.Sort("dc:title", filter.Descending)}, sq.SortBy)
	assert.Equal(t, map[string]string{"type": "dataset"}, sq.Defaults())

	require.Len(t, cfg.Records, 1)
	rec, err := cfg.Records[0].Record()
	require.NoError(t, err)
	assert.Equal(t, "Lakes", rec.Title)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), rec.Modified)
	require.NotNil(t, rec.BBox)
	assert.Equal(t, 10.0, rec.BBox.Max.X())
	assert.Equal(t, 12, rec.Properties["eo:cloud_cover"])
}

func TestParseEnvOverride(t *testing.T) {
	cfg, err := Parse([]byte(sample), env(map[string]string{"CSW_DRIVER": "memory"}))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Empty(t, cfg.Harvest.BearerToken)
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown driver", "store: {driver: mongo}", `unknown driver "mongo"`},
		{"missing dsn", "store: {driver: postgres}", "dsn is required"},
		{"negative paging", "paging: {default_max_records: -1}", "default_max_records"},
		{"output format", "output: {format: csv}", `invalid format "csv"`},
		{"log level", "logging: {level: trace}", "invalid log level"},
		{"log format", "logging: {format: xml}", "invalid log format"},
		{"harvest url", "harvest: {url: not-a-url}", "harvest: invalid url"},
		{"batch size", "harvest: {batch_size: -2}", "batch_size"},
		{"query id", "stored_queries: [{constraint: \"a = 1\"}]", "id is required"},
		{"duplicate query", "stored_queries: [{id: q}, {id: q}]", `duplicate id "q"`},
		{"bad constraint", "stored_queries: [{id: q, constraint: \"a = \"}]", `stored query "q"`},
		{"bad bbox", "records: [{id: r, bbox: [1, 2]}]", "bbox needs 4 values"},
		{"bad modified", "records: [{id: r, modified: yesterday}]", "modified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), env(nil))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	_, err := Parse([]byte("logging: {level: x, format: y}"), env(nil))
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid log level")
	assert.ErrorContains(t, err, "invalid log format")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	queryables := `{"type": "object", "properties": {"dc:title": {"type": "string"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queryables.json"), []byte(queryables), 0o644))
	doc := "store: {driver: sqlite, dsn: data.db}\nqueryables: queryables.json\n"
	path := filepath.Join(dir, "csw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load("", env(map[string]string{EnvConfigPath: path}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data.db"), cfg.Store.DSN)
	assert.Equal(t, filepath.Join(dir, "queryables.json"), cfg.Queryables)

	q, err := cfg.LoadQueryables()
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Contains(t, q.Properties, "dc:title")

	_, err = Load(filepath.Join(dir, "missing.yaml"), env(nil))
	assert.Error(t, err)
}

func TestLoadQueryablesUnset(t *testing.T) {
	q, err := Defaults().LoadQueryables()
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "n", 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "WARN", line["level"])

	_, err = LoggingConfig{Level: "loud"}.NewLogger(&buf)
	assert.Error(t, err)
	_, err = LoggingConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	assert.Error(t, err)
}

func TestRecordModifiedLayouts(t *testing.T) {
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-05-01", "2024-05-01T00:00:00Z", "2024-05-01T02:00:00+02:00", "May 1, 2024"} {
		rec, err := (&RecordConfig{ID: "r", Modified: s}).Record()
		require.NoError(t, err, s)
		assert.True(t, want.Equal(rec.Modified), "%s parsed as %s", s, rec.Modified)
	}
}
