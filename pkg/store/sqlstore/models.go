package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

const (
	recordsTable  = "records"
	subjectsTable = "record_subjects"
	queriesTable  = "adhoc_queries"
)

// recordRow is the records table. Core queryables are columns so filters
// translate to plain comparisons; everything else lives in the JSON
// properties column. Empty text is stored as NULL.
type recordRow struct {
	ID         string    `gorm:"primaryKey;column:id"`
	TypeName   string    `gorm:"column:type_name"`
	TypeLocal  string    `gorm:"column:type_local;index"`
	Title      *string   `gorm:"column:title"`
	Abstract   *string   `gorm:"column:abstract"`
	Type       *string   `gorm:"column:type;index"`
	Format     *string   `gorm:"column:format"`
	Modified   *string   `gorm:"column:modified;index"`
	AnyText    *string   `gorm:"column:any_text"`
	MinX       *float64  `gorm:"column:min_x"`
	MinY       *float64  `gorm:"column:min_y"`
	MaxX       *float64  `gorm:"column:max_x"`
	MaxY       *float64  `gorm:"column:max_y"`
	Subjects   *string   `gorm:"column:subjects;type:text"`
	Properties *string   `gorm:"column:properties;type:text"`
	Raw        []byte    `gorm:"column:raw"`
	Checksum   int64     `gorm:"column:checksum"`
	UpdatedAt  time.Time
}

func (recordRow) TableName() string { return recordsTable }

// subjectRow holds one keyword of a record, so multi-valued comparisons can
// be expressed as subqueries.
type subjectRow struct {
	RecordID string `gorm:"primaryKey;column:record_id"`
	Position int    `gorm:"primaryKey;column:position"`
	Value    string `gorm:"column:value;index"`
}

func (subjectRow) TableName() string { return subjectsTable }

// adhocQueryRow stores a stored query in its JSON document form.
type adhocQueryRow struct {
	ID        string `gorm:"primaryKey;column:id"`
	Document  string `gorm:"column:document;type:text"`
	UpdatedAt time.Time
}

func (adhocQueryRow) TableName() string { return queriesTable }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// typeLocal is the lower-cased local part of a record type name, the form
// the type name filter compares against.
func typeLocal(name string) string {
	if name == "" {
		name = discovery.DefaultTypeName
	}
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

func toRow(r *discovery.Record) (*recordRow, []subjectRow, error) {
	row := &recordRow{
		ID:        r.ID,
		TypeName:  r.TypeName,
		TypeLocal: typeLocal(r.TypeName),
		Title:     nullable(r.Title),
		Abstract:  nullable(r.Abstract),
		Type:      nullable(r.Type),
		Format:    nullable(r.Format),
		AnyText:   nullable(r.AnyText()),
		Raw:       r.Raw,
		Checksum:  int64(r.Checksum),
	}
	if !r.Modified.IsZero() {
		row.Modified = nullable(r.Modified.UTC().Format(time.RFC3339))
	}
	if r.BBox != nil {
		minX, minY, maxX, maxY := r.BBox.Min.X(), r.BBox.Min.Y(), r.BBox.Max.X(), r.BBox.Max.Y()
		row.MinX, row.MinY, row.MaxX, row.MaxY = &minX, &minY, &maxX, &maxY
	}
	if len(r.Subjects) > 0 {
		data, err := json.Marshal(r.Subjects)
		if err != nil {
			return nil, nil, fmt.Errorf("encode subjects of %q: %w", r.ID, err)
		}
		row.Subjects = nullable(string(data))
	}
	if len(r.Properties) > 0 {
		data, err := json.Marshal(r.Properties)
		if err != nil {
			return nil, nil, fmt.Errorf("encode properties of %q: %w", r.ID, err)
		}
		row.Properties = nullable(string(data))
	}

	subjects := make([]subjectRow, len(r.Subjects))
	for i, s := range r.Subjects {
		subjects[i] = subjectRow{RecordID: r.ID, Position: i, Value: s}
	}
	return row, subjects, nil
}

func (row *recordRow) record() (*discovery.Record, error) {
	r := &discovery.Record{
		ID:       row.ID,
		TypeName: row.TypeName,
		Title:    deref(row.Title),
		Abstract: deref(row.Abstract),
		Type:     deref(row.Type),
		Format:   deref(row.Format),
		Raw:      row.Raw,
		Checksum: uint64(row.Checksum),
	}
	if row.Modified != nil {
		t, err := time.Parse(time.RFC3339, *row.Modified)
		if err != nil {
			return nil, fmt.Errorf("decode modified of %q: %w", row.ID, err)
		}
		r.Modified = t
	}
	if row.MinX != nil && row.MinY != nil && row.MaxX != nil && row.MaxY != nil {
		r.BBox = &orb.Bound{
			Min: orb.Point{*row.MinX, *row.MinY},
			Max: orb.Point{*row.MaxX, *row.MaxY},
		}
	}
	if row.Subjects != nil {
		if err := json.Unmarshal([]byte(*row.Subjects), &r.Subjects); err != nil {
			return nil, fmt.Errorf("decode subjects of %q: %w", row.ID, err)
		}
	}
	if row.Properties != nil {
		if err := json.Unmarshal([]byte(*row.Properties), &r.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of %q: %w", row.ID, err)
		}
	}
	return r, nil
}
