// Package sqlstore is a record store over a SQL database through GORM.
// Filter trees are translated to parameterized WHERE conditions, with
// spatial predicates evaluated on bounding-box columns.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robert-malhotra/go-csw-catalog/internal/observability"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/query"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObservability traces database calls when detailed DB tracing is on.
func WithObservability(cfg *observability.Config) Option {
	return func(s *Store) {
		s.obs = cfg
	}
}

// Store implements discovery.Store and adhoc.Lookup over a GORM database.
type Store struct {
	db     *gorm.DB
	tr     translator
	logger *slog.Logger
	obs    *observability.Config
	ownsDB bool
}

var (
	_ discovery.Store = (*Store)(nil)
	_ adhoc.Lookup    = (*Store)(nil)
)

// Open connects to driver ("sqlite" or "postgres") at dsn and prepares the
// schema. In-memory sqlite databases are pinned to a single connection so
// every query sees the same database.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3":
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "postgresql", "pgx":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if strings.Contains(dsn, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s, err := New(db, opts...)
	if err != nil {
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New wraps an open database, migrating the schema.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		tr:     translator{dialect: getDatabaseDialect(db)},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(&recordRow{}, &subjectRow{}, &adhocQueryRow{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	if err := observability.RegisterGORMCallbacks(db, s.obs); err != nil {
		return nil, fmt.Errorf("sqlstore: register tracing: %w", err)
	}
	return s, nil
}

// Close releases the connection pool when the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Dialect names the SQL dialect filters are rendered for.
func (s *Store) Dialect() string {
	return s.tr.dialect
}

// scoped selects the records of q's type names that match its filter.
func (s *Store) scoped(ctx context.Context, q *query.Query) (*gorm.DB, error) {
	db := s.db.WithContext(ctx).Model(&recordRow{})
	if len(q.TypeNames) > 0 {
		names := make([]string, len(q.TypeNames))
		for i, n := range q.TypeNames {
			names[i] = typeLocal(n)
		}
		db = db.Where(column("type_local")+" IN ?", names)
	}
	if q.Filter != nil {
		cond, args, err := s.tr.buildFilterCondition(q.Filter)
		if err != nil {
			return nil, err
		}
		db = db.Where("("+cond+")", args...)
	}
	return db, nil
}

// Count implements discovery.Store.
func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	db, err := s.scoped(ctx, q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("sqlstore: count: %w", err)
	}
	return int(n), nil
}

// Open implements discovery.Store. Rows are streamed from the database as
// the cursor advances.
func (s *Store) Open(ctx context.Context, q *query.Query) (discovery.Cursor, error) {
	if q.Limit() == 0 {
		return discovery.NewSliceCursor(nil), nil
	}
	db, err := s.scoped(ctx, q)
	if err != nil {
		return nil, err
	}
	order, args, err := s.tr.buildOrderBy(q.SortBy)
	if err != nil {
		return nil, err
	}
	db = db.Clauses(clause.OrderBy{Expression: clause.Expr{SQL: order, Vars: args, WithoutParentheses: true}}).
		Offset(q.Offset()).
		Limit(q.Limit())

	rows, err := db.Rows()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	return &rowCursor{db: db, rows: rows}, nil
}

// GetByID implements discovery.Store. Records are returned in the order of
// ids; unknown identifiers are skipped.
func (s *Store) GetByID(ctx context.Context, ids, typeNames []string) (discovery.Cursor, error) {
	if len(ids) == 0 {
		return discovery.NewSliceCursor(nil), nil
	}
	db, err := s.scoped(ctx, &query.Query{TypeNames: typeNames})
	if err != nil {
		return nil, err
	}
	var rows []recordRow
	if err := db.Where(column("id")+" IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: get by id: %w", err)
	}

	byID := make(map[string]*recordRow, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	out := make([]*discovery.Record, 0, len(rows))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: %w", err)
		}
		out = append(out, rec)
		delete(byID, id)
	}
	return discovery.NewSliceCursor(out), nil
}

// Upsert inserts or replaces records and returns how many were new or
// changed. Records whose checksum matches the stored one are skipped.
func (s *Store) Upsert(ctx context.Context, recs ...*discovery.Record) (int, error) {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if r == nil || r.ID == "" {
			return 0, fmt.Errorf("sqlstore: record without identifier")
		}
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	changed := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []struct {
			ID       string
			Checksum int64
		}
		if err := tx.Model(&recordRow{}).Select("id", "checksum").Where(column("id")+" IN ?", ids).Scan(&existing).Error; err != nil {
			return err
		}
		sums := make(map[string]int64, len(existing))
		for _, e := range existing {
			sums[e.ID] = e.Checksum
		}

		for _, r := range recs {
			cp := *r
			if cp.Checksum == 0 {
				cp.Checksum = discovery.Checksum(&cp)
			}
			if sum, ok := sums[cp.ID]; ok && sum == int64(cp.Checksum) {
				continue
			}
			row, subjects, err := toRow(&cp)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
				return err
			}
			if err := tx.Where(`"record_id" = ?`, cp.ID).Delete(&subjectRow{}).Error; err != nil {
				return err
			}
			if len(subjects) > 0 {
				if err := tx.Create(&subjects).Error; err != nil {
					return err
				}
			}
			sums[cp.ID] = int64(cp.Checksum)
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sqlstore: upsert: %w", err)
	}
	s.logger.Debug("upserted records", "received", len(recs), "changed", changed)
	return changed, nil
}

// Delete removes records by identifier and returns how many were removed.
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(`"record_id" IN ?`, ids).Delete(&subjectRow{}).Error; err != nil {
			return err
		}
		res := tx.Where(`"id" IN ?`, ids).Delete(&recordRow{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete: %w", err)
	}
	return int(removed), nil
}

// -----------------------------------------------------------------------------
// Stored ad-hoc queries
// -----------------------------------------------------------------------------

// PutAdhocQuery stores q under its identifier, replacing any previous one.
func (s *Store) PutAdhocQuery(ctx context.Context, q *adhoc.StoredQuery) error {
	if q == nil || q.ID == "" {
		return fmt.Errorf("sqlstore: stored query without identifier")
	}
	doc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("sqlstore: encode stored query %q: %w", q.ID, err)
	}
	row := &adhocQueryRow{ID: q.ID, Document: string(doc)}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("sqlstore: store query %q: %w", q.ID, err)
	}
	return nil
}

// LookupAdhocQuery implements adhoc.Lookup.
func (s *Store) LookupAdhocQuery(ctx context.Context, id string) (*adhoc.StoredQuery, error) {
	var row adhocQueryRow
	err := s.db.WithContext(ctx).Where(`"id" = ?`, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, adhoc.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: lookup query %q: %w", id, err)
	}
	var q adhoc.StoredQuery
	if err := json.Unmarshal([]byte(row.Document), &q); err != nil {
		return nil, fmt.Errorf("sqlstore: decode stored query %q: %w", id, err)
	}
	return &q, nil
}

// AdhocQueryIDs lists the stored query identifiers, sorted.
func (s *Store) AdhocQueryIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&adhocQueryRow{}).Order(`"id"`).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list queries: %w", err)
	}
	return ids, nil
}

// -----------------------------------------------------------------------------
// Cursor
// -----------------------------------------------------------------------------

type rowCursor struct {
	db     *gorm.DB
	rows   *sql.Rows
	rec    *discovery.Record
	err    error
	closed bool
}

func (c *rowCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	var row recordRow
	if err := c.db.ScanRows(c.rows, &row); err != nil {
		c.err = err
		return false
	}
	rec, err := row.record()
	if err != nil {
		c.err = err
		return false
	}
	c.rec = rec
	return true
}

func (c *rowCursor) Record() *discovery.Record { return c.rec }

func (c *rowCursor) Err() error { return c.err }

func (c *rowCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}
