package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"github.com/solatis/rowkeeper/internal/authz"
	"github.com/solatis/rowkeeper/internal/types"
)

// Page bounds a record listing. Zero Limit means types.DefaultPageSize.
type Page struct {
	Limit  int
	Offset int
}

// normalize clamps the page to store limits.
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = types.DefaultPageSize
	}
	if p.Limit > types.MaxPageSize {
		p.Limit = types.MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// APIKey is a stored API key row. The secret itself is never stored.
type APIKey struct {
	ID         string       `db:"api_key_id"`
	TenantID   string       `db:"tenant_id"`
	UserID     string       `db:"user_id"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
}

type recordRow struct {
	ID        string    `db:"record_id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type aspectRow struct {
	RecordID string `db:"record_id"`
	AspectID string `db:"aspect_id"`
	Data     []byte `db:"data"`
}

// RecordStore persists records and their aspects and runs authorized
// listings.
type RecordStore struct {
	db      *sqlx.DB
	queries *Queries
	builder goqu.DialectWrapper
	dialect authz.Dialect
}

// NewRecordStore wraps an open database. The query builder dialect follows
// the driver.
func NewRecordStore(db *sqlx.DB, queries *Queries) (*RecordStore, error) {
	dialect, err := Dialect(db)
	if err != nil {
		return nil, err
	}

	name := "postgres"
	if isSQLite(db.DriverName()) {
		name = "sqlite3"
	}

	return &RecordStore{
		db:      db,
		queries: queries,
		builder: goqu.Dialect(name),
		dialect: dialect,
	}, nil
}

// Dialect returns the dialect filters passed to ListRecords must be
// compiled for.
func (s *RecordStore) Dialect() authz.Dialect {
	return s.dialect
}

// CheckFilterConfig reports whether fragments rendered with cfg can be
// ANDed into this store's listings. The store queries the schema from
// migrations/, so cfg must name exactly those tables and columns.
func (s *RecordStore) CheckFilterConfig(cfg authz.SQLConfig) error {
	want := authz.DefaultSQLConfig(s.dialect)
	switch {
	case cfg.Dialect != want.Dialect:
		return fmt.Errorf("filter dialect %s does not match database dialect %s", cfg.Dialect, want.Dialect)
	case cfg.AspectsTable != want.AspectsTable:
		return fmt.Errorf("authz.aspects_table %q does not match store table %q", cfg.AspectsTable, want.AspectsTable)
	case cfg.RecordIDRef != want.RecordIDRef:
		return fmt.Errorf("authz.record_id_ref %q does not match store column %q", cfg.RecordIDRef, want.RecordIDRef)
	case cfg.TenantIDRef != want.TenantIDRef:
		return fmt.Errorf("authz.tenant_id_ref %q does not match store column %q", cfg.TenantIDRef, want.TenantIDRef)
	}
	return nil
}

// CreateRecord inserts rec and its aspects in one transaction. An empty ID
// is replaced with a generated one; the stored record is returned.
func (s *RecordStore) CreateRecord(ctx context.Context, rec *types.Record) (*types.Record, error) {
	if _, err := types.ParseTenantID(string(rec.TenantID)); err != nil {
		return nil, err
	}
	if rec.ID != "" {
		if _, err := types.ParseRecordID(string(rec.ID)); err != nil {
			return nil, err
		}
	}
	for aspectID, data := range rec.Aspects {
		if err := validateAspect(aspectID, data); err != nil {
			return nil, err
		}
	}

	out := *rec
	if out.ID == "" {
		out.ID = types.NewRecordID()
	}
	out.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.queries.ExecTx(ctx, tx, "insert-record",
		string(out.ID), string(out.TenantID), out.Name, out.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert record %s: %w", out.ID, err)
	}

	for aspectID, data := range out.Aspects {
		if _, err := s.queries.ExecTx(ctx, tx, "insert-record-aspect",
			string(out.ID), string(out.TenantID), aspectID, string(data)); err != nil {
			return nil, fmt.Errorf("failed to insert aspect %s: %w", aspectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit record %s: %w", out.ID, err)
	}
	return &out, nil
}

// validateAspect enforces size and JSON validity before anything is written.
func validateAspect(aspectID string, data types.AspectData) error {
	if len(data) > types.MaxAspectSize {
		return fmt.Errorf("aspect %s: %w", aspectID, types.ErrAspectTooLarge)
	}
	if !json.Valid(data) {
		return fmt.Errorf("aspect %s: %w", aspectID, types.ErrInvalidAspect)
	}
	return nil
}

// GetRecord loads one record with all its aspects.
func (s *RecordStore) GetRecord(ctx context.Context, tenant types.TenantID, id types.RecordID) (*types.Record, error) {
	var row recordRow
	err := s.queries.Get(ctx, "get-record", &row, string(tenant), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}

	var aspects []aspectRow
	if err := s.queries.Select(ctx, "list-record-aspects", &aspects, string(tenant), string(id)); err != nil {
		return nil, fmt.Errorf("failed to load aspects for %s: %w", id, err)
	}

	rec := row.record()
	for _, a := range aspects {
		rec.Aspects[a.AspectID] = types.AspectData(a.Data)
	}
	return &rec, nil
}

// DeleteRecord removes a record; its aspects cascade.
func (s *RecordStore) DeleteRecord(ctx context.Context, tenant types.TenantID, id types.RecordID) error {
	res, err := s.queries.Exec(ctx, "delete-record", string(tenant), string(id))
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if n == 0 {
		return types.ErrRecordNotFound
	}
	return nil
}

// ListRecords returns the tenant's records matching filter, ordered by ID.
// A nil filter lists everything the tenant owns; callers pass nil only for
// unconditional allows. The filter must be compiled for s.Dialect() with
// the default table names.
func (s *RecordStore) ListRecords(ctx context.Context, tenant types.TenantID, filter *authz.Fragment, page Page) ([]types.Record, error) {
	page = page.normalize()

	where := []exp.Expression{goqu.C("tenant_id").Eq(string(tenant))}
	if filter != nil {
		where = append(where, goqu.L("("+filter.SQL+")", filter.Args...))
	}

	query, args, err := s.builder.From("records").
		Prepared(true).
		Select("record_id", "tenant_id", "name", "created_at").
		Where(where...).
		Order(goqu.C("record_id").Asc()).
		Limit(uint(page.Limit)).
		Offset(uint(page.Offset)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build listing: %w", err)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(rows) == 0 {
		return []types.Record{}, nil
	}

	records := make([]types.Record, len(rows))
	index := make(map[string]int, len(rows))
	ids := make([]any, len(rows))
	for i, row := range rows {
		records[i] = row.record()
		index[row.ID] = i
		ids[i] = row.ID
	}

	if err := s.loadAspects(ctx, tenant, ids, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

// loadAspects fills the aspects of a page of records with one query.
func (s *RecordStore) loadAspects(ctx context.Context, tenant types.TenantID, ids []any, records []types.Record, index map[string]int) error {
	query, args, err := s.builder.From("record_aspects").
		Prepared(true).
		Select("record_id", "aspect_id", "data").
		Where(
			goqu.C("tenant_id").Eq(string(tenant)),
			goqu.C("record_id").In(ids...),
		).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build aspect query: %w", err)
	}

	var aspects []aspectRow
	if err := s.db.SelectContext(ctx, &aspects, query, args...); err != nil {
		return fmt.Errorf("failed to load aspects: %w", err)
	}
	for _, a := range aspects {
		if i, ok := index[a.RecordID]; ok {
			records[i].Aspects[a.AspectID] = types.AspectData(a.Data)
		}
	}
	return nil
}

func (r recordRow) record() types.Record {
	return types.Record{
		ID:        types.RecordID(r.ID),
		TenantID:  types.TenantID(r.TenantID),
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		Aspects:   map[string]types.AspectData{},
	}
}

// CreateAPIKey stores the hash of a new key for tenant and user and returns
// the row ID.
func (s *RecordStore) CreateAPIKey(ctx context.Context, tenant types.TenantID, userID string, keyHash []byte) (string, error) {
	if _, err := types.ParseTenantID(string(tenant)); err != nil {
		return "", err
	}
	id := types.NewAPIKeyID()
	if _, err := s.queries.Exec(ctx, "insert-api-key",
		id, string(tenant), userID, keyHash, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to insert api key: %w", err)
	}
	return id, nil
}

// RevokeAPIKey marks a key revoked. Revoking twice reports ErrAPIKeyNotFound.
func (s *RecordStore) RevokeAPIKey(ctx context.Context, tenant types.TenantID, keyID string) error {
	if _, err := types.ParseAPIKeyID(keyID); err != nil {
		return err
	}
	res, err := s.queries.Exec(ctx, "revoke-api-key", time.Now().UTC(), string(tenant), keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ErrAPIKeyNotFound indicates an unknown or already revoked key.
var ErrAPIKeyNotFound = errors.New("api key not found")

// GetAPIKeyByHash looks up an API key row by its HMAC hash.
func (q *Queries) GetAPIKeyByHash(ctx context.Context, keyHash []byte) (*APIKey, error) {
	var key APIKey
	err := q.Get(ctx, "get-api-key-by-hash", &key, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// TouchAPIKey records a successful authentication.
func (q *Queries) TouchAPIKey(ctx context.Context, keyID string) error {
	_, err := q.Exec(ctx, "update-last-used", time.Now().UTC(), keyID)
	return err
}
