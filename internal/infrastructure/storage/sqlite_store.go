package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"contractwatch/internal/domain"
	"contractwatch/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    issued_at TEXT NOT NULL,
    expires_at TEXT NOT NULL DEFAULT '',
    price REAL NOT NULL DEFAULT 0,
    reward REAL NOT NULL DEFAULT 0,
    collateral REAL NOT NULL DEFAULT 0,
    volume REAL NOT NULL DEFAULT 0,
    days_to_complete INTEGER NOT NULL DEFAULT 0,
    issuer_id INTEGER NOT NULL DEFAULT 0,
    issuer_corporation_id INTEGER NOT NULL DEFAULT 0,
    start_location_id INTEGER NOT NULL DEFAULT 0,
    end_location_id INTEGER NOT NULL DEFAULT 0,
    etag TEXT NOT NULL DEFAULT '',
    score INTEGER,
    scored_at TEXT,
    dominant_type INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS contract_items (
    contract_id INTEGER NOT NULL REFERENCES contracts(id),
    seq INTEGER NOT NULL,
    record_id INTEGER NOT NULL DEFAULT 0,
    type_id INTEGER NOT NULL,
    quantity INTEGER NOT NULL,
    runs INTEGER,
    material_efficiency INTEGER,
    time_efficiency INTEGER,
    PRIMARY KEY (contract_id, seq)
);

CREATE TABLE IF NOT EXISTS etags (
    url TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watermark (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    value INTEGER NOT NULL
);

INSERT OR IGNORE INTO watermark (id, value) VALUES (1, 0);
`

// Store persists contracts, the per-URL tag ledger, and the high-water mark
// in one SQLite database.
type Store struct {
	db *sql.DB
}

var _ ports.ContractRepository = (*Store)(nil)
var _ ports.TagLedger = (*Store)(nil)
var _ ports.Watermark = (*Store)(nil)

// Open creates the database file (and parent directory) if needed and runs
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the contract and replaces its line items.
func (s *Store) Save(ctx context.Context, c domain.Contract) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := sq.Insert("contracts").
		Columns("id", "type", "title", "issued_at", "expires_at",
			"price", "reward", "collateral", "volume", "days_to_complete",
			"issuer_id", "issuer_corporation_id", "start_location_id", "end_location_id",
			"etag", "score", "scored_at", "dominant_type").
		Values(c.ID, c.Type, c.Title, formatTime(c.IssuedAt), formatTime(c.ExpiresAt),
			c.Price, c.Reward, c.Collateral, c.Volume, c.DaysToComplete,
			c.IssuerID, c.IssuerCorpID, c.StartLocationID, c.EndLocationID,
			c.ETag, c.Score, nullableTime(c.ScoredAt), c.DominantType).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            title = excluded.title,
            etag = excluded.etag,
            dominant_type = excluded.dominant_type`)

	if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert contract %d: %w", c.ID, err)
	}

	if _, err := sq.Delete("contract_items").Where(sq.Eq{"contract_id": c.ID}).
		RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("clear items for %d: %w", c.ID, err)
	}

	for i, item := range c.LineItems {
		itemInsert := sq.Insert("contract_items").
			Columns("contract_id", "seq", "record_id", "type_id", "quantity",
				"runs", "material_efficiency", "time_efficiency").
			Values(c.ID, i, item.RecordID, item.TypeID, item.Quantity,
				item.Runs, item.MaterialEfficiency, item.TimeEfficiency)
		if _, err := itemInsert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("insert item %d of %d: %w", i, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contract %d: %w", c.ID, err)
	}
	return nil
}

// Get fetches one contract with its line items; (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Contract, error) {
	row := sq.Select("id", "type", "title", "issued_at", "expires_at",
		"price", "reward", "collateral", "volume", "days_to_complete",
		"issuer_id", "issuer_corporation_id", "start_location_id", "end_location_id",
		"etag", "score", "scored_at", "dominant_type").
		From("contracts").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx)

	var (
		c        domain.Contract
		issued   string
		expires  string
		score    sql.NullInt64
		scoredAt sql.NullString
	)
	err := row.Scan(&c.ID, &c.Type, &c.Title, &issued, &expires,
		&c.Price, &c.Reward, &c.Collateral, &c.Volume, &c.DaysToComplete,
		&c.IssuerID, &c.IssuerCorpID, &c.StartLocationID, &c.EndLocationID,
		&c.ETag, &score, &scoredAt, &c.DominantType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan contract %d: %w", id, err)
	}

	c.IssuedAt = parseTime(issued)
	c.ExpiresAt = parseTime(expires)
	if score.Valid {
		v := int(score.Int64)
		c.Score = &v
	}
	if scoredAt.Valid {
		t := parseTime(scoredAt.String)
		c.ScoredAt = &t
	}

	items, err := s.lineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	c.LineItems = items

	return &c, nil
}

func (s *Store) lineItems(ctx context.Context, contractID int64) ([]domain.LineItem, error) {
	rows, err := sq.Select("record_id", "type_id", "quantity",
		"runs", "material_efficiency", "time_efficiency").
		From("contract_items").Where(sq.Eq{"contract_id": contractID}).
		OrderBy("seq").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query items for %d: %w", contractID, err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			item domain.LineItem
			runs sql.NullInt64
			me   sql.NullInt64
			te   sql.NullInt64
		)
		if err := rows.Scan(&item.RecordID, &item.TypeID, &item.Quantity, &runs, &me, &te); err != nil {
			return nil, fmt.Errorf("scan item for %d: %w", contractID, err)
		}
		if runs.Valid {
			item.Runs = &runs.Int64
		}
		if me.Valid {
			item.MaterialEfficiency = &me.Int64
		}
		if te.Valid {
			item.TimeEfficiency = &te.Int64
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items for %d: %w", contractID, err)
	}

	return items, nil
}

// UpdateTag stores the validator from a fresh 200 response.
func (s *Store) UpdateTag(ctx context.Context, id int64, tag string) error {
	_, err := sq.Update("contracts").Set("etag", tag).Where(sq.Eq{"id": id}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update tag for %d: %w", id, err)
	}
	return nil
}

// UpdateScore writes the score together with its timestamp.
func (s *Store) UpdateScore(ctx context.Context, id int64, score int, scoredAt time.Time) error {
	_, err := sq.Update("contracts").
		Set("score", score).
		Set("scored_at", formatTime(scoredAt)).
		Where(sq.Eq{"id": id}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update score for %d: %w", id, err)
	}
	return nil
}

// IDs lists every tracked contract id.
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	rows, err := sq.Select("id").From("contracts").OrderBy("id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}

	return ids, nil
}

// Tags loads the whole conditional-cache ledger.
func (s *Store) Tags(ctx context.Context) (map[string]string, error) {
	rows, err := sq.Select("url", "value").From("etags").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query etags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string]string)
	for rows.Next() {
		var url, value string
		if err := rows.Scan(&url, &value); err != nil {
			return nil, fmt.Errorf("scan etag: %w", err)
		}
		tags[url] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate etags: %w", err)
	}

	return tags, nil
}

// Put upserts the tag for one exact URL, page suffix included.
func (s *Store) Put(ctx context.Context, url, value string) error {
	_, err := sq.Insert("etags").Columns("url", "value").Values(url, value).
		Suffix("ON CONFLICT (url) DO UPDATE SET value = excluded.value").
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("upsert etag for %s: %w", url, err)
	}
	return nil
}

// Latest returns the high-water mark.
func (s *Store) Latest(ctx context.Context) (int64, error) {
	var value int64
	err := sq.Select("value").From("watermark").Where(sq.Eq{"id": 1}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	return value, nil
}

// Advance moves the high-water mark forward, never backward; a stale id is a
// no-op, which keeps concurrent discovery runs safe.
func (s *Store) Advance(ctx context.Context, id int64) error {
	_, err := sq.Update("watermark").Set("value", id).
		Where(sq.And{sq.Eq{"id": 1}, sq.Lt{"value": id}}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
