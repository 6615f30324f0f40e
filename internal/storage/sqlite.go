package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"digest_bot/internal/model"
	"digest_bot/migrations"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"
	// itemTimeLayout is fixed width so that string order equals time order
	// and the identity triple compares exactly.
	itemTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open creates the directory of the database file if needed and opens it
// with NewSQLite.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return NewSQLite(path)
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting into one database per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertAccount inserts the account or refreshes its display name.
func (s *SQLite) UpsertAccount(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC().Format(timeLayout)
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, display_name, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE accounts.display_name END,
		     updated_at = excluded.updated_at
		 RETURNING display_name, created_at, updated_at`,
		account.ID, account.DisplayName, now, now,
	).Scan(&account.DisplayName, &created, &updated)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	account.CreatedAt, _ = time.Parse(timeLayout, created)
	account.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return nil
}

// GetAccount returns the account with the given ID.
func (s *SQLite) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at, updated_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.DisplayName, &created, &updated)
	if err != nil {
		return nil, notFound("scan account", err)
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	a.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &a, nil
}

// EnsureSource returns the source with the given handle, creating it if unseen.
func (s *SQLite) EnsureSource(ctx context.Context, handle string) (*model.Source, error) {
	return ensureSource(ctx, s.db, handle)
}

// GetSource returns the source with the given handle.
func (s *SQLite) GetSource(ctx context.Context, handle string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, handle, title, created_at FROM sources WHERE handle = ?`, handle,
	)
	return scanSource(row)
}

// ListSources returns every known source.
func (s *SQLite) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, title, created_at FROM sources ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// ListAttachedSources returns the sources referenced by at least one group.
func (s *SQLite) ListAttachedSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.handle, s.title, s.created_at
		 FROM sources s
		 WHERE EXISTS (SELECT 1 FROM group_sources gs WHERE gs.source_id = s.id)
		 ORDER BY s.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query attached sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// CreateGroup inserts a new group and populates its ID and CreatedAt.
func (s *SQLite) CreateGroup(ctx context.Context, group *model.DigestGroup) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_groups (account_id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (account_id, name) DO NOTHING`,
		group.AccountID, group.Name, now,
	)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group %q: %w", group.Name, ErrConflict)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	group.ID = id
	group.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetGroup returns the account's group with the given name.
func (s *SQLite) GetGroup(ctx context.Context, accountID int64, name string) (*model.DigestGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, created_at FROM digest_groups WHERE account_id = ? AND name = ?`,
		accountID, name,
	)
	return scanGroup(row)
}

// ListGroups returns the account's groups in creation order.
func (s *SQLite) ListGroups(ctx context.Context, accountID int64) ([]model.DigestGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, created_at FROM digest_groups WHERE account_id = ? ORDER BY id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanGroups(rows)
}

// ListAllGroups returns every group of every account.
func (s *SQLite) ListAllGroups(ctx context.Context) ([]model.DigestGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, created_at FROM digest_groups ORDER BY account_id, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanGroups(rows)
}

// DeleteGroup removes a group and its memberships. Sources and items are kept.
func (s *SQLite) DeleteGroup(ctx context.Context, accountID int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM digest_groups WHERE account_id = ? AND name = ?`, accountID, name,
	)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(res, "group "+name)
}

// AttachSource adds a source to a group, creating the source if unseen.
func (s *SQLite) AttachSource(ctx context.Context, groupID int64, handle string) (*model.Source, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	src, err := ensureSource(ctx, tx, handle)
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO group_sources (group_id, source_id, added_at) VALUES (?, ?, ?)
		 ON CONFLICT (group_id, source_id) DO NOTHING`,
		groupID, src.ID, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		if isForeignKey(err) {
			return nil, false, fmt.Errorf("group #%d: %w", groupID, ErrNotFound)
		}
		return nil, false, fmt.Errorf("insert group source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return src, n > 0, nil
}

// DetachSource removes a source from a group.
func (s *SQLite) DetachSource(ctx context.Context, groupID int64, handle string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_sources
		 WHERE group_id = ? AND source_id = (SELECT id FROM sources WHERE handle = ?)`,
		groupID, handle,
	)
	if err != nil {
		return fmt.Errorf("delete group source: %w", err)
	}
	return requireAffected(res, "source "+handle)
}

// ListGroupSources returns the group's sources in the order they were attached.
func (s *SQLite) ListGroupSources(ctx context.Context, groupID int64) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.handle, s.title, s.created_at
		 FROM group_sources gs JOIN sources s ON s.id = gs.source_id
		 WHERE gs.group_id = ?
		 ORDER BY gs.rowid`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// EnsureTopic returns the topic with the given name, creating it if needed.
func (s *SQLite) EnsureTopic(ctx context.Context, name string) (*model.Topic, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name,
	); err != nil {
		return nil, fmt.Errorf("insert topic: %w", err)
	}
	var t model.Topic
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM topics WHERE name = ?`, name).Scan(&t.ID, &t.Name)
	if err != nil {
		return nil, notFound("scan topic", err)
	}
	return &t, nil
}

// ListTopics returns all topics ordered by name.
func (s *SQLite) ListTopics(ctx context.Context) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// AddItem inserts an item and its topic links unless the identity triple exists.
func (s *SQLite) AddItem(ctx context.Context, item *model.Item) (bool, error) {
	if item.Text == "" {
		return false, fmt.Errorf("insert item: empty text")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO items (source_id, text, published_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_id, text, published_at) DO NOTHING`,
		item.SourceID, item.Text, formatItemTime(item.PublishedAt), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}

	for _, t := range item.Topics {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO item_topics (item_id, topic_id) VALUES (?, ?)`, id, t.ID,
		); err != nil {
			return false, fmt.Errorf("insert item topic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	item.ID = id
	item.CreatedAt, _ = time.Parse(timeLayout, now)
	return true, nil
}

// ItemExists checks whether an item with the given identity triple is stored.
func (s *SQLite) ItemExists(ctx context.Context, sourceID int64, text string, publishedAt time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE source_id = ? AND text = ? AND published_at = ?)`,
		sourceID, text, formatItemTime(publishedAt),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check item: %w", err)
	}
	return exists == 1, nil
}

// ListItems returns a source's items published at or after since, oldest first.
func (s *SQLite) ListItems(ctx context.Context, sourceID int64, since time.Time) ([]model.Item, error) {
	sinceStr := formatItemTime(since)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, text, published_at, created_at FROM items
		 WHERE source_id = ? AND published_at >= ?
		 ORDER BY published_at, id`,
		sourceID, sinceStr,
	)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	var items []model.Item
	for rows.Next() {
		var it model.Item
		var published, created string
		if err := rows.Scan(&it.ID, &it.SourceID, &it.Text, &published, &created); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.PublishedAt, _ = time.Parse(itemTimeLayout, published)
		it.CreatedAt, _ = time.Parse(timeLayout, created)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	_ = rows.Close()

	if len(items) == 0 {
		return items, nil
	}

	topics, err := s.itemTopics(ctx, sourceID, sinceStr)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Topics = topics[items[i].ID]
	}
	return items, nil
}

func (s *SQLite) itemTopics(ctx context.Context, sourceID int64, since string) (map[int64][]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT it.item_id, t.id, t.name
		 FROM item_topics it
		 JOIN topics t ON t.id = it.topic_id
		 JOIN items i ON i.id = it.item_id
		 WHERE i.source_id = ? AND i.published_at >= ?
		 ORDER BY t.name`,
		sourceID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query item topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64][]model.Topic)
	for rows.Next() {
		var itemID int64
		var t model.Topic
		if err := rows.Scan(&itemID, &t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scan item topic: %w", err)
		}
		out[itemID] = append(out[itemID], t)
	}
	return out, rows.Err()
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureSource(ctx context.Context, q execQuerier, handle string) (*model.Source, error) {
	if handle == "" {
		return nil, fmt.Errorf("insert source: empty handle")
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO sources (handle, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (handle) DO NOTHING`,
		handle, handle, time.Now().UTC().Format(timeLayout),
	); err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	row := q.QueryRowContext(ctx,
		`SELECT id, handle, title, created_at FROM sources WHERE handle = ?`, handle,
	)
	return scanSource(row)
}

func formatItemTime(t time.Time) string {
	return t.UTC().Format(itemTimeLayout)
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isForeignKey(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var created string
	if err := row.Scan(&src.ID, &src.Handle, &src.Title, &created); err != nil {
		return nil, notFound("scan source", err)
	}
	src.CreatedAt, _ = time.Parse(timeLayout, created)
	return &src, nil
}

func scanSources(rows *sql.Rows) ([]model.Source, error) {
	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

func scanGroup(row scannable) (*model.DigestGroup, error) {
	var g model.DigestGroup
	var created string
	if err := row.Scan(&g.ID, &g.AccountID, &g.Name, &created); err != nil {
		return nil, notFound("scan group", err)
	}
	g.CreatedAt, _ = time.Parse(timeLayout, created)
	return &g, nil
}

func scanGroups(rows *sql.Rows) ([]model.DigestGroup, error) {
	var groups []model.DigestGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}
