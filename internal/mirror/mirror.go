// Package mirror keeps a local SQLite copy of a drive subtree, maintained
// from delta pages. It stores each item's last known state and the delta URL
// to resume from, one set per scope.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

const (
	sqlGetDeltaURL = `SELECT delta_url FROM delta_tokens WHERE scope = ?`

	sqlSaveDeltaURL = `INSERT INTO delta_tokens (scope, delta_url, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
		 delta_url = excluded.delta_url,
		 updated_at = excluded.updated_at`

	sqlClearDeltaURL = `DELETE FROM delta_tokens WHERE scope = ?`

	sqlUpsertItem = `INSERT INTO items
		(scope, item_id, parent_id, drive_id, name, item_type, size, etag, ctag, mtime, raw, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, item_id) DO UPDATE SET
		 parent_id = excluded.parent_id,
		 drive_id = excluded.drive_id,
		 name = excluded.name,
		 item_type = excluded.item_type,
		 size = excluded.size,
		 etag = excluded.etag,
		 ctag = excluded.ctag,
		 mtime = excluded.mtime,
		 raw = excluded.raw,
		 synced_at = excluded.synced_at`

	sqlDeleteItem = `DELETE FROM items WHERE scope = ? AND item_id = ?`

	sqlClearItems = `DELETE FROM items WHERE scope = ?`

	sqlCountItems = `SELECT COUNT(*) FROM items WHERE scope = ?`

	sqlSelectItem = `SELECT item_id, parent_id, name, item_type, size, etag, mtime, raw
		FROM items WHERE scope = ? AND item_id = ?`

	sqlSelectChildren = `SELECT item_id, parent_id, name, item_type, size, etag, mtime, raw
		FROM items WHERE scope = ? AND parent_id = ? ORDER BY name`
)

// ItemType classifies a mirrored item.
type ItemType string

const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
	ItemTypeRoot   ItemType = "root"
	ItemTypeOther  ItemType = "other"
)

func itemTypeOf(item *resource.DriveItem) ItemType {
	switch {
	case item.IsRoot():
		return ItemTypeRoot
	case item.IsFolder():
		return ItemTypeFolder
	case item.IsFile():
		return ItemTypeFile
	default:
		return ItemTypeOther
	}
}

// Entry is one mirrored item.
type Entry struct {
	ID       resource.ItemID
	ParentID resource.ItemID
	Name     string
	Type     ItemType
	Size     int64
	ETag     resource.Tag
	ModTime  time.Time // zero when the server sent none
	raw      string
}

// Item decodes the full item as last received from the server.
func (e *Entry) Item() (*resource.DriveItem, error) {
	var item resource.DriveItem
	if err := json.Unmarshal([]byte(e.raw), &item); err != nil {
		return nil, fmt.Errorf("mirror: decoding item %s: %w", e.ID, err)
	}

	return &item, nil
}

// ApplyStats counts what ApplyPage changed.
type ApplyStats struct {
	Upserted int
	Deleted  int
}

// Mirror is the mirror database. It is safe for concurrent use; writes are
// serialized on a single connection.
type Mirror struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens or creates the mirror database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Mirror, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("mirror opened", slog.String("path", path))

	return &Mirror{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// DeltaURL returns the saved resumption URL for scope, or "" if there is
// none.
func (m *Mirror) DeltaURL(ctx context.Context, scope string) (string, error) {
	var u string

	err := m.db.QueryRowContext(ctx, sqlGetDeltaURL, scope).Scan(&u)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("mirror: reading delta URL for %s: %w", scope, err)
	}

	return u, nil
}

// SaveDeltaURL records where the next enumeration of scope resumes.
func (m *Mirror) SaveDeltaURL(ctx context.Context, scope, deltaURL string) error {
	if _, err := m.db.ExecContext(ctx, sqlSaveDeltaURL, scope, deltaURL, m.nowFunc().Unix()); err != nil {
		return fmt.Errorf("mirror: saving delta URL for %s: %w", scope, err)
	}

	return nil
}

// Reset drops every item and the delta URL of scope, ahead of a full
// enumeration.
func (m *Mirror) Reset(ctx context.Context, scope string) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlClearItems, scope); err != nil {
			return fmt.Errorf("mirror: clearing items of %s: %w", scope, err)
		}

		if _, err := tx.ExecContext(ctx, sqlClearDeltaURL, scope); err != nil {
			return fmt.Errorf("mirror: clearing delta URL of %s: %w", scope, err)
		}

		return nil
	})
}

// ApplyPage applies one page of changes in a single transaction, in page
// order. Items with a deleted facet are removed; all others replace the
// stored state. Applying the same page twice leaves the same result.
func (m *Mirror) ApplyPage(ctx context.Context, scope string, items []resource.DriveItem) (ApplyStats, error) {
	var stats ApplyStats

	now := m.nowFunc().Unix()

	err := m.inTx(ctx, func(tx *sql.Tx) error {
		for i := range items {
			item := &items[i]
			if item.ID == "" {
				m.logger.Warn("skipping change without an item ID", slog.String("name", item.Name))
				continue
			}

			if item.IsDeleted() {
				if _, err := tx.ExecContext(ctx, sqlDeleteItem, scope, string(item.ID)); err != nil {
					return fmt.Errorf("mirror: deleting item %s: %w", item.ID, err)
				}

				stats.Deleted++

				continue
			}

			if err := upsertItem(ctx, tx, scope, item, now); err != nil {
				return err
			}

			stats.Upserted++
		}

		return nil
	})
	if err != nil {
		return ApplyStats{}, err
	}

	return stats, nil
}

func upsertItem(ctx context.Context, tx *sql.Tx, scope string, item *resource.DriveItem, now int64) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("mirror: encoding item %s: %w", item.ID, err)
	}

	var (
		parentID, driveID sql.NullString
		size, mtime       sql.NullInt64
	)

	if ref := item.ParentReference; ref != nil {
		parentID = nullString(string(ref.ID))
		driveID = nullString(string(ref.DriveID))
	}

	if item.Size != nil {
		size = sql.NullInt64{Int64: *item.Size, Valid: true}
	}

	if item.LastModifiedDateTime != nil {
		mtime = sql.NullInt64{Int64: item.LastModifiedDateTime.UnixNano(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, sqlUpsertItem,
		scope, string(item.ID), parentID, driveID, item.Name, string(itemTypeOf(item)),
		size, nullString(string(item.ETag)), nullString(string(item.CTag)), mtime, string(raw), now,
	)
	if err != nil {
		return fmt.Errorf("mirror: storing item %s: %w", item.ID, err)
	}

	return nil
}

// Get returns the stored item, or nil if scope has no item with id.
func (m *Mirror) Get(ctx context.Context, scope string, id resource.ItemID) (*Entry, error) {
	row := m.db.QueryRowContext(ctx, sqlSelectItem, scope, string(id))

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return e, nil
}

// Children returns the stored children of parent ordered by name.
func (m *Mirror) Children(ctx context.Context, scope string, parent resource.ItemID) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, sqlSelectChildren, scope, string(parent))
	if err != nil {
		return nil, fmt.Errorf("mirror: listing children of %s: %w", parent, err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating children of %s: %w", parent, err)
	}

	return out, nil
}

// Count returns the number of items stored for scope.
func (m *Mirror) Count(ctx context.Context, scope string) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, sqlCountItems, scope).Scan(&n); err != nil {
		return 0, fmt.Errorf("mirror: counting items of %s: %w", scope, err)
	}

	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e        Entry
		id, typ  string
		parentID sql.NullString
		size     sql.NullInt64
		etag     sql.NullString
		mtime    sql.NullInt64
	)

	if err := s.Scan(&id, &parentID, &e.Name, &typ, &size, &etag, &mtime, &e.raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("mirror: scanning item: %w", err)
	}

	e.ID = resource.ItemID(id)
	e.ParentID = resource.ItemID(parentID.String)
	e.Type = ItemType(typ)
	e.Size = size.Int64
	e.ETag = resource.Tag(etag.String)

	if mtime.Valid {
		e.ModTime = time.Unix(0, mtime.Int64).UTC()
	}

	return &e, nil
}

func (m *Mirror) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mirror: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mirror: committing transaction: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
