package apiapp

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var errNotFound = errors.New("not found")

type badge struct {
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updatedAt"`
	PNG       []byte    `json:"-"`
}

// badgeStore persists one thumbnail per employee name.
type badgeStore struct {
	db *sql.DB
	mu sync.RWMutex
}

func openBadgeStore(dbPath string) (*badgeStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &badgeStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *badgeStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS badges (
		name TEXT PRIMARY KEY,
		png BLOB NOT NULL,
		digest TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *badgeStore) Close() error {
	return s.db.Close()
}

func (s *badgeStore) upsertBadge(ctx context.Context, name string, png []byte, now time.Time) (badge, error) {
	sum := sha256.Sum256(png)
	b := badge{
		Name:      name,
		Digest:    hex.EncodeToString(sum[:]),
		UpdatedAt: now.UTC(),
		PNG:       png,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO badges (name, png, digest, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET png = excluded.png, digest = excluded.digest, updated_at = excluded.updated_at`,
		b.Name, b.PNG, b.Digest, b.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return badge{}, fmt.Errorf("upsert badge: %w", err)
	}
	return b, nil
}

func (s *badgeStore) getBadge(ctx context.Context, name string) (badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b         badge
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT name, png, digest, updated_at FROM badges WHERE name = ?`, name).
		Scan(&b.Name, &b.PNG, &b.Digest, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return badge{}, errNotFound
	}
	if err != nil {
		return badge{}, fmt.Errorf("get badge: %w", err)
	}
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return b, nil
}

func (s *badgeStore) listBadges(ctx context.Context) ([]badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, digest, updated_at FROM badges ORDER BY name COLLATE NOCASE ASC`)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	defer rows.Close()

	out := make([]badge, 0)
	for rows.Next() {
		var (
			b         badge
			updatedAt string
		)
		if err := rows.Scan(&b.Name, &b.Digest, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *badgeStore) deleteBadge(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM badges WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete badge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete badge: %w", err)
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}
