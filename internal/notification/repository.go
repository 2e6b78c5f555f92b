package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepository implements Repository using the notification_callback table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load returns the stored subscription, or ErrNotFound.
func (r *SQLiteRepository) Load(ctx context.Context) (Subscription, error) {
	var sub Subscription
	var headers string

	err := r.db.QueryRowContext(ctx,
		"SELECT url, headers FROM notification_callback WHERE id = 1",
	).Scan(&sub.URL, &headers)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("querying callback: %w", err)
	}

	if err := json.Unmarshal([]byte(headers), &sub.Headers); err != nil {
		return Subscription{}, fmt.Errorf("decoding callback headers: %w", err)
	}
	if sub.Headers == nil {
		sub.Headers = map[string]string{}
	}
	return sub, nil
}

// Save upserts the single subscription row.
func (r *SQLiteRepository) Save(ctx context.Context, sub Subscription) error {
	headers, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("encoding callback headers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_callback (id, url, headers, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			headers = excluded.headers,
			updated_at = excluded.updated_at`,
		sub.URL, string(headers), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving callback: %w", err)
	}
	return nil
}

// Delete removes the subscription row.
func (r *SQLiteRepository) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM notification_callback WHERE id = 1"); err != nil {
		return fmt.Errorf("deleting callback: %w", err)
	}
	return nil
}
