package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/dbopen"
)

// URLKey strips query and fragment from a page URL. Unparseable input is
// returned unchanged.
func URLKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Put inserts or fully replaces a record.
func (s *Store) Put(ctx context.Context, a *annotation.Annotation) error {
	payload, err := annotation.Marshal(a)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	created := a.CreatedAt.UnixMilli()
	if a.CreatedAt.IsZero() {
		created = now
	}

	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO annotations (id, kind, url, url_key, payload, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			url = excluded.url,
			url_key = excluded.url_key,
			payload = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		a.ID, string(a.Kind), a.URL, URLKey(a.URL), string(payload), created, now,
	)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the record for id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*annotation.Annotation, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT payload FROM annotations WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	a, err := annotation.Unmarshal([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return a, nil
}

// Delete removes id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := dbopen.Exec(ctx, s.DB, `DELETE FROM annotations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// QueryByURL returns the records whose url_key matches that of pageURL,
// oldest first. Records saved on sibling URLs (other query or fragment) are
// included.
func (s *Store) QueryByURL(ctx context.Context, pageURL string) ([]*annotation.Annotation, error) {
	return s.query(ctx, `
		SELECT id, payload FROM annotations
		WHERE url_key = ?
		ORDER BY created_at ASC, id ASC`, URLKey(pageURL))
}

// QueryAll returns every record, oldest first.
func (s *Store) QueryAll(ctx context.Context) ([]*annotation.Annotation, error) {
	return s.query(ctx, `
		SELECT id, payload FROM annotations
		ORDER BY created_at ASC, id ASC`)
}

// Count returns the number of stored records per kind.
func (s *Store) Count(ctx context.Context) (map[annotation.Kind]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM annotations GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("store: count: %w", err)
	}
	defer rows.Close()

	out := make(map[annotation.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("store: count: %w", err)
		}
		out[annotation.Kind(kind)] = n
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*annotation.Annotation, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []*annotation.Annotation
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		a, err := annotation.Unmarshal([]byte(payload))
		if err != nil {
			s.logger().Warn("store: skipping undecodable record", "id", id, "error", err)
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return out, nil
}
