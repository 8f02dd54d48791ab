package store

// Schema contains the DDL for the annotation store.
//
// url_key is the page URL without query and fragment. It backs the per-page
// lookup, so QueryByURL over-returns records saved on sibling URLs; callers
// filter on the exact url column.
const Schema = `
CREATE TABLE IF NOT EXISTS annotations (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL CHECK (kind IN ('highlight', 'note')),
    url        TEXT NOT NULL,
    url_key    TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_url_key ON annotations(url_key);
CREATE INDEX IF NOT EXISTS idx_annotations_kind ON annotations(kind);
CREATE INDEX IF NOT EXISTS idx_annotations_created ON annotations(created_at DESC);
`

// Migrations are the versioned schema steps applied by Open; the database
// records the last applied step in PRAGMA user_version.
var Migrations = []string{Schema}
