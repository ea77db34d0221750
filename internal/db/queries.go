package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Queries struct {
	db *sql.DB
}

type Snapshot struct {
	CollectionKey string
	Document      []byte
	IndexedAt     time.Time
}

type UpsertSnapshotParams struct {
	CollectionKey string
	Document      []byte
	IndexedAt     time.Time
}

const getAuthToken = `SELECT token FROM auth_token WHERE id = 1`

// GetAuthToken returns the stored OAuth2 token, or "" when there is none.
func (q *Queries) GetAuthToken(ctx context.Context) (string, error) {
	var token string
	err := q.db.QueryRowContext(ctx, getAuthToken).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

const updateAuthToken = `INSERT INTO auth_token (id, token) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET token = excluded.token`

func (q *Queries) UpdateAuthToken(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, updateAuthToken, token)
	return err
}

const getSnapshot = `SELECT collection_key, document, indexed_at FROM collection_snapshot
WHERE collection_key = ?`

// GetSnapshot returns sql.ErrNoRows when the collection was never indexed.
func (q *Queries) GetSnapshot(ctx context.Context, key string) (Snapshot, error) {
	var (
		s         Snapshot
		indexedAt int64
	)
	err := q.db.QueryRowContext(ctx, getSnapshot, key).Scan(&s.CollectionKey, &s.Document, &indexedAt)
	if err != nil {
		return Snapshot{}, err
	}
	s.IndexedAt = time.Unix(0, indexedAt)
	return s, nil
}

const upsertSnapshot = `INSERT INTO collection_snapshot (collection_key, document, indexed_at) VALUES (?, ?, ?)
ON CONFLICT (collection_key) DO UPDATE SET document = excluded.document, indexed_at = excluded.indexed_at`

func (q *Queries) UpsertSnapshot(ctx context.Context, arg UpsertSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, upsertSnapshot, arg.CollectionKey, arg.Document, arg.IndexedAt.UnixNano())
	return err
}
