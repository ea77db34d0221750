package remote

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/torfstack/smog/internal/db"
	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/logging"
)

var ErrNotLoaded = errors.New("collection index not loaded")

type Entry struct {
	Hash digest.Hash
	Ref  string
}

type SnapshotStore interface {
	GetSnapshot(ctx context.Context, key string) (db.Snapshot, error)
	UpsertSnapshot(ctx context.Context, arg db.UpsertSnapshotParams) error
}

type snapshot struct {
	Items []Item `json:"items"`
}

// CollectionIndex is the content index of one remote collection. The remote
// side is the source of truth: every Reindex replaces the snapshot in full.
type CollectionIndex struct {
	Key string
	Ref string

	transport Transport
	store     SnapshotStore
	byHash    []Entry
}

func NewCollectionIndex(t Transport, store SnapshotStore, key, ref string) *CollectionIndex {
	return &CollectionIndex{Key: key, Ref: ref, transport: t, store: store}
}

// Reindex lists every item of the collection, persists the listing and
// replaces the in-memory index with it.
func (c *CollectionIndex) Reindex(ctx context.Context) error {
	items, err := Items(ctx, c.transport, c.Ref)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(snapshot{Items: items})
	if err != nil {
		return fmt.Errorf("could not encode snapshot of '%s': %w", c.Ref, err)
	}
	err = c.store.UpsertSnapshot(ctx, db.UpsertSnapshotParams{
		CollectionKey: c.Key,
		Document:      doc,
		IndexedAt:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("could not persist snapshot of '%s': %w", c.Ref, err)
	}
	c.byHash = c.derive(items)
	return nil
}

// Load reads the snapshot persisted by an earlier Reindex. A collection that
// was never indexed loads as empty.
func (c *CollectionIndex) Load(ctx context.Context) error {
	s, err := c.store.GetSnapshot(ctx, c.Key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.byHash = []Entry{}
		return nil
	case err != nil:
		return fmt.Errorf("could not read snapshot of '%s': %w", c.Ref, err)
	}
	var doc snapshot
	if err = json.Unmarshal(s.Document, &doc); err != nil {
		return fmt.Errorf("could not decode snapshot of '%s': %w", c.Ref, err)
	}
	c.byHash = c.derive(doc.Items)
	return nil
}

func (c *CollectionIndex) ByHash() (iter.Seq[Entry], error) {
	if c.byHash == nil {
		return nil, fmt.Errorf("could not list entries of '%s': %w", c.Ref, ErrNotLoaded)
	}
	return slices.Values(c.byHash), nil
}

func (c *CollectionIndex) Len() int {
	return len(c.byHash)
}

func (c *CollectionIndex) derive(items []Item) []Entry {
	byHash := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.Hash == "" {
			logging.Warnf("Ignoring %s: no content hash reported", item.Ref)
			continue
		}
		byHash = append(byHash, Entry{Hash: item.Hash, Ref: item.Ref})
	}
	slices.SortFunc(byHash, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Hash, b.Hash), cmp.Compare(a.Ref, b.Ref))
	})
	return byHash
}
