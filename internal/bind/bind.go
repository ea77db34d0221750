// Package bind pairs local directories with remote collections.
package bind

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/torfstack/smog/internal/local"
	"github.com/torfstack/smog/internal/logging"
	"github.com/torfstack/smog/internal/remote"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrDuplicateBindingKey = fmt.Errorf("%w: binding key claimed by more than one directory", ErrConfiguration)
	ErrDuplicateName       = fmt.Errorf("%w: unbound directories share a name", ErrConfiguration)
	ErrFolderNotFound      = fmt.Errorf("%w: folder not found", ErrConfiguration)
)

type Pair struct {
	Local      *local.Index
	Collection remote.Node
}

// Plan is the outcome of binding. Orphans are collections no directory
// claims; Missing are directories without a collection.
type Plan struct {
	FolderRef string
	Pairs     []Pair
	Orphans   []remote.Node
	Missing   []*local.Index
}

type Binder struct {
	transport remote.Transport
}

func New(t remote.Transport) *Binder {
	return &Binder{transport: t}
}

// Bind pairs every directory with a collection directly inside rootFolder:
// by persisted binding key first, then by directory name for directories
// that have none. A collection whose key is unknown is an orphan even if
// its name matches a bound directory.
func (b *Binder) Bind(ctx context.Context, rootFolder string, dirs []*local.Index) (Plan, error) {
	byKey := make(map[string]*local.Index)
	byName := make(map[string]*local.Index)
	keys := make(map[*local.Index]string, len(dirs))
	for _, dir := range dirs {
		key, err := dir.BindingKey()
		if err != nil {
			return Plan{}, fmt.Errorf("could not read binding key of '%s': %w", dir.Dir, err)
		}
		keys[dir] = key
		switch {
		case key == "":
			if other, ok := byName[dir.Name()]; ok {
				return Plan{}, fmt.Errorf("%w: '%s' and '%s'", ErrDuplicateName, other.Dir, dir.Dir)
			}
			byName[dir.Name()] = dir
		case byKey[key] != nil:
			return Plan{}, fmt.Errorf("%w: '%s' in '%s' and '%s'", ErrDuplicateBindingKey, key, byKey[key].Dir, dir.Dir)
		default:
			byKey[key] = dir
		}
	}

	folderRef, err := b.ResolveFolder(ctx, rootFolder)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{FolderRef: folderRef}
	for n, err := range remote.Children(ctx, b.transport, folderRef) {
		if err != nil {
			return Plan{}, err
		}
		if n.Type != remote.NodeCollection {
			continue
		}
		if dir, ok := byKey[n.Key]; ok {
			delete(byKey, n.Key)
			plan.Pairs = append(plan.Pairs, Pair{Local: dir, Collection: n})
			continue
		}
		if dir, ok := byName[n.Name]; ok {
			delete(byName, n.Name)
			if err = dir.SetBindingKey(n.Key); err != nil {
				return Plan{}, fmt.Errorf("could not persist binding key of '%s': %w", dir.Dir, err)
			}
			logging.Debugf("Bound %s to %s by name", dir.Dir, n.CollectionRef)
			plan.Pairs = append(plan.Pairs, Pair{Local: dir, Collection: n})
			continue
		}
		plan.Orphans = append(plan.Orphans, n)
	}

	for _, dir := range dirs {
		if byKey[keys[dir]] == dir || byName[dir.Name()] == dir {
			plan.Missing = append(plan.Missing, dir)
		}
	}
	return plan, nil
}

// ResolveFolder walks path one segment at a time from the root node,
// choosing the first child whose name matches exactly.
func (b *Binder) ResolveFolder(ctx context.Context, path string) (string, error) {
	ref, err := b.transport.Root(ctx)
	if err != nil {
		return "", fmt.Errorf("could not get root node: %w", err)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		next := ""
		for n, err := range remote.Children(ctx, b.transport, ref) {
			if err != nil {
				return "", err
			}
			if n.Name == segment {
				next = n.Ref
				break
			}
		}
		if next == "" {
			return "", fmt.Errorf("%w: '%s' in '%s'", ErrFolderNotFound, segment, path)
		}
		ref = next
	}
	return ref, nil
}

// Create makes a new collection named after dir and persists its key
// before anything is uploaded to it.
func (b *Binder) Create(ctx context.Context, folderRef string, dir *local.Index) (Pair, error) {
	n, err := b.transport.CreateCollection(ctx, folderRef, dir.Name())
	if err != nil {
		return Pair{}, fmt.Errorf("could not create collection for '%s': %w", dir.Dir, err)
	}
	if err = dir.SetBindingKey(n.Key); err != nil {
		return Pair{}, fmt.Errorf("could not persist binding key of '%s': %w", dir.Dir, err)
	}
	return Pair{Local: dir, Collection: n}, nil
}
