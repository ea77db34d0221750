// Package remotetest provides an in-memory remote.Transport for tests.
package remotetest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/remote"
)

const RootRef = "/node/root"

type Fake struct {
	// PageSize is the number of nodes or items per listing page.
	PageSize int
	// Delay is added to every call, to make overlapping calls observable.
	Delay time.Duration

	mu       sync.Mutex
	seq      int
	nodes    map[string]remote.Node
	children map[string][]string
	items    map[string][]remote.Item
	markers  map[string]string
	calls    []string
	failures map[string]error

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

var _ remote.Transport = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		PageSize: 2,
		nodes:    map[string]remote.Node{RootRef: {Ref: RootRef, Type: remote.NodeFolder}},
		children: make(map[string][]string),
		items:    make(map[string][]remote.Item),
		markers:  make(map[string]string),
		failures: make(map[string]error),
	}
}

func (f *Fake) AddFolder(parentRef, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ref := fmt.Sprintf("/node/n%d", f.seq)
	f.nodes[ref] = remote.Node{Ref: ref, Name: name, Type: remote.NodeFolder}
	f.children[parentRef] = append(f.children[parentRef], ref)
	return ref
}

func (f *Fake) AddCollection(parentRef, name string) remote.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCollection(parentRef, name)
}

func (f *Fake) addCollection(parentRef, name string) remote.Node {
	f.seq++
	key := fmt.Sprintf("k%d", f.seq)
	n := remote.Node{
		Ref:           fmt.Sprintf("/node/n%d", f.seq),
		Name:          name,
		Type:          remote.NodeCollection,
		CollectionRef: "/album/" + key,
		Key:           key,
	}
	f.nodes[n.Ref] = n
	f.children[parentRef] = append(f.children[parentRef], n.Ref)
	return n
}

// Rename changes the name of a node, the way a user renaming an album in the
// web interface would.
func (f *Fake) Rename(ref, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.nodes[ref]
	n.Name = name
	f.nodes[ref] = n
}

func (f *Fake) AddItem(collectionRef string, content []byte) remote.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addItem(collectionRef, digest.Sum(content))
}

func (f *Fake) addItem(collectionRef string, hash digest.Hash) remote.Item {
	f.seq++
	ref := fmt.Sprintf("%s/image/i%d", collectionRef, f.seq)
	item := remote.Item{
		Ref:  ref,
		Hash: hash,
		Raw:  []byte(fmt.Sprintf(`{"Uri":%q,"ArchivedMD5":%q}`, ref, hash)),
	}
	f.items[collectionRef] = append(f.items[collectionRef], item)
	return item
}

// Fail makes every call whose call string equals key return err.
func (f *Fake) Fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = err
}

func (f *Fake) Collections(parentRef string) []remote.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Node
	for _, ref := range f.children[parentRef] {
		if n := f.nodes[ref]; n.Type == remote.NodeCollection {
			out = append(out, n)
		}
	}
	return out
}

func (f *Fake) Items(collectionRef string) []remote.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items[collectionRef])
}

func (f *Fake) Marker(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markers[ref]
}

// Calls returns every mutating call made so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *Fake) MaxInFlight() int {
	return int(f.maxInFlight.Load())
}

func (f *Fake) enter(ctx context.Context) (func(), error) {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	leave := func() { f.inFlight.Add(-1) }
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	return leave, nil
}

func (f *Fake) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failures[call]
}

func (f *Fake) Root(ctx context.Context) (string, error) {
	leave, err := f.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()
	return RootRef, nil
}

func (f *Fake) ListChildren(ctx context.Context, nodeRef, pageToken string) (remote.NodePage, error) {
	leave, err := f.enter(ctx)
	if err != nil {
		return remote.NodePage{}, err
	}
	defer leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err = f.failures["list:"+nodeRef]; err != nil {
		return remote.NodePage{}, err
	}
	refs, next := page(f.children[nodeRef], pageToken, f.PageSize)
	p := remote.NodePage{NextPageToken: next}
	for _, ref := range refs {
		p.Nodes = append(p.Nodes, f.nodes[ref])
	}
	return p, nil
}

func (f *Fake) CreateCollection(ctx context.Context, parentRef, name string) (remote.Node, error) {
	leave, err := f.enter(ctx)
	if err != nil {
		return remote.Node{}, err
	}
	defer leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err = f.record("create:" + name); err != nil {
		return remote.Node{}, err
	}
	return f.addCollection(parentRef, name), nil
}

func (f *Fake) ListItems(ctx context.Context, collectionRef, pageToken string) (remote.ItemPage, error) {
	leave, err := f.enter(ctx)
	if err != nil {
		return remote.ItemPage{}, err
	}
	defer leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err = f.failures["items:"+collectionRef]; err != nil {
		return remote.ItemPage{}, err
	}
	items, next := page(f.items[collectionRef], pageToken, f.PageSize)
	return remote.ItemPage{Items: slices.Clone(items), NextPageToken: next}, nil
}

func (f *Fake) SetMarker(ctx context.Context, ref, marker string) error {
	leave, err := f.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err = f.record("marker:" + ref); err != nil {
		return err
	}
	f.markers[ref] = marker
	return nil
}

func (f *Fake) UploadContent(ctx context.Context, collectionRef string, content []byte, filename string, hash digest.Hash) (string, error) {
	leave, err := f.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err = f.record("upload:" + filename); err != nil {
		return "", err
	}
	if got := digest.Sum(content); got != hash {
		return "", &remote.StatusError{Method: "POST", URI: "upload", Status: 400, Body: "checksum mismatch"}
	}
	return f.addItem(collectionRef, hash).Ref, nil
}

func page[T any](all []T, token string, size int) ([]T, string) {
	start := 0
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	if size <= 0 || start+size >= len(all) {
		return all[min(start, len(all)):], ""
	}
	return all[start : start+size], strconv.Itoa(start + size)
}
