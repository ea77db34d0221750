package local

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/logging"
	"github.com/torfstack/smog/internal/util"
)

const (
	StateDir = ".smog"

	indexFile      = "index"
	bindingKeyFile = "albumkey"
)

var ErrNotLoaded = errors.New("index not loaded")

// Fingerprint is the on-disk identity of a file. A cached hash stays valid
// for as long as the fingerprint does not change.
type Fingerprint struct {
	Size    int64
	ModTime int64
	Name    string
}

type Entry struct {
	Hash digest.Hash
	Name string
}

type Stats struct {
	Files  int
	Reused int
	Hashed int
}

// Index is the content index of a single directory. Its cache lives in the
// directory's own state dir and is rewritten in full on every Reindex.
type Index struct {
	Dir string

	isContent func(name string) bool
	cache     map[Fingerprint]digest.Hash
	stats     Stats
}

func NewIndex(dir string, isContent func(name string) bool) *Index {
	return &Index{Dir: filepath.Clean(dir), isContent: isContent}
}

func (x *Index) Name() string {
	return filepath.Base(x.Dir)
}

func (x *Index) Path(name string) string {
	return filepath.Join(x.Dir, name)
}

func (x *Index) Stats() Stats {
	return x.stats
}

func (x *Index) indexPath() string {
	return filepath.Join(x.Dir, StateDir, indexFile)
}

func (x *Index) bindingKeyPath() string {
	return filepath.Join(x.Dir, StateDir, bindingKeyFile)
}

// BindingKey returns the key of the collection this directory is bound to,
// or "" when it is unbound.
func (x *Index) BindingKey() (string, error) {
	b, err := os.ReadFile(x.bindingKeyPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("could not read binding key '%s': %w", x.bindingKeyPath(), err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (x *Index) SetBindingKey(key string) error {
	if err := util.WriteFile(x.bindingKeyPath(), []byte(key)); err != nil {
		return fmt.Errorf("could not persist binding key for '%s': %w", x.Dir, err)
	}
	return nil
}

// Load reads the cache persisted by the last Reindex. A missing index file
// loads as an empty cache.
func (x *Index) Load() error {
	f, err := os.Open(x.indexPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		x.cache = make(map[Fingerprint]digest.Hash)
		return nil
	case err != nil:
		return fmt.Errorf("could not open index file '%s': %w", x.indexPath(), err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			logging.Debugf("Could not close index file: %s", err)
		}
	}(f)

	cache := make(map[Fingerprint]digest.Hash)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		hash, fp, err := parseRecord(scanner.Text())
		if err != nil {
			return fmt.Errorf("could not parse index file '%s' line %d: %w", x.indexPath(), line, err)
		}
		cache[fp] = hash
	}
	if err = scanner.Err(); err != nil {
		return fmt.Errorf("could not read index file '%s': %w", x.indexPath(), err)
	}
	x.cache = cache
	return nil
}

// Reindex hashes every content file in the directory, reusing cached hashes
// for files whose fingerprint is unchanged, and rewrites the index file.
func (x *Index) Reindex(ctx context.Context) error {
	if x.cache == nil {
		if err := x.Load(); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(x.Dir)
	if err != nil {
		return fmt.Errorf("could not list directory '%s': %w", x.Dir, err)
	}

	stats := Stats{}
	var buf bytes.Buffer
	for _, entry := range entries {
		if err = ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if !x.isContent(name) {
			continue
		}
		if strings.ContainsAny(name, "\r\n") {
			logging.Warnf("Skipping file with line break in name: %q", x.Path(name))
			continue
		}
		info, err := os.Stat(x.Path(name))
		if err != nil {
			return fmt.Errorf("could not stat '%s': %w", x.Path(name), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		fp := Fingerprint{Size: info.Size(), ModTime: info.ModTime().UnixNano(), Name: name}
		hash, ok := x.cache[fp]
		if ok {
			stats.Reused++
		} else {
			hash, err = hashFile(x.Path(name))
			if err != nil {
				return err
			}
			stats.Hashed++
		}
		stats.Files++
		buf.WriteString(formatRecord(hash, fp))
	}

	if err = util.WriteFile(x.indexPath(), buf.Bytes()); err != nil {
		return fmt.Errorf("could not write index for '%s': %w", x.Dir, err)
	}
	logging.Debugf("Indexed %s: %d files, %d hashed, %d from cache", x.Dir, stats.Files, stats.Hashed, stats.Reused)
	x.stats = stats
	return x.Load()
}

// ByHash returns the directory's entries ordered by hash. Files with
// identical content are reported once, under the shortest name; the others
// are logged and left out.
func (x *Index) ByHash() (iter.Seq[Entry], error) {
	if x.cache == nil {
		return nil, fmt.Errorf("could not list entries of '%s': %w", x.Dir, ErrNotLoaded)
	}

	byName := make([]Entry, 0, len(x.cache))
	for fp, hash := range x.cache {
		byName = append(byName, Entry{Hash: hash, Name: fp.Name})
	}
	slices.SortFunc(byName, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(len(a.Name), len(b.Name)), cmp.Compare(a.Name, b.Name))
	})

	seen := make(map[digest.Hash]struct{}, len(byName))
	byHash := make([]Entry, 0, len(byName))
	for _, e := range byName {
		if _, ok := seen[e.Hash]; ok {
			logging.Warnf("Skipping duplicate %s", x.Path(e.Name))
			continue
		}
		seen[e.Hash] = struct{}{}
		byHash = append(byHash, e)
	}
	slices.SortFunc(byHash, func(a, b Entry) int {
		return cmp.Compare(a.Hash, b.Hash)
	})

	return slices.Values(byHash), nil
}

func (x *Index) ReadContent(name string) ([]byte, error) {
	b, err := os.ReadFile(x.Path(name))
	if err != nil {
		return nil, fmt.Errorf("could not read '%s': %w", x.Path(name), err)
	}
	return b, nil
}

func hashFile(path string) (digest.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open '%s': %w", path, err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			logging.Debugf("Could not close file: %s", err)
		}
	}(f)
	hash, err := digest.SumReader(f)
	if err != nil {
		return "", fmt.Errorf("could not read '%s': %w", path, err)
	}
	return hash, nil
}

func formatRecord(hash digest.Hash, fp Fingerprint) string {
	return fmt.Sprintf("%s %d %d %s\n", hash, fp.Size, fp.ModTime, fp.Name)
}

func parseRecord(line string) (digest.Hash, Fingerprint, error) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) != 4 {
		return "", Fingerprint{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	hash, err := digest.Parse(parts[0])
	if err != nil {
		return "", Fingerprint{}, err
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", Fingerprint{}, fmt.Errorf("invalid size: %w", err)
	}
	mtime, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", Fingerprint{}, fmt.Errorf("invalid modification time: %w", err)
	}
	return hash, Fingerprint{Size: size, ModTime: mtime, Name: parts[3]}, nil
}
