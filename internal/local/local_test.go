package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/logging"
)

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".png"
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func entries(t *testing.T, x *Index) []Entry {
	t.Helper()
	seq, err := x.ByHash()
	require.NoError(t, err)
	return slices.Collect(seq)
}

func TestReindex(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, string)
	}{
		{
			name: "indexes content files only",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				writeFile(t, dir, "b.PNG", "b")
				writeFile(t, dir, "notes.txt", "c")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0755))

				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				got := entries(t, x)
				require.ElementsMatch(t, []Entry{
					{Hash: digest.Sum([]byte("a")), Name: "a.jpg"},
					{Hash: digest.Sum([]byte("b")), Name: "b.PNG"},
				}, got)
				require.Equal(t, Stats{Files: 2, Hashed: 2}, x.Stats())
			},
		},
		{
			name: "writes one record per file in name order",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "b.jpg", "b")
				writeFile(t, dir, "a.jpg", "a")

				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				b, err := os.ReadFile(filepath.Join(dir, StateDir, indexFile))
				require.NoError(t, err)
				lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
				require.Len(t, lines, 2)
				require.True(t, strings.HasPrefix(lines[0], string(digest.Sum([]byte("a")))+" 1 "))
				require.True(t, strings.HasSuffix(lines[0], " a.jpg"))
				require.True(t, strings.HasSuffix(lines[1], " b.jpg"))
			},
		},
		{
			name: "second reindex reuses cached hashes and writes an identical index",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				writeFile(t, dir, "with space.jpg", "b")

				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))
				first, err := os.ReadFile(filepath.Join(dir, StateDir, indexFile))
				require.NoError(t, err)

				y := NewIndex(dir, isImage)
				require.NoError(t, y.Reindex(context.Background()))
				second, err := os.ReadFile(filepath.Join(dir, StateDir, indexFile))
				require.NoError(t, err)

				require.Equal(t, first, second)
				require.Equal(t, Stats{Files: 2, Reused: 2}, y.Stats())
			},
		},
		{
			name: "unchanged fingerprint never rereads the file",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				// Same size and mtime, different bytes: the cached hash must win.
				path := filepath.Join(dir, "a.jpg")
				info, err := os.Stat(path)
				require.NoError(t, err)
				writeFile(t, dir, "a.jpg", "z")
				require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

				require.NoError(t, x.Reindex(context.Background()))
				require.Equal(t, []Entry{{Hash: digest.Sum([]byte("a")), Name: "a.jpg"}}, entries(t, x))
			},
		},
		{
			name: "changed fingerprint rehashes and prunes stale records",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				writeFile(t, dir, "gone.jpg", "gone")
				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				path := filepath.Join(dir, "a.jpg")
				writeFile(t, dir, "a.jpg", "changed")
				later := time.Now().Add(time.Hour)
				require.NoError(t, os.Chtimes(path, later, later))
				require.NoError(t, os.Remove(filepath.Join(dir, "gone.jpg")))

				require.NoError(t, x.Reindex(context.Background()))
				require.Equal(t, []Entry{{Hash: digest.Sum([]byte("changed")), Name: "a.jpg"}}, entries(t, x))
				require.Equal(t, Stats{Files: 1, Hashed: 1}, x.Stats())
			},
		},
		{
			name: "missing directory fails",
			do: func(t *testing.T, dir string) {
				x := NewIndex(filepath.Join(dir, "missing"), isImage)
				require.ErrorIs(t, x.Reindex(context.Background()), os.ErrNotExist)
			},
		},
		{
			name: "unreadable content file fails instead of being skipped",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				require.NoError(t, os.Symlink(filepath.Join(dir, "gone.jpg"), filepath.Join(dir, "b.jpg")))

				x := NewIndex(dir, isImage)
				err := x.Reindex(context.Background())
				require.ErrorIs(t, err, os.ErrNotExist)
				require.ErrorContains(t, err, "b.jpg")
				require.NoFileExists(t, filepath.Join(dir, StateDir, indexFile))
			},
		},
		{
			name: "canceled context stops the scan",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				x := NewIndex(dir, isImage)
				require.ErrorIs(t, x.Reindex(ctx), context.Canceled)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.do(t, t.TempDir())
		})
	}
}

func TestByHash(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, string)
	}{
		{
			name: "not loaded",
			do: func(t *testing.T, dir string) {
				_, err := NewIndex(dir, isImage).ByHash()
				require.ErrorIs(t, err, ErrNotLoaded)
			},
		},
		{
			name: "load without index file is empty",
			do: func(t *testing.T, dir string) {
				x := NewIndex(dir, isImage)
				require.NoError(t, x.Load())
				require.Empty(t, entries(t, x))
			},
		},
		{
			name: "load reads the persisted index without rescanning",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				require.NoError(t, NewIndex(dir, isImage).Reindex(context.Background()))
				writeFile(t, dir, "b.jpg", "b")

				x := NewIndex(dir, isImage)
				require.NoError(t, x.Load())
				require.Equal(t, []Entry{{Hash: digest.Sum([]byte("a")), Name: "a.jpg"}}, entries(t, x))
			},
		},
		{
			name: "strictly ascending by hash",
			do: func(t *testing.T, dir string) {
				for i := 0; i < 20; i++ {
					writeFile(t, dir, strings.Repeat("x", i+1)+".jpg", strings.Repeat("y", i))
				}
				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				got := entries(t, x)
				require.Len(t, got, 20)
				for i := 1; i < len(got); i++ {
					require.Less(t, got[i-1].Hash, got[i].Hash)
				}
			},
		},
		{
			name: "identical content is reported once under the shortest name",
			do: func(t *testing.T, dir string) {
				var buf bytes.Buffer
				logging.SetOutput(&buf)
				t.Cleanup(func() { logging.SetOutput(os.Stdout) })

				writeFile(t, dir, "copy of a.jpg", "same")
				writeFile(t, dir, "b.jpg", "same")
				writeFile(t, dir, "a.jpg", "same")
				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				require.Equal(t, []Entry{{Hash: digest.Sum([]byte("same")), Name: "a.jpg"}}, entries(t, x))
				require.Contains(t, buf.String(), filepath.Join(dir, "b.jpg"))
				require.Contains(t, buf.String(), filepath.Join(dir, "copy of a.jpg"))
			},
		},
		{
			name: "sequence is restartable",
			do: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.jpg", "a")
				writeFile(t, dir, "b.jpg", "b")
				x := NewIndex(dir, isImage)
				require.NoError(t, x.Reindex(context.Background()))

				seq, err := x.ByHash()
				require.NoError(t, err)
				require.Equal(t, slices.Collect(seq), slices.Collect(seq))
			},
		},
		{
			name: "corrupt index file fails to load",
			do: func(t *testing.T, dir string) {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, StateDir), 0755))
				writeFile(t, filepath.Join(dir, StateDir), indexFile, "not a record\n")
				require.Error(t, NewIndex(dir, isImage).Load())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.do(t, t.TempDir())
		})
	}
}

func TestBindingKey(t *testing.T) {
	dir := t.TempDir()
	x := NewIndex(dir, isImage)

	key, err := x.BindingKey()
	require.NoError(t, err)
	require.Empty(t, key)

	require.NoError(t, x.SetBindingKey("abc123"))
	key, err = NewIndex(dir, isImage).BindingKey()
	require.NoError(t, err)
	require.Equal(t, "abc123", key)

	writeFile(t, filepath.Join(dir, StateDir), bindingKeyFile, "def456\n")
	key, err = x.BindingKey()
	require.NoError(t, err)
	require.Equal(t, "def456", key)
}

func TestParseRecord(t *testing.T) {
	hash := digest.Sum([]byte("a"))
	fp := Fingerprint{Size: 12, ModTime: 1577132899000000000, Name: "name with spaces.jpg"}

	gotHash, gotFp, err := parseRecord(strings.TrimSuffix(formatRecord(hash, fp), "\n"))
	require.NoError(t, err)
	require.Equal(t, hash, gotHash)
	require.Equal(t, fp, gotFp)

	for _, line := range []string{"", "abc 1 2", hash.String() + " x 2 a.jpg", hash.String() + " 1 y a.jpg"} {
		_, _, err = parseRecord(line)
		require.Error(t, err, line)
	}
}
