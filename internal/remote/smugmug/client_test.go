package smugmug

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/remote"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.Client(), Options{
		BaseURL:       srv.URL,
		UploadURL:     srv.URL + "/upload/",
		UploadKeyword: "smog.upload",
	})
}

func TestRoot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2!authuser", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("_verbosity"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"Response":{"User":{"Uris":{"Node":"/api/v2/node/root"}}}}`)
	})

	ref, err := c.Root(t.Context())
	require.NoError(t, err)
	require.Equal(t, "/api/v2/node/root", ref)
}

func TestListChildren(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/node/root!children", r.URL.Path)
		switch r.URL.Query().Get("start") {
		case "":
			_, _ = io.WriteString(w, `{"Response":{
				"Node":[
					{"Name":"2019","Type":"Folder","Uri":"/api/v2/node/f1","Uris":{}},
					{"Name":"holiday","Type":"Album","Uri":"/api/v2/node/a1","Uris":{"Album":"/api/v2/album/Key1"}}
				],
				"Pages":{"NextPage":"/api/v2/node/root!children?start=3&count=2"}}}`)
		case "3":
			assert.Equal(t, "1", r.URL.Query().Get("_verbosity"))
			_, _ = io.WriteString(w, `{"Response":{
				"Node":[{"Name":"party","Type":"Album","Uri":"/api/v2/node/a2","Uris":{"Album":{"Uri":"/api/v2/album/Key2"}}}],
				"Pages":{}}}`)
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	})

	var got []remote.Node
	for n, err := range remote.Children(t.Context(), c, "/api/v2/node/root") {
		require.NoError(t, err)
		got = append(got, n)
	}
	require.Equal(t, []remote.Node{
		{Ref: "/api/v2/node/f1", Name: "2019", Type: remote.NodeFolder},
		{Ref: "/api/v2/node/a1", Name: "holiday", Type: remote.NodeCollection, CollectionRef: "/api/v2/album/Key1", Key: "Key1"},
		{Ref: "/api/v2/node/a2", Name: "party", Type: remote.NodeCollection, CollectionRef: "/api/v2/album/Key2", Key: "Key2"},
	}, got)
}

func TestCreateCollection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/node/root!children", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "Album", r.PostForm.Get("Type"))
		assert.Equal(t, "holiday", r.PostForm.Get("Name"))
		assert.Equal(t, "Private", r.PostForm.Get("Privacy"))
		assert.Equal(t, "smog.upload", r.PostForm.Get("Keywords"))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"Response":{"Node":{"Name":"holiday","Type":"Album","Uri":"/api/v2/node/a1","Uris":{"Album":"/api/v2/album/Key1"}}}}`)
	})

	n, err := c.CreateCollection(t.Context(), "/api/v2/node/root", "holiday")
	require.NoError(t, err)
	require.Equal(t, "Key1", n.Key)
	require.Equal(t, "/api/v2/album/Key1", n.CollectionRef)
}

func TestListItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/album/Key1!images", r.URL.Path)
		_, _ = io.WriteString(w, `{"Response":{
			"AlbumImage":[
				{"Uri":"/api/v2/album/Key1/image/i1-0","ArchivedMD5":"4B3A6218BB3E3A7303E8A171A60FCF92","FileName":"a.jpg"},
				{"Uri":"/api/v2/album/Key1/image/i2-0","ArchivedMD5":""}
			],
			"Pages":{}}}`)
	})

	items, err := remote.Items(t.Context(), c, "/api/v2/album/Key1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "/api/v2/album/Key1/image/i1-0", items[0].Ref)
	require.Equal(t, digest.Sum([]byte("bytes")), items[0].Hash)
	require.JSONEq(t, `{"Uri":"/api/v2/album/Key1/image/i1-0","ArchivedMD5":"4B3A6218BB3E3A7303E8A171A60FCF92","FileName":"a.jpg"}`, string(items[0].Raw))
	require.Empty(t, items[1].Hash)
}

func TestSetMarker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v2/album/Key1/image/i1-0", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "smog.upload; smog.removed", r.PostForm.Get("Keywords"))
		_, _ = io.WriteString(w, `{"Response":{}}`)
	})

	require.NoError(t, c.SetMarker(t.Context(), "/api/v2/album/Key1/image/i1-0", "smog.upload; smog.removed"))
}

func TestUploadContent(t *testing.T) {
	content := []byte("bytes")
	tests := []struct {
		name     string
		response string
		do       func(*testing.T, string, error)
	}{
		{
			name:     "ok",
			response: `{"stat":"ok","Image":{"AlbumImageUri":"/api/v2/album/Key1/image/i9-0"}}`,
			do: func(t *testing.T, ref string, err error) {
				require.NoError(t, err)
				require.Equal(t, "/api/v2/album/Key1/image/i9-0", ref)
			},
		},
		{
			name:     "rejected",
			response: `{"stat":"fail","code":5,"message":"system error"}`,
			do: func(t *testing.T, _ string, err error) {
				require.ErrorIs(t, err, remote.ErrTransport)
				require.ErrorContains(t, err, "system error")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/upload/", r.URL.Path)
				assert.Empty(t, r.URL.Query().Get("_verbosity"))
				assert.Equal(t, int64(len(content)), r.ContentLength)
				assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
				assert.Equal(t, "4b3a6218bb3e3a7303e8a171a60fcf92", r.Header.Get("Content-MD5"))
				assert.Equal(t, "/api/v2/album/Key1", r.Header.Get("X-Smug-AlbumUri"))
				assert.Equal(t, "a.JPG", r.Header.Get("X-Smug-FileName"))
				assert.Equal(t, "smog.upload", r.Header.Get("X-Smug-Keywords"))
				assert.Equal(t, "JSON", r.Header.Get("X-Smug-ResponseType"))
				assert.Equal(t, "v2", r.Header.Get("X-Smug-Version"))
				b, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				assert.Equal(t, content, b)
				_, _ = io.WriteString(w, tt.response)
			})

			ref, err := c.UploadContent(t.Context(), "/api/v2/album/Key1", content, "a.JPG", digest.Sum(content))
			tt.do(t, ref, err)
		})
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"Code":404,"Message":"Not Found"}`)
	})

	err := c.SetMarker(t.Context(), "/api/v2/album/gone", "x")
	require.ErrorIs(t, err, remote.ErrTransport)
	var statusErr *remote.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
	require.Equal(t, "Not Found", statusErr.Body)
	require.Equal(t, http.MethodPatch, statusErr.Method)
}

func TestRequestError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(srv.Client(), Options{BaseURL: srv.URL})

	_, err := c.Root(t.Context())
	require.ErrorIs(t, err, remote.ErrTransport)
}

func TestMaxInFlight(t *testing.T) {
	var inFlight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"Response":{}}`)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.Client(), Options{BaseURL: srv.URL, MaxInFlight: 2})

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Go(func() {
			assert.NoError(t, c.SetMarker(context.Background(), fmt.Sprintf("/api/v2/image/%d", i), "x"))
		})
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int64(2))
}

func TestResolve(t *testing.T) {
	c := New(nil, Options{BaseURL: "https://api.example.com/"})
	tests := []struct{ in, want string }{
		{"/api/v2!authuser", "https://api.example.com/api/v2!authuser?_verbosity=1"},
		{"/api/v2/node/x!children?start=11&count=10", "https://api.example.com/api/v2/node/x!children?start=11&count=10&_verbosity=1"},
		{"/api/v2/node/x!children?_verbosity=1&start=2", "https://api.example.com/api/v2/node/x!children?_verbosity=1&start=2"},
		{"https://upload.example.com/", "https://upload.example.com/"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, c.resolve(tt.in))
	}
}
