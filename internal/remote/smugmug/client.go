// Package smugmug implements remote.Transport against the SmugMug API v2.
// Requests are expected to be signed by the http.Client passed to New, see
// auth.SmugMugClient.
package smugmug

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/logging"
	"github.com/torfstack/smog/internal/remote"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	BaseURL   = "https://api.smugmug.com"
	UploadURL = "https://upload.smugmug.com/"

	authUserURI = "/api/v2!authuser"
)

type Options struct {
	// BaseURL and UploadURL default to the production hosts.
	BaseURL   string
	UploadURL string
	// RequestsPerSecond paces every request. Zero disables pacing.
	RequestsPerSecond float64
	// MaxInFlight caps concurrent requests. Zero means 8.
	MaxInFlight int
	// UploadKeyword is set on created albums and uploaded images.
	UploadKeyword string
}

type Client struct {
	http          *http.Client
	baseURL       string
	uploadURL     string
	limiter       *rate.Limiter
	sem           *semaphore.Weighted
	uploadKeyword string
}

var _ remote.Transport = (*Client)(nil)

func New(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.UploadURL == "" {
		opts.UploadURL = UploadURL
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 8
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		http:          httpClient,
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		uploadURL:     opts.UploadURL,
		limiter:       rate.NewLimiter(limit, 1),
		sem:           semaphore.NewWeighted(int64(opts.MaxInFlight)),
		uploadKeyword: opts.UploadKeyword,
	}
}

func (c *Client) Root(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodGet, authUserURI, nil, nil)
	if err != nil {
		return "", fmt.Errorf("could not get authenticated user: %w", err)
	}
	node := gjson.GetBytes(body, "Response.User.Uris.Node")
	if !node.Exists() {
		return "", fmt.Errorf("could not find root node in response of %s", authUserURI)
	}
	return uriOf(node), nil
}

func (c *Client) ListChildren(ctx context.Context, nodeRef, pageToken string) (remote.NodePage, error) {
	uri := pageToken
	if uri == "" {
		uri = nodeRef + "!children"
	}
	body, err := c.request(ctx, http.MethodGet, uri, nil, nil)
	if err != nil {
		return remote.NodePage{}, err
	}

	var page remote.NodePage
	gjson.GetBytes(body, "Response.Node").ForEach(func(_, n gjson.Result) bool {
		page.Nodes = append(page.Nodes, parseNode(n))
		return true
	})
	page.NextPageToken = gjson.GetBytes(body, "Response.Pages.NextPage").String()
	return page, nil
}

func (c *Client) CreateCollection(ctx context.Context, parentRef, name string) (remote.Node, error) {
	form := url.Values{
		"Type":     {"Album"},
		"Name":     {name},
		"Privacy":  {"Private"},
		"Keywords": {c.uploadKeyword},
	}
	body, err := c.request(ctx, http.MethodPost, parentRef+"!children", strings.NewReader(form.Encode()), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
	if err != nil {
		return remote.Node{}, fmt.Errorf("could not create album '%s': %w", name, err)
	}
	n := gjson.GetBytes(body, "Response.Node")
	if !n.Exists() {
		return remote.Node{}, fmt.Errorf("could not find node of created album '%s' in response", name)
	}
	return parseNode(n), nil
}

func (c *Client) ListItems(ctx context.Context, collectionRef, pageToken string) (remote.ItemPage, error) {
	uri := pageToken
	if uri == "" {
		uri = collectionRef + "!images"
	}
	body, err := c.request(ctx, http.MethodGet, uri, nil, nil)
	if err != nil {
		return remote.ItemPage{}, err
	}

	var page remote.ItemPage
	gjson.GetBytes(body, "Response.AlbumImage").ForEach(func(_, img gjson.Result) bool {
		page.Items = append(page.Items, remote.Item{
			Ref:  uriOf(img.Get("Uri")),
			Hash: digest.Hash(strings.ToLower(img.Get("ArchivedMD5").String())),
			Raw:  []byte(img.Raw),
		})
		return true
	})
	page.NextPageToken = gjson.GetBytes(body, "Response.Pages.NextPage").String()
	return page, nil
}

// SetMarker replaces the keywords of an image or album. SmugMug silently
// drops '-' from keywords.
func (c *Client) SetMarker(ctx context.Context, ref, marker string) error {
	form := url.Values{"Keywords": {marker}}
	_, err := c.request(ctx, http.MethodPatch, ref, strings.NewReader(form.Encode()), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
	if err != nil {
		return fmt.Errorf("could not set keywords of '%s': %w", ref, err)
	}
	return nil
}

func (c *Client) UploadContent(ctx context.Context, collectionRef string, content []byte, filename string, hash digest.Hash) (string, error) {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := http.Header{
		"Content-Type":        {contentType},
		"Content-MD5":         {hash.String()},
		"X-Smug-AlbumUri":     {collectionRef},
		"X-Smug-FileName":     {filename},
		"X-Smug-Keywords":     {c.uploadKeyword},
		"X-Smug-ResponseType": {"JSON"},
		"X-Smug-Version":      {"v2"},
	}
	body, err := c.request(ctx, http.MethodPost, c.uploadURL, bytes.NewReader(content), header)
	if err != nil {
		return "", fmt.Errorf("could not upload '%s': %w", filename, err)
	}
	if stat := gjson.GetBytes(body, "stat").String(); stat != "ok" {
		return "", &remote.StatusError{
			Method: http.MethodPost,
			URI:    c.uploadURL,
			Status: http.StatusOK,
			Body:   gjson.GetBytes(body, "message").String(),
		}
	}
	return gjson.GetBytes(body, "Image.AlbumImageUri").String(), nil
}

// resolve turns an API relative URI into an absolute URL requesting the
// compact response representation.
func (c *Client) resolve(uri string) string {
	if !strings.HasPrefix(uri, "/") {
		return uri
	}
	if strings.Contains(uri, "_verbosity=") {
		return c.baseURL + uri
	}
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return c.baseURL + uri + sep + "_verbosity=1"
}

func (c *Client) request(ctx context.Context, method, uri string, body io.Reader, header http.Header) ([]byte, error) {
	target := c.resolve(uri)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request %s %s: %w", method, uri, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	if err = c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err = c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	logging.Debugf("%s %s", method, target)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, remote.RequestError(method+" "+uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.RequestError(method+" "+uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(b, "Message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return nil, &remote.StatusError{Method: method, URI: uri, Status: resp.StatusCode, Body: msg}
	}
	return b, nil
}

func parseNode(n gjson.Result) remote.Node {
	node := remote.Node{
		Ref:  uriOf(n.Get("Uri")),
		Name: n.Get("Name").String(),
		Type: remote.NodeType(n.Get("Type").String()),
	}
	if album := n.Get("Uris.Album"); album.Exists() {
		node.CollectionRef = uriOf(album)
		node.Key = path.Base(node.CollectionRef)
	}
	return node
}

// uriOf reads a URI field, which is a plain string at verbosity 1 and an
// object carrying the URI at higher verbosities.
func uriOf(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("Uri").String()
	}
	return r.String()
}
