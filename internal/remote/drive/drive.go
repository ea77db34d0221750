// Package drive implements remote.Transport on Google Drive. Folders play
// both roles: they are walked by name and any folder below the root folder
// path is a collection. Markers live in the file's app properties.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/remote"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	FolderMimeType = "application/vnd.google-apps.folder"
	RootFolderId   = "root"

	// MarkerProperty is the app property holding upload and removal markers.
	MarkerProperty = "smog"
)

type Options struct {
	RequestsPerSecond float64
	UploadKeyword     string
	// PageSize defaults to 1000.
	PageSize int64
}

type Transport struct {
	drv           *drive.Service
	limiter       *rate.Limiter
	uploadKeyword string
	pageSize      int64
}

var _ remote.Transport = (*Transport)(nil)

func New(drv *drive.Service, opts Options) *Transport {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	return &Transport{
		drv:           drv,
		limiter:       rate.NewLimiter(limit, 1),
		uploadKeyword: opts.UploadKeyword,
		pageSize:      opts.PageSize,
	}
}

func (t *Transport) Root(context.Context) (string, error) {
	return RootFolderId, nil
}

func (t *Transport) ListChildren(ctx context.Context, nodeRef, pageToken string) (remote.NodePage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return remote.NodePage{}, err
	}
	req := t.drv.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false and mimeType='%s'", escape(nodeRef), FolderMimeType)).
		Fields("nextPageToken, files(id, name, mimeType)").
		PageSize(t.pageSize).
		Context(ctx)
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}
	r, err := req.Do()
	if err != nil {
		return remote.NodePage{}, transportError(http.MethodGet, "files", err)
	}

	page := remote.NodePage{NextPageToken: r.NextPageToken}
	for _, f := range r.Files {
		page.Nodes = append(page.Nodes, folderNode(f))
	}
	return page, nil
}

func (t *Transport) CreateCollection(ctx context.Context, parentRef, name string) (remote.Node, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return remote.Node{}, err
	}
	f, err := t.drv.Files.Create(&drive.File{
		Name:          name,
		MimeType:      FolderMimeType,
		Parents:       []string{parentRef},
		AppProperties: map[string]string{MarkerProperty: t.uploadKeyword},
	}).Fields("id, name, mimeType").Context(ctx).Do()
	if err != nil {
		return remote.Node{}, fmt.Errorf("could not create folder '%s': %w", name, transportError(http.MethodPost, "files", err))
	}
	return folderNode(f), nil
}

func (t *Transport) ListItems(ctx context.Context, collectionRef, pageToken string) (remote.ItemPage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return remote.ItemPage{}, err
	}
	req := t.drv.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false and mimeType!='%s'", escape(collectionRef), FolderMimeType)).
		Fields("nextPageToken, files(id, name, md5Checksum, appProperties)").
		PageSize(t.pageSize).
		Context(ctx)
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}
	r, err := req.Do()
	if err != nil {
		return remote.ItemPage{}, transportError(http.MethodGet, "files", err)
	}

	page := remote.ItemPage{NextPageToken: r.NextPageToken}
	for _, f := range r.Files {
		raw, err := json.Marshal(f)
		if err != nil {
			return remote.ItemPage{}, fmt.Errorf("could not encode file '%s': %w", f.Id, err)
		}
		page.Items = append(page.Items, remote.Item{
			Ref:  f.Id,
			Hash: digest.Hash(strings.ToLower(f.Md5Checksum)),
			Raw:  raw,
		})
	}
	return page, nil
}

// SetMarker overwrites the marker property of a file or folder.
func (t *Transport) SetMarker(ctx context.Context, ref, marker string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.drv.Files.Update(ref, &drive.File{
		AppProperties: map[string]string{MarkerProperty: marker},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("could not set marker of '%s': %w", ref, transportError(http.MethodPatch, "files/"+ref, err))
	}
	return nil
}

func (t *Transport) UploadContent(ctx context.Context, collectionRef string, content []byte, filename string, hash digest.Hash) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	f, err := t.drv.Files.Create(&drive.File{
		Name:          filename,
		Parents:       []string{collectionRef},
		AppProperties: map[string]string{MarkerProperty: t.uploadKeyword},
	}).Media(bytes.NewReader(content)).Fields("id, md5Checksum").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("could not upload '%s': %w", filename, transportError(http.MethodPost, "upload/files", err))
	}
	if got := digest.Hash(strings.ToLower(f.Md5Checksum)); got != hash {
		return "", &remote.StatusError{
			Method: http.MethodPost,
			URI:    "upload/files",
			Status: http.StatusOK,
			Body:   fmt.Sprintf("checksum of '%s' is %s, expected %s", filename, got, hash),
		}
	}
	return f.Id, nil
}

func folderNode(f *drive.File) remote.Node {
	return remote.Node{
		Ref:           f.Id,
		Name:          f.Name,
		Type:          remote.NodeCollection,
		CollectionRef: f.Id,
		Key:           f.Id,
	}
}

func transportError(method, uri string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &remote.StatusError{Method: method, URI: uri, Status: gErr.Code, Body: gErr.Message}
	}
	return remote.RequestError(method+" "+uri, err)
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// escape quotes id for use inside a single quoted query string.
func escape(id string) string {
	return queryEscaper.Replace(id)
}
