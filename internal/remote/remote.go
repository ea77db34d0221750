package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/torfstack/smog/internal/digest"
)

type NodeType string

const (
	NodeFolder     NodeType = "Folder"
	NodeCollection NodeType = "Album"
)

// Node is one entry of a folder listing. For collections, CollectionRef is
// the reference items are listed and uploaded against and Key is the stable
// identity persisted as a directory's binding key.
type Node struct {
	Ref           string
	Name          string
	Type          NodeType
	CollectionRef string
	Key           string
}

type NodePage struct {
	Nodes         []Node
	NextPageToken string
}

// Item is one entry of a collection listing. Raw keeps the record exactly as
// the service returned it.
type Item struct {
	Ref  string          `json:"ref"`
	Hash digest.Hash     `json:"hash"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

type ItemPage struct {
	Items         []Item
	NextPageToken string
}

// Transport is the remote photo service. Every method performs at most one
// request; none of them retry.
type Transport interface {
	Root(ctx context.Context) (string, error)
	ListChildren(ctx context.Context, nodeRef, pageToken string) (NodePage, error)
	CreateCollection(ctx context.Context, parentRef, name string) (Node, error)
	ListItems(ctx context.Context, collectionRef, pageToken string) (ItemPage, error)
	SetMarker(ctx context.Context, ref, marker string) error
	UploadContent(ctx context.Context, collectionRef string, content []byte, filename string, hash digest.Hash) (string, error)
}

var ErrTransport = errors.New("remote request failed")

// StatusError is a response the service answered with something other than
// success.
type StatusError struct {
	Method string
	URI    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URI, e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransport
}

// RequestError marks err, a failure to talk to the service at all, as a
// transport error.
func RequestError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// Children yields every child of nodeRef, following page tokens. Breaking
// out of the loop stops paging.
func Children(ctx context.Context, t Transport, nodeRef string) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		token := ""
		for {
			page, err := t.ListChildren(ctx, nodeRef, token)
			if err != nil {
				yield(Node{}, fmt.Errorf("could not list children of '%s': %w", nodeRef, err))
				return
			}
			for _, n := range page.Nodes {
				if !yield(n, nil) {
					return
				}
			}
			token = page.NextPageToken
			if token == "" {
				return
			}
		}
	}
}

// Items collects every item of a collection, following page tokens.
func Items(ctx context.Context, t Transport, collectionRef string) ([]Item, error) {
	var items []Item
	token := ""
	for {
		page, err := t.ListItems(ctx, collectionRef, token)
		if err != nil {
			return nil, fmt.Errorf("could not list items of '%s': %w", collectionRef, err)
		}
		items = append(items, page.Items...)
		token = page.NextPageToken
		if token == "" {
			return items, nil
		}
	}
}
