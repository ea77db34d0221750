package service

import (
	"context"
	"fmt"

	"github.com/torfstack/smog/internal/remote"
	"github.com/torfstack/smog/internal/taskgroup"
)

// Retag resets the marker of every collection directly below rootFolder, and
// of every item in them, to the upload keyword. Items flagged for removal
// by earlier runs are unflagged this way.
func (s *Service) Retag(ctx context.Context, rootFolder string) (int, error) {
	folderRef, err := s.binder.ResolveFolder(ctx, rootFolder)
	if err != nil {
		return 0, fmt.Errorf("could not resolve '%s': %w", rootFolder, err)
	}

	var refs []string
	for n, err := range remote.Children(ctx, s.transport, folderRef) {
		if err != nil {
			return 0, fmt.Errorf("could not list collections of '%s': %w", rootFolder, err)
		}
		if n.Type != remote.NodeCollection {
			continue
		}
		items, err := remote.Items(ctx, s.transport, n.CollectionRef)
		if err != nil {
			return 0, fmt.Errorf("could not list items of '%s': %w", n.Name, err)
		}
		refs = append(refs, n.CollectionRef)
		for _, item := range items {
			refs = append(refs, item.Ref)
		}
	}

	g := taskgroup.New(ctx, s.limiter, taskgroup.CollectAndRaise).WithProgress(len(refs))
	for _, ref := range refs {
		g.Go("Retagging "+ref, func(ctx context.Context) error {
			return s.transport.SetMarker(ctx, ref, s.cfg.UploadKeyword)
		})
	}
	err = g.Wait()
	return len(refs), err
}
