// Package reconcile turns a local and a remote content index into the
// operations that make the remote side match the local one.
package reconcile

import (
	"errors"
	"fmt"
	"iter"

	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/local"
	"github.com/torfstack/smog/internal/remote"
)

var ErrInvariant = errors.New("reconciliation invariant violated")

// sentinel compares greater than every hex encoded hash.
const sentinel = digest.Hash("\xff")

type Kind int

const (
	Upload Kind = iota
	Flag
)

func (k Kind) String() string {
	switch k {
	case Upload:
		return "upload"
	case Flag:
		return "flag"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Target is the pair being reconciled.
type Target struct {
	Dir           *local.Index
	CollectionRef string
}

// Operation is an Upload of a local file into a collection or a Flag that
// marks a remote item for removal. Only the fields of its Kind are set.
type Operation struct {
	Kind Kind

	Dir           *local.Index
	Filename      string
	Hash          digest.Hash
	CollectionRef string

	Ref    string
	Marker string
}

func (o Operation) String() string {
	if o.Kind == Upload {
		return "Uploading " + o.Dir.Path(o.Filename)
	}
	return "Marking for removal " + o.Ref
}

// cursor walks one hash ordered sequence. Once the sequence is exhausted its
// hash is the sentinel.
type cursor[E any] struct {
	side  string
	next  func() (E, bool)
	hash  func(E) digest.Hash
	entry E
	cur   digest.Hash
}

func (c *cursor[E]) advance() error {
	prev := c.cur
	e, ok := c.next()
	if !ok {
		c.cur = sentinel
		return nil
	}
	h := c.hash(e)
	switch {
	case h >= sentinel:
		return fmt.Errorf("%w: %s hash %q is not below the sentinel", ErrInvariant, c.side, h)
	case h < prev:
		return fmt.Errorf("%w: %s hash %s after %s", ErrInvariant, c.side, h, prev)
	}
	c.entry, c.cur = e, h
	return nil
}

// Diff merges both sequences in a single pass. Both must be non-decreasing
// by hash. Content on both sides needs nothing, local only content is
// uploaded and remote only content is flagged with marker.
func Diff(target Target, localSeq iter.Seq[local.Entry], remoteSeq iter.Seq[remote.Entry], marker string) ([]Operation, error) {
	nextLocal, stopLocal := iter.Pull(localSeq)
	defer stopLocal()
	nextRemote, stopRemote := iter.Pull(remoteSeq)
	defer stopRemote()

	l := &cursor[local.Entry]{side: "local", next: nextLocal, hash: func(e local.Entry) digest.Hash { return e.Hash }}
	r := &cursor[remote.Entry]{side: "remote", next: nextRemote, hash: func(e remote.Entry) digest.Hash { return e.Hash }}
	if err := l.advance(); err != nil {
		return nil, err
	}
	if err := r.advance(); err != nil {
		return nil, err
	}

	var ops []Operation
	for l.cur != sentinel || r.cur != sentinel {
		var err error
		switch {
		case l.cur == r.cur:
			if err = l.advance(); err == nil {
				err = r.advance()
			}
		case l.cur < r.cur:
			ops = append(ops, Operation{
				Kind:          Upload,
				Dir:           target.Dir,
				Filename:      l.entry.Name,
				Hash:          l.cur,
				CollectionRef: target.CollectionRef,
			})
			err = l.advance()
		default:
			ops = append(ops, Operation{Kind: Flag, Ref: r.entry.Ref, Marker: marker})
			err = r.advance()
		}
		if err != nil {
			return nil, err
		}
	}
	return ops, nil
}
