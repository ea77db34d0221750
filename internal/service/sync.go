package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/torfstack/smog/internal/bind"
	"github.com/torfstack/smog/internal/digest"
	"github.com/torfstack/smog/internal/local"
	"github.com/torfstack/smog/internal/logging"
	"github.com/torfstack/smog/internal/reconcile"
	"github.com/torfstack/smog/internal/remote"
	"github.com/torfstack/smog/internal/taskgroup"
	"github.com/torfstack/smog/internal/util"
)

// Report summarizes a sync run. Failures counts failed apply operations.
// PhaseFailures counts failed bind and reindex tasks, which are logged and
// do not fail the run.
type Report struct {
	Pairs         int
	Created       int
	Orphans       int
	Skipped       int
	Operations    int
	Uploads       int
	Flags         int
	Failures      int
	PhaseFailures int
}

// Errors is the number of failed tasks over all phases.
func (r Report) Errors() int {
	return r.Failures + r.PhaseFailures
}

type pairIndex struct {
	bind.Pair
	remote *remote.CollectionIndex

	localOK  atomic.Bool
	remoteOK atomic.Bool
}

// Sync brings the collections below rootFolder in line with dirs. It binds,
// reindexes, diffs and applies, each phase finishing before the next starts.
// The returned error is non-nil for configuration and invariant errors, and
// when at least one apply operation failed. In the latter case the report is
// complete.
func (s *Service) Sync(ctx context.Context, rootFolder string, dirs []string) (Report, error) {
	report := Report{}
	indexes := make([]*local.Index, 0, len(dirs))
	for _, dir := range dirs {
		indexes = append(indexes, local.NewIndex(dir, s.cfg.IsContentFile))
	}

	pairs, err := s.bind(ctx, rootFolder, indexes, &report)
	if err != nil {
		return report, err
	}
	if err = ctx.Err(); err != nil {
		return report, err
	}

	indexed := s.reindex(ctx, pairs, &report)
	if err = ctx.Err(); err != nil {
		return report, err
	}

	ops, err := s.diff(indexed, &report)
	if err != nil {
		return report, err
	}

	err = s.apply(ctx, ops, &report)
	return report, err
}

func (s *Service) bind(ctx context.Context, rootFolder string, dirs []*local.Index, report *Report) ([]bind.Pair, error) {
	defer s.metrics.ObservePhase("bind")()

	plan, err := s.binder.Bind(ctx, rootFolder, dirs)
	if err != nil {
		return nil, fmt.Errorf("could not bind directories: %w", err)
	}
	s.metrics.RecordCollections("paired", len(plan.Pairs))
	s.metrics.RecordCollections("orphaned", len(plan.Orphans))

	pairs := util.NewSyncSlice(plan.Pairs...)
	g := taskgroup.New(ctx, s.limiter, taskgroup.Suppress)
	for _, orphan := range plan.Orphans {
		g.Go("Marking for removal "+orphan.CollectionRef, func(ctx context.Context) error {
			return s.transport.SetMarker(ctx, orphan.CollectionRef, s.cfg.RemovedMarker)
		})
	}
	for _, dir := range plan.Missing {
		g.Go("Creating collection "+dir.Name(), func(ctx context.Context) error {
			pair, err := s.binder.Create(ctx, plan.FolderRef, dir)
			if err != nil {
				return err
			}
			pairs.Add(pair)
			return nil
		})
	}
	_ = g.Wait()

	report.PhaseFailures += g.Failures()
	report.Orphans = len(plan.Orphans)
	report.Created = pairs.Len() - len(plan.Pairs)
	report.Pairs = pairs.Len()
	s.metrics.RecordCollections("created", report.Created)
	return pairs.Items(), nil
}

func (s *Service) reindex(ctx context.Context, pairs []bind.Pair, report *Report) []*pairIndex {
	defer s.metrics.ObservePhase("reindex")()

	indexed := make([]*pairIndex, 0, len(pairs))
	g := taskgroup.New(ctx, s.limiter, taskgroup.Suppress)
	for _, pair := range pairs {
		p := &pairIndex{
			Pair:   pair,
			remote: remote.NewCollectionIndex(s.transport, s.store, pair.Collection.Key, pair.Collection.CollectionRef),
		}
		indexed = append(indexed, p)

		g.Go("Indexing "+p.Local.Dir, func(ctx context.Context) error {
			if err := p.Local.Reindex(ctx); err != nil {
				return err
			}
			stats := p.Local.Stats()
			s.metrics.RecordIndexed(stats.Reused, stats.Hashed)
			p.localOK.Store(true)
			return nil
		})
		g.Go("Indexing collection "+p.Collection.Name, func(ctx context.Context) error {
			if err := p.remote.Reindex(ctx); err != nil {
				return err
			}
			p.remoteOK.Store(true)
			return nil
		})
	}
	_ = g.Wait()
	report.PhaseFailures += g.Failures()
	return indexed
}

func (s *Service) diff(pairs []*pairIndex, report *Report) ([]reconcile.Operation, error) {
	defer s.metrics.ObservePhase("diff")()

	var ops []reconcile.Operation
	for _, p := range pairs {
		if !p.localOK.Load() || !p.remoteOK.Load() {
			logging.Warnf("Skipping %s, it could not be indexed", p.Local.Dir)
			report.Skipped++
			continue
		}
		localSeq, err := p.Local.ByHash()
		if err != nil {
			return nil, err
		}
		remoteSeq, err := p.remote.ByHash()
		if err != nil {
			return nil, err
		}
		target := reconcile.Target{Dir: p.Local, CollectionRef: p.Collection.CollectionRef}
		pairOps, err := reconcile.Diff(target, localSeq, remoteSeq, s.cfg.RemovedMarker)
		if err != nil {
			return nil, fmt.Errorf("could not diff '%s': %w", p.Local.Dir, err)
		}
		logging.Debugf("%s: %d operations", p.Local.Dir, len(pairOps))
		ops = append(ops, pairOps...)
	}
	return ops, nil
}

func (s *Service) apply(ctx context.Context, ops []reconcile.Operation, report *Report) error {
	defer s.metrics.ObservePhase("apply")()

	g := taskgroup.New(ctx, s.limiter, taskgroup.CollectAndRaise).WithProgress(len(ops))
	for _, op := range ops {
		switch op.Kind {
		case reconcile.Upload:
			report.Uploads++
		case reconcile.Flag:
			report.Flags++
		}
		g.Go(op.String(), func(ctx context.Context) error {
			err := s.execute(ctx, op)
			s.metrics.RecordOperation(op.Kind.String(), err)
			return err
		})
	}
	err := g.Wait()
	report.Operations = len(ops)
	report.Failures = g.Failures()
	return err
}

func (s *Service) execute(ctx context.Context, op reconcile.Operation) error {
	switch op.Kind {
	case reconcile.Upload:
		content, err := op.Dir.ReadContent(op.Filename)
		if err != nil {
			return err
		}
		if digest.Sum(content) != op.Hash {
			return fmt.Errorf("'%s' changed since it was indexed", op.Dir.Path(op.Filename))
		}
		_, err = s.transport.UploadContent(ctx, op.CollectionRef, content, op.Filename, op.Hash)
		return err
	case reconcile.Flag:
		return s.transport.SetMarker(ctx, op.Ref, op.Marker)
	default:
		return fmt.Errorf("unknown operation %s", op.Kind)
	}
}
