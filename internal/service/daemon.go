package service

import (
	"context"
	"fmt"
	"time"

	"github.com/torfstack/smog/internal/local"
	"github.com/torfstack/smog/internal/logging"
	"golang.org/x/sync/errgroup"
)

const DefaultDebounce = 2 * time.Second

// Watch runs Sync once, then again whenever content files in dirs change
// and no further change arrived for debounce. Failed runs are logged and
// watching continues. Watch returns when ctx is done.
func (s *Service) Watch(ctx context.Context, rootFolder string, dirs []string, debounce time.Duration) error {
	w, err := local.NewWatcher(dirs, s.cfg.IsContentFile)
	if err != nil {
		return fmt.Errorf("watch: could not create watcher: %w", err)
	}
	defer w.Close()

	s.logRun(s.Sync(ctx, rootFolder, dirs))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Run(gctx); err != nil {
			return fmt.Errorf("watch: error while running watcher: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.syncOnChange(gctx, w.Events, debounce, func(ctx context.Context) {
			s.logRun(s.Sync(ctx, rootFolder, dirs))
		})
		return nil
	})
	return g.Wait()
}

func (s *Service) syncOnChange(ctx context.Context, events <-chan local.WatchEvent, debounce time.Duration, run func(context.Context)) {
	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logging.Debugf("Received %s event: %s", event.Op, event.Path)
			timer.Reset(debounce)
		case <-timer.C:
			run(ctx)
		}
	}
}

func (s *Service) logRun(report Report, err error) {
	if werr := s.WriteMetrics(); werr != nil {
		logging.Errorf("Could not write metrics: %s", werr)
	}
	switch {
	case err != nil && report.Failures == 0:
		logging.Errorf("Sync failed: %s", err)
	case report.Errors() > 0:
		logging.Infof("done with %d errors", report.Errors())
	default:
		logging.Infof("done, %d operations", report.Operations)
	}
}
