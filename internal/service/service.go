package service

import (
	"context"
	"fmt"

	"github.com/torfstack/smog/internal/auth"
	"github.com/torfstack/smog/internal/bind"
	"github.com/torfstack/smog/internal/config"
	"github.com/torfstack/smog/internal/db"
	"github.com/torfstack/smog/internal/metrics"
	"github.com/torfstack/smog/internal/remote"
	"github.com/torfstack/smog/internal/remote/drive"
	"github.com/torfstack/smog/internal/remote/smugmug"
	"golang.org/x/sync/semaphore"
)

type Service struct {
	transport remote.Transport
	store     remote.SnapshotStore
	cfg       config.Config
	binder    *bind.Binder
	limiter   *semaphore.Weighted
	metrics   *metrics.Metrics
}

// New builds a service on top of an existing transport. Every task group the
// service starts shares one limiter of cfg.Concurrency units.
func New(t remote.Transport, store remote.SnapshotStore, cfg config.Config) *Service {
	return &Service{
		transport: t,
		store:     store,
		cfg:       cfg,
		binder:    bind.New(t),
		limiter:   semaphore.NewWeighted(int64(max(cfg.Concurrency, 1))),
		metrics:   metrics.New(),
	}
}

// NewService connects to the backend named by cfg.Backend, authenticating
// with credentials from the environment.
func NewService(ctx context.Context, cfg config.Config, d *db.Database) (*Service, error) {
	creds, err := config.LoadCredentials(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("could not load credentials: %w", err)
	}

	var t remote.Transport
	switch cfg.Backend {
	case config.BackendSmugMug:
		t = smugmug.New(auth.SmugMugClient(ctx, creds), smugmug.Options{
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxInFlight:       cfg.Concurrency,
			UploadKeyword:     cfg.UploadKeyword,
		})
	case config.BackendDrive:
		drv, err := auth.DriveService(ctx, creds.GoogleCredentialsFile, d.Queries())
		if err != nil {
			return nil, fmt.Errorf("could not get drive service: %w", err)
		}
		t = drive.New(drv, drive.Options{
			RequestsPerSecond: cfg.RequestsPerSecond,
			UploadKeyword:     cfg.UploadKeyword,
		})
	default:
		return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
	}
	return New(t, d.Queries(), cfg), nil
}

// WriteMetrics writes the metrics of every run so far to the configured
// textfile. It does nothing when no metrics file is configured.
func (s *Service) WriteMetrics() error {
	if s.cfg.MetricsFile == "" {
		return nil
	}
	return s.metrics.WriteTextfile(s.cfg.MetricsFile)
}
