package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	emailrepo "noodle-backend/internal/email/repository"
	emailusecase "noodle-backend/internal/email/usecase"

	"go.uber.org/zap"
)

// Ingester stores a raw email before returning and queues its extraction,
// blocking while the pipeline is saturated.
type Ingester interface {
	Ingest(ctx context.Context, raw *emaildomain.RawEmail) (emailusecase.Outcome, error)
}

type Config struct {
	Folders []string
	// InitialDays bounds the first scan of a folder.
	InitialDays int
	Interval    time.Duration
	BatchSize   int
	// MaxBatches caps the pages read per folder in one cycle.
	MaxBatches int
}

// FolderReport summarizes one folder of a cycle.
type FolderReport struct {
	Folder     string `json:"folder"`
	Fetched    int    `json:"fetched"`
	Stored     int    `json:"stored"`
	Checkpoint string `json:"checkpoint"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes one sync cycle.
type Report struct {
	Connector  string         `json:"connector"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Folders    []FolderReport `json:"folders"`
}

// Syncer pulls folder deltas from a connector into the pipeline and keeps a
// checkpoint per folder. A checkpoint only moves once every email of the
// batch it covers is in the store.
type Syncer struct {
	connector   Connector
	checkpoints emailrepo.CheckpointRepository
	ingester    Ingester
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time

	cycleMu sync.Mutex
	mu      sync.Mutex
	last    *Report

	trigger  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSyncer(connector Connector, checkpoints emailrepo.CheckpointRepository, ingester Ingester, cfg Config, logger *zap.Logger) *Syncer {
	if cfg.InitialDays <= 0 {
		cfg.InitialDays = 90
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		connector:   connector,
		checkpoints: checkpoints,
		ingester:    ingester,
		cfg:         cfg,
		logger:      logger.Named("sync").With(zap.String("connector", connector.Name())),
		now:         time.Now,
		trigger:     make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// SyncOnce runs one cycle over every folder. Folder failures do not stop the
// other folders; they are joined into the returned error.
func (s *Syncer) SyncOnce(ctx context.Context) (*Report, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := &Report{Connector: s.connector.Name(), StartedAt: s.now().UTC()}
	var errs []error
	for _, folder := range s.cfg.Folders {
		fr, err := s.syncFolder(ctx, folder)
		if err != nil {
			fr.Error = err.Error()
			errs = append(errs, fmt.Errorf("folder %s: %w", folder, err))
			s.logger.Warn("Folder sync failed", zap.String("folder", folder), zap.Error(err))
		}
		report.Folders = append(report.Folders, fr)
		if ctx.Err() != nil {
			break
		}
	}
	report.FinishedAt = s.now().UTC()

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, errors.Join(errs...)
}

func (s *Syncer) syncFolder(ctx context.Context, folder string) (FolderReport, error) {
	fr := FolderReport{Folder: folder}
	cp, err := s.checkpoints.Get(ctx, s.connector.Name(), folder)
	if err != nil {
		return fr, err
	}
	fr.Checkpoint = cp
	since := s.now().UTC().AddDate(0, 0, -s.cfg.InitialDays)

	for i := 0; i < s.cfg.MaxBatches; i++ {
		batch, err := s.connector.FetchSince(ctx, folder, cp, since, s.cfg.BatchSize)
		if err != nil {
			return fr, fmt.Errorf("fetch: %w", err)
		}
		fr.Fetched += len(batch.Emails)

		for _, raw := range batch.Emails {
			if raw.Folder == "" {
				raw.Folder = folder
			}
			if _, err := s.ingester.Ingest(ctx, raw); err != nil {
				return fr, fmt.Errorf("ingest %s: %w", raw.EntryID, err)
			}
			fr.Stored++
		}

		if batch.Checkpoint != "" && batch.Checkpoint != cp {
			if err := s.checkpoints.Save(ctx, s.connector.Name(), folder, batch.Checkpoint); err != nil {
				return fr, fmt.Errorf("save checkpoint: %w", err)
			}
			cp = batch.Checkpoint
			fr.Checkpoint = cp
		}
		if !batch.More || len(batch.Emails) == 0 {
			break
		}
	}

	if fr.Fetched > 0 {
		s.logger.Info("Folder synced",
			zap.String("folder", folder),
			zap.Int("fetched", fr.Fetched),
			zap.String("checkpoint", fr.Checkpoint),
		)
	}
	return fr, nil
}

// LastReport returns the report of the most recent cycle, or nil.
func (s *Syncer) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// TriggerNow asks the loop for an immediate cycle. Requests made while one
// is pending collapse into it.
func (s *Syncer) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs a cycle immediately and then every interval or on TriggerNow.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting sync loop",
		zap.Strings("folders", s.cfg.Folders),
		zap.Duration("interval", s.cfg.Interval),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.cycle(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.cycle(ctx)
			case <-s.trigger:
				s.cycle(ctx)
			case <-ctx.Done():
				s.logger.Info("Sync loop stopped")
				return
			case <-s.stopChan:
				s.logger.Info("Sync loop stopped")
				return
			}
		}
	}()
}

func (s *Syncer) cycle(ctx context.Context) {
	if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Sync cycle finished with errors", zap.Error(err))
	}
}

// Stop ends the loop and waits for the running cycle.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
