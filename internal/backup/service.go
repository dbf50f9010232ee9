package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = time.Hour

// Service creates, prunes and restores backups of one database.
type Service struct {
	dbPath    string
	dir       string
	interval  time.Duration
	retention RetentionPolicy
	verify    bool
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	last    time.Time
}

// NewService validates cfg and creates the backup directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: failed to create %s: %w", cfg.Dir, err)
	}

	return &Service{
		dbPath:    cfg.DBPath,
		dir:       cfg.Dir,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		verify:    !cfg.SkipVerify,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Run takes a backup every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("backup: service is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("backup schedule started", "interval", s.interval, "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := s.BackupNow(ctx)
			if err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
				continue
			}
			s.logger.Info("scheduled backup completed",
				"path", res.Path, "size", res.Size, "duration", res.Duration, "pruned", len(res.Pruned))
		}
	}
}

// BackupNow snapshots the database, verifies the copy and applies retention.
// Retention failures are logged, not returned.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.now()
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	path := filepath.Join(s.dir, fileName(start))
	if err := snapshot(ctx, s.dbPath, path); err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat %s: %w", path, err)
	}

	res := &Result{Info: Info{Path: path, Timestamp: start.UTC(), Size: fi.Size()}}
	if s.verify {
		if err := verify(ctx, path); err != nil {
			return res, fmt.Errorf("backup: verification failed: %w", err)
		}
		res.Verified = true
	}
	res.Duration = s.now().Sub(start)

	s.mu.Lock()
	s.last = start
	s.mu.Unlock()

	res.Pruned, err = prune(s.dir, s.retention, s.now())
	if err != nil {
		s.logger.Warn("failed to apply backup retention", "error", err)
	}
	return res, nil
}

// List returns the available backups, newest first.
func (s *Service) List() ([]Info, error) {
	return list(s.dir)
}

// LastBackup returns when the last successful backup in this process
// started, or the zero time.
func (s *Service) LastBackup() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Restore replaces the database with backupPath. Nothing may have the
// database open. On failure the previous database is put back.
func (s *Service) Restore(ctx context.Context, backupPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return errors.New("backup: cannot restore while the backup schedule is running")
	}

	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup: backup not found: %w", err)
	}

	rollback := s.dbPath + ".pre-restore"
	haveRollback := false
	if _, err := os.Stat(s.dbPath); err == nil {
		_ = os.Remove(rollback)
		if err := snapshot(ctx, s.dbPath, rollback); err != nil {
			return fmt.Errorf("backup: failed to save current database: %w", err)
		}
		haveRollback = true
		defer func() { _ = os.Remove(rollback) }()
	}

	if err := copyVerified(ctx, backupPath, s.dbPath); err != nil {
		if !haveRollback {
			return err
		}
		if rbErr := copyVerified(ctx, rollback, s.dbPath); rbErr != nil {
			return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
		}
		return fmt.Errorf("backup: restore failed, rolled back: %w", err)
	}

	s.logger.Info("database restored", "from", backupPath)
	return nil
}
