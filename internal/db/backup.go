package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BackupOptions controls the periodic snapshot loop.
type BackupOptions struct {
	Enabled       bool
	Dir           string
	Interval      time.Duration
	RetentionDays int
}

// Backup writes a consistent copy of the live database to dest.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// Uploader copies a finished snapshot off the host.
type Uploader interface {
	Upload(ctx context.Context, localPath string) error
}

// BackupService snapshots the database on a timer and prunes old snapshots.
type BackupService struct {
	db       *DB
	opts     BackupOptions
	uploader Uploader
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBackupService(db *DB, opts BackupOptions, logger *zerolog.Logger) *BackupService {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	return &BackupService{db: db, opts: opts, now: time.Now, logger: logger}
}

// UseUploader ships every snapshot off-site after it is written locally.
func (s *BackupService) UseUploader(u Uploader) {
	s.uploader = u
}

// Start runs one backup immediately and then on every interval until ctx ends.
func (s *BackupService) Start(ctx context.Context) {
	if !s.opts.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	s.logger.Info().Dur("interval", s.opts.Interval).Str("dir", s.opts.Dir).Msg("Backup service started")

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup writes one timestamped snapshot and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	name := fmt.Sprintf("backup_%s.db", s.now().Format("20060102_150405"))
	path := filepath.Join(s.opts.Dir, name)

	s.logger.Info().Str("path", path).Msg("Performing database backup")
	if err := s.db.Backup(ctx, path); err != nil {
		return "", err
	}
	s.logger.Info().Str("path", path).Msg("Backup completed successfully")

	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, path); err != nil {
			// The local snapshot is still valid.
			return path, fmt.Errorf("offsite upload: %w", err)
		}
	}
	return path, nil
}

// CleanupOldBackups removes snapshots older than the retention period.
func (s *BackupService) CleanupOldBackups() int {
	if s.opts.RetentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.opts.RetentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "backup_") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			if err := os.Remove(filepath.Join(s.opts.Dir, file.Name())); err != nil {
				s.logger.Warn().Err(err).Str("file", file.Name()).Msg("Failed to delete old backup")
				continue
			}
			removed++
		}
	}
	return removed
}
