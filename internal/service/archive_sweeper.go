package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type unfinishedResumer interface {
	ResumeUnfinished(ctx context.Context) (int, error)
}

// ArchiveSweeper periodically finishes interrupted archival jobs.
type ArchiveSweeper struct {
	archives unfinishedResumer
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

// NewArchiveSweeper builds a sweeper for a 5 or 6 field cron schedule.
func NewArchiveSweeper(archives unfinishedResumer, schedule string, logger *zap.Logger) *ArchiveSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = "*/15 * * * *"
	}
	return &ArchiveSweeper{archives: archives, schedule: schedule, timeout: 5 * time.Minute, logger: logger}
}

// Start registers the sweep and starts the scheduler.
func (s *ArchiveSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	schedule := s.schedule
	if len(strings.Fields(schedule)) == 5 {
		schedule = "0 " + schedule
	}
	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("archive sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *ArchiveSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("archive sweeper stopped")
}

// Sweep runs one resume pass.
func (s *ArchiveSweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	done, err := s.archives.ResumeUnfinished(ctx)
	if err != nil {
		s.logger.Error("archive sweep failed", zap.Error(err))
		return
	}
	if done > 0 {
		s.logger.Info("archive sweep resumed jobs", zap.Int("completed", done), zap.Duration("took", time.Since(start)))
	}
}
