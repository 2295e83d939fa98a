package stripesync

import (
	"context"
	"log"
	"time"
)

// Scheduler runs the engine on fixed intervals: a short-window
// transaction sync once a day and a staleness sweep every few hours.
// Failures are logged and the next tick runs regardless; operational
// cadence substitutes for retry logic.
type Scheduler struct {
	service        *Service
	syncInterval   time.Duration
	repairInterval time.Duration
}

func NewScheduler(service *Service) *Scheduler {
	return &Scheduler{
		service:        service,
		syncInterval:   24 * time.Hour,
		repairInterval: 6 * time.Hour,
	}
}

// WithIntervals overrides the default cadence.
func (s *Scheduler) WithIntervals(sync, repair time.Duration) *Scheduler {
	if sync > 0 {
		s.syncInterval = sync
	}
	if repair > 0 {
		s.repairInterval = repair
	}
	return s
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	syncTicker := time.NewTicker(s.syncInterval)
	defer syncTicker.Stop()
	repairTicker := time.NewTicker(s.repairInterval)
	defer repairTicker.Stop()

	log.Printf("stripesync: scheduler running (sync every %s, repair every %s)", s.syncInterval, s.repairInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("stripesync: scheduler stopped: %v", ctx.Err())
			return
		case <-syncTicker.C:
			log.Printf("stripesync: starting scheduled transaction sync")
			summary, err := s.service.SyncRecentTransactions(ctx, 1, false)
			if err != nil {
				log.Printf("stripesync: scheduled sync failed: %v", err)
				continue
			}
			log.Printf("stripesync: scheduled sync done: %s", summary.Message)
		case <-repairTicker.C:
			log.Printf("stripesync: checking for stale transactions")
			summary, err := s.service.FixStaleTransactions(ctx, defaultStaleHours)
			if err != nil {
				log.Printf("stripesync: scheduled stale check failed: %v", err)
				continue
			}
			log.Printf("stripesync: stale check done: checked=%d updated=%d errors=%d",
				summary.Checked, summary.Updated, summary.Errors)
		}
	}
}
