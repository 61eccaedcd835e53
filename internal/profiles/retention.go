package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	defaultRetentionInterval = time.Hour
	retentionRunTimeout      = time.Minute
)

var errMissingService = errors.New("profiles: service is required")

// RetentionConfig drives the periodic check-in pruning job.
type RetentionConfig struct {
	Service   *Service
	Retention time.Duration
	Interval  time.Duration
	Logger    *zap.Logger
}

// NewRetentionScheduler registers the pruning job on a new scheduler.
// The caller starts it and shuts it down.
func NewRetentionScheduler(cfg RetentionConfig) (gocron.Scheduler, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			runRetention(cfg.Service, cfg.Retention, logger)
		}),
		gocron.WithName("checkin-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return scheduler, nil
}

func runRetention(service *Service, retention time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), retentionRunTimeout)
	defer cancel()
	removed, err := service.PruneCheckins(ctx, retention)
	if err != nil {
		logger.Warn("check-in retention failed", zap.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("check-ins pruned", zap.Int64("removed", removed), zap.Duration("retention", retention))
	}
}
