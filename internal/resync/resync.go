// Package resync schedules periodic full resynchronizations: every channel
// is cleared and refetched from scratch on a cron schedule, which bounds the
// drift a long-running process can accumulate from missed edge cases.
package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"commsync/pkg/config"
	"commsync/pkg/logger"
	"commsync/pkg/syncer"
)

// Start starts the resync scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.ResyncConfig, s *syncer.Syncer) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("resync_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 4 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("resync_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid resync cron expression: %s", cfg.Cron)
	}

	logger.Info("resync_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, s)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cronExpr string, s *syncer.Syncer) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("resync_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("resync_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("resync_scheduler_stopping")
			return
		}

		logger.Info("resync_run_start", "cron", cronExpr)
		s.ResetAll()
		// the regular poll loop refills the cleared channels; nothing to
		// fetch synchronously here
	}
}
