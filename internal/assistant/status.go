// ABOUTME: Periodic maintenance of assistant registration online status
// ABOUTME: Flips registrations offline once their heartbeat window lapses

package assistant

import (
	"context"
	"log/slog"
	"time"
)

// RegistrationExpirer marks stale registrations offline.
type RegistrationExpirer interface {
	ExpireAssistantRegistrations(ctx context.Context, now time.Time) (int, error)
}

// StatusChecker periodically expires assistant registrations whose online
// window has lapsed. Assistants stay online by re-registering before the
// window ends.
type StatusChecker struct {
	store    RegistrationExpirer
	interval time.Duration
	logger   *slog.Logger
}

// NewStatusChecker creates a StatusChecker that runs every interval.
func NewStatusChecker(store RegistrationExpirer, interval time.Duration) *StatusChecker {
	return &StatusChecker{
		store:    store,
		interval: interval,
		logger:   slog.Default().With("component", "status-checker"),
	}
}

// Run loops until the context is cancelled. Intended to be started under the
// dispatch supervisor so shutdown stops it with everything else.
func (sc *StatusChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := sc.store.ExpireAssistantRegistrations(ctx, time.Now())
			if err != nil {
				sc.logger.Error("expiring assistant registrations", "error", err)
				continue
			}
			if count > 0 {
				sc.logger.Info("assistants went offline", "count", count)
			}
		}
	}
}
