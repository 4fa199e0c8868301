package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/safego"
)

// StartHeartbeat launches a panic-safe ticker task that calls l.Touch(sessionID)
// every heartbeatSeconds for the lifetime of ctx, per spec §4.1 ("A heartbeat
// task runs every SESSION_LOCK_HEARTBEAT_S seconds for the duration of the
// request"). The ticker loop shape is grounded on the teacher's
// domain/service/heartbeat.go HeartbeatService.loop (ticker + ctx.Done
// select), generalized from a file-driven command poller to a lease
// renewal tick.
func StartHeartbeat(ctx context.Context, logger *zap.Logger, l *Limiter, sessionID string) {
	safego.GoCtx(ctx, logger, "session-heartbeat", func(ctx context.Context) {
		ticker := time.NewTicker(l.heartbeatSeconds)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Touch(sessionID)
			}
		}
	})
}
