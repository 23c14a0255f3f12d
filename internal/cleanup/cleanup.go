// Package cleanup implements the background cleanup scheduler (spec.md §5,
// §6 cleanup_interval_hours / retention_days_*): a process-wide singleton
// that periodically sweeps expired sessions, expired user contexts, old
// turns, and stale ambiguity/transfer/confirmation rows, in bounded batches
// with brief yields so it never starves the turn-handling workers.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/dialogued/store"
)

const batchSize = 500

// Scheduler runs cleanup tasks sequentially on a fixed interval until
// stopped.
type Scheduler struct {
	db             *store.Store
	interval       time.Duration
	retentionTurns time.Duration
	retentionAudit time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler. interval is the period between sweeps;
// retentionTurns/retentionAudit bound how far back conversation and
// audit-adjacent rows (ambiguities, transfers, confirmations, user
// contexts) are kept.
func New(db *store.Store, interval, retentionTurns, retentionAudit time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		db:             db,
		interval:       interval,
		retentionTurns: retentionTurns,
		retentionAudit: retentionAudit,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine. Stop blocks until
// the loop exits.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop signals the sweep loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// sweep runs every cleanup task under an errgroup limited to one goroutine,
// so the tasks run one after another in the listed order; a failing task is
// logged and does not stop the ones after it. Each task drains its own rows
// in bounded batches with a yield between them, so no single table
// monopolizes the store's connection pool.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now()
	turnCutoff := now.Add(-s.retentionTurns).Unix()
	auditCutoff := now.Add(-s.retentionAudit).Unix()

	tasks := []struct {
		name string
		run  func(context.Context, int64, int) (int, error)
		cut  int64
	}{
		{"expired_sessions", s.db.DeleteExpiredSessions, now.Unix()},
		{"old_turns", s.db.DeleteOldTurns, turnCutoff},
		{"old_ambiguities", s.db.DeleteOldAmbiguities, auditCutoff},
		{"old_transfers", s.db.DeleteOldTransfers, auditCutoff},
		{"expired_user_contexts", s.db.DeleteExpiredUserContexts, now.Unix()},
		{"expired_confirmations", s.db.DeleteExpiredConfirmations, now.Unix()},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			total := 0
			for {
				n, err := t.run(gctx, t.cut, batchSize)
				if err != nil {
					slog.Error("cleanup task failed", "task", t.name, "error", err)
					return nil
				}
				total += n
				if n < batchSize {
					break
				}
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(10 * time.Millisecond):
				}
			}
			if total > 0 {
				slog.Info("cleanup task completed", "task", t.name, "deleted", total)
			}
			return nil
		})
	}
	_ = g.Wait()
}
