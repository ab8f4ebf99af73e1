package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/MichaelRobotics/Hustler-sub011/internal/store"
)

const (
	// DefaultIdleThreshold is how long an active conversation may go without
	// an update before the sweeper marks it abandoned.
	DefaultIdleThreshold = 24 * time.Hour
	// DefaultSweepSchedule runs the sweep at the top of every hour.
	DefaultSweepSchedule = "0 * * * *"
)

// ConversationCloser marks a conversation abandoned. The funnel engine
// satisfies this.
type ConversationCloser interface {
	Abandon(ctx context.Context, conversationID, experienceID string) error
}

// Sweeper periodically marks idle active conversations as abandoned.
// Conversations have no internal timeout; abandonment is owned by this
// external job.
type Sweeper struct {
	st            store.Store
	closer        ConversationCloser
	idleThreshold time.Duration
}

// NewSweeper creates a sweeper over the given store and closer.
func NewSweeper(st store.Store, closer ConversationCloser, idleThreshold time.Duration) *Sweeper {
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}
	return &Sweeper{st: st, closer: closer, idleThreshold: idleThreshold}
}

// Register schedules the sweep on the given scheduler.
func (s *Sweeper) Register(sched *Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	return sched.AddJob(expr, func() {
		if err := s.Sweep(context.Background()); err != nil {
			slog.Error("Sweeper.Sweep failed", "error", err)
		}
	})
}

// Sweep marks every active conversation idle past the threshold as abandoned.
// Individual failures are logged and do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.idleThreshold)
	idle, err := s.st.ListIdleActiveConversations(cutoff)
	if err != nil {
		return err
	}
	if len(idle) == 0 {
		slog.Debug("Sweeper.Sweep: no idle conversations")
		return nil
	}

	slog.Info("Sweeper.Sweep: marking idle conversations abandoned", "count", len(idle), "cutoff", cutoff)
	for _, conv := range idle {
		if err := s.closer.Abandon(ctx, conv.ID, conv.ExperienceID); err != nil {
			slog.Error("Sweeper.Sweep: failed to abandon conversation", "error", err, "conversationID", conv.ID)
			continue
		}
		slog.Debug("Sweeper.Sweep: conversation abandoned", "conversationID", conv.ID)
	}
	return nil
}
