// Package lifecycle drives a match from pending through negotiation to
// completion: acceptance bookkeeping, the two timeout sweeps, and the daily
// auto-completer that settles finished errands.
package lifecycle

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/metrics"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// timeoutPenaltyPoints is applied to the side that never answered inside the
// acceptance window.
const timeoutPenaltyPoints = -5

// Notification message keys consumed by the client apps.
const (
	msgTimedOutPenalty   = "match_timed_out_penalty"
	msgCancelledNoAction = "match_cancelled_no_action"
)

// Cancellation reasons stored on swept matches.
const (
	reasonAcceptanceExpired = "Acceptance window expired"
	reasonInitialExpired    = "Initial pending window expired"
)

// CleanerStore is the persistence surface of the timeout sweeps.
type CleanerStore interface {
	TimedOutAcceptance(ctx context.Context, window time.Duration) ([]models.Match, error)
	TimedOutInitialPending(ctx context.Context, window time.Duration) ([]models.Match, error)
	CancelPending(ctx context.Context, id primitive.ObjectID, reason string, penaltyTo *primitive.ObjectID) (bool, error)
	IncPoints(ctx context.Context, userID primitive.ObjectID, delta int) error
}

// Broadcaster pushes keyed notifications to both parties of a match.
type Broadcaster interface {
	Broadcast(ctx context.Context, recipients []primitive.ObjectID, messageKey string, data map[string]interface{})
}

// Cleaner cancels stale pending matches. Both sweeps rely on the conditional
// pending-only cancel, so concurrent runs cannot double-penalize.
type Cleaner struct {
	store    CleanerStore
	notifier Broadcaster
	window   time.Duration
	metrics  *metrics.Set
	logger   *log.Logger
}

// NewCleaner builds the sweep runner. metrics may be nil.
func NewCleaner(st CleanerStore, notifier Broadcaster, window time.Duration, m *metrics.Set) *Cleaner {
	return &Cleaner{
		store:    st,
		notifier: notifier,
		window:   window,
		metrics:  m,
		logger:   log.New(log.Writer(), "[CLEANUP] ", log.LstdFlags),
	}
}

func (c *Cleaner) countCancelled(reason string) {
	if c.metrics != nil {
		c.metrics.MatchesCancelled.WithLabelValues(reason).Inc()
	}
}

// Run executes both timeout sweeps and returns how many matches were
// cancelled. Per-match failures are logged and skipped; the match stays
// eligible for the next run.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	cancelled, err := c.sweepAcceptanceWindow(ctx)
	if err != nil {
		return cancelled, err
	}
	n, err := c.sweepInitialPending(ctx)
	return cancelled + n, err
}

// sweepAcceptanceWindow cancels matches where one side accepted and the
// other let the window lapse. The silent side takes the penalty.
func (c *Cleaner) sweepAcceptanceWindow(ctx context.Context) (int, error) {
	matches, err := c.store.TimedOutAcceptance(ctx, c.window)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, m := range matches {
		penalized := m.Owner
		if !m.RequesterAcceptedSuggestedPrice {
			penalized = m.Requester
		}

		done, err := c.store.CancelPending(ctx, m.ID, reasonAcceptanceExpired, &penalized)
		if err != nil {
			c.logger.Printf("failed to cancel match %s: %v", m.ID.Hex(), err)
			continue
		}
		if !done {
			continue // a concurrent handler got there first
		}
		cancelled++
		c.countCancelled("acceptance_window")

		if err := c.store.IncPoints(ctx, penalized, timeoutPenaltyPoints); err != nil {
			c.logger.Printf("failed to penalize user %s for match %s: %v", penalized.Hex(), m.ID.Hex(), err)
		}
		if c.notifier != nil {
			c.notifier.Broadcast(ctx, []primitive.ObjectID{m.Requester, m.Owner}, msgTimedOutPenalty, map[string]interface{}{
				"matchId":         m.ID.Hex(),
				"penalizedUserId": penalized.Hex(),
			})
		}
		c.logger.Printf("cancelled match %s (acceptance window), penalized %s", m.ID.Hex(), penalized.Hex())
	}
	return cancelled, nil
}

// sweepInitialPending cancels matches nobody acted on at all. No penalty.
func (c *Cleaner) sweepInitialPending(ctx context.Context) (int, error) {
	matches, err := c.store.TimedOutInitialPending(ctx, c.window)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, m := range matches {
		done, err := c.store.CancelPending(ctx, m.ID, reasonInitialExpired, nil)
		if err != nil {
			c.logger.Printf("failed to cancel match %s: %v", m.ID.Hex(), err)
			continue
		}
		if !done {
			continue
		}
		cancelled++
		c.countCancelled("initial_pending")

		if c.notifier != nil {
			c.notifier.Broadcast(ctx, []primitive.ObjectID{m.Requester, m.Owner}, msgCancelledNoAction, map[string]interface{}{
				"matchId": m.ID.Hex(),
			})
		}
		c.logger.Printf("cancelled match %s (initial pending window)", m.ID.Hex())
	}
	return cancelled, nil
}
