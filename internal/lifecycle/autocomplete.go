package lifecycle

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/store"
)

// AutoCompleteStore is the persistence surface of the completion settlement.
type AutoCompleteStore interface {
	ErrandingPastCompletion(ctx context.Context, cutoff time.Time) ([]store.ErrandingMatchRow, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	CreditWallet(ctx context.Context, userID primitive.ObjectID, amount float64, txn models.WalletTransaction) error
	IncPoints(ctx context.Context, userID primitive.ObjectID, delta int) error
	AwardCreditCapped(ctx context.Context, userID primitive.ObjectID) error
	MarkCompleted(ctx context.Context, id primitive.ObjectID) (bool, error)
}

// AutoCompleter settles erranding matches whose errand finished more than a
// window ago: wallet credit, points, capped credit award and status flip, all
// in one transaction per match. Re-runs are no-ops because the status flip is
// conditional on erranding.
type AutoCompleter struct {
	store  AutoCompleteStore
	window time.Duration
	logger *log.Logger
	now    func() time.Time
}

func NewAutoCompleter(st AutoCompleteStore, window time.Duration) *AutoCompleter {
	return &AutoCompleter{
		store:  st,
		window: window,
		logger: log.New(log.Writer(), "[AUTO-COMPLETE] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Run settles all eligible matches and returns how many completed. A match
// that fails validation or its transaction is logged and left for the next
// run.
func (a *AutoCompleter) Run(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.window)
	rows, err := a.store.ErrandingPastCompletion(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	a.logger.Printf("%d erranding matches past completion threshold", len(rows))

	completed := 0
	for _, row := range rows {
		if err := a.completeOne(ctx, row); err != nil {
			a.logger.Printf("auto-complete failed for match %s: %v", row.ID.Hex(), err)
			continue
		}
		completed++
	}
	return completed, nil
}

func (a *AutoCompleter) completeOne(ctx context.Context, row store.ErrandingMatchRow) error {
	if row.Owner.IsZero() {
		return fmt.Errorf("match has no owner, cannot settle")
	}
	if row.FinalAmount <= 0 {
		return fmt.Errorf("invalid finalAmount %v", row.FinalAmount)
	}

	matchID := row.ID
	owner := row.Owner
	amount := row.FinalAmount

	err := a.store.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := a.store.CreditWallet(txCtx, owner, amount, models.WalletTransaction{
			Type:           models.TransactionCredit,
			Amount:         amount,
			Description:    "Errand completion payment",
			ReferenceID:    &matchID,
			ReferenceModel: "Match",
			Status:         "completed",
			ProcessedBy:    "System",
		}); err != nil {
			return err
		}
		if err := a.store.IncPoints(txCtx, owner, int(math.Floor(amount))); err != nil {
			return err
		}
		if err := a.store.AwardCreditCapped(txCtx, owner); err != nil {
			return err
		}
		done, err := a.store.MarkCompleted(txCtx, matchID)
		if err != nil {
			return err
		}
		if !done {
			// Another run settled it between aggregation and now; abort so
			// the wallet credit rolls back.
			return fmt.Errorf("match already completed")
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Printf("completed match %s: credited %.2f to %s", matchID.Hex(), amount, owner.Hex())
	return nil
}
