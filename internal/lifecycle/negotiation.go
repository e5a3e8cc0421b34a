package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
	"github.com/orz-miniprogram/NeptuneHub-Public/internal/store"
)

// ErrNotParticipant is returned when a user acts on a match they are not
// part of.
var ErrNotParticipant = errors.New("lifecycle: user is not a party to this match")

// ErrNotPending is returned when the match already left the pending state.
var ErrNotPending = errors.New("lifecycle: match is no longer pending")

// NegotiationStore is the persistence surface of price negotiation.
type NegotiationStore interface {
	FindMatch(ctx context.Context, id primitive.ObjectID) (*models.Match, error)
	UpdatePendingMatch(ctx context.Context, id primitive.ObjectID, u store.NegotiationUpdate) (bool, error)
}

// Negotiator applies acceptance and rejection actions coming in from the
// API layer. All writes are conditional on the match still being pending.
type Negotiator struct {
	store  NegotiationStore
	logger *log.Logger
	now    func() time.Time
}

func NewNegotiator(st NegotiationStore) *Negotiator {
	return &Negotiator{
		store:  st,
		logger: log.New(log.Writer(), "[NEGOTIATION] ", log.LstdFlags),
		now:    time.Now,
	}
}

// AcceptSuggestedPrice records one side's acceptance. The first acceptance
// starts the acceptance window; the second locks the suggested prices in as
// final and moves the match to erranding. Re-accepting is a no-op.
func (n *Negotiator) AcceptSuggestedPrice(ctx context.Context, matchID, userID primitive.ObjectID) error {
	m, err := n.store.FindMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != models.MatchPending {
		return ErrNotPending
	}

	var isRequester bool
	switch userID {
	case m.Requester:
		isRequester = true
	case m.Owner:
		isRequester = false
	default:
		return ErrNotParticipant
	}

	if (isRequester && m.RequesterAcceptedSuggestedPrice) || (!isRequester && m.OwnerAcceptedSuggestedPrice) {
		return nil
	}

	accepted := true
	update := store.NegotiationUpdate{}
	if isRequester {
		update.RequesterAcceptedSuggestedPrice = &accepted
	} else {
		update.OwnerAcceptedSuggestedPrice = &accepted
	}
	if m.FirstAcceptanceTime == nil {
		now := n.now().UTC()
		update.FirstAcceptanceTime = &now
	}

	otherAccepted := m.OwnerAcceptedSuggestedPrice
	if !isRequester {
		otherAccepted = m.RequesterAcceptedSuggestedPrice
	}
	// Guard the write on the other side's flag as read. Two concurrent first
	// acceptances would otherwise both land and leave the match pending with
	// both flags set, and the sweep would cancel a fully-accepted match.
	if isRequester {
		update.ExpectOwnerAccepted = &otherAccepted
	} else {
		update.ExpectRequesterAccepted = &otherAccepted
	}
	if otherAccepted {
		erranding := models.MatchErranding
		update.Status = &erranding
		// Both sides agreed to the suggested prices: lock them in as the
		// final payment and receipt.
		update.Resource1Payment = m.SuggestedPriceRequester
		update.Resource2Receipt = m.SuggestedPriceOwner
	}

	done, err := n.store.UpdatePendingMatch(ctx, matchID, update)
	if err != nil {
		return err
	}
	if !done {
		return ErrNotPending
	}
	if otherAccepted {
		n.logger.Printf("match %s fully accepted, now erranding", matchID.Hex())
	} else {
		n.logger.Printf("match %s: first acceptance by %s", matchID.Hex(), userID.Hex())
	}
	return nil
}

// Reject cancels a pending match on behalf of either party.
func (n *Negotiator) Reject(ctx context.Context, matchID, userID primitive.ObjectID) error {
	m, err := n.store.FindMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != models.MatchPending {
		return ErrNotPending
	}
	if userID != m.Requester && userID != m.Owner {
		return ErrNotParticipant
	}

	cancelled := models.MatchCancelled
	done, err := n.store.UpdatePendingMatch(ctx, matchID, store.NegotiationUpdate{
		Status:             &cancelled,
		RejectedBy:         &userID,
		CancellationReason: fmt.Sprintf("Rejected by user %s", userID.Hex()),
	})
	if err != nil {
		return err
	}
	if !done {
		return ErrNotPending
	}
	n.logger.Printf("match %s rejected by %s", matchID.Hex(), userID.Hex())
	return nil
}
