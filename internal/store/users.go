package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// IncPoints adjusts a user's points by delta (negative for penalties).
func (s *Store) IncPoints(ctx context.Context, userID primitive.ObjectID, delta int) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$inc": bson.M{"points": delta},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("adjust points for user %s: %w", userID.Hex(), err)
	}
	return nil
}

// AwardCreditCapped grants one credit unless the user already sits at the
// cap. The filter enforces the cap, no read needed.
func (s *Store) AwardCreditCapped(ctx context.Context, userID primitive.ObjectID) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "credits": bson.M{"$lt": models.MaxCredits}},
		bson.M{
			"$inc": bson.M{"credits": 1},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("award credit to user %s: %w", userID.Hex(), err)
	}
	return nil
}

// CreditWallet increases a wallet balance and appends the transaction record
// in one update. A missing wallet is an error: completion accounting must
// never silently drop money.
func (s *Store) CreditWallet(ctx context.Context, userID primitive.ObjectID, amount float64, txn models.WalletTransaction) error {
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	res, err := s.wallets.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$inc":  bson.M{"balance": amount},
			"$push": bson.M{"transactions": txn},
			"$set":  bson.M{"updatedAt": now},
		},
	)
	if err != nil {
		return fmt.Errorf("credit wallet of user %s: %w", userID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("credit wallet of user %s: %w", userID.Hex(), ErrNotFound)
	}
	return nil
}
