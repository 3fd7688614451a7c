package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// Collection names; the unique (user_id, coupon_id) index on claims is
// created by database.EnsureMongoIndexes.
const (
	CouponsCollection = "coupons"
	ClaimsCollection  = "claims"
)

// compensationTimeout bounds the clean-up after a failed claim insert.
const compensationTimeout = 5 * time.Second

// MongoRepository stores coupons and claims in MongoDB without multi-document
// transactions. Stock is taken first with a guarded $inc, then the claim is
// inserted under the unique (user_id, coupon_id) index. A failed insert puts
// the unit back unless the claim turns out to have landed.
type MongoRepository struct {
	coupons *mongo.Collection
	claims  *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		coupons: db.Collection(CouponsCollection),
		claims:  db.Collection(ClaimsCollection),
	}
}

func (r *MongoRepository) Create(ctx context.Context, c *Coupon) error {
	if _, err := r.coupons.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCouponExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Coupon, error) {
	var c Coupon
	err := r.coupons.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, issuance.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return &c, nil
}

func (r *MongoRepository) Claim(ctx context.Context, claim Claim) (*Issued, error) {
	c, err := r.Get(ctx, claim.CouponID)
	if err != nil {
		return nil, err
	}
	existing, err := r.findClaim(ctx, bson.M{"coupon_id": claim.CouponID, "user_id": claim.UserID})
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.madeBy(claim) {
		return &Issued{Coupon: c, Claim: *existing, Replayed: true}, nil
	}
	if !c.Active(claim.IssuedAt) {
		return nil, issuance.ErrCouponNotActive
	}
	if existing != nil {
		return nil, issuance.ErrAlreadyIssued
	}

	var updated Coupon
	err = r.coupons.FindOneAndUpdate(
		ctx,
		bson.M{
			"_id":                claim.CouponID,
			"remaining_quantity": bson.M{"$gt": 0},
		},
		bson.M{"$inc": bson.M{"remaining_quantity": -1}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetUpsert(false),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, issuance.ErrStockExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	if _, err := r.claims.InsertOne(ctx, claim); err != nil {
		return r.settleFailedInsert(ctx, claim, &updated, err)
	}
	return &Issued{Coupon: &updated, Claim: claim}, nil
}

// settleFailedInsert resolves a claim insert that failed after the unit was
// taken. It runs detached from ctx, whose deadline may be what failed the
// insert. While the outcome stays unknown the unit stays taken.
func (r *MongoRepository) settleFailedInsert(ctx context.Context, claim Claim, c *Coupon, insertErr error) (*Issued, error) {
	ctx, cancel := detach(ctx)
	defer cancel()

	dup := mongo.IsDuplicateKeyError(insertErr)
	if !dup {
		landed, err := r.findClaim(ctx, bson.M{"_id": claim.ID})
		if err != nil {
			return nil, fmt.Errorf("insert claim: %v; check claim: %w", insertErr, err)
		}
		if landed != nil {
			return &Issued{Coupon: c, Claim: *landed}, nil
		}
	}

	if _, err := r.coupons.UpdateOne(ctx,
		bson.M{"_id": claim.CouponID},
		bson.M{"$inc": bson.M{"remaining_quantity": 1}},
	); err != nil {
		return nil, fmt.Errorf("insert claim: %v; restock: %w", insertErr, err)
	}
	c.RemainingQuantity++
	if !dup {
		return nil, fmt.Errorf("insert claim: %w", insertErr)
	}

	// lost a race with a concurrent claim by the same user
	existing, err := r.findClaim(ctx, bson.M{"coupon_id": claim.CouponID, "user_id": claim.UserID})
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.madeBy(claim) {
		return &Issued{Coupon: c, Claim: *existing, Replayed: true}, nil
	}
	return nil, issuance.ErrAlreadyIssued
}

func (r *MongoRepository) findClaim(ctx context.Context, filter bson.M) (*Claim, error) {
	var cl Claim
	err := r.claims.FindOne(ctx, filter).Decode(&cl)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find claim: %w", err)
	}
	return &cl, nil
}

// detach keeps ctx's values but not its cancellation or deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}
