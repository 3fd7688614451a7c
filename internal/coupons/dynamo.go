package coupons

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-coupon-issuance/internal/aws"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// claimItem is the DynamoDB shape of a claim. claim_key (coupon#user) is the
// claims table PK, so a second claim by the same user fails its condition.
type claimItem struct {
	ClaimKey string `dynamodbav:"claim_key"` // PK
	Claim
}

// DynamoRepository stores coupons and claims in two DynamoDB tables. A claim
// is one TransactWriteItems call: put the claim if absent and decrement stock
// if positive. Either condition failing cancels both writes.
type DynamoRepository struct {
	client       aws.DynamoDBTransactAPI
	couponsTable string
	claimsTable  string
}

// NewDynamoRepository returns a DynamoRepository.
func NewDynamoRepository(client aws.DynamoDBTransactAPI, couponsTable, claimsTable string) *DynamoRepository {
	return &DynamoRepository{
		client:       client,
		couponsTable: couponsTable,
		claimsTable:  claimsTable,
	}
}

func (r *DynamoRepository) Create(ctx context.Context, c *Coupon) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal coupon: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &r.couponsTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(coupon_id)"),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException" {
			return ErrCouponExists
		}
		return fmt.Errorf("put coupon: %w", err)
	}
	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, id string) (*Coupon, error) {
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &r.couponsTable,
		Key:            couponKey(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, issuance.ErrCouponNotFound
	}
	var c Coupon
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal coupon: %w", err)
	}
	return &c, nil
}

func (r *DynamoRepository) Claim(ctx context.Context, claim Claim) (*Issued, error) {
	c, err := r.Get(ctx, claim.CouponID)
	if err != nil {
		return nil, err
	}
	if !c.Active(claim.IssuedAt) {
		if issued, err := r.replay(ctx, c, claim, nil); issued != nil || err != nil {
			return issued, err
		}
		return nil, issuance.ErrCouponNotActive
	}

	claimMap, err := attributevalue.MarshalMap(claimItem{
		ClaimKey: claimKey(claim.CouponID, claim.UserID),
		Claim:    claim,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal claim: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                           &r.claimsTable,
					Item:                                claimMap,
					ConditionExpression:                 awsString("attribute_not_exists(claim_key)"),
					ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
				},
			},
			{
				Update: &types.Update{
					TableName:           &r.couponsTable,
					Key:                 couponKey(claim.CouponID),
					UpdateExpression:    awsString("SET remaining_quantity = remaining_quantity - :one"),
					ConditionExpression: awsString("remaining_quantity > :zero"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one":  &types.AttributeValueMemberN{Value: "1"},
						":zero": &types.AttributeValueMemberN{Value: "0"},
					},
				},
			},
		},
	})
	if err != nil {
		if held, ok := heldClaim(err); ok {
			if issued, rerr := r.replay(ctx, c, claim, held); issued != nil || rerr != nil {
				return issued, rerr
			}
		}
		return nil, claimError(err)
	}
	c.RemainingQuantity--
	return &Issued{Coupon: c, Claim: claim}, nil
}

// replay returns the user's stored claim when claim.RequestID made it, and nil
// otherwise. held is the stored item when the caller already has it.
func (r *DynamoRepository) replay(ctx context.Context, c *Coupon, claim Claim, held map[string]types.AttributeValue) (*Issued, error) {
	if claim.RequestID == "" {
		return nil, nil
	}
	if len(held) == 0 {
		out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
			TableName: &r.claimsTable,
			Key: map[string]types.AttributeValue{
				"claim_key": &types.AttributeValueMemberS{Value: claimKey(claim.CouponID, claim.UserID)},
			},
			ConsistentRead: awsBool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("get claim: %w", err)
		}
		held = out.Item
	}
	if len(held) == 0 {
		return nil, nil
	}
	var existing Claim
	if err := attributevalue.UnmarshalMap(held, &existing); err != nil {
		return nil, fmt.Errorf("unmarshal claim: %w", err)
	}
	if !existing.madeBy(claim) {
		return nil, nil
	}
	return &Issued{Coupon: c, Claim: existing, Replayed: true}, nil
}

// heldClaim reports whether the transaction failed on the claim put and
// returns the claim already stored, when DynamoDB sent it back.
func heldClaim(err error) (map[string]types.AttributeValue, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || len(tce.CancellationReasons) == 0 {
		return nil, false
	}
	first := tce.CancellationReasons[0]
	if reasonCode(first) != "ConditionalCheckFailed" {
		return nil, false
	}
	return first.Item, true
}

// claimError maps cancellation reasons back to business errors. The claim
// condition is checked first so a repeat claim on empty stock reports
// ALREADY_ISSUED. Conflicts with a concurrent transaction stay transient.
func claimError(err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("transact write: %w", err)
	}
	reasons := tce.CancellationReasons
	if len(reasons) > 0 && reasonCode(reasons[0]) == "ConditionalCheckFailed" {
		return issuance.ErrAlreadyIssued
	}
	if len(reasons) > 1 && reasonCode(reasons[1]) == "ConditionalCheckFailed" {
		return issuance.ErrStockExhausted
	}
	return fmt.Errorf("transaction canceled: %w", err)
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func claimKey(couponID, userID string) string {
	return couponID + "#" + userID
}

func couponKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"coupon_id": &types.AttributeValueMemberS{Value: id},
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
