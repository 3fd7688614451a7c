package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-coupon-issuance/internal/aws"
)

// An expired item may linger until the TTL sweeper removes it, so it does not
// block a new reservation.
const reserveCondition = "attribute_not_exists(idempotency_key) OR expires_at <= :now"

// DynamoRegistry encapsulates idempotency reservations against DynamoDB.
type DynamoRegistry struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewDynamoRegistry returns a configured DynamoRegistry.
// tableName: DynamoDB table keyed by idempotency_key with TTL on expires_at.
func NewDynamoRegistry(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *DynamoRegistry {
	return &DynamoRegistry{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (r *DynamoRegistry) Reserve(ctx context.Context, key, requestID string) (string, bool, error) {
	now := r.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		RequestID:      requestID,
		CreatedAt:      now.UTC(),
		ExpiresAt:      now.Add(r.ttlWindow).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &r.tableName,
		Item:                item,
		ConditionExpression: awsString(reserveCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return requestID, true, nil
	}
	if !conditionFailed(err) {
		return "", false, fmt.Errorf("put item: %w", err)
	}

	existing, err := r.get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if existing == nil {
		return "", false, fmt.Errorf("idempotency key %q released during reservation", key)
	}
	return existing.RequestID, false, nil
}

func (r *DynamoRegistry) Release(ctx context.Context, key, requestID string) error {
	_, err := r.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &r.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: awsString("request_id = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: requestID},
		},
	})
	if err != nil && !conditionFailed(err) {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (r *DynamoRegistry) get(ctx context.Context, key string) (*Record, error) {
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &r.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// detect conditional check failure
func conditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

// Helpers
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
