package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-coupon-issuance/internal/aws"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
)

// terminalGuard lets a put through unless the stored item is already terminal.
const terminalGuard = "attribute_not_exists(request_id) OR NOT (#s IN (:completed, :failed))"

// item is the DynamoDB shape of a request state. expires_at is the table's
// TTL attribute.
type item struct {
	RequestID    string           `dynamodbav:"request_id"`
	Status       Status           `dynamodbav:"status"`
	RetryCount   int              `dynamodbav:"retry_count"`
	ErrorMessage string           `dynamodbav:"error_message,omitempty"`
	Result       *issuance.Result `dynamodbav:"result,omitempty"`
	UpdatedAt    time.Time        `dynamodbav:"updated_at"`
	ExpiresAt    int64            `dynamodbav:"expires_at"`
}

// DynamoStore keeps one item per request in a DynamoDB table keyed by
// request_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	ttls      TTLs
	nowFunc   func() time.Time
}

// NewDynamoStore returns a DynamoDB backed Store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, ttls TTLs) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttls:      ttls,
		nowFunc:   time.Now,
	}
}

// Get reads the item with a consistent read. DynamoDB removes expired items
// lazily, so anything past expires_at is reported as NOT_FOUND.
func (s *DynamoStore) Get(ctx context.Context, requestID string) (*RequestState, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"request_id": &types.AttributeValueMemberS{Value: requestID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return NotFound(requestID), nil
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if it.ExpiresAt > 0 && it.ExpiresAt <= s.nowFunc().Unix() {
		return NotFound(requestID), nil
	}
	return &RequestState{
		RequestID:    it.RequestID,
		Status:       it.Status,
		RetryCount:   it.RetryCount,
		ErrorMessage: it.ErrorMessage,
		Result:       it.Result,
		UpdatedAt:    it.UpdatedAt,
	}, nil
}

// Save puts the item unless the stored one is COMPLETED or FAILED.
func (s *DynamoStore) Save(ctx context.Context, st RequestState) error {
	now := s.nowFunc()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = now.UTC()
	}
	it := item{
		RequestID:    st.RequestID,
		Status:       st.Status,
		RetryCount:   st.RetryCount,
		ErrorMessage: st.ErrorMessage,
		Result:       st.Result,
		UpdatedAt:    st.UpdatedAt,
		ExpiresAt:    now.Add(s.ttls.forStatus(st.Status)).Unix(),
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: awsString(terminalGuard),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
			":failed":    &types.AttributeValueMemberS{Value: string(StatusFailed)},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return ErrAlreadyTerminal
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Delete removes the item.
func (s *DynamoStore) Delete(ctx context.Context, requestID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"request_id": &types.AttributeValueMemberS{Value: requestID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
