package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyTableMock is a very small in-memory mock for PutItem/GetItem/DeleteItem.
// It evaluates only the two conditions DynamoRegistry sends.
type keyTableMock struct {
	mu       sync.Mutex
	table    map[string]map[string]types.AttributeValue
	putCalls int
	delCalls int
}

func newKeyTableMock() *keyTableMock {
	return &keyTableMock{table: map[string]map[string]types.AttributeValue{}}
}

func (m *keyTableMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	k, err := stringAttr(params.Item, "idempotency_key")
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == reserveCondition {
		if existing, ok := m.table[k]; ok {
			now, _ := strconv.ParseInt(params.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
			exp, _ := strconv.ParseInt(existing["expires_at"].(*types.AttributeValueMemberN).Value, 10, 64)
			if exp > now {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *keyTableMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := stringAttr(params.Key, "idempotency_key")
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *keyTableMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delCalls++
	k, err := stringAttr(params.Key, "idempotency_key")
	if err != nil {
		return nil, err
	}
	existing, ok := m.table[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if rid, ok := params.ExpressionAttributeValues[":rid"].(*types.AttributeValueMemberS); ok {
		owner, _ := stringAttr(existing, "request_id")
		if owner != rid.Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing " + name)
	}
	return v.Value, nil
}
