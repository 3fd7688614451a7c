package coupons

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a simple mock that supports PutItem, GetItem, DeleteItem and
// TransactWriteItems. It stores items per table: table -> pk value -> item.
// Only the expressions DynamoRepository sends are understood.
type mockDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	failWith error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

// primaryKey finds coupon_id or claim_key.
func primaryKey(item map[string]types.AttributeValue) (string, error) {
	if v, ok := item["claim_key"].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	if v, ok := item["coupon_id"].(*types.AttributeValueMemberS); ok {
		return v.Value, nil
	}
	return "", errors.New("no primary key attribute")
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	pk, err := primaryKey(params.Item)
	if err != nil {
		return nil, err
	}
	t := m.table(*params.TableName)
	if params.ConditionExpression != nil {
		if _, exists := t[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	t[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	pk, err := primaryKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := primaryKey(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table(*params.TableName), pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	// First pass: evaluate every condition
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false
	for i, it := range params.TransactItems {
		reasons[i].Code = awsString("None")
		switch {
		case it.Put != nil:
			pk, err := primaryKey(it.Put.Item)
			if err != nil {
				return nil, err
			}
			if old, exists := m.table(*it.Put.TableName)[pk]; exists {
				reasons[i].Code = awsString("ConditionalCheckFailed")
				if it.Put.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
					reasons[i].Item = old
				}
				canceled = true
			}
		case it.Update != nil:
			pk, err := primaryKey(it.Update.Key)
			if err != nil {
				return nil, err
			}
			item, exists := m.table(*it.Update.TableName)[pk]
			if !exists || remaining(item) <= 0 {
				reasons[i].Code = awsString("ConditionalCheckFailed")
				canceled = true
			}
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// Second pass: apply
	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			pk, _ := primaryKey(it.Put.Item)
			m.table(*it.Put.TableName)[pk] = it.Put.Item
		case it.Update != nil:
			pk, _ := primaryKey(it.Update.Key)
			item := m.table(*it.Update.TableName)[pk]
			item["remaining_quantity"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(remaining(item)-1, 10)}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func remaining(item map[string]types.AttributeValue) int64 {
	n, ok := item["remaining_quantity"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}
