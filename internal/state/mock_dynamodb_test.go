package state

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// tableMock is a small in-memory stand-in for PutItem/GetItem/DeleteItem. It understands
// only the terminal guard used by DynamoStore.
type tableMock struct {
	mu       sync.Mutex
	table    map[string]map[string]types.AttributeValue
	putCalls int
	getCalls int
	delCalls int
	failWith error
}

func newTableMock() *tableMock {
	return &tableMock{table: map[string]map[string]types.AttributeValue{}}
}

func (m *tableMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	keyAttr, ok := params.Item["request_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == terminalGuard {
		if existing, ok := m.table[keyAttr.Value]; ok {
			st, _ := existing["status"].(*types.AttributeValueMemberS)
			if st != nil && (st.Value == string(StatusCompleted) || st.Value == string(StatusFailed)) {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.table[keyAttr.Value] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *tableMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	keyAttr, ok := params.Key["request_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	it, ok := m.table[keyAttr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: it}, nil
}

func (m *tableMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	keyAttr, ok := params.Key["request_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	delete(m.table, keyAttr.Value)
	return &dyn.DeleteItemOutput{}, nil
}
