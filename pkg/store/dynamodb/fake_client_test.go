package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeClient is an in-memory stand-in for the DynamoDB API that understands
// the expressions issued by this package.
type fakeClient struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
	calls  map[string]int
	// staleIndex adds ids to grant index query results regardless of the item.
	staleIndex map[string][]string
}

type fakeTable struct {
	items      map[string]map[string]types.AttributeValue
	grantIndex bool
	ttl        bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables:     make(map[string]*fakeTable),
		calls:      make(map[string]int),
		staleIndex: make(map[string][]string),
	}
}

func (f *fakeClient) table(name *string) (*fakeTable, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return t, nil
}

func (f *fakeClient) seedTable(name string, grantIndex bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &fakeTable{items: make(map[string]map[string]types.AttributeValue), grantIndex: grantIndex}
}

func (f *fakeClient) ensureTable(name string) *fakeTable {
	t, ok := f.tables[name]
	if !ok {
		t = &fakeTable{items: make(map[string]map[string]types.AttributeValue), grantIndex: true}
		f.tables[name] = t
	}
	return t
}

func idOf(key map[string]types.AttributeValue) string {
	s, _ := key["id"].(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	s, _ := item[name].(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
}

func numAttr(item map[string]types.AttributeValue, name string) (int64, bool) {
	n, _ := item[name].(*types.AttributeValueMemberN)
	if n == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	return v, err == nil
}

func (f *fakeClient) ListTables(context.Context, *dynamodb.ListTablesInput, ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListTables"]++
	return &dynamodb.ListTablesOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItem"]++
	t := f.ensureTable(aws.ToString(in.TableName))
	return &dynamodb.GetItemOutput{Item: t.items[idOf(in.Key)]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++
	t := f.ensureTable(aws.ToString(in.TableName))
	if attr, ok := in.Item["grantId"]; ok && t.grantIndex {
		// index key attributes must be non-empty strings
		if s, isString := attr.(*types.AttributeValueMemberS); !isString || s.Value == "" {
			return nil, errors.New("ValidationException: invalid grantId index key")
		}
	}
	t.items[idOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateItem"]++
	t := f.ensureTable(aws.ToString(in.TableName))
	item, ok := t.items[idOf(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	now, _ := numAttr(in.ExpressionAttributeValues, ":now")
	if exp, has := numAttr(item, "expiresAt"); has && exp <= now {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item["consumed"] = in.ExpressionAttributeValues[":consumed"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++
	t := f.ensureTable(aws.ToString(in.TableName))
	id := idOf(in.Key)
	item, ok := t.items[id]
	if in.ConditionExpression != nil {
		want := strAttr(in.ExpressionAttributeValues, ":grant")
		if !ok || strAttr(item, "grantId") != want {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	delete(t.items, id)
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = item
	}
	return out, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Query"]++
	t := f.ensureTable(aws.ToString(in.TableName))
	grant := strAttr(in.ExpressionAttributeValues, ":grant")
	var items []map[string]types.AttributeValue
	for id, item := range t.items {
		if strAttr(item, "grantId") == grant {
			items = append(items, map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}})
		}
	}
	for _, id := range f.staleIndex[grant] {
		items = append(items, map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}})
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeClient) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DescribeTable"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	desc := &types.TableDescription{TableName: in.TableName, TableStatus: types.TableStatusActive}
	if t.grantIndex {
		desc.GlobalSecondaryIndexes = []types.GlobalSecondaryIndexDescription{{IndexName: aws.String(GrantIndexName)}}
	}
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

func (f *fakeClient) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateTable"]++
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{}
	}
	t := &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
	for _, gsi := range in.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) == GrantIndexName {
			t.grantIndex = true
		}
	}
	f.tables[name] = t
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeClient) UpdateTable(_ context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateTable"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	for _, update := range in.GlobalSecondaryIndexUpdates {
		if update.Create != nil && aws.ToString(update.Create.IndexName) == GrantIndexName {
			t.grantIndex = true
		}
	}
	return &dynamodb.UpdateTableOutput{}, nil
}

func (f *fakeClient) DescribeTimeToLive(_ context.Context, in *dynamodb.DescribeTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DescribeTimeToLive"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	status := types.TimeToLiveStatusDisabled
	if t.ttl {
		status = types.TimeToLiveStatusEnabled
	}
	return &dynamodb.DescribeTimeToLiveOutput{
		TimeToLiveDescription: &types.TimeToLiveDescription{TimeToLiveStatus: status},
	}, nil
}

func (f *fakeClient) UpdateTimeToLive(_ context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateTimeToLive"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if aws.ToString(in.TimeToLiveSpecification.AttributeName) == "expiresAt" {
		t.ttl = aws.ToBool(in.TimeToLiveSpecification.Enabled)
	}
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

func (f *fakeClient) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}
