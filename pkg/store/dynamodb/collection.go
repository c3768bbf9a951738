package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/grantstore/pkg/grantstore"
)

// GrantIndexName is the global secondary index on grantId.
const GrantIndexName = "grantId-index"

// DynamoDB TTL deletes expired items lazily, sometimes days late, so reads
// and conditional writes also treat an elapsed expiresAt as absent.
const liveCondition = "attribute_exists(#id) AND (attribute_not_exists(#exp) OR #exp > :now)"

type collection struct {
	adapter *Adapter
	table   string
}

func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		grantstore.FieldID: &types.AttributeValueMemberS{Value: id},
	}
}

func (c *collection) Find(ctx context.Context, id string) (grantstore.Document, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	out, err := c.adapter.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            keyOf(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	doc, err := decodeItem(out.Item)
	if err != nil {
		return nil, err
	}
	if doc.Expired(c.adapter.now()) {
		return nil, nil
	}
	return doc, nil
}

func (c *collection) FindOneAndDelete(ctx context.Context, id string) (grantstore.Document, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	out, err := c.adapter.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(c.table),
		Key:          keyOf(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	doc, err := decodeItem(out.Attributes)
	if err != nil {
		return nil, err
	}
	if doc.Expired(c.adapter.now()) {
		return nil, nil
	}
	return doc, nil
}

// MarkConsumed stamps consumed with the adapter clock: DynamoDB has no
// server-side time function.
func (c *collection) MarkConsumed(ctx context.Context, id string) (bool, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	now := c.adapter.now()
	_, err := c.adapter.client.UpdateItem(opCtx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.table),
		Key:                 keyOf(id),
		UpdateExpression:    aws.String("SET #consumed = :consumed"),
		ConditionExpression: aws.String(liveCondition),
		ExpressionAttributeNames: map[string]string{
			"#id":       grantstore.FieldID,
			"#exp":      grantstore.FieldExpiresAt,
			"#consumed": grantstore.FieldConsumed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":      epochSeconds(now),
			":consumed": epochMillis(now),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc grantstore.Document) error {
	item, err := encodeItem(id, doc)
	if err != nil {
		return err
	}

	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()
	_, err = c.adapter.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	return err
}

// DeleteByGrant queries the grantId index and deletes every hit. The index
// is eventually consistent, so each delete re-checks grantId on the item.
func (c *collection) DeleteByGrant(ctx context.Context, grantID string) (int64, error) {
	paginator := dynamodb.NewQueryPaginator(c.adapter.client, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		IndexName:              aws.String(GrantIndexName),
		KeyConditionExpression: aws.String("#grant = :grant"),
		ExpressionAttributeNames: map[string]string{
			"#grant": grantstore.FieldGrantID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":grant": &types.AttributeValueMemberS{Value: grantID},
		},
	})

	var deleted int64
	for paginator.HasMorePages() {
		pageCtx, cancel := c.adapter.withOperationTimeout(ctx)
		page, err := paginator.NextPage(pageCtx)
		cancel()
		if err != nil {
			return deleted, err
		}
		for _, item := range page.Items {
			idAttr, ok := item[grantstore.FieldID].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			removed, err := c.deleteIfGrant(ctx, idAttr.Value, grantID)
			if err != nil {
				return deleted, err
			}
			if removed {
				deleted++
			}
		}
	}
	return deleted, nil
}

func (c *collection) deleteIfGrant(ctx context.Context, id, grantID string) (bool, error) {
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	_, err := c.adapter.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.table),
		Key:                 keyOf(id),
		ConditionExpression: aws.String("#grant = :grant"),
		ExpressionAttributeNames: map[string]string{
			"#grant": grantstore.FieldGrantID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":grant": &types.AttributeValueMemberS{Value: grantID},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureIndexes creates the table with its grantId index when missing, adds
// the index to an existing table that lacks it and enables TTL on expiresAt.
func (c *collection) EnsureIndexes(ctx context.Context) error {
	desc, err := c.adapter.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)})
	switch {
	case isTableMissing(err):
		if err := c.createTable(ctx); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("describe table %s: %w", c.table, err)
	case !hasGrantIndex(desc.Table):
		if err := c.addGrantIndex(ctx); err != nil {
			return err
		}
	}
	return c.enableTTL(ctx)
}

func (c *collection) createTable(ctx context.Context) error {
	_, err := c.adapter.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(c.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(grantstore.FieldID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(grantstore.FieldGrantID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(grantstore.FieldID), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{grantIndex()},
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", c.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.adapter.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)}, c.adapter.tableWait); err != nil {
		return fmt.Errorf("wait for table %s: %w", c.table, err)
	}
	c.adapter.logger.Info("DynamoDB table created", "table", c.table)
	return nil
}

func (c *collection) addGrantIndex(ctx context.Context) error {
	index := grantIndex()
	_, err := c.adapter.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String(c.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(grantstore.FieldGrantID), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  index.IndexName,
				KeySchema:  index.KeySchema,
				Projection: index.Projection,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", GrantIndexName, c.table, err)
	}
	return nil
}

func (c *collection) enableTTL(ctx context.Context) error {
	ttl, err := c.adapter.client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{TableName: aws.String(c.table)})
	if err != nil {
		return fmt.Errorf("describe ttl of %s: %w", c.table, err)
	}
	if desc := ttl.TimeToLiveDescription; desc != nil {
		switch desc.TimeToLiveStatus {
		case types.TimeToLiveStatusEnabled, types.TimeToLiveStatusEnabling:
			return nil
		}
	}

	_, err = c.adapter.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(c.table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(grantstore.FieldExpiresAt),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable ttl on %s: %w", c.table, err)
	}
	return nil
}

func grantIndex() types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName: aws.String(GrantIndexName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(grantstore.FieldGrantID), KeyType: types.KeyTypeHash},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
	}
}

func hasGrantIndex(table *types.TableDescription) bool {
	if table == nil {
		return false
	}
	for _, index := range table.GlobalSecondaryIndexes {
		if aws.ToString(index.IndexName) == GrantIndexName {
			return true
		}
	}
	return false
}

func epochSeconds(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func epochMillis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

// encodeItem marshals doc with id as the key. expiresAt is stored as epoch
// seconds for native TTL and consumed as epoch milliseconds. grantId keys the
// grant index, so it is written only when it is a non-empty string.
func encodeItem(id string, doc grantstore.Document) (map[string]types.AttributeValue, error) {
	body := make(map[string]any, len(doc))
	for key, value := range doc {
		switch key {
		case grantstore.FieldID, grantstore.FieldExpiresAt, grantstore.FieldConsumed:
			continue
		case grantstore.FieldGrantID:
			if doc.GrantID() == "" {
				continue
			}
		}
		body[key] = value
	}
	item, err := attributevalue.MarshalMap(body)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", id, err)
	}
	item[grantstore.FieldID] = &types.AttributeValueMemberS{Value: id}
	if expiresAt, ok := doc.ExpiresAt(); ok {
		item[grantstore.FieldExpiresAt] = epochSeconds(expiresAt)
	}
	if consumed, ok := doc.ConsumedAt(); ok {
		item[grantstore.FieldConsumed] = epochMillis(consumed)
	}
	return item, nil
}

func decodeItem(item map[string]types.AttributeValue) (grantstore.Document, error) {
	timed := map[string]func(int64) time.Time{
		grantstore.FieldExpiresAt: func(v int64) time.Time { return time.Unix(v, 0) },
		grantstore.FieldConsumed:  time.UnixMilli,
	}

	rest := make(map[string]types.AttributeValue, len(item))
	stamps := make(map[string]time.Time, len(timed))
	for key, value := range item {
		toTime, isTime := timed[key]
		n, isNumber := value.(*types.AttributeValueMemberN)
		if !isTime || !isNumber {
			rest[key] = value
			continue
		}
		v, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		stamps[key] = toTime(v).UTC()
	}

	var fields map[string]any
	if err := attributevalue.UnmarshalMap(rest, &fields); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	doc := make(grantstore.Document, len(fields)+len(stamps))
	for key, value := range fields {
		doc[key] = value
	}
	for key, at := range stamps {
		doc[key] = at
	}
	return doc, nil
}
