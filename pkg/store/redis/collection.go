package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/grantstore/pkg/grantstore"
)

type collection struct {
	client *redis.Client
	keys   keyspace
}

func (c *collection) Find(ctx context.Context, id string) (grantstore.Document, error) {
	fields, err := c.client.HGetAll(ctx, c.keys.docKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeDocument(id, fields)
}

func (c *collection) FindOneAndDelete(ctx context.Context, id string) (grantstore.Document, error) {
	reply, err := findOneAndDeleteScript.Run(ctx, c.client,
		[]string{c.keys.docKey(id)},
		c.keys.grant, id,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		key, _ := reply[i].(string)
		value, _ := reply[i+1].(string)
		fields[key] = value
	}
	return decodeDocument(id, fields)
}

func (c *collection) MarkConsumed(ctx context.Context, id string) (bool, error) {
	n, err := markConsumedScript.Run(ctx, c.client, []string{c.keys.docKey(id)}).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc grantstore.Document) error {
	enc, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return replaceScript.Run(ctx, c.client,
		[]string{c.keys.docKey(id)},
		enc.body, enc.grantID, enc.expiresAt, enc.consumed, id, c.keys.grant,
	).Err()
}

func (c *collection) DeleteByGrant(ctx context.Context, grantID string) (int64, error) {
	return deleteByGrantScript.Run(ctx, c.client,
		[]string{c.keys.grantKey(grantID)},
		c.keys.doc, grantID,
	).Int64()
}

// EnsureIndexes only checks connectivity: key expiry and the grant sets
// are maintained on every write.
func (c *collection) EnsureIndexes(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type encodedDocument struct {
	body      string
	grantID   string
	expiresAt string
	consumed  string
}

// encodeDocument splits doc into the JSON body and the typed hash fields.
// expiresAt and consumed are stored as unix milliseconds outside the body.
func encodeDocument(doc grantstore.Document) (encodedDocument, error) {
	body := make(map[string]any, len(doc))
	for key, value := range doc {
		switch key {
		case grantstore.FieldID, grantstore.FieldExpiresAt, grantstore.FieldConsumed:
			continue
		}
		body[key] = value
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return encodedDocument{}, fmt.Errorf("encode document: %w", err)
	}

	enc := encodedDocument{body: string(raw), grantID: doc.GrantID()}
	if expiresAt, ok := doc.ExpiresAt(); ok {
		enc.expiresAt = strconv.FormatInt(expiresAt.UnixMilli(), 10)
	}
	if consumed, ok := doc.ConsumedAt(); ok {
		enc.consumed = strconv.FormatInt(consumed.UnixMilli(), 10)
	}
	return enc, nil
}

func decodeDocument(id string, fields map[string]string) (grantstore.Document, error) {
	doc := grantstore.Document{}
	if raw, ok := fields[hashBody]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
	}
	doc[grantstore.FieldID] = id

	for _, field := range []string{hashExpiresAt, hashConsumed} {
		raw, ok := fields[field]
		if !ok || raw == "" {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s of %s: %w", field, id, err)
		}
		doc[field] = time.UnixMilli(ms).UTC()
	}
	if grantID, ok := fields[hashGrantID]; ok && grantID != "" {
		doc[grantstore.FieldGrantID] = grantID
	}
	return doc, nil
}
