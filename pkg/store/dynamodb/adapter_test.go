package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
)

type mockLogger struct{}

func (m *mockLogger) Debug(string, ...any)                      {}
func (m *mockLogger) Info(string, ...any)                       {}
func (m *mockLogger) Warn(string, ...any)                       {}
func (m *mockLogger) Error(string, ...any)                      {}
func (m *mockLogger) With(...any) logger.Logger                 { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

func newTestAdapter(now time.Time) (*Adapter, *fakeClient) {
	client := newFakeClient()
	a := NewWithClient(client, Config{TablePrefix: "test_"}, &mockLogger{})
	a.now = func() time.Time { return now }
	return a, client
}

func TestNewAdapter_Validation(t *testing.T) {
	_, err := NewAdapter(context.Background(), Config{}, &mockLogger{})
	if err == nil {
		t.Fatal("expected error for empty region")
	}
}

func TestPing_WhenClosed(t *testing.T) {
	a := &Adapter{closed: true, logger: &mockLogger{}}
	if err := a.Ping(context.Background()); err == nil {
		t.Fatal("expected error when closed")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a := &Adapter{}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}

func TestHealthCheck_UsesListTables(t *testing.T) {
	a, client := newTestAdapter(time.Now())
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if client.callCount("ListTables") != 1 {
		t.Fatal("expected a ListTables ping")
	}
	_ = a.Close()
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestIsThrottlingError(t *testing.T) {
	if IsThrottlingError(nil) {
		t.Fatal("nil error must return false")
	}
	if IsThrottlingError(errors.New("x")) {
		t.Fatal("generic error must return false")
	}
	if !IsThrottlingError(&types.ProvisionedThroughputExceededException{}) {
		t.Fatal("expected throttling error to be detected")
	}
}

func TestWithOperationTimeout_UsesAdapterTimeoutWhenNoDeadline(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}

	ctx, cancel := a.withOperationTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected deadline from operation timeout")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("unexpected remaining timeout: %v", remaining)
	}
}

func TestWithOperationTimeout_PreservesCallerDeadline(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}
	parentCtx, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := a.withOperationTimeout(parentCtx)
	defer cancel()

	parentDeadline, _ := parentCtx.Deadline()
	gotDeadline, _ := ctx.Deadline()
	if !gotDeadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline to be preserved, got %v want %v", gotDeadline, parentDeadline)
	}
}

func TestTableName(t *testing.T) {
	a := NewWithClient(newFakeClient(), Config{TablePrefix: "oidc_"}, nil)
	if got := a.TableName("access_token"); got != "oidc_access_token" {
		t.Fatalf("TableName() = %q", got)
	}
}

func TestEncodeDecodeItem(t *testing.T) {
	expiresAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	consumed := time.Date(2026, 6, 30, 23, 59, 0, 456_000_000, time.UTC)
	item, err := encodeItem("t1", grantstore.Document{
		grantstore.FieldID:        "ignored",
		grantstore.FieldGrantID:   "g1",
		grantstore.FieldExpiresAt: expiresAt,
		grantstore.FieldConsumed:  consumed,
		"scope":                   "openid",
	})
	if err != nil {
		t.Fatalf("encodeItem() error = %v", err)
	}
	if n, ok := item[grantstore.FieldExpiresAt].(*types.AttributeValueMemberN); !ok || n.Value != "1782864000" {
		t.Fatalf("expiresAt attribute = %#v, want epoch seconds", item[grantstore.FieldExpiresAt])
	}
	if s, ok := item[grantstore.FieldID].(*types.AttributeValueMemberS); !ok || s.Value != "t1" {
		t.Fatalf("id attribute = %#v", item[grantstore.FieldID])
	}

	doc, err := decodeItem(item)
	if err != nil {
		t.Fatalf("decodeItem() error = %v", err)
	}
	if doc.ID() != "t1" || doc.GrantID() != "g1" || doc["scope"] != "openid" {
		t.Fatalf("decoded = %v", doc)
	}
	if at, ok := doc.ExpiresAt(); !ok || !at.Equal(expiresAt) {
		t.Fatalf("expiresAt = %v, want %v", at, expiresAt)
	}
	if at, ok := doc.ConsumedAt(); !ok || !at.Equal(consumed) {
		t.Fatalf("consumed = %v, want %v", at, consumed)
	}
}

func TestCollection_Lifecycle(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newTestAdapter(now)
	ctx := context.Background()
	coll := a.Collection("authorization_code")

	if err := coll.Replace(ctx, "c1", grantstore.Document{
		grantstore.FieldGrantID:   "G",
		grantstore.FieldExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	doc, err := coll.Find(ctx, "c1")
	if err != nil || doc.GrantID() != "G" {
		t.Fatalf("Find() = %v, %v", doc, err)
	}

	found, err := coll.MarkConsumed(ctx, "c1")
	if err != nil || !found {
		t.Fatalf("MarkConsumed() = %v, %v", found, err)
	}
	doc, _ = coll.Find(ctx, "c1")
	if at, ok := doc.ConsumedAt(); !ok || !at.Equal(now) {
		t.Fatalf("consumed = %v, %v", at, ok)
	}

	found, err = coll.MarkConsumed(ctx, "missing")
	if err != nil || found {
		t.Fatalf("MarkConsumed(missing) = %v, %v", found, err)
	}

	removed, err := coll.FindOneAndDelete(ctx, "c1")
	if err != nil || removed.ID() != "c1" {
		t.Fatalf("FindOneAndDelete() = %v, %v", removed, err)
	}
	removed, err = coll.FindOneAndDelete(ctx, "c1")
	if err != nil || removed != nil {
		t.Fatalf("second FindOneAndDelete() = %v, %v", removed, err)
	}
}

func TestCollection_ReplaceWithoutUsableGrantID(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newTestAdapter(now)
	ctx := context.Background()
	coll := a.Collection("session")

	for id, grantID := range map[string]any{"empty": "", "number": 42, "null": nil} {
		if err := coll.Replace(ctx, id, grantstore.Document{
			grantstore.FieldGrantID: grantID,
			"accountId":             "alice",
		}); err != nil {
			t.Fatalf("Replace(%s) error = %v", id, err)
		}
		doc, err := coll.Find(ctx, id)
		if err != nil || doc == nil {
			t.Fatalf("Find(%s) = %v, %v", id, doc, err)
		}
		if _, ok := doc[grantstore.FieldGrantID]; ok {
			t.Fatalf("Find(%s) kept grantId: %v", id, doc)
		}
		if doc["accountId"] != "alice" {
			t.Fatalf("Find(%s) = %v", id, doc)
		}
	}
}

func TestCollection_ExpiredItemsReadAsAbsent(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newTestAdapter(now)
	ctx := context.Background()
	coll := a.Collection("access_token")

	_ = coll.Replace(ctx, "old", grantstore.Document{grantstore.FieldExpiresAt: now.Add(-time.Second)})

	if doc, err := coll.Find(ctx, "old"); err != nil || doc != nil {
		t.Fatalf("Find(expired) = %v, %v; want nil, nil", doc, err)
	}
	if found, err := coll.MarkConsumed(ctx, "old"); err != nil || found {
		t.Fatalf("MarkConsumed(expired) = %v, %v; want false, nil", found, err)
	}
	if doc, err := coll.FindOneAndDelete(ctx, "old"); err != nil || doc != nil {
		t.Fatalf("FindOneAndDelete(expired) = %v, %v; want nil, nil", doc, err)
	}
}

func TestCollection_DeleteByGrant(t *testing.T) {
	a, client := newTestAdapter(time.Now())
	ctx := context.Background()
	coll := a.Collection("access_token")

	_ = coll.Replace(ctx, "a", grantstore.Document{grantstore.FieldGrantID: "G"})
	_ = coll.Replace(ctx, "b", grantstore.Document{grantstore.FieldGrantID: "G"})
	_ = coll.Replace(ctx, "c", grantstore.Document{grantstore.FieldGrantID: "H"})
	client.staleIndex["G"] = []string{"c"}

	deleted, err := coll.DeleteByGrant(ctx, "G")
	if err != nil {
		t.Fatalf("DeleteByGrant() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if doc, _ := coll.Find(ctx, "c"); doc == nil {
		t.Fatal("stale index entry removed a document of another grant")
	}
}

func TestCollection_EnsureIndexesCreatesTable(t *testing.T) {
	a, client := newTestAdapter(time.Now())
	ctx := context.Background()
	coll := a.Collection("session")

	if err := coll.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}
	table := client.tables["test_session"]
	if table == nil || !table.grantIndex || !table.ttl {
		t.Fatalf("table = %+v, want grant index and ttl", table)
	}

	if err := coll.EnsureIndexes(ctx); err != nil {
		t.Fatalf("second EnsureIndexes() error = %v", err)
	}
	if client.callCount("CreateTable") != 1 || client.callCount("UpdateTimeToLive") != 1 {
		t.Fatalf("EnsureIndexes is not idempotent: %v", client.calls)
	}
}

func TestCollection_EnsureIndexesAddsMissingIndex(t *testing.T) {
	a, client := newTestAdapter(time.Now())
	client.seedTable("test_grant", false)

	if err := a.Collection("grant").EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}
	if client.callCount("UpdateTable") != 1 || !client.tables["test_grant"].grantIndex {
		t.Fatal("grant index not added to existing table")
	}
	if client.callCount("CreateTable") != 0 {
		t.Fatal("existing table recreated")
	}
}
