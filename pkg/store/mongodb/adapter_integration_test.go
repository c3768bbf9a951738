package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/testutil"
)

// TestMongoDBAdapter_Integration runs the grantstore engine contract against
// a real MongoDB instance using testcontainers.
func TestMongoDBAdapter_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start MongoDB container: %v", err)
	}
	testutil.TerminateOnCleanup(t, container)

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	if err != nil {
		t.Fatalf("Failed to get endpoint: %v", err)
	}

	log := testutil.Logger(t)

	adapter, err := NewAdapter(ctx, Config{
		URL:              endpoint,
		Database:         testutil.UniqueName("grantstore_"),
		OperationTimeout: 5 * time.Second,
	}, log)
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	defer adapter.Close()

	if err := adapter.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	t.Run("EnsureIndexes", func(t *testing.T) {
		coll := adapter.Collection("access_token")
		if err := coll.EnsureIndexes(ctx); err != nil {
			t.Fatalf("EnsureIndexes failed: %v", err)
		}
		if err := coll.EnsureIndexes(ctx); err != nil {
			t.Fatalf("second EnsureIndexes failed: %v", err)
		}

		cursor, err := adapter.Database().Collection("access_token").Indexes().List(ctx)
		if err != nil {
			t.Fatalf("List indexes failed: %v", err)
		}
		var specs []bson.M
		if err := cursor.All(ctx, &specs); err != nil {
			t.Fatalf("Decode indexes failed: %v", err)
		}
		var ttlFound, grantFound bool
		for _, spec := range specs {
			switch spec["name"] {
			case "expiresAt_1":
				_, ttlFound = spec["expireAfterSeconds"]
			case "grantId_1":
				grantFound = true
			}
		}
		if !ttlFound || !grantFound {
			t.Fatalf("missing indexes: %v", specs)
		}
	})

	t.Run("ReplaceFindConsume", func(t *testing.T) {
		coll := adapter.Collection("authorization_code")
		expiresAt := time.Now().Add(time.Hour).UTC()
		if err := coll.Replace(ctx, "code-1", grantstore.Document{
			grantstore.FieldGrantID:   "G",
			grantstore.FieldExpiresAt: expiresAt,
			"scope":                   "openid",
		}); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}

		doc, err := coll.Find(ctx, "code-1")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if doc.ID() != "code-1" || doc.GrantID() != "G" {
			t.Fatalf("unexpected document: %v", doc)
		}
		if got, ok := doc.ExpiresAt(); !ok || got.Sub(expiresAt).Abs() > time.Millisecond {
			t.Fatalf("expiresAt = %v, want %v", got, expiresAt)
		}

		found, err := coll.MarkConsumed(ctx, "code-1")
		if err != nil || !found {
			t.Fatalf("MarkConsumed = %v, %v", found, err)
		}
		doc, _ = coll.Find(ctx, "code-1")
		if _, ok := doc.ConsumedAt(); !ok {
			t.Fatalf("consumed not stamped: %v", doc)
		}

		found, err = coll.MarkConsumed(ctx, "missing")
		if err != nil || found {
			t.Fatalf("MarkConsumed(missing) = %v, %v", found, err)
		}

		if err := coll.Replace(ctx, "code-1", grantstore.Document{"scope": "email"}); err != nil {
			t.Fatalf("second Replace failed: %v", err)
		}
		doc, _ = coll.Find(ctx, "code-1")
		if _, ok := doc[grantstore.FieldConsumed]; ok {
			t.Fatalf("replace kept consumed: %v", doc)
		}
	})

	t.Run("FindOneAndDeleteAndDeleteByGrant", func(t *testing.T) {
		tokens := adapter.Collection("refresh_token")
		for _, id := range []string{"rt-1", "rt-2"} {
			if err := tokens.Replace(ctx, id, grantstore.Document{grantstore.FieldGrantID: "G2"}); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}
		}
		_ = tokens.Replace(ctx, "rt-3", grantstore.Document{grantstore.FieldGrantID: "other"})

		removed, err := tokens.FindOneAndDelete(ctx, "rt-1")
		if err != nil || removed.GrantID() != "G2" {
			t.Fatalf("FindOneAndDelete = %v, %v", removed, err)
		}
		removed, err = tokens.FindOneAndDelete(ctx, "rt-1")
		if err != nil || removed != nil {
			t.Fatalf("second FindOneAndDelete = %v, %v", removed, err)
		}

		deleted, err := tokens.DeleteByGrant(ctx, "G2")
		if err != nil || deleted != 1 {
			t.Fatalf("DeleteByGrant = %d, %v", deleted, err)
		}
		if doc, _ := tokens.Find(ctx, "rt-3"); doc == nil {
			t.Fatal("document of another grant removed")
		}
	})

	t.Run("StoreCascade", func(t *testing.T) {
		gate := grantstore.NewGate(log)
		if err := gate.Connect(ctx, func(context.Context) (grantstore.Engine, error) { return adapter, nil }); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := gate.WaitReady(waitCtx); err != nil {
			t.Fatalf("WaitReady failed: %v", err)
		}

		store := grantstore.New(gate, grantstore.WithLogger(log))
		codes := store.Model("AuthorizationCode")
		tokens := store.Model("AccessToken")

		_ = codes.Upsert(ctx, "c-9", grantstore.Document{grantstore.FieldGrantID: "G9"}, time.Minute)
		_ = tokens.Upsert(ctx, "at-9", grantstore.Document{grantstore.FieldGrantID: "G9"}, time.Hour)

		if err := codes.Destroy(ctx, "c-9"); err != nil {
			t.Fatalf("Destroy failed: %v", err)
		}
		if doc, _ := tokens.Find(ctx, "at-9"); doc != nil {
			t.Fatalf("cascade left %v", doc)
		}
	})
}
