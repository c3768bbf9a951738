package grantstore

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/observability/metrics"
	"github.com/nimburion/grantstore/pkg/observability/tracing"
)

// Adapter exposes find/consume/upsert/destroy for one entity type. The
// collection is resolved through the gate on every call.
type Adapter struct {
	store *Store
	name  string
	log   logger.Logger
}

// NewAdapter derives the collection name of entityType and registers it
// with the store. It never fails; a missing connection surfaces as
// ErrNotReady on the first operation.
func NewAdapter(store *Store, entityType string) *Adapter {
	name := CollectionName(entityType)
	store.registry.RegisterIfNew(name)
	return &Adapter{
		store: store,
		name:  name,
		log:   store.log.With("collection", name),
	}
}

// Name returns the collection name.
func (a *Adapter) Name() string {
	return a.name
}

// Find returns the document with id, or nil when there is none.
func (a *Adapter) Find(ctx context.Context, id string) (Document, error) {
	ctx, done := a.instrument(ctx, tracing.SpanOperationFind, id)
	doc, err := a.find(ctx, id)
	done(doc != nil, err)
	return doc, err
}

func (a *Adapter) find(ctx context.Context, id string) (Document, error) {
	coll, err := a.collection()
	if err != nil {
		return nil, err
	}
	doc, err := coll.Find(ctx, id)
	if err != nil {
		return nil, engineError("find", a.name, err)
	}
	return doc, nil
}

// Consume stamps the consumed field of id with the engine's current time.
// A missing id is not an error.
func (a *Adapter) Consume(ctx context.Context, id string) error {
	ctx, done := a.instrument(ctx, tracing.SpanOperationConsume, id)
	found, err := a.consume(ctx, id)
	done(found, err)
	return err
}

func (a *Adapter) consume(ctx context.Context, id string) (bool, error) {
	coll, err := a.collection()
	if err != nil {
		return false, err
	}
	found, err := coll.MarkConsumed(ctx, id)
	if err != nil {
		return false, engineError("consume", a.name, err)
	}
	return found, nil
}

// Upsert replaces the document stored under id with payload. A positive
// expiresIn sets expiresAt to now+expiresIn; otherwise the stored document
// has no expiresAt. payload is not modified.
func (a *Adapter) Upsert(ctx context.Context, id string, payload Document, expiresIn time.Duration) error {
	ctx, done := a.instrument(ctx, tracing.SpanOperationUpsert, id)
	err := a.upsert(ctx, id, payload, expiresIn)
	done(true, err)
	return err
}

func (a *Adapter) upsert(ctx context.Context, id string, payload Document, expiresIn time.Duration) error {
	coll, err := a.collection()
	if err != nil {
		return err
	}

	doc := payload.Clone()
	delete(doc, FieldID)
	delete(doc, FieldExpiresAt)
	if expiresIn > 0 {
		doc[FieldExpiresAt] = a.store.now().Add(expiresIn).UTC()
	}

	return engineError("upsert", a.name, coll.Replace(ctx, id, doc))
}

// Destroy removes the document with id. When it carried a grantId, every
// document of that grant is removed from all registered collections. The
// primary removal stands even if the cascade fails. A missing id is not an
// error and triggers no cascade.
func (a *Adapter) Destroy(ctx context.Context, id string) error {
	ctx, done := a.instrument(ctx, tracing.SpanOperationDestroy, id)
	found, err := a.destroy(ctx, id)
	done(found, err)
	return err
}

func (a *Adapter) destroy(ctx context.Context, id string) (bool, error) {
	coll, err := a.collection()
	if err != nil {
		return false, err
	}
	removed, err := coll.FindOneAndDelete(ctx, id)
	if err != nil {
		return false, engineError("destroy", a.name, err)
	}
	if removed == nil {
		return false, nil
	}
	grantID := removed.GrantID()
	if grantID == "" {
		return true, nil
	}
	return true, a.store.RevokeGrant(ctx, grantID)
}

func (a *Adapter) collection() (Collection, error) {
	return a.store.gate.Resolve(a.name)
}

func (a *Adapter) instrument(ctx context.Context, op tracing.SpanOperation, id string) (context.Context, func(found bool, err error)) {
	start := time.Now()
	ctx, span := tracing.StartStoreSpan(ctx, op, tracing.WithCollection(a.name), tracing.WithRecordID(id))

	return ctx, func(found bool, err error) {
		elapsed := time.Since(start)
		outcome := metrics.OutcomeSuccess
		switch {
		case errors.Is(err, ErrNotReady):
			outcome = metrics.OutcomeNotReady
		case err != nil:
			outcome = metrics.OutcomeFailure
		case !found:
			outcome = metrics.OutcomeNotFound
		}
		metrics.RecordOperation(a.name, string(op), outcome, elapsed)

		if err != nil {
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()

		a.log.WithContext(ctx).Debug("grant store operation",
			"operation", string(op),
			"id", id,
			"outcome", outcome,
			"duration", elapsed,
		)
	}
}
