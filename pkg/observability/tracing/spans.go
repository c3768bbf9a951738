package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/grantstore"

// SpanOperation represents a traced store operation.
type SpanOperation string

const (
	SpanOperationFind          SpanOperation = "find"
	SpanOperationConsume       SpanOperation = "consume"
	SpanOperationUpsert        SpanOperation = "upsert"
	SpanOperationDestroy       SpanOperation = "destroy"
	SpanOperationCascade       SpanOperation = "cascade"
	SpanOperationEnsureIndexes SpanOperation = "ensure_indexes"
	SpanOperationConnect       SpanOperation = "connect"
)

// StoreSpanOption configures a store span.
type StoreSpanOption func(*storeSpanOptions)

type storeSpanOptions struct {
	collection string
	attributes []attribute.KeyValue
}

// StartStoreSpan starts a client span for a grant store operation.
func StartStoreSpan(ctx context.Context, operation SpanOperation, opts ...StoreSpanOption) (context.Context, trace.Span) {
	spanOpts := &storeSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("grantstore %s", operation)
	if spanOpts.collection != "" {
		spanName = fmt.Sprintf("grantstore %s %s", operation, spanOpts.collection)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// WithCollection sets the collection the operation targets.
func WithCollection(name string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.collection = name
		opts.attributes = append(opts.attributes, attribute.String("db.collection.name", name))
	}
}

// WithSystem sets the storage engine (mongodb, redis, dynamodb, memory).
func WithSystem(system string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithRecordID sets the record id.
func WithRecordID(id string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("grantstore.record_id", id))
	}
}

// WithGrantID sets the grant id of a cascade.
func WithGrantID(grantID string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("grantstore.grant_id", grantID))
	}
}

// RecordError records err on span and marks it failed. Nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
