package grantstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotReady is returned by every operation issued before the storage
	// connection is established. Callers should wait for readiness and retry.
	ErrNotReady = errors.New("grantstore: storage connection not established")

	// ErrEngineFailure wraps any error surfaced by the storage engine.
	ErrEngineFailure = errors.New("grantstore: storage engine failure")

	// ErrAlreadyConnecting is returned by a second Gate.Connect call.
	ErrAlreadyConnecting = errors.New("grantstore: connection already started")
)

func engineError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEngineFailure) || errors.Is(err, ErrNotReady) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %w", op, collection, ErrEngineFailure, err)
}

// CollectionFailure is the cascade delete error of one collection.
type CollectionFailure struct {
	Collection string
	Err        error
}

// CascadeError reports the collections whose grant cascade delete failed.
// The record that triggered the cascade has already been removed.
type CascadeError struct {
	GrantID  string
	Failures []CollectionFailure
}

func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", failure.Collection, failure.Err))
	}
	return fmt.Sprintf("grantstore: cascade delete of grant %s failed in %d collection(s): %s",
		e.GrantID, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes ErrEngineFailure and every per-collection cause.
func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrEngineFailure)
	for _, failure := range e.Failures {
		errs = append(errs, failure.Err)
	}
	return errs
}

// FailedCollections lists the collections that failed, in reported order.
func (e *CascadeError) FailedCollections() []string {
	names := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		names = append(names, failure.Collection)
	}
	return names
}
