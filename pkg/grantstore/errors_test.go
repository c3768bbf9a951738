package grantstore

import (
	"errors"
	"strings"
	"testing"
)

func TestEngineError(t *testing.T) {
	if engineError("find", "session", nil) != nil {
		t.Fatal("engineError(nil) should be nil")
	}

	cause := errors.New("socket closed")
	err := engineError("find", "session", cause)
	if !errors.Is(err, ErrEngineFailure) || !errors.Is(err, cause) {
		t.Fatalf("engineError() = %v, want ErrEngineFailure wrapping cause", err)
	}
	if !strings.HasPrefix(err.Error(), "find session: ") {
		t.Fatalf("engineError() message = %q", err.Error())
	}

	if engineError("find", "session", ErrNotReady) != ErrNotReady {
		t.Fatal("ErrNotReady should pass through unchanged")
	}
	if engineError("upsert", "session", err) != err {
		t.Fatal("already wrapped errors should pass through unchanged")
	}
}

func TestCascadeError(t *testing.T) {
	tokenErr := errors.New("token shard down")
	codeErr := errors.New("code shard down")
	err := &CascadeError{
		GrantID: "grant-1",
		Failures: []CollectionFailure{
			{Collection: "access_token", Err: tokenErr},
			{Collection: "authorization_code", Err: codeErr},
		},
	}

	if !errors.Is(err, ErrEngineFailure) {
		t.Fatal("CascadeError should match ErrEngineFailure")
	}
	if !errors.Is(err, tokenErr) || !errors.Is(err, codeErr) {
		t.Fatal("CascadeError should match every cause")
	}

	var target *CascadeError
	if !errors.As(error(err), &target) || target.GrantID != "grant-1" {
		t.Fatal("errors.As failed for *CascadeError")
	}

	names := err.FailedCollections()
	if len(names) != 2 || names[0] != "access_token" || names[1] != "authorization_code" {
		t.Fatalf("FailedCollections() = %v", names)
	}
	msg := err.Error()
	for _, part := range []string{"grant-1", "2 collection(s)", "access_token: token shard down"} {
		if !strings.Contains(msg, part) {
			t.Fatalf("Error() = %q, missing %q", msg, part)
		}
	}
}
