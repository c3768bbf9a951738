package grantstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func provisionRecorder() (ProvisionHook, <-chan provisionEvent) {
	events := make(chan provisionEvent, 64)
	return func(name string, err error) {
		events <- provisionEvent{name: name, err: err}
	}, events
}

type provisionEvent struct {
	name string
	err  error
}

func nextEvent(t *testing.T, events <-chan provisionEvent) provisionEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("index provisioning did not run")
		return provisionEvent{}
	}
}

func assertNoEvent(t *testing.T, events <-chan provisionEvent) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected provisioning of %q", ev.name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCollectionSet_AddKeepsInsertionOrder(t *testing.T) {
	set := NewCollectionSet()
	for _, name := range []string{"session", "access_token", "session", "grant", "access_token"} {
		set.Add(name)
	}

	got := set.Names()
	want := []string{"session", "access_token", "grant"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
	if set.Len() != 3 || !set.Has("grant") || set.Has("client") {
		t.Fatalf("unexpected set contents: %v", got)
	}

	got[0] = "mutated"
	if set.Names()[0] != "session" {
		t.Fatal("Names() exposed internal storage")
	}
}

func TestCollectionSet_ConcurrentAddInsertsOnce(t *testing.T) {
	set := NewCollectionSet()
	var inserted int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Add("access_token") {
				atomic.AddInt32(&inserted, 1)
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("Add() reported %d insertions, want 1", inserted)
	}
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
}

func TestRegistry_ConcurrentRegisterProvisionsOnce(t *testing.T) {
	engine := newStubEngine()
	hook, events := provisionRecorder()
	r := NewRegistry(NewReadyGate(engine, nil), nil, time.Second, hook)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RegisterIfNew("session")
		}()
	}
	wg.Wait()

	ev := nextEvent(t, events)
	if ev.name != "session" || ev.err != nil {
		t.Fatalf("provisioned %q with %v", ev.name, ev.err)
	}
	assertNoEvent(t, events)
	if got := engine.ensureCount("session"); got != 1 {
		t.Fatalf("EnsureIndexes ran %d times, want 1", got)
	}
}

func TestRegistry_ProvisionsOnReadiness(t *testing.T) {
	engine := newStubEngine()
	gate := NewGate(nil)
	hook, events := provisionRecorder()
	r := NewRegistry(gate, nil, time.Second, hook)

	if !r.RegisterIfNew("authorization_code") {
		t.Fatal("RegisterIfNew() = false for a new name")
	}
	if r.RegisterIfNew("authorization_code") {
		t.Fatal("RegisterIfNew() = true for a known name")
	}
	assertNoEvent(t, events)

	if err := gate.Connect(context.Background(), staticDialer(engine)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ev := nextEvent(t, events)
	if ev.name != "authorization_code" || ev.err != nil {
		t.Fatalf("provisioned %q with %v", ev.name, ev.err)
	}
	assertNoEvent(t, events)
}

func TestRegistry_ProvisioningFailureIsReported(t *testing.T) {
	engine := newStubEngine()
	engine.ensureErr = errors.New("index build failed")
	hook, events := provisionRecorder()
	r := NewRegistry(NewReadyGate(engine, nil), nil, time.Second, hook)

	if !r.RegisterIfNew("session") {
		t.Fatal("RegisterIfNew() = false for a new name")
	}

	ev := nextEvent(t, events)
	if !errors.Is(ev.err, ErrEngineFailure) || !errors.Is(ev.err, engine.ensureErr) {
		t.Fatalf("hook error = %v, want engine failure wrapping the cause", ev.err)
	}
	if !r.Has("session") {
		t.Fatal("failed provisioning removed the registration")
	}
}

func TestRegistry_ForEachInsertionOrder(t *testing.T) {
	r := NewRegistry(NewGate(nil), nil, 0, nil)
	for _, name := range []string{"grant", "session", "access_token"} {
		r.RegisterIfNew(name)
	}

	var seen []string
	r.ForEach(func(name string) { seen = append(seen, name) })

	want := []string{"grant", "session", "access_token"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("ForEach order = %v, want %v", seen, want)
		}
	}
	if r.timeout != DefaultIndexTimeout {
		t.Fatalf("timeout = %v, want %v", r.timeout, DefaultIndexTimeout)
	}
}

func TestRegistry_RegisterOncePerName(t *testing.T) {
	properties := gopter.NewProperties(nil)

	names := gen.SliceOf(gen.OneConstOf("session", "access_token", "authorization_code", "grant", "device_code"))

	properties.Property("only the first registration of a name reports insertion", prop.ForAll(
		func(seq []string) bool {
			r := NewRegistry(NewGate(nil), nil, time.Second, nil)
			distinct := make(map[string]struct{})
			inserted := 0
			for _, name := range seq {
				if r.RegisterIfNew(name) {
					inserted++
				}
				distinct[name] = struct{}{}
			}
			return inserted == len(distinct) && len(r.Names()) == len(distinct)
		},
		names,
	))

	properties.TestingRun(t)
}
