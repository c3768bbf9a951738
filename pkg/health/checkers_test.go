package health

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/store/memory"
)

type slowCheckable struct{}

func (s *slowCheckable) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestAdapterChecker_Timeout(t *testing.T) {
	checker := NewAdapterChecker("slow", &slowCheckable{}, 20*time.Millisecond)

	start := time.Now()
	res := checker.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on timeout, got %s", res.Status)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestStoreChecker_Connecting(t *testing.T) {
	st := grantstore.New(grantstore.NewGate(nil))
	st.Model("AccessToken")

	res := NewStoreChecker("store", st, 0).Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy before readiness, got %s", res.Status)
	}
	if res.Message != "connecting" {
		t.Fatalf("expected connecting message, got %q", res.Message)
	}
	if res.Metadata["state"] != "connecting" {
		t.Fatalf("expected connecting state, got %v", res.Metadata["state"])
	}
}

func TestStoreChecker_Ready(t *testing.T) {
	engine := memory.New(memory.Config{}, nil)
	defer engine.Close()
	st := grantstore.New(grantstore.NewReadyGate(engine, nil))
	st.Model("Session")

	res := NewStoreChecker("store", st, time.Second).Check(context.Background())
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
	if res.Metadata["state"] != "ready" {
		t.Fatalf("expected ready state, got %v", res.Metadata["state"])
	}
	collections, ok := res.Metadata["collections"].([]string)
	if !ok || len(collections) != 1 || collections[0] != "session" {
		t.Fatalf("unexpected collections %v", res.Metadata["collections"])
	}
}

func TestStoreChecker_EngineFailure(t *testing.T) {
	engine := memory.New(memory.Config{}, nil)
	st := grantstore.New(grantstore.NewReadyGate(engine, nil))
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	res := NewStoreChecker("store", st, time.Second).Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy after close, got %s", res.Status)
	}
	if res.Message == "connecting" {
		t.Fatal("closed engine must not report connecting")
	}
}

func TestAdapterChecker_FollowsGate(t *testing.T) {
	connecting := NewAdapterChecker("engine", grantstore.NewGate(nil), time.Second)
	res := connecting.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy before readiness, got %s", res.Status)
	}
	if res.Error != grantstore.ErrNotReady.Error() {
		t.Fatalf("unexpected error %q", res.Error)
	}

	engine := memory.New(memory.Config{}, nil)
	ready := NewAdapterChecker("engine", grantstore.NewReadyGate(engine, nil), time.Second)
	if res := ready.Check(context.Background()); res.Status != StatusHealthy {
		t.Fatalf("expected healthy ready gate, got %+v", res)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if res := ready.Check(context.Background()); res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy after close, got %s", res.Status)
	}
}
