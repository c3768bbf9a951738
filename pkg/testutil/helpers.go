package testutil

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"

	"github.com/nimburion/grantstore/pkg/observability/logger"
)

// UniqueName returns prefix followed by a short random suffix, for databases,
// key prefixes and table prefixes that must not collide between runs.
func UniqueName(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// TerminateOnCleanup terminates c when the test finishes.
func TerminateOnCleanup(t *testing.T, c testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
}

// Logger returns a debug logger that writes through t.Log. Lines emitted by
// background goroutines after the test has finished are dropped.
func Logger(t *testing.T) logger.Logger {
	t.Helper()
	w := &testWriter{t: t}
	t.Cleanup(w.close)
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.DebugLevel,
		Format: logger.TextFormat,
		Output: w,
	})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return log
}

type testWriter struct {
	mu     sync.Mutex
	t      *testing.T
	closed bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

func (w *testWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
