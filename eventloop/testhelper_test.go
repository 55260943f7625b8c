package eventloop

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// startLoop creates and runs a loop, which is shut down on test cleanup.
func startLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()

	loop, err := New(opts...)
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loop.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		select {
		case err := <-runDone:
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("loop didn't stop")
		}
	})

	waitLoopState(t, loop, StateRunning, 2*time.Second)

	return loop
}

// waitLoopState waits for a loop to reach a specific state within a timeout.
func waitLoopState(t *testing.T, loop *Loop, expected LoopState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state := loop.State()
		if state == expected {
			return
		}
		// Accept either Running or Sleeping as "running"
		if expected == StateRunning && state == StateSleeping {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Loop failed to reach %v state (got %v)", expected, loop.State())
}

// newTestLogger returns a JSON logger writing to w, at debug level.
func newTestLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

// runOnLoop runs fn on the loop goroutine, and waits for it to complete.
func runOnLoop(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
	}
}
