package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type mockSessionDeleter struct {
	deleteExpiredFn func(ctx context.Context) (int64, error)
}

func (m *mockSessionDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRun_DeletesExpiredSessions(t *testing.T) {
	called := false
	deleter := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			called = true
			return 3, nil
		},
	}
	job := NewCleanupJob(deleter, discardLogger())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("DeleteExpired should be called")
	}
}

func TestRun_NothingToDelete_Succeeds(t *testing.T) {
	job := NewCleanupJob(&mockSessionDeleter{}, discardLogger())

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_DeleteError_Propagated(t *testing.T) {
	deleter := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	job := NewCleanupJob(deleter, discardLogger())

	if err := job.Run(context.Background()); err == nil {
		t.Error("expected error from failed delete")
	}
}

func TestRunPeriodic_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var calls atomic.Int64
	deleter := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			calls.Add(1)
			return 0, nil
		},
	}
	job := NewCleanupJob(deleter, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.RunPeriodic(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回目の実行を待つ
	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial run did not happen")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop after context cancel")
	}
}
