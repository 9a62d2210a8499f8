package timeout

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunReturnsResult(t *testing.T) {
	got, err := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Run = %d, want 42", got)
	}
}

func TestRunPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
}

func TestRunTimesOut(t *testing.T) {
	_, err := Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("Run error = %v, want ErrTimedOut", err)
	}
}

func TestRunParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestLoopEscalates(t *testing.T) {
	var deadlines []time.Duration
	start := 10 * time.Millisecond
	_, err := Loop(context.Background(), start, 40*time.Millisecond, start,
		func(ctx context.Context) (int, error) {
			dl, ok := ctx.Deadline()
			if !ok {
				t.Fatal("no deadline set")
			}
			deadlines = append(deadlines, time.Until(dl))
			<-ctx.Done()
			return 0, ctx.Err()
		})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Loop error = %v, want ErrTimedOut", err)
	}
	// 10, 20, 30, 40 ms deadlines, four attempts in all.
	if len(deadlines) != 4 {
		t.Errorf("Loop made %d attempts, want 4", len(deadlines))
	}
}

func TestLoopStopsOnSuccess(t *testing.T) {
	calls := 0
	got, err := Loop(context.Background(), 10*time.Millisecond, 50*time.Millisecond, 10*time.Millisecond,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 2 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "done", nil
		})
	if err != nil {
		t.Fatalf("Loop failed: %v", err)
	}
	if got != "done" || calls != 2 {
		t.Errorf("Loop = %q after %d calls, want \"done\" after 2", got, calls)
	}
}
