package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

type fakeSweeper struct {
	calls    atomic.Int32
	deadline atomic.Bool
	err      error
}

func (f *fakeSweeper) SweepTimeouts(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		f.deadline.Store(true)
	}
	return 2, f.err
}

var testLogger = log.NewStdLogger(io.Discard)

func TestNewTimeoutSweeper_InvalidSpec(t *testing.T) {
	if _, err := NewTimeoutSweeper(&fakeSweeper{}, "every now and then", time.Minute, testLogger); err == nil {
		t.Fatal("expected an error for a malformed schedule")
	}
}

func TestTimeoutSweeper_RunOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"sweep error", errors.New("db down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSweeper{err: tt.err}
			s, err := NewTimeoutSweeper(f, "0 */5 * * * *", time.Minute, testLogger)
			if err != nil {
				t.Fatalf("NewTimeoutSweeper: %v", err)
			}
			s.RunOnce()
			if f.calls.Load() != 1 {
				t.Errorf("expected 1 sweep, got %d", f.calls.Load())
			}
			if !f.deadline.Load() {
				t.Error("expected the sweep context to carry a deadline")
			}
		})
	}
}

func TestTimeoutSweeper_Schedule(t *testing.T) {
	f := &fakeSweeper{}
	s, err := NewTimeoutSweeper(f, "* * * * * *", time.Second, testLogger)
	if err != nil {
		t.Fatalf("NewTimeoutSweeper: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()

	if f.calls.Load() == 0 {
		t.Fatal("expected the schedule to trigger a sweep")
	}
}
