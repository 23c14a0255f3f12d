package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/hrygo/dialogued/store"
)

// fakeDriver counts how many times each bounded delete was called and the
// limit it was called with, verifying the scheduler drains in batches.
type fakeDriver struct {
	store.Driver
	remaining int
	calls     int
}

func (f *fakeDriver) DeleteExpiredSessions(_ context.Context, _ int64, limit int) (int, error) {
	f.calls++
	n := f.remaining
	if n > limit {
		n = limit
	}
	f.remaining -= n
	return n, nil
}
func (f *fakeDriver) DeleteOldTurns(_ context.Context, _ int64, _ int) (int, error)              { return 0, nil }
func (f *fakeDriver) DeleteOldAmbiguities(_ context.Context, _ int64, _ int) (int, error)         { return 0, nil }
func (f *fakeDriver) DeleteOldTransfers(_ context.Context, _ int64, _ int) (int, error)           { return 0, nil }
func (f *fakeDriver) DeleteExpiredUserContexts(_ context.Context, _ int64, _ int) (int, error)    { return 0, nil }
func (f *fakeDriver) DeleteExpiredConfirmations(_ context.Context, _ int64, _ int) (int, error)   { return 0, nil }

func TestSweepDrainsInBatches(t *testing.T) {
	fd := &fakeDriver{remaining: 1200}
	s := New(store.New(fd), time.Hour, 24*time.Hour, 90*24*time.Hour)

	s.sweep(context.Background())

	if fd.remaining != 0 {
		t.Fatalf("expected all rows drained, %d remaining", fd.remaining)
	}
	if fd.calls != 3 { // 500 + 500 + 200, last call < batchSize stops the loop
		t.Fatalf("expected 3 batched calls, got %d", fd.calls)
	}
}

func TestSweepStopsOnContextCancel(t *testing.T) {
	fd := &fakeDriver{remaining: 10}
	s := New(store.New(fd), time.Hour, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.sweep(ctx) // must return promptly, not hang or panic
}
