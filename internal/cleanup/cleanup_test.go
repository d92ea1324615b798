package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockArchives struct {
	PurgeFunc func(ctx context.Context, maxAge time.Duration) (int, error)
}

func (m *mockArchives) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	return m.PurgeFunc(ctx, maxAge)
}

type mockUploads struct {
	PurgeFunc func(ctx context.Context, maxAge time.Duration) int
}

func (m *mockUploads) Purge(ctx context.Context, maxAge time.Duration) int {
	return m.PurgeFunc(ctx, maxAge)
}

func TestCleanerRun(t *testing.T) {
	var gotAges []time.Duration
	archives := &mockArchives{PurgeFunc: func(ctx context.Context, maxAge time.Duration) (int, error) {
		gotAges = append(gotAges, maxAge)
		return 2, nil
	}}
	uploads := &mockUploads{PurgeFunc: func(ctx context.Context, maxAge time.Duration) int {
		gotAges = append(gotAges, maxAge)
		return 1
	}}

	res, err := New(archives, uploads, time.Hour).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res != (Result{Archives: 2, Uploads: 1}) {
		t.Errorf("Run() = %+v", res)
	}
	for _, age := range gotAges {
		if age != time.Hour {
			t.Errorf("purge called with %v, want 1h", age)
		}
	}
}

func TestCleanerRunArchiveError(t *testing.T) {
	archives := &mockArchives{PurgeFunc: func(ctx context.Context, maxAge time.Duration) (int, error) {
		return 0, errors.New("permission denied")
	}}
	uploads := &mockUploads{PurgeFunc: func(ctx context.Context, maxAge time.Duration) int { return 3 }}

	res, err := New(archives, uploads, time.Hour).Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if res.Uploads != 3 {
		t.Errorf("uploads purged = %d, want 3 even when archives fail", res.Uploads)
	}
}

func TestCleanerRunNilPurgers(t *testing.T) {
	res, err := New(nil, nil, time.Hour).Run(context.Background())
	if err != nil || res != (Result{}) {
		t.Errorf("Run() = %+v, %v", res, err)
	}
}

func TestSchedule(t *testing.T) {
	c := New(nil, nil, time.Hour)

	sched, err := c.Schedule(context.Background(), "@every 15m")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if n := len(sched.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	<-sched.Stop().Done()

	if _, err := c.Schedule(context.Background(), "every fortnight"); err == nil {
		t.Error("Schedule() accepted an invalid cron schedule")
	}
}
