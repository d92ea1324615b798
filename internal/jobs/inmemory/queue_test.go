package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestQueueProcessesJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(4, 1, store, clock.NewFake(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)))

	called := make(chan struct{}, 1)
	err := q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.SyncJob)
		j.Result = map[string]int{"rows_updated": 3}
		called <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.SyncJob{Type: jobs.JobTypeSync, UploadID: "u1"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.JobID == "" {
		t.Fatal("Publish() did not assign a job id")
	}

	waitFor(t, called)
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got, err := store.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != jobs.JobStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not set")
	}
	if got.Result == nil {
		t.Error("Result not stored")
	}
}

func TestQueueFailsWithoutRetries(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(1, 1, store, nil)

	called := make(chan struct{}, 1)
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		called <- struct{}{}
		return errors.New("spreadsheet unavailable")
	})

	job := &jobs.SyncJob{Type: jobs.JobTypeSync}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, called)
	_ = q.Stop(ctx)

	got, _ := store.GetJob(ctx, job.JobID)
	if got.Status != jobs.JobStatusFailed || got.Error != "spreadsheet unavailable" {
		t.Errorf("job = %+v, want failed with error", got)
	}
}

func TestQueueRetries(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(2, 1, store, nil)
	q.RetryDelay = func(int) time.Duration { return 0 }

	calls := make(chan struct{}, 2)
	attempts := 0
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		attempts++
		defer func() { calls <- struct{}{} }()
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	job := &jobs.SyncJob{Type: jobs.JobTypeArchive, MaxRetries: 1}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, calls)
	waitFor(t, calls)
	_ = q.Stop(ctx)

	got, _ := store.GetJob(ctx, job.JobID)
	if got.Status != jobs.JobStatusCompleted || got.RetryCount != 1 {
		t.Errorf("job = %+v, want completed after one retry", got)
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(1, 1, nil, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Publish(context.Background(), &jobs.SyncJob{}); err == nil {
		t.Error("Publish() on closed queue succeeded")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("Start() on closed queue succeeded")
	}
}
