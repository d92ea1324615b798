package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/jobs"
	"github.com/google/go-cmp/cmp"
)

func TestStoreListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	seed := []*jobs.SyncJob{
		{JobID: "a", Type: jobs.JobTypeSync, UploadID: "u1", Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "b", Type: jobs.JobTypeArchive, UploadID: "u1", Status: jobs.JobStatusPending, CreatedAt: base.Add(time.Minute)},
		{JobID: "c", Type: jobs.JobTypeSync, UploadID: "u2", Status: jobs.JobStatusFailed, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, j := range seed {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by type", jobs.JobFilter{Type: jobs.JobTypeSync}, []string{"c", "a"}},
		{"by upload", jobs.JobFilter{UploadID: "u1"}, []string{"b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusPending}, []string{"b"}},
		{"limit", jobs.JobFilter{Limit: 1}, []string{"c"}},
		{"offset", jobs.JobFilter{Offset: 1}, []string{"b", "a"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreCopiesJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.SyncJob{JobID: "a", Status: jobs.JobStatusPending}
	_ = s.SaveJob(ctx, job)
	job.Status = jobs.JobStatusRunning

	got, _ := s.GetJob(ctx, "a")
	if got.Status != jobs.JobStatusPending {
		t.Errorf("stored job changed through caller pointer: %q", got.Status)
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.SaveJob(ctx, &jobs.SyncJob{}); err == nil {
		t.Error("SaveJob() without id succeeded")
	}
	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
	if err := s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, "x"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("UpdateJobStatus() error = %v, want ErrJobNotFound", err)
	}

	_ = s.SaveJob(ctx, &jobs.SyncJob{JobID: "a", Status: jobs.JobStatusRunning})
	if err := s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	got, _ := s.GetJob(ctx, "a")
	if got.Status != jobs.JobStatusFailed || got.Error != "boom" {
		t.Errorf("job = %+v", got)
	}
}
