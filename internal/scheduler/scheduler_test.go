package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/BookingPipe/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("noop", "* * * * *", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("bad", "every minute", func(context.Context) error { return nil }); err == nil {
		t.Error("Expected error for an invalid expression")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 job, got %d", s.Len())
	}
	s.Start()
	s.Stop()
}

type fakePurger struct {
	cutoff time.Time
	err    error
}

func (f *fakePurger) PurgeInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestPurgeJobCutoff(t *testing.T) {
	now := time.Date(2025, 10, 23, 3, 0, 0, 0, time.UTC)
	p := &fakePurger{}
	job := PurgeJob(p, 48*time.Hour, func() time.Time { return now })
	if err := job(context.Background()); err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !p.cutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, p.cutoff)
	}

	p.err = errors.New("db down")
	if err := job(context.Background()); err == nil {
		t.Error("expected purge error to be returned")
	}
}

func TestPurgeJobAgainstMemoryDedup(t *testing.T) {
	d := store.NewMemoryDedup()
	ctx := context.Background()
	if _, err := d.RecordInbound(ctx, "m1", "+15551234567"); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	job := PurgeJob(d, time.Hour, func() time.Time { return time.Now().Add(2 * time.Hour) })
	if err := job(ctx); err != nil {
		t.Fatalf("job failed: %v", err)
	}
	fresh, err := d.RecordInbound(ctx, "m1", "+15551234567")
	if err != nil || !fresh {
		t.Errorf("expected m1 to be forgotten after purge, got fresh=%v err=%v", fresh, err)
	}
}

func TestAddInboundPurgeDefaultsRetention(t *testing.T) {
	s := NewScheduler()
	if err := s.AddInboundPurge(DefaultPurgeSchedule, &fakePurger{}, 0); err != nil {
		t.Fatalf("AddInboundPurge failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected purge job to be scheduled, got %d", s.Len())
	}
}
