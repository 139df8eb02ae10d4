package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justestif/go-listening-stats/internal/lock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestJob_Validate(t *testing.T) {
	run := func(context.Context) error { return nil }
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", Job{Name: "plays", Interval: time.Minute, Run: run}, false},
		{"missing name", Job{Interval: time.Minute, Run: run}, true},
		{"zero interval", Job{Name: "plays", Run: run}, true},
		{"missing run", Job{Name: "plays", Interval: time.Minute}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidJob) {
				t.Errorf("Validate() error = %v, want ErrInvalidJob", err)
			}
		})
	}
}

func TestJob_RunsOnStartAndEveryInterval(t *testing.T) {
	var runs atomic.Int32
	j := &Job{
		Name:       "plays",
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Serve(ctx) }()

	waitFor(t, func() bool { return runs.Load() >= 3 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestJob_NoRunOnStart(t *testing.T) {
	var runs atomic.Int32
	j := &Job{
		Name:     "daily",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = j.Serve(ctx)

	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestJob_ErrorsDoNotStopTheLoop(t *testing.T) {
	var runs atomic.Int32
	j := &Job{
		Name:       "plays",
		Interval:   5 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context) error {
			if runs.Add(1)%2 == 0 {
				return lock.ErrHeld
			}
			return errors.New("upstream down")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = j.Serve(ctx) }()

	waitFor(t, func() bool { return runs.Load() >= 4 })
}

func TestJob_String(t *testing.T) {
	j := &Job{Name: "daily"}
	if got := j.String(); got != "job:daily" {
		t.Errorf("String() = %q, want %q", got, "job:daily")
	}
}

func TestTree_RestartsPanickingJob(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree("test", cfg)

	var runs atomic.Int32
	_, err := tree.AddJob(&Job{
		Name:       "flaky",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(context.Context) error {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.Root().ServeBackground(ctx)

	waitFor(t, func() bool { return runs.Load() >= 2 })
	cancel()
	<-errCh
}

func TestTree_AddJobRejectsInvalid(t *testing.T) {
	tree := NewTree("test", DefaultTreeConfig())
	if _, err := tree.AddJob(&Job{Name: "broken"}); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("AddJob() error = %v, want ErrInvalidJob", err)
	}
}
