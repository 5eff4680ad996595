package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if _, err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if _, err := s.AddJob("@every 5m", func() {}); err != nil {
		t.Errorf("Expected descriptor to be accepted, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 jobs, got %d", s.Len())
	}
}

func TestSchedulerAddJob_Invalid(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if _, err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
	// seconds field is not accepted
	if _, err := s.AddJob("0 * * * * *", func() {}); err == nil {
		t.Error("Expected error for 6-field expression")
	}
}

func TestSchedulerEvery(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var runs atomic.Int32
	if _, err := s.Every(time.Second, func() { runs.Add(1) }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("Expected job to run at least once")
	}
}

func TestSchedulerEvery_RejectsSubSecond(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if _, err := s.Every(10*time.Millisecond, func() {}); err == nil {
		t.Error("Expected error for sub-second interval")
	}
}

func TestSchedulerRemove(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	id, err := s.Every(time.Hour, func() {})
	if err != nil {
		t.Fatalf("Every: %v", err)
	}
	s.Remove(id)
	s.Remove(id)
	if s.Len() != 0 {
		t.Errorf("Expected no jobs after Remove, got %d", s.Len())
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var after atomic.Int32
	if _, err := s.Every(time.Second, func() { panic("boom") }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if _, err := s.Every(time.Second, func() { after.Add(1) }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for after.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if after.Load() == 0 {
		t.Fatal("Expected scheduler to keep running after a panicking job")
	}
}
