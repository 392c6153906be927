package scheduler

import (
	"testing"
	"time"
)

func TestScheduleInAndRunDue(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.Now = func() time.Time { return now }

	var fired []string
	s.ScheduleIn(100*time.Millisecond, func(id TaskID, name string, ud interface{}) {
		fired = append(fired, name)
	}, "a", nil)
	s.ScheduleIn(50*time.Millisecond, func(id TaskID, name string, ud interface{}) {
		fired = append(fired, name)
	}, "b", nil)

	if n := s.RunDue(); n != 0 {
		t.Fatalf("expected nothing due yet, ran %d", n)
	}

	now = now.Add(60 * time.Millisecond)
	if n := s.RunDue(); n != 1 || fired[0] != "b" {
		t.Fatalf("expected task b to fire, got %v (n=%d)", fired, n)
	}

	now = now.Add(100 * time.Millisecond)
	if n := s.RunDue(); n != 1 || fired[1] != "a" {
		t.Fatalf("expected task a to fire, got %v (n=%d)", fired, n)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New()
	fired := false
	id := s.ScheduleIn(time.Millisecond, func(TaskID, string, interface{}) { fired = true }, "x", nil)
	s.Cancel(id)
	s.Cancel(id) // idempotent, must not panic
	s.Cancel(TaskID(9999))

	s.Now = func() time.Time { return time.Now().Add(time.Hour) }
	s.RunDue()
	if fired {
		t.Fatalf("canceled task should not have fired")
	}
}

func TestPendingAndNextDeadline(t *testing.T) {
	s := New()
	if _, ok := s.NextDeadline(); ok {
		t.Fatalf("expected no deadline on empty scheduler")
	}
	s.ScheduleIn(10*time.Millisecond, func(TaskID, string, interface{}) {}, "x", nil)
	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending task")
	}
	if _, ok := s.NextDeadline(); !ok {
		t.Fatalf("expected a deadline")
	}
}
