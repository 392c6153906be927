package session

import (
	"testing"
	"time"
)

func TestCreate(t *testing.T) {
	s := New()
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	if err := s.Create("AA"); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	name, set := s.Name()
	if !set || name != "20240101AA" {
		t.Fatalf("unexpected name %q set=%v", name, set)
	}
	if err := s.Create("BB"); err != ErrAlreadySet {
		t.Fatalf("expected ErrAlreadySet, got %v", err)
	}
}

func TestCreateBadSuffix(t *testing.T) {
	s := New()
	if err := s.Create("A"); err != ErrBadSuffix {
		t.Fatalf("expected ErrBadSuffix, got %v", err)
	}
	if err := s.Create("ABC"); err != ErrBadSuffix {
		t.Fatalf("expected ErrBadSuffix, got %v", err)
	}
}

func TestSetNameBadLength(t *testing.T) {
	s := New()
	if err := s.SetName("short"); err != ErrBadName {
		t.Fatalf("expected ErrBadName, got %v", err)
	}
}

func TestOpenListenerFiresOnce(t *testing.T) {
	s := New()
	var calls []string
	s.AddOpenListener(func(name string) { calls = append(calls, name) })

	if err := s.SetName("20240101AA"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	// Listener registered after the name is set fires synchronously too.
	s.AddOpenListener(func(name string) { calls = append(calls, name) })

	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %v", len(calls), calls)
	}
	for _, c := range calls {
		if c != "20240101AA" {
			t.Fatalf("unexpected call arg %q", c)
		}
	}

	if err := s.SetName("20240102BB"); err != ErrAlreadySet {
		t.Fatalf("expected ErrAlreadySet, got %v", err)
	}
}

func TestNextSeqAdvance(t *testing.T) {
	s := New()
	if s.NextSeq() != 1 {
		t.Fatalf("expected initial next seq 1, got %d", s.NextSeq())
	}
	s.Advance(3)
	if s.NextSeq() != 4 {
		t.Fatalf("expected next seq 4, got %d", s.NextSeq())
	}
	s.AdvanceTo(2)
	if s.NextSeq() != 4 {
		t.Fatalf("AdvanceTo should not move backward, got %d", s.NextSeq())
	}
	s.AdvanceTo(10)
	if s.NextSeq() != 10 {
		t.Fatalf("expected next seq 10, got %d", s.NextSeq())
	}
}
