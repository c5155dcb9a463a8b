package storage

import (
	"errors"
	"testing"
	"time"
)

func TestReminderStateMachine(t *testing.T) {
	s, clock := openClockStore(t)

	id, err := s.CreateReminder("llamar a mamá", nil, 1, nil)
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	r, _ := s.GetReminder(id)
	if r.Status != ReminderPending || r.CompletedAt != nil {
		t.Fatalf("new reminder = %+v", r)
	}

	clock.Advance(time.Hour)
	if err := s.CompleteReminder(id); err != nil {
		t.Fatalf("CompleteReminder: %v", err)
	}
	r, _ = s.GetReminder(id)
	if r.Status != ReminderCompleted || r.CompletedAt == nil || !r.CompletedAt.Equal(clock.Now()) {
		t.Errorf("completed reminder = %+v", r)
	}

	stamp := *r.CompletedAt
	clock.Advance(time.Hour)
	if err := s.CompleteReminder(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second complete: expected ErrInvalidState, got %v", err)
	}
	if err := s.CancelReminder(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel completed: expected ErrInvalidState, got %v", err)
	}
	r, _ = s.GetReminder(id)
	if r.Status != ReminderCompleted || !r.CompletedAt.Equal(stamp) {
		t.Errorf("rejected transition mutated reminder: %+v", r)
	}

	if err := s.CompleteReminder(id + 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing reminder: expected ErrNotFound, got %v", err)
	}
}

func TestCancelReminder(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateReminder("comprar pan", nil, 0, ptr("panadería"))

	if err := s.CancelReminder(id); err != nil {
		t.Fatalf("CancelReminder: %v", err)
	}
	r, _ := s.GetReminder(id)
	if r.Status != ReminderCancelled || r.CompletedAt != nil {
		t.Errorf("cancelled reminder = %+v", r)
	}
	if r.Notes == nil || *r.Notes != "panadería" {
		t.Errorf("notes = %v", r.Notes)
	}
	if err := s.CompleteReminder(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("complete cancelled: expected ErrInvalidState, got %v", err)
	}

	pending, _ := s.GetPendingReminders()
	if len(pending) != 0 {
		t.Errorf("cancelled reminder still pending: %+v", pending)
	}
}

func TestPendingReminderOrder(t *testing.T) {
	s, clock := openClockStore(t)
	base := clock.Now()

	unscheduled, _ := s.CreateReminder("sin fecha", nil, 5, nil)
	late, _ := s.CreateReminder("tarde", ptr(base.Add(2*time.Hour)), 0, nil)
	earlyLow, _ := s.CreateReminder("temprano baja", ptr(base.Add(time.Hour)), 0, nil)
	earlyHigh, _ := s.CreateReminder("temprano alta", ptr(base.Add(time.Hour)), 2, nil)
	done, _ := s.CreateReminder("hecho", ptr(base), 9, nil)
	s.CompleteReminder(done)

	pending, err := s.GetPendingReminders()
	if err != nil {
		t.Fatalf("GetPendingReminders: %v", err)
	}
	want := []int64{earlyHigh, earlyLow, late, unscheduled}
	if len(pending) != len(want) {
		t.Fatalf("got %d pending, want %d", len(pending), len(want))
	}
	for i, id := range want {
		if pending[i].ID != id {
			t.Errorf("position %d: got %q, want id %d", i, pending[i].Task, id)
		}
	}
}

func TestReminderCounts(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.CreateReminder("a", nil, 0, nil)
	b, _ := s.CreateReminder("b", nil, 0, nil)
	s.CreateReminder("c", nil, 0, nil)
	s.CompleteReminder(a)
	s.CancelReminder(b)

	counts, err := s.ReminderCounts()
	if err != nil {
		t.Fatalf("ReminderCounts: %v", err)
	}
	if counts[ReminderPending] != 1 || counts[ReminderCompleted] != 1 || counts[ReminderCancelled] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if _, err := s.CreateReminder("", nil, 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty task: expected ErrInvalidArgument, got %v", err)
	}
}
