package system

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recorder struct {
	name     string
	events   *[]string
	startErr error
	stopErr  error
}

func (r recorder) Name() string { return r.name }

func (r recorder) Start(context.Context) error {
	*r.events = append(*r.events, "start "+r.name)
	return r.startErr
}

func (r recorder) Stop(context.Context) error {
	*r.events = append(*r.events, "stop "+r.name)
	return r.stopErr
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recorder{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(recorder{name: "late", events: &events}); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	want := "start a,start b,start c,stop c,stop b,stop a"
	if got := strings.Join(events, ","); got != want {
		t.Fatalf("events = %q, want %q", got, want)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(recorder{name: "x", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recorder{name: "x", events: &events}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := m.Register(nil); err == nil {
		t.Fatal("expected nil registration to fail")
	}
	if got := m.Services(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("services = %v", got)
	}
}

func TestManagerRollsBackFailedStart(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(recorder{name: "a", events: &events})
	_ = m.Register(recorder{name: "b", events: &events, startErr: errors.New("boom")})
	_ = m.Register(recorder{name: "c", events: &events})

	err := m.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start b") {
		t.Fatalf("expected start b failure, got %v", err)
	}
	want := "start a,start b,stop a"
	if got := strings.Join(events, ","); got != want {
		t.Fatalf("events = %q, want %q", got, want)
	}
}

func TestManagerJoinsStopErrors(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(recorder{name: "a", events: &events, stopErr: errors.New("a failed")})
	_ = m.Register(recorder{name: "b", events: &events, stopErr: errors.New("b failed")})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := m.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "a failed") || !strings.Contains(err.Error(), "b failed") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}
