package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(Config{}, time.Minute)
	a, b := m.Create(), m.Create()
	if a.ID() == b.ID() {
		t.Fatalf("sessions share an id")
	}
	if got, ok := m.Get(a.ID()); !ok || got != a {
		t.Fatalf("get = %v, %v", got, ok)
	}
	if err := m.Close(a.ID()); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get(a.ID()); ok {
		t.Fatalf("closed session still registered")
	}
	if err := m.Close(a.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("close twice: %v", err)
	}
	if _, err := wait(t, a.AddFiles(inputs())); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed session accepted work: %v", err)
	}
	m.CloseAll()
	if m.Len() != 0 {
		t.Fatalf("sessions left: %d", m.Len())
	}
}

func TestManagerSweep(t *testing.T) {
	m := NewManager(Config{}, time.Minute)
	idle := m.Create()
	busy := m.Create()
	busy.touch()

	if n := m.Sweep(time.Now()); n != 0 {
		t.Fatalf("swept %d fresh sessions", n)
	}
	idle.lastUsed.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	if n := m.Sweep(time.Now()); n != 1 {
		t.Fatalf("swept %d", n)
	}
	if _, ok := m.Get(idle.ID()); ok {
		t.Fatalf("idle session kept")
	}
	if _, ok := m.Get(busy.ID()); !ok {
		t.Fatalf("busy session swept")
	}
}

func TestManagerRunClosesOnCancel(t *testing.T) {
	m := NewManager(Config{}, time.Minute)
	m.Create()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	if m.Len() != 0 {
		t.Fatalf("sessions left after Run: %d", m.Len())
	}
}

func TestManagerRunWithoutInterval(t *testing.T) {
	for _, idle := range []time.Duration{0, 10 * time.Millisecond} {
		m := NewManager(Config{}, idle)
		s := m.Create()
		s.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			m.Run(ctx, 0)
			close(done)
		}()
		if idle > 0 {
			deadline := time.Now().Add(5 * time.Second)
			for m.Len() != 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			if m.Len() != 0 {
				t.Fatalf("idle %v: Run never swept", idle)
			}
		}
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("idle %v: Run did not return", idle)
		}
		if m.Len() != 0 {
			t.Fatalf("idle %v: sessions left after Run: %d", idle, m.Len())
		}
	}
}
