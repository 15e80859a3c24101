package oneshot

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveOnce(t *testing.T) {
	p := New[int]()
	if !p.Resolve(1, nil) {
		t.Fatal("first Resolve lost")
	}
	if p.Resolve(2, nil) {
		t.Error("second Resolve won")
	}
	p.Close()

	v, err := p.Wait(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Wait = %d, %v, want 1, nil", v, err)
	}
	if _, err := p.Wait(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Errorf("second Wait err = %v, want ErrConsumed", err)
	}
}

func TestCloseWithoutValue(t *testing.T) {
	p := New[string]()
	p.Close()
	if _, err := p.Wait(context.Background()); !errors.Is(err, ErrDropped) {
		t.Errorf("err = %v, want ErrDropped", err)
	}
}

func TestWaitBlocksUntilResolved(t *testing.T) {
	p := New[int]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Resolve(7, nil)
	}()
	v, err := p.Wait(context.Background())
	if err != nil || v != 7 {
		t.Errorf("Wait = %d, %v, want 7, nil", v, err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	p := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestAbandon(t *testing.T) {
	p := New[int]()
	if p.IsAbandoned() {
		t.Fatal("new promise reports abandoned")
	}
	p.Abandon()
	p.Abandon()
	if !p.IsAbandoned() {
		t.Error("IsAbandoned = false after Abandon")
	}
	select {
	case <-p.Abandoned():
	default:
		t.Error("Abandoned channel not closed")
	}
}
