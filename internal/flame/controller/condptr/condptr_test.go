package condptr

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyWhenPredicateAlreadyTrue(t *testing.T) {
	c := New(5)
	got, err := c.Wait(context.Background(), func(v int) bool { return v == 5 })
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestWaitWakesOnSet(t *testing.T) {
	c := New(0)
	done := make(chan int, 1)
	go func() {
		v, err := c.Wait(context.Background(), func(v int) bool { return v == 42 })
		if err != nil {
			t.Error(err)
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	c.Set(1)
	c.Set(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Wait to wake once the predicate became true")
	}
}

func TestWaitReturnsErrorOnContextCancellation(t *testing.T) {
	c := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Wait(ctx, func(v int) bool { return v == 99 })
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Wait to unblock on context cancellation")
	}
}

func TestUpdateAppliesFnUnderLock(t *testing.T) {
	c := New(10)
	c.Update(func(v int) int { return v + 1 })
	if got := c.Get(); got != 11 {
		t.Fatalf("expected 11, got %d", got)
	}
}
