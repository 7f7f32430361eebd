package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesWithinBurst(t *testing.T) {
	tb := NewTokenBucket(10, 5)
	for i := 0; i < 5; i++ {
		if !tb.Allow(1) {
			t.Fatalf("expected token %d to be available", i)
		}
	}
	if tb.Allow(1) {
		t.Fatal("expected bucket to be exhausted after burst")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(1000, 1)
	if !tb.Allow(1) {
		t.Fatal("expected initial token to be available")
	}
	time.Sleep(20 * time.Millisecond)
	if !tb.Allow(1) {
		t.Fatal("expected bucket to have refilled")
	}
}

func TestWaitReturnsOnCancel(t *testing.T) {
	tb := NewTokenBucket(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx, 1); err == nil {
		t.Fatal("expected Wait to return an error on context cancellation")
	}
}
