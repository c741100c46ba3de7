package chain

import (
	"context"
	"testing"
	"time"
)

func TestSimSourceAdvances(t *testing.T) {
	src := NewSimSource(10 * time.Millisecond)

	h1, err := src.Height(context.Background())
	if err != nil {
		t.Fatalf("Height failed: %v", err)
	}
	if h1 == 0 {
		t.Error("simulated height should start at 1")
	}

	time.Sleep(35 * time.Millisecond)

	h2, err := src.Height(context.Background())
	if err != nil {
		t.Fatalf("Height failed: %v", err)
	}
	if h2 <= h1 {
		t.Errorf("height should advance over time: got %d then %d", h1, h2)
	}
}

func TestManualSource(t *testing.T) {
	src := NewManualSource(100)

	h, err := src.Height(context.Background())
	if err != nil {
		t.Fatalf("Height failed: %v", err)
	}
	if h != 100 {
		t.Errorf("expected height 100, got %d", h)
	}

	src.Advance(50)
	h, _ = src.Height(context.Background())
	if h != 150 {
		t.Errorf("expected height 150 after advance, got %d", h)
	}

	src.Set(10)
	h, _ = src.Height(context.Background())
	if h != 10 {
		t.Errorf("expected height 10 after set, got %d", h)
	}
}
