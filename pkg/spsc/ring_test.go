package spsc

import (
	"sync"
	"testing"

	"github.com/texelec/z1core"
)

func TestPushPopOrderPreserved(t *testing.T) {
	r := NewRing[int](8)
	for i := 0; i < 5; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d failed unexpectedly", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty ring")
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	r := NewRing[int](4) // usable capacity 3
	for i := 0; i < 3; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if r.Push(99) {
		t.Fatal("expected push to fail once full")
	}
	if !r.Full() {
		t.Fatal("expected Full() true")
	}
}

func TestWrapAroundPreservesFIFOOrder(t *testing.T) {
	r := NewRing[int](4)
	for round := 0; round < 10; round++ {
		if !r.Push(round) {
			t.Fatalf("round %d: push failed", round)
		}
		v, ok := r.Pop()
		if !ok || v != round {
			t.Fatalf("round %d: expected %d got %d ok=%v", round, round, v, ok)
		}
	}
}

func TestCountReflectsOccupancy(t *testing.T) {
	r := NewRing[int](8)
	if r.Count() != 0 {
		t.Fatalf("expected 0, got %d", r.Count())
	}
	r.Push(1)
	r.Push(2)
	if r.Count() != 2 {
		t.Fatalf("expected 2, got %d", r.Count())
	}
	r.Pop()
	if r.Count() != 1 {
		t.Fatalf("expected 1, got %d", r.Count())
	}
}

func TestConcurrentProducerConsumerNeverLosesOrDuplicates(t *testing.T) {
	const n = 200_000
	r := NewRing[int](256)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !r.Push(i) {
				// spin until the consumer frees a slot
			}
		}
	}()

	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(received) < n {
			if v, ok := r.Pop(); ok {
				received = append(received, v)
			}
		}
	}()

	wg.Wait()

	for i, v := range received {
		if v != i {
			t.Fatalf("order violated at index %d: got %d", i, v)
		}
	}
}

func TestRingOfFramesCarriesPayload(t *testing.T) {
	r := NewRing[z1core.Frame](8)
	f := z1core.Frame{Src: 3, Dest: 16, Payload: []uint16{0xBEEF}}
	if !r.Push(f) {
		t.Fatal("push failed")
	}
	got, ok := r.Pop()
	if !ok || got.Payload[0] != 0xBEEF {
		t.Fatalf("unexpected frame: %+v ok=%v", got, ok)
	}
}
