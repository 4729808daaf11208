package data

import (
	"slices"
	"sync"
	"testing"
)

func TestPoolSortedEpochs(t *testing.T) {
	p := NewPool(5, PoolConfig{MaxEpoch: 2, Sorted: true})

	ids, epoch, newEpoch, ok := p.Take(2)
	if !ok || newEpoch || epoch != 0 || !slices.Equal(ids, []int{0, 1}) {
		t.Fatalf("first take = %v %d %v %v", ids, epoch, newEpoch, ok)
	}
	ids, _, _, _ = p.Take(2)
	if !slices.Equal(ids, []int{2, 3}) {
		t.Fatalf("second take = %v", ids)
	}
	ids, epoch, newEpoch, ok = p.Take(2)
	if !ok || !newEpoch || epoch != 1 || !slices.Equal(ids, []int{4}) {
		t.Fatalf("epoch tail = %v %d %v %v", ids, epoch, newEpoch, ok)
	}
	if p.Remaining() != 5 {
		t.Fatalf("Remaining after refill = %d", p.Remaining())
	}

	for {
		_, _, newEpoch, ok = p.Take(2)
		if !ok {
			t.Fatal("pool ended before epoch 2 finished")
		}
		if newEpoch {
			break
		}
	}
	if _, _, _, ok := p.Take(2); ok || !p.Exhausted() {
		t.Fatal("Take after MaxEpoch should fail")
	}
	if p.Epoch() != 2 {
		t.Errorf("Epoch = %d", p.Epoch())
	}

	p.Reset()
	if p.Epoch() != 0 || p.Remaining() != 5 || p.Exhausted() {
		t.Errorf("Reset: epoch %d remaining %d", p.Epoch(), p.Remaining())
	}
}

func TestPoolShuffleCoversEveryID(t *testing.T) {
	p := NewPool(20, PoolConfig{Shuffle: true, Seed: 7})
	var seen []int
	for {
		ids, _, newEpoch, _ := p.Take(3)
		seen = append(seen, ids...)
		if newEpoch {
			break
		}
	}
	slices.Sort(seen)
	if !slices.Equal(seen, newIndexList(20)) {
		t.Fatalf("epoch ids = %v", seen)
	}
}

func TestPoolSortStopEpoch(t *testing.T) {
	p := NewPool(50, PoolConfig{Sorted: true, SortStopEpoch: 1, Seed: 3})
	ids, _, newEpoch, _ := p.Take(50)
	if !newEpoch || !slices.Equal(ids, newIndexList(50)) {
		t.Fatal("first epoch should be sorted and complete")
	}
	if p.Sorted() {
		t.Fatal("sorting should stop after SortStopEpoch")
	}
	ids, _, _, _ = p.Take(50)
	if slices.Equal(ids, newIndexList(50)) {
		t.Error("second epoch kept sorted order")
	}
}

func TestPoolConcurrentTakesAreDisjoint(t *testing.T) {
	const size = 1000
	p := NewPool(size, PoolConfig{MaxEpoch: 1, Shuffle: true, Seed: 1})

	var mu sync.Mutex
	var all []int
	var wg sync.WaitGroup
	wg.Add(8)
	for w := 0; w < 8; w++ {
		go func() {
			defer wg.Done()
			for {
				ids, _, _, ok := p.Take(7)
				if !ok {
					return
				}
				mu.Lock()
				all = append(all, ids...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	slices.Sort(all)
	if !slices.Equal(all, newIndexList(size)) {
		t.Fatalf("got %d ids, want each of %d exactly once", len(all), size)
	}
}
