package data

import (
	"math/rand/v2"
	"sync"
)

// PoolConfig controls the per-epoch order of utterance ids.
type PoolConfig struct {
	MaxEpoch      int  // 0 means unbounded
	Sorted        bool // keep corpus order (the corpus is already sorted)
	Shuffle       bool // shuffle each epoch; ignored while Sorted
	SortStopEpoch int  // after this many epochs sorting stops and order is shuffled; 0 disables
	Seed          uint64
}

// Pool is the working set of ids not yet handed out in the current epoch.
// It is the only state shared between batch workers; every method takes
// the lock so two callers never receive overlapping ids within an epoch.
type Pool struct {
	mu        sync.Mutex
	cfg       PoolConfig
	size      int
	remaining []int
	epoch     int
	sorted    bool
	rng       *rand.Rand
}

func NewPool(size int, cfg PoolConfig) *Pool {
	p := &Pool{
		cfg:  cfg,
		size: size,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	p.Reset()
	return p
}

// Reset restarts iteration from epoch 0.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch = 0
	p.sorted = p.cfg.Sorted
	p.refill()
}

// refill must be called with mu held.
func (p *Pool) refill() {
	p.remaining = newIndexList(p.size)
	if !p.sorted && (p.cfg.Shuffle || p.cfg.Sorted) {
		shuffleIndices(p.rng, p.remaining)
	}
}

// Take pops up to n ids. When the pool holds n ids or fewer, all of them are
// returned, the epoch counter advances, and the pool refills for the next
// epoch; newEpoch reports that. ok is false once MaxEpoch epochs have been
// handed out.
func (p *Pool) Take(n int) (ids []int, epoch int, newEpoch bool, ok bool) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.MaxEpoch > 0 && p.epoch >= p.cfg.MaxEpoch {
		return nil, p.epoch, false, false
	}

	if len(p.remaining) > n {
		ids = append([]int(nil), p.remaining[:n]...)
		p.remaining = p.remaining[n:]
		return ids, p.epoch, false, true
	}

	ids = p.remaining
	p.epoch++
	if p.cfg.SortStopEpoch > 0 && p.epoch >= p.cfg.SortStopEpoch {
		p.sorted = false
	}
	p.refill()
	return ids, p.epoch, true, true
}

// Remaining is the number of ids left in the current epoch.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remaining)
}

// Epoch is the number of completed epochs.
func (p *Pool) Epoch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Exhausted reports whether MaxEpoch epochs have been handed out.
func (p *Pool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.MaxEpoch > 0 && p.epoch >= p.cfg.MaxEpoch
}

// Sorted reports whether ids are still handed out in corpus order.
func (p *Pool) Sorted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sorted
}

func newIndexList(size int) []int {
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func shuffleIndices(rng *rand.Rand, indices []int) {
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}
