package usecase

import (
	"math/rand/v2"
	"sync"
)

// TimingDistributor hands out human-like delays between iterations. Draws
// cluster around the middle of [min, max] with an occasional uniform draw so
// the spacing never looks mechanical. Bounds may change while a session runs.
type TimingDistributor struct {
	mu  sync.Mutex
	min int
	max int
	rnd *rand.Rand
}

func NewTimingDistributor(minSeconds, maxSeconds int) *TimingDistributor {
	return NewTimingDistributorWithSource(minSeconds, maxSeconds, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewTimingDistributorWithSource is used by tests that need repeatable draws.
func NewTimingDistributorWithSource(minSeconds, maxSeconds int, src rand.Source) *TimingDistributor {
	t := &TimingDistributor{rnd: rand.New(src)}
	t.setBounds(minSeconds, maxSeconds)
	return t
}

// SetMinIntervalSeconds moves the lower bound; a larger value drags max along.
func (t *TimingDistributor) SetMinIntervalSeconds(v int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v < 0 {
		v = 0
	}
	t.min = v
	if t.max < t.min {
		t.max = t.min
	}
}

// SetMaxIntervalSeconds moves the upper bound; a smaller value drags min along.
func (t *TimingDistributor) SetMaxIntervalSeconds(v int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v < 0 {
		v = 0
	}
	t.max = v
	if t.min > t.max {
		t.min = t.max
	}
}

func (t *TimingDistributor) Bounds() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min, t.max
}

// Next returns a delay in whole seconds within [min, max] inclusive.
func (t *TimingDistributor) Next() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := t.max - t.min
	if span <= 0 {
		return t.min
	}
	// one in ten draws is uniform over the whole range
	if t.rnd.IntN(10) == 0 {
		return t.min + t.rnd.IntN(span+1)
	}
	// triangular around the midpoint; +1 keeps max reachable after flooring
	f := (t.rnd.Float64() + t.rnd.Float64()) / 2
	v := t.min + int(f*float64(span+1))
	if v > t.max {
		v = t.max
	}
	return v
}

func (t *TimingDistributor) setBounds(minSeconds, maxSeconds int) {
	if minSeconds < 0 {
		minSeconds = 0
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	t.min, t.max = minSeconds, maxSeconds
}
