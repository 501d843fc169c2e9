// Package behavior fakes the dwell a person spends on a page after it loads.
package behavior

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"simctl/internal/domain"
)

// Simulator sleeps through a randomized sequence of reading and scrolling
// pauses. Longer content and slower devices dwell longer.
type Simulator struct {
	// Unit scales every pause; one unit is a millisecond in production.
	Unit   time.Duration
	logger *zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(logger *zerolog.Logger) *Simulator {
	return NewSimulatorWithSource(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed), logger)
}

func NewSimulatorWithSource(src rand.Source, logger *zerolog.Logger) *Simulator {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Simulator{Unit: time.Millisecond, logger: logger, rng: rand.New(src)}
}

// Plan returns the pauses Simulate would sleep through, in units.
func (s *Simulator) Plan(profile domain.BrowsingProfile, contentLength int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// initial look at the page
	steps := []int{800 + s.rng.IntN(1200)}
	scrolls := 1 + contentLength/25
	if profile.IsMobile() {
		scrolls++
	}
	for range scrolls {
		steps = append(steps, 300+s.rng.IntN(900))
	}
	// occasional longer read
	if s.rng.IntN(4) == 0 {
		steps = append(steps, 2000+s.rng.IntN(3000))
	}
	factor := 100
	switch profile.DeviceTier {
	case domain.TierBudget:
		factor = 130
	case domain.TierFlagship:
		factor = 85
	}
	for i := range steps {
		steps[i] = steps[i] * factor / 100
	}
	return steps
}

func (s *Simulator) Simulate(ctx context.Context, profile domain.BrowsingProfile, contentLength int) error {
	plan := s.Plan(profile, contentLength)
	var total time.Duration
	for _, units := range plan {
		d := time.Duration(units) * s.Unit
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		total += d
	}
	s.logger.Debug().Int("steps", len(plan)).Dur("dwell", total).Msg("behavior simulated")
	return nil
}
