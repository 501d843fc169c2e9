package behavior

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"simctl/internal/domain"
)

func TestPlanShape(t *testing.T) {
	s := NewSimulatorWithSource(rand.NewPCG(7, 7), nil)
	desktop := domain.BrowsingProfile{DeviceType: domain.DeviceDesktop, DeviceTier: domain.TierMidRange}
	mobile := domain.BrowsingProfile{DeviceType: domain.DeviceMobile, DeviceTier: domain.TierMidRange}

	for i := 0; i < 200; i++ {
		p := s.Plan(desktop, 50)
		// initial look + 3 scrolls, optionally one long read
		if len(p) != 4 && len(p) != 5 {
			t.Fatalf("desktop plan length %d", len(p))
		}
		if p[0] < 800 || p[0] >= 2000 {
			t.Fatalf("initial pause %d out of range", p[0])
		}
		if m := s.Plan(mobile, 50); len(m) != 5 && len(m) != 6 {
			t.Fatalf("mobile plan length %d", len(m))
		}
	}
}

func TestPlanTierScaling(t *testing.T) {
	mid := NewSimulatorWithSource(rand.NewPCG(1, 1), nil).Plan(domain.BrowsingProfile{DeviceTier: domain.TierMidRange}, 0)
	budget := NewSimulatorWithSource(rand.NewPCG(1, 1), nil).Plan(domain.BrowsingProfile{DeviceTier: domain.TierBudget}, 0)
	flagship := NewSimulatorWithSource(rand.NewPCG(1, 1), nil).Plan(domain.BrowsingProfile{DeviceTier: domain.TierFlagship}, 0)
	for i := range mid {
		if budget[i] != mid[i]*130/100 || flagship[i] != mid[i]*85/100 {
			t.Fatalf("step %d: mid=%d budget=%d flagship=%d", i, mid[i], budget[i], flagship[i])
		}
	}
}

func TestSimulate(t *testing.T) {
	s := NewSimulatorWithSource(rand.NewPCG(3, 3), nil)
	s.Unit = time.Nanosecond
	if err := s.Simulate(context.Background(), domain.BrowsingProfile{}, 50); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	s.Unit = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Simulate(ctx, domain.BrowsingProfile{}, 50); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
