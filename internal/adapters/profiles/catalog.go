// Package profiles builds browsing profiles from a fixed catalog of real
// device user agents.
package profiles

import (
	"math/rand/v2"
	"sync"
	"time"

	"simctl/internal/domain"
)

type entry struct {
	platform string
	device   string
	tier     string
	ua       string
	weight   int
}

// Weights roughly follow mobile traffic share: Android mid-range dominates.
var catalog = []entry{
	{domain.PlatformAndroid, domain.DeviceMobile, domain.TierMidRange,
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", 14},
	{domain.PlatformAndroid, domain.DeviceMobile, domain.TierMidRange,
		"Mozilla/5.0 (Linux; Android 13; SM-A536B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36", 12},
	{domain.PlatformAndroid, domain.DeviceMobile, domain.TierBudget,
		"Mozilla/5.0 (Linux; Android 12; Redmi Note 11) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Mobile Safari/537.36", 10},
	{domain.PlatformAndroid, domain.DeviceMobile, domain.TierBudget,
		"Mozilla/5.0 (Linux; Android 12; SM-A135F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Mobile Safari/537.36", 8},
	{domain.PlatformAndroid, domain.DeviceMobile, domain.TierFlagship,
		"Mozilla/5.0 (Linux; Android 14; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Mobile Safari/537.36", 8},
	{domain.PlatformAndroid, domain.DeviceTablet, domain.TierMidRange,
		"Mozilla/5.0 (Linux; Android 13; SM-X200) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", 3},
	{domain.PlatformIOS, domain.DeviceMobile, domain.TierFlagship,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", 12},
	{domain.PlatformIOS, domain.DeviceMobile, domain.TierMidRange,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1", 8},
	{domain.PlatformIOS, domain.DeviceTablet, domain.TierFlagship,
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", 3},
	{domain.PlatformWindows, domain.DeviceDesktop, domain.TierMidRange,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", 5},
	{domain.PlatformMacOS, domain.DeviceDesktop, domain.TierFlagship,
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", 3},
}

var regions = []struct {
	name   string
	weight int
}{
	{"slovakia", 70},
	{"czechia", 15},
	{"austria", 5},
	{"hungary", 5},
	{"poland", 5},
}

const DefaultRegion = "slovakia"

// Catalog hands out profiles. Safe for concurrent use.
type Catalog struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewCatalog() *Catalog {
	return NewCatalogWithSource(rand.NewPCG(uint64(time.Now().UnixNano()), 0xc0ffee))
}

func NewCatalogWithSource(src rand.Source) *Catalog {
	return &Catalog{rng: rand.New(src)}
}

// Default is an Android mid-range phone in the home region.
func (c *Catalog) Default() domain.BrowsingProfile {
	return build(catalog[0], DefaultRegion)
}

// Random picks a weighted device and region.
func (c *Catalog) Random() domain.BrowsingProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := catalog[pick(c.rng, len(catalog), func(i int) int { return catalog[i].weight })]
	r := regions[pick(c.rng, len(regions), func(i int) int { return regions[i].weight })]
	return build(e, r.name)
}

func build(e entry, region string) domain.BrowsingProfile {
	return domain.BrowsingProfile{
		Platform:   e.platform,
		DeviceType: e.device,
		DeviceTier: e.tier,
		UserAgent:  e.ua,
		Region:     region,
	}
}

func pick(rng *rand.Rand, n int, weight func(int) int) int {
	sum := 0
	for i := range n {
		sum += weight(i)
	}
	x := rng.IntN(sum)
	for i := range n {
		x -= weight(i)
		if x < 0 {
			return i
		}
	}
	return n - 1
}
