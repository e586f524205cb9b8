package services

import (
	"log"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codyseavey/kpi-widget/internal/metrics"
	"github.com/codyseavey/kpi-widget/internal/models"
)

const (
	// cacheEpsilon is the total-comparison tolerance: a cached entry
	// is reusable only while both stored totals match the freshly
	// computed totals within this margin.
	cacheEpsilon = 0.01

	// seriesCacheSize bounds the LRU. Cardinality is metrics x groups
	// x chart kinds, which is operator-controlled and small; the
	// bound only matters if configuration churns.
	seriesCacheSize = 512
)

// CacheKey identifies a cached chart series
type CacheKey struct {
	CardIdentity string
	PeriodKind   models.PeriodKind
}

// CacheEntry stores the totals the series were computed against plus
// the series themselves. Validity is decided against fresh totals;
// stale entries are simply overwritten, never explicitly evicted.
type CacheEntry struct {
	TotalCurrent    float64
	TotalReference  float64
	SeriesCurrent   []models.SeriesPoint
	SeriesReference []models.SeriesPoint
}

// SeriesCache is the in-memory chart series cache
type SeriesCache struct {
	cache *lru.Cache[CacheKey, CacheEntry]
}

func NewSeriesCache() *SeriesCache {
	cache, err := lru.New[CacheKey, CacheEntry](seriesCacheSize)
	if err != nil {
		log.Printf("Failed to create series cache: %v", err)
	}
	return &SeriesCache{cache: cache}
}

// Get returns the cached entry for key, if any
func (c *SeriesCache) Get(key CacheKey) (CacheEntry, bool) {
	if c.cache == nil {
		return CacheEntry{}, false
	}
	entry, ok := c.cache.Get(key)
	if ok {
		metrics.SeriesCacheHits.Inc()
	} else {
		metrics.SeriesCacheMisses.Inc()
	}
	return entry, ok
}

// Put stores an entry, overwriting unconditionally
func (c *SeriesCache) Put(key CacheKey, entry CacheEntry) {
	if c.cache == nil {
		return
	}
	c.cache.Add(key, entry)
}

// IsValid reports whether a cached entry still matches the freshly
// computed totals within the epsilon tolerance.
func IsValid(entry CacheEntry, freshCurrent, freshReference float64) bool {
	return math.Abs(entry.TotalCurrent-freshCurrent) < cacheEpsilon &&
		math.Abs(entry.TotalReference-freshReference) < cacheEpsilon
}
