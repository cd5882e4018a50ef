package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CleanupScheduler sweeps expired cache entries on a fixed interval.
type CleanupScheduler struct {
	cache    *Cache
	interval time.Duration
	ticker   *time.Ticker
	done     chan bool
	stopOnce sync.Once
}

func NewCleanupScheduler(cache *Cache, interval time.Duration) *CleanupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}

	return &CleanupScheduler{
		cache:    cache,
		interval: interval,
		done:     make(chan bool),
	}
}

func (cs *CleanupScheduler) Start() {
	cs.ticker = time.NewTicker(cs.interval)
	log.Info().
		Dur("interval", cs.interval).
		Str("dir", cs.cache.Dir()).
		Msg("Cache cleanup scheduler started")

	go cs.loop()
}

func (cs *CleanupScheduler) loop() {
	for {
		select {
		case <-cs.ticker.C:
			cs.runCleanup()
		case <-cs.done:
			cs.ticker.Stop()
			return
		}
	}
}

func (cs *CleanupScheduler) runCleanup() int {
	removed, err := cs.cache.SweepExpired()
	if err != nil {
		log.Error().
			Err(err).
			Int("removed", removed).
			Msg("Failed to sweep expired cache entries")
		return removed
	}

	if removed > 0 {
		log.Info().
			Int("removed", removed).
			Msg("Cleaned up expired cache entries")
	}
	return removed
}

func (cs *CleanupScheduler) Stop() {
	log.Info().Msg("Stopping cache cleanup scheduler")
	if cs.ticker == nil {
		return
	}
	cs.stopOnce.Do(func() {
		cs.done <- true
	})
}

// RunNow sweeps immediately and returns the number of removed entries.
func (cs *CleanupScheduler) RunNow() int {
	return cs.runCleanup()
}
