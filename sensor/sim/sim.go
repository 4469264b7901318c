// Package sim is a reference core.SensorSource: a cached pseudo-random walk
// standing in for the SHT45 I2C probe the original firmware polls
// (temperature_probe.c). It is never imported by core — only by
// cmd/meshnode and integration tests exercising the round engine end to
// end.
package sim

import (
	"math/rand"
	"sync"
	"time"
)

// cacheWindow mirrors the original probe's 100ms measurement cache, so
// repeated reads within a round don't re-walk the value.
const cacheWindow = 100 * time.Millisecond

// Source is a deterministic-per-instance pseudo-random walk around a base
// temperature and humidity, grounded on temperature_probe.c's cache-then-
// measure contract (ReadTemperature/ReadHumidity complete quickly and may
// return a cached value).
type Source struct {
	mu sync.Mutex

	rng *rand.Rand

	baseTemp float32
	baseHum  float32

	lastTemp float32
	lastHum  float32
	lastRead time.Time
}

// New returns a Source seeded from seed, starting near baseTemp °C and
// baseHum %RH.
func New(seed int64, baseTemp, baseHum float32) *Source {
	return &Source{
		rng:      rand.New(rand.NewSource(seed)),
		baseTemp: baseTemp,
		baseHum:  baseHum,
		lastTemp: baseTemp,
		lastHum:  baseHum,
	}
}

// ReadTemperature returns a cached or freshly walked temperature reading.
func (s *Source) ReadTemperature() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	return s.lastTemp, nil
}

// ReadHumidity returns a cached or freshly walked humidity reading.
func (s *Source) ReadHumidity() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	return s.lastHum, nil
}

func (s *Source) refresh() {
	now := time.Now()
	if now.Sub(s.lastRead) < cacheWindow {
		return
	}
	s.lastTemp = s.baseTemp + float32(s.rng.NormFloat64())
	s.lastHum = clamp(s.baseHum+float32(s.rng.NormFloat64())*2, 0, 100)
	s.lastRead = now
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
