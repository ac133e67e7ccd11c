// telemetry.go
package internal

import (
	"sync"
	"time"
)

// TelemetryCache holds the latest sample for each sensor group. Consumer
// goroutines update it concurrently with tick execution; the engine
// takes a consistent Snapshot at tick start. The mutex is held only for
// the update or the copy, never across a whole tick.
type TelemetryCache struct {
	mu sync.Mutex

	domeOpen    BoolSample
	louversOpen BoolSample
	ahuRunning  BoolSample
	outsideTemp Sample
	insideTemp  Sample
	mirrorTemp  Sample

	// wind history for windowed averaging, oldest first
	wind          []windSample
	windAvgWindow time.Duration
	windMinWindow time.Duration

	twilightTemp Sample
}

type windSample struct {
	speed float64
	at    time.Time
}

func NewTelemetryCache(cfg WindConfig) *TelemetryCache {
	return &TelemetryCache{
		windAvgWindow: time.Duration(cfg.AverageWindowS * float64(time.Second)),
		windMinWindow: time.Duration(cfg.MinimumWindowS * float64(time.Second)),
	}
}

func (c *TelemetryCache) SetDome(open, louvers bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domeOpen = BoolSample{Value: open, At: at, OK: true}
	c.louversOpen = BoolSample{Value: louvers, At: at, OK: true}
}

// AddWind appends one wind speed sample and prunes entries older than
// the averaging window.
func (c *TelemetryCache) AddWind(speed float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wind = append(c.wind, windSample{speed: speed, at: at})
	horizon := at.Add(-c.windAvgWindow)
	i := 0
	for i < len(c.wind) && c.wind[i].at.Before(horizon) {
		i++
	}
	c.wind = c.wind[i:]
}

func (c *TelemetryCache) SetOutsideTemp(v float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outsideTemp = Sample{Value: v, At: at, OK: true}
}

func (c *TelemetryCache) SetInsideTemp(v float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insideTemp = Sample{Value: v, At: at, OK: true}
}

func (c *TelemetryCache) SetMirrorTemp(v float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirrorTemp = Sample{Value: v, At: at, OK: true}
}

func (c *TelemetryCache) SetAHURunning(running bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ahuRunning = BoolSample{Value: running, At: at, OK: true}
}

// RecordTwilightTemp captures the current outside temperature as the
// twilight reference. Called by the engine on the transition into
// TWILIGHT; a missing outside temperature leaves the previous capture
// in place.
func (c *TelemetryCache) RecordTwilightTemp(now time.Time, staleness time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outsideTemp.OK || now.Sub(c.outsideTemp.At) > staleness {
		return false
	}
	c.twilightTemp = Sample{Value: c.outsideTemp.Value, At: now, OK: true}
	return true
}

// Snapshot copies the cache into an immutable per-tick view, marking
// any field older than the staleness threshold as absent. A field that
// has never reported stays absent until a sample arrives; staleness of
// one field never invalidates the rest of the snapshot.
func (c *TelemetryCache) Snapshot(now time.Time, staleness time.Duration) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := func(s Sample) Sample {
		if !s.OK || now.Sub(s.At) > staleness {
			return Sample{}
		}
		return s
	}
	freshBool := func(s BoolSample) BoolSample {
		if !s.OK || now.Sub(s.At) > staleness {
			return BoolSample{}
		}
		return s
	}

	return Snapshot{
		Timestamp:   now,
		DomeOpen:    freshBool(c.domeOpen),
		LouversOpen: freshBool(c.louversOpen),
		AHURunning:  freshBool(c.ahuRunning),
		WindSpeed:   c.averageWindLocked(now),
		OutsideTemp: fresh(c.outsideTemp),
		InsideTemp:  fresh(c.insideTemp),
		MirrorTemp:  fresh(c.mirrorTemp),
		// The twilight capture is a daily reference, not live telemetry;
		// it does not expire with the staleness threshold.
		TwilightTemp: c.twilightTemp,
	}
}

// averageWindLocked computes the windowed wind speed average. The
// average is absent until samples span at least the minimum collection
// window, so a burst of fresh data cannot enable wind-gated hardware
// prematurely.
func (c *TelemetryCache) averageWindLocked(now time.Time) Sample {
	horizon := now.Add(-c.windAvgWindow)
	i := 0
	for i < len(c.wind) && c.wind[i].at.Before(horizon) {
		i++
	}
	c.wind = c.wind[i:]

	if len(c.wind) == 0 {
		return Sample{}
	}
	if now.Sub(c.wind[0].at) < c.windMinWindow {
		return Sample{}
	}
	var sum float64
	for _, w := range c.wind {
		sum += w.speed
	}
	return Sample{Value: sum / float64(len(c.wind)), At: c.wind[len(c.wind)-1].at, OK: true}
}
