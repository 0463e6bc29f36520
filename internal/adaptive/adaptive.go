// Package adaptive implements a CPU-load-driven bitrate/quality advisor
// for the Capture-side encoder loop. It supplements §4.3 ("codec/bitrate
// selection that favours real-time...") with a concrete signal: the
// reference agent's AdaptiveBitrate drives off WebRTC RTCP receiver
// reports, which do not exist on this engine's raw-TCP transport (see
// DESIGN.md); this redesigns the same shape to drive off local CPU load
// via gopsutil, since sustained high CPU load is the primary real-time
// hazard for a software encoder competing with screen capture on one
// host.
package adaptive

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Config bounds the bitrate the advisor will recommend.
type Config struct {
	MinKbps     int
	MaxKbps     int
	InitialKbps int
	// HighLoadPercent is the CPU load above which bitrate is stepped down.
	HighLoadPercent float64
	// LowLoadPercent is the CPU load below which bitrate is stepped up.
	LowLoadPercent float64
	// StepPercent is the fraction of the current bitrate adjusted per
	// sample (e.g. 0.15 for a 15% step).
	StepPercent float64
}

// DefaultConfig returns reasonable bounds for a real-time LAN KVM stream.
func DefaultConfig() Config {
	return Config{
		MinKbps:         1500,
		MaxKbps:         20000,
		InitialKbps:     8000,
		HighLoadPercent: 85,
		LowLoadPercent:  50,
		StepPercent:     0.15,
	}
}

// Advisor tracks a recommended encoder bitrate, adjusted on each Sample
// call based on host CPU load.
type Advisor struct {
	cfg Config

	mu      sync.Mutex
	current int

	// percentFn is overridable for deterministic tests; defaults to
	// gopsutil's cpu.Percent.
	percentFn func() (float64, error)
}

// New creates an Advisor with cfg's bounds.
func New(cfg Config) *Advisor {
	a := &Advisor{cfg: cfg, current: cfg.InitialKbps}
	a.percentFn = a.sampleHostLoad
	return a
}

func (a *Advisor) sampleHostLoad() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// Sample reads the current CPU load and returns the (possibly adjusted)
// recommended bitrate in kbps.
func (a *Advisor) Sample() (int, error) {
	load, err := a.percentFn()
	if err != nil {
		return a.BitrateKbps(), err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case load >= a.cfg.HighLoadPercent:
		a.current = clamp(a.current-int(float64(a.current)*a.cfg.StepPercent), a.cfg.MinKbps, a.cfg.MaxKbps)
	case load <= a.cfg.LowLoadPercent:
		a.current = clamp(a.current+int(float64(a.current)*a.cfg.StepPercent), a.cfg.MinKbps, a.cfg.MaxKbps)
	}
	return a.current, nil
}

// BitrateKbps returns the most recently recommended bitrate without
// sampling load.
func (a *Advisor) BitrateKbps() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Loop runs Sample on the given interval, calling onBitrate with each
// result, until stop is closed. Intended to be run on its own goroutine
// by the session's Capture-side driver.
func (a *Advisor) Loop(interval time.Duration, stop <-chan struct{}, onBitrate func(kbps int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if kbps, err := a.Sample(); err == nil && onBitrate != nil {
				onBitrate(kbps)
			}
		}
	}
}
