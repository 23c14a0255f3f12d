// Package confidence implements the confidence manager (C6): per-intent
// adaptive acceptance thresholds plus the global HIGH/MEDIUM/LOW/REJECT
// band a raw NLU score falls into.
package confidence

import (
	"context"
	"sync"

	"github.com/hrygo/dialogued/internal/registry"
)

// Band is the global confidence band a score falls into, independent of any
// per-intent threshold.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
	BandReject Band = "reject"
)

// Bands holds the global fallback thresholds (spec.md defaults:
// 0.85/0.70/0.55/0.40).
type Bands struct {
	High   float32
	Medium float32
	Low    float32
	Reject float32
}

// DefaultBands returns the spec's documented defaults.
func DefaultBands() Bands {
	return Bands{High: 0.85, Medium: 0.70, Low: 0.55, Reject: 0.40}
}

const (
	defaultThreshold = float32(0.70)
	minThreshold     = float32(0.50)
	maxThreshold     = float32(0.95)
	adjustmentStep   = float32(0.05)
	streakToAdjust   = 3
)

// Manager tracks, per intent, a rolling success/failure streak and nudges
// that intent's acceptance threshold accordingly: sustained success lowers
// it (the intent keeps resolving cleanly, trust it more), sustained failure
// raises it (stop firing on weak signal).
type Manager struct {
	reg   *registry.Registry
	bands Bands

	mu            sync.Mutex
	successStreak map[string]int
	failureStreak map[string]int
	overrides     map[string]float32
}

// NewManager builds a Manager backed by reg for per-intent base thresholds.
func NewManager(reg *registry.Registry, bands Bands) *Manager {
	return &Manager{
		reg:           reg,
		bands:         bands,
		successStreak: make(map[string]int),
		failureStreak: make(map[string]int),
		overrides:     make(map[string]float32),
	}
}

// Band classifies a raw score against the global fallback bands, used when
// no specific intent threshold applies (e.g. ranking whether to attempt
// disambiguation at all).
func (m *Manager) Band(score float32) Band {
	switch {
	case score >= m.bands.High:
		return BandHigh
	case score >= m.bands.Medium:
		return BandMedium
	case score >= m.bands.Low:
		return BandLow
	default:
		return BandReject
	}
}

// Threshold returns the current acceptance threshold for intentName: the
// registry's configured value, adjusted by any adaptive override.
func (m *Manager) Threshold(intentName string) float32 {
	base := defaultThreshold
	if ic, ok := m.reg.GetIntent(intentName); ok && ic.ConfidenceThreshold > 0 {
		base = ic.ConfidenceThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if override, ok := m.overrides[intentName]; ok {
		return override
	}
	return base
}

// Accepts reports whether confidence clears intentName's current threshold.
func (m *Manager) Accepts(intentName string, confidence float32) bool {
	return confidence >= m.Threshold(intentName)
}

// RecordOutcome feeds back whether a classification for intentName was
// ultimately correct (confirmed by the user, handler succeeded, etc.),
// adjusting the adaptive threshold after streakToAdjust consecutive
// outcomes of the same kind.
func (m *Manager) RecordOutcome(ctx context.Context, intentName string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		m.failureStreak[intentName] = 0
		m.successStreak[intentName]++
		if m.successStreak[intentName] >= streakToAdjust {
			m.adjustLocked(intentName, -adjustmentStep)
			m.successStreak[intentName] = 0
		}
		return
	}

	m.successStreak[intentName] = 0
	m.failureStreak[intentName]++
	if m.failureStreak[intentName] >= streakToAdjust {
		m.adjustLocked(intentName, adjustmentStep)
		m.failureStreak[intentName] = 0
	}
}

func (m *Manager) adjustLocked(intentName string, delta float32) {
	current, ok := m.overrides[intentName]
	if !ok {
		if ic, found := m.reg.GetIntent(intentName); found && ic.ConfidenceThreshold > 0 {
			current = ic.ConfidenceThreshold
		} else {
			current = defaultThreshold
		}
	}

	next := current + delta
	if next < minThreshold {
		next = minThreshold
	}
	if next > maxThreshold {
		next = maxThreshold
	}
	m.overrides[intentName] = next
}

// Reset clears any adaptive override for intentName, reverting to the
// registry's configured threshold.
func (m *Manager) Reset(intentName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, intentName)
	delete(m.successStreak, intentName)
	delete(m.failureStreak, intentName)
}
