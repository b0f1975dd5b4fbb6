package render

import (
	"log/slog"
	"sync"

	"github.com/c360/mediacompose/component"
	"github.com/c360/mediacompose/compositor"
	"github.com/c360/mediacompose/media"
)

// Mixer holds the audio output configuration. A reconfiguration request stays
// pending until the audio path applies it.
type Mixer struct {
	logger *slog.Logger

	mu          sync.RWMutex
	cfg         media.AudioConfig
	pending     bool
	nonRealtime bool
	applied     uint64
}

var _ compositor.Mixer = (*Mixer)(nil)

// NewMixer creates a mixer with an empty configuration.
func NewMixer(deps component.Dependencies) *Mixer {
	return &Mixer{logger: deps.GetLoggerWithComponent("mixer")}
}

func (m *Mixer) Config() media.AudioConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Mixer) SetConfig(cfg media.AudioConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Mixer) RequestReconfigure() {
	m.mu.Lock()
	m.pending = true
	m.mu.Unlock()
}

func (m *Mixer) SetNonRealtimeOutput(enabled bool) {
	m.mu.Lock()
	m.nonRealtime = enabled
	m.mu.Unlock()
}

// NonRealtime reports whether the output is treated as non-realtime.
func (m *Mixer) NonRealtime() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nonRealtime
}

// ApplyPending consumes a pending reconfiguration and returns the
// configuration to apply.
func (m *Mixer) ApplyPending() (media.AudioConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending {
		return m.cfg, false
	}
	m.pending = false
	m.applied++
	m.logger.Debug("Audio configuration applied", "config", m.cfg.String(), "count", m.applied)
	return m.cfg, true
}
