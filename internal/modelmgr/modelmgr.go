// SPDX-License-Identifier: MIT

// Package modelmgr serializes heavy model usage on a single GPU with
// limited VRAM. Models register a loader and an optional unloader; Acquire
// evicts every other resident model before loading the requested one. The
// ASR engine is assumed always-resident and is not managed here.
package modelmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
)

// ErrNoLoader is returned when Acquire is called for an unregistered kind.
var ErrNoLoader = errors.New("no loader registered")

// Loader builds a model instance; it runs under the manager lock, so it
// must honor ctx cancellation rather than block forever.
type Loader func(ctx context.Context) (any, error)

// Unloader releases a model's resources.
type Unloader func(model any)

// Manager is the mutually-exclusive model holder.
type Manager struct {
	mu        sync.Mutex
	loaded    map[string]any
	loaders   map[string]Loader
	unloaders map[string]Unloader
	logger    zerolog.Logger
}

func New() *Manager {
	return &Manager{
		loaded:    make(map[string]any),
		loaders:   make(map[string]Loader),
		unloaders: make(map[string]Unloader),
		logger:    log.WithComponent("modelmgr"),
	}
}

// Register installs the load/unload pair for a model kind. Registering the
// same kind again replaces the previous pair; a nil unloader means the model
// needs no teardown beyond dropping the reference.
func (m *Manager) Register(kind string, load Loader, unload Unloader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[kind] = load
	if unload != nil {
		m.unloaders[kind] = unload
	} else {
		delete(m.unloaders, kind)
	}
}

// Acquire returns the model for kind, unloading all other resident models
// first. The model stays loaded afterwards for short-term reuse; call
// Unload or UnloadAll to free VRAM explicitly.
func (m *Manager) Acquire(ctx context.Context, kind string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for name := range m.loaded {
		if name != kind {
			m.unloadLocked(name)
		}
	}

	if model, ok := m.loaded[kind]; ok {
		return model, nil
	}

	load, ok := m.loaders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLoader, kind)
	}

	m.logger.Info().Str(log.FieldModelKind, kind).Msg("loading model")
	start := time.Now()
	model, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	m.loaded[kind] = model
	metrics.ModelsLoaded.WithLabelValues(kind).Set(1)
	metrics.ModelLoadDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	m.logger.Info().
		Str(log.FieldModelKind, kind).
		Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
		Msg("model loaded")
	return model, nil
}

// Unload frees one model immediately. Unloading a kind that is not resident
// is a no-op.
func (m *Manager) Unload(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadLocked(kind)
}

// UnloadAll frees every resident model, typically on shutdown.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.loaded {
		m.unloadLocked(name)
	}
}

// Loaded reports whether a model kind is currently resident.
func (m *Manager) Loaded(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[kind]
	return ok
}

func (m *Manager) unloadLocked(kind string) {
	model, ok := m.loaded[kind]
	if !ok {
		return
	}
	delete(m.loaded, kind)
	if unload := m.unloaders[kind]; unload != nil {
		unload(model)
	}
	metrics.ModelsLoaded.WithLabelValues(kind).Set(0)
	m.logger.Info().Str(log.FieldModelKind, kind).Msg("model unloaded")
}
