// Package extract holds the named extraction strategies and the registry the
// job orchestrator resolves them from.
package extract

import (
	"context"
	"sort"
	"sync"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/observability"
)

// ProgressFunc receives the job-level percentage and a status line.
type ProgressFunc func(progress int, status string)

// Options carries per-call extraction parameters.
type Options struct {
	Language string
	Progress ProgressFunc
}

func (o Options) report(progress int, status string) {
	if o.Progress != nil {
		o.Progress(progress, status)
	}
}

// Strategy turns a document into text. Multi-page output keeps page order;
// backend failures come back as a single ExtractionFailed error and partial
// output is dropped.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, f *fileformat.FileFormat, opts Options) (string, error)
}

// DiscoverFunc populates a registry on the first miss.
type DiscoverFunc func(r *Registry) error

// Registry maps strategy names to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy

	discover     DiscoverFunc
	discoverOnce sync.Once
	discoverErr  error

	logger *observability.Logger
}

// NewRegistry creates a registry. discover may be nil.
func NewRegistry(discover DiscoverFunc, logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Registry{
		strategies: make(map[string]Strategy),
		discover:   discover,
		logger:     logger.WithOperation("strategy_registry"),
	}
}

// Register adds s under name, or s.Name() when name is empty. An existing
// entry is kept unless override is set.
func (r *Registry) Register(s Strategy, name string, override bool) {
	if name == "" {
		name = s.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[name]; exists && !override {
		return
	}
	r.strategies[name] = s
}

// Get resolves name, running discovery once on the first miss.
func (r *Registry) Get(name string) (Strategy, error) {
	if s, ok := r.lookup(name); ok {
		return s, nil
	}

	if err := r.Discover(); err != nil {
		if s, ok := r.lookup(name); ok {
			return s, nil
		}
		return nil, err
	}

	if s, ok := r.lookup(name); ok {
		return s, nil
	}
	return nil, domain.UnknownStrategy(name, r.registeredNames())
}

// Discover runs the discovery pass if it has not run yet.
func (r *Registry) Discover() error {
	r.discoverOnce.Do(func() {
		if r.discover == nil {
			return
		}
		r.discoverErr = r.discover(r)
		if r.discoverErr != nil {
			r.logger.Error().Err(r.discoverErr).Msg("Strategy discovery failed")
			return
		}
		r.logger.Info().Strs("strategies", r.registeredNames()).Msg("Strategies discovered")
	})
	return r.discoverErr
}

// Names returns every known strategy name, sorted.
func (r *Registry) Names() []string {
	_ = r.Discover()
	return r.registeredNames()
}

func (r *Registry) lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

func (r *Registry) registeredNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
