package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

// Opener builds the backend for a loaded profile.
type Opener func(ctx context.Context, p *Profile) (Backend, error)

// Manager resolves profile names to backends, caching one backend per
// profile for the life of the process.
type Manager struct {
	dir     string
	logger  *observability.Logger
	now     func() time.Time
	openers map[string]Opener

	mu       sync.Mutex
	backends map[string]Backend
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOpener replaces the backend factory for a strategy.
func WithOpener(strategy string, o Opener) ManagerOption {
	return func(m *Manager) {
		m.openers[strategy] = o
	}
}

// WithClock sets the time source used by destination templates.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager reads profiles from dir on first use.
func NewManager(dir string, logger *observability.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = observability.Nop()
	}
	m := &Manager{
		dir:      dir,
		logger:   logger.WithOperation("storage"),
		now:      time.Now,
		backends: make(map[string]Backend),
	}
	m.openers = map[string]Opener{
		StrategyLocal: m.openLocal,
		StrategyS3:    openS3,
		StrategyDrive: openDrive,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the backend of a profile, opening it on first use.
func (m *Manager) Backend(ctx context.Context, profile string) (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[profile]; ok {
		return b, nil
	}

	p, err := LoadProfile(m.dir, profile)
	if err != nil {
		return nil, err
	}
	open, ok := m.openers[p.Strategy]
	if !ok {
		return nil, domain.ConfigError(fmt.Sprintf("no backend for storage strategy %s", p.Strategy), nil)
	}

	b, err := open(ctx, p)
	if err != nil {
		return nil, err
	}
	m.backends[profile] = b
	m.logger.Info().Str("profile", profile).Str("strategy", p.Strategy).Msg("Storage profile opened")
	return b, nil
}

// Save writes text under destination (a name template) or, when empty,
// under DefaultDestination(sourceName). It returns the resolved name.
func (m *Manager) Save(ctx context.Context, profile, sourceName, destination, text string) (string, error) {
	b, err := m.Backend(ctx, profile)
	if err != nil {
		return "", storageErr(err, "failed to open storage profile %s", profile)
	}

	name := DefaultDestination(sourceName)
	if destination != "" {
		name = FormatFileName(destination, sourceName, m.now())
	}

	if err := b.Save(ctx, name, text); err != nil {
		return "", storageErr(err, "failed to save %s to profile %s", name, profile)
	}
	return name, nil
}

// Load returns the stored text; the bool is false when name does not exist.
func (m *Manager) Load(ctx context.Context, profile, name string) (string, bool, error) {
	if name == "" {
		return "", false, domain.ValidationError("file name is required", nil)
	}
	b, err := m.Backend(ctx, profile)
	if err != nil {
		return "", false, storageErr(err, "failed to open storage profile %s", profile)
	}
	text, ok, err := b.Load(ctx, name)
	if err != nil {
		return "", false, storageErr(err, "failed to load %s from profile %s", name, profile)
	}
	return text, ok, nil
}

func (m *Manager) List(ctx context.Context, profile string) ([]string, error) {
	b, err := m.Backend(ctx, profile)
	if err != nil {
		return nil, storageErr(err, "failed to open storage profile %s", profile)
	}
	names, err := b.List(ctx)
	if err != nil {
		return nil, storageErr(err, "failed to list profile %s", profile)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (m *Manager) Delete(ctx context.Context, profile, name string) error {
	if name == "" {
		return domain.ValidationError("file name is required", nil)
	}
	b, err := m.Backend(ctx, profile)
	if err != nil {
		return storageErr(err, "failed to open storage profile %s", profile)
	}
	if err := b.Delete(ctx, name); err != nil {
		return storageErr(err, "failed to delete %s from profile %s", name, profile)
	}
	return nil
}

func (m *Manager) openLocal(ctx context.Context, p *Profile) (Backend, error) {
	var s LocalSettings
	if err := p.Decode(&s); err != nil {
		return nil, err
	}
	return NewLocalBackend(s, m.now)
}

func openS3(ctx context.Context, p *Profile) (Backend, error) {
	var s S3Settings
	if err := p.Decode(&s); err != nil {
		return nil, err
	}
	client, err := NewS3Client(ctx, s)
	if err != nil {
		return nil, err
	}
	return NewS3Backend(ctx, client, s.BucketName)
}

func openDrive(ctx context.Context, p *Profile) (Backend, error) {
	var s DriveSettings
	if err := p.Decode(&s); err != nil {
		return nil, err
	}
	return NewDriveBackend(ctx, s)
}

// storageErr keeps not_found and validation errors as they are so callers
// can tell a missing file from a broken medium; everything else becomes a
// storage_failure.
func storageErr(err error, format string, args ...any) error {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeNotFound, domain.ErrorTypeValidation, domain.ErrorTypeStorageFailure:
		return err
	}
	return domain.StorageFailure(fmt.Sprintf(format, args...), err)
}
