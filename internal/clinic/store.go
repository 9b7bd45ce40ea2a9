// Package clinic holds the live clinic rules and applies staff edits to them.
package clinic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"eyeclinic/internal/events"
	"eyeclinic/internal/metrics"
	"eyeclinic/internal/model"

	"github.com/rs/zerolog"
)

// MergeFunc derives the next rules from the stored ones and names the changed fields.
type MergeFunc = func(current *model.ClinicConfig) (next *model.ClinicConfig, changed []string, err error)

// Repository persists the clinic rules field by field.
type Repository interface {
	LoadConfig(ctx context.Context) (cfg *model.ClinicConfig, found bool, err error)
	SaveConfig(ctx context.Context, cfg *model.ClinicConfig) error
	MergeConfig(ctx context.Context, fn MergeFunc) (*model.ClinicConfig, error)
}

// Store hands out immutable snapshots of the rules. Readers never lock; every
// successful change swaps in a new snapshot with a higher version.
type Store struct {
	repo    Repository
	bus     *events.EventBus
	current atomic.Pointer[model.ClinicConfig]
	logger  zerolog.Logger
}

func NewStore(repo Repository, bus *events.EventBus, logger *zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		bus:    bus,
		logger: logger.With().Str("component", "clinic_rules").Logger(),
	}
}

// Load reads the stored rules, seeding the repository with seed on first run.
func (s *Store) Load(ctx context.Context, seed *model.ClinicConfig) error {
	cfg, found, err := s.repo.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load clinic rules: %w", err)
	}
	if !found {
		if seed == nil {
			seed = model.DefaultClinicConfig()
		}
		if err := seed.Validate(); err != nil {
			return err
		}
		cfg = seed.Clone()
		cfg.Version = 1
		if err := s.repo.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("seed clinic rules: %w", err)
		}
		s.logger.Info().Msg("Clinic rules seeded")
	} else if err := cfg.Validate(); err != nil {
		return fmt.Errorf("stored clinic rules: %w", err)
	}

	s.swap(cfg)
	return nil
}

// Current returns the latest snapshot. Callers must not modify it.
func (s *Store) Current() *model.ClinicConfig {
	if cfg := s.current.Load(); cfg != nil {
		return cfg
	}
	return model.DefaultClinicConfig()
}

// Apply merges a staff edit into the stored rules. Only the fields the patch
// touches are written, so concurrent edits of different fields both survive.
func (s *Store) Apply(ctx context.Context, patch model.ConfigPatch) (*model.ClinicConfig, error) {
	if patch.IsEmpty() {
		return s.Current(), nil
	}
	next, err := s.repo.MergeConfig(ctx, func(cur *model.ClinicConfig) (*model.ClinicConfig, []string, error) {
		merged := patch.ApplyTo(cur)
		if err := merged.Validate(); err != nil {
			return nil, nil, err
		}
		return merged, patch.Fields(), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Strs("fields", patch.Fields()).Int64("version", next.Version).Msg("Clinic rules updated")
	s.swap(next)
	return next, nil
}

// ApplyFileEdit merges a saved edit of the rules file. Only what changed
// between prev and next is applied, so staff edits of other fields and dates
// survive the reload.
func (s *Store) ApplyFileEdit(ctx context.Context, prev, next *model.ClinicConfig) (*model.ClinicConfig, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return s.Apply(ctx, model.DiffPatch(prev, next))
}

// swap installs cfg unless a newer snapshot is already in place; merges can
// finish out of order.
func (s *Store) swap(cfg *model.ClinicConfig) {
	for {
		prev := s.current.Load()
		if prev != nil && prev.Version >= cfg.Version {
			return
		}
		if s.current.CompareAndSwap(prev, cfg) {
			break
		}
	}
	metrics.SetConfigVersion(cfg.Version)
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.TypeConfigChanged, Version: cfg.Version})
	}
}

// MemoryRepository keeps the rules in process memory.
type MemoryRepository struct {
	mu  sync.Mutex
	cfg *model.ClinicConfig
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) LoadConfig(_ context.Context) (*model.ClinicConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		return nil, false, nil
	}
	return r.cfg.Clone(), true, nil
}

func (r *MemoryRepository) SaveConfig(_ context.Context, cfg *model.ClinicConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg.Clone()
	return nil
}

func (r *MemoryRepository) MergeConfig(_ context.Context, fn MergeFunc) (*model.ClinicConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		return nil, fmt.Errorf("%w: clinic rules not initialised", model.ErrInvalidConfig)
	}
	next, changed, err := fn(r.cfg.Clone())
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return r.cfg.Clone(), nil
	}
	next = next.Clone()
	next.Version = r.cfg.Version + 1
	r.cfg = next
	return next.Clone(), nil
}
