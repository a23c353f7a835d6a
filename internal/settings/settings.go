// Package settings holds runtime-tunable business parameters. Values live in
// Postgres and are cached in memory; the cache is authoritative for reads and
// is written through on update.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	KeyCommissionRateBP    = "commission_rate_bp"
	KeyCommissionHoldDays  = "commission_hold_days"
	KeyMinOrderAmountCents = "min_order_amount_cents"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidValue   = errors.New("invalid setting value")
)

// Setting is one persisted key/value pair
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
}

type definition struct {
	key         string
	value       string
	description string
	min, max    int64
}

var definitions = []definition{
	{KeyCommissionRateBP, "500", "Default ambassador commission in basis points", 0, 10000},
	{KeyCommissionHoldDays, "14", "Days a commission stays pending before it is available", 0, 365},
	{KeyMinOrderAmountCents, "100", "Smallest order total accepted at checkout, in minor units", 0, 1 << 40},
}

func lookupDefinition(key string) (definition, bool) {
	for _, d := range definitions {
		if d.key == key {
			return d, true
		}
	}
	return definition{}, false
}

func (d definition) validate(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, d.key)
	}
	if n < d.min || n > d.max {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidValue, d.key, d.min, d.max)
	}
	return n, nil
}

// Defaults returns every known setting at its default value
func Defaults() []Setting {
	out := make([]Setting, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, Setting{Key: d.key, Value: d.value, Description: d.description, UpdatedBy: "system"})
	}
	return out
}

// Repository persists settings
type Repository interface {
	List(ctx context.Context) ([]Setting, error)
	Upsert(ctx context.Context, s Setting) error
	InsertMissing(ctx context.Context, settings []Setting) error
}

// Store is the in-process settings cache
type Store struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	// retryAfter bounds how often a degraded store goes back to storage
	retryAfter time.Duration

	// writeMu serializes reloads and updates so a reload cannot clobber a
	// newer write with an older snapshot.
	writeMu sync.Mutex

	mu       sync.RWMutex
	values   map[string]Setting
	loaded   bool
	degraded bool
	loadedAt time.Time
}

// NewStore creates an unloaded store. Values are fetched on Init or first use.
func NewStore(repo Repository, logger *slog.Logger) *Store {
	return &Store{
		repo:       repo,
		logger:     logger,
		now:        time.Now,
		retryAfter: 30 * time.Second,
	}
}

// Init loads settings eagerly. Storage failures leave the store serving
// defaults and are returned for the caller to log; they are never fatal.
func (s *Store) Init(ctx context.Context) error {
	return s.Refresh(ctx)
}

// Refresh reloads every setting from storage, persisting defaults for any
// key that has never been written.
func (s *Store) Refresh(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.repo.List(ctx)
	if err != nil {
		s.degrade(err)
		return fmt.Errorf("loading settings: %w", err)
	}

	values := make(map[string]Setting, len(definitions))
	for _, row := range rows {
		values[row.Key] = row
	}

	var missing []Setting
	for _, def := range Defaults() {
		if _, ok := values[def.Key]; !ok {
			def.UpdatedAt = s.now().UTC()
			values[def.Key] = def
			missing = append(missing, def)
		}
	}
	if len(missing) > 0 {
		if err := s.repo.InsertMissing(ctx, missing); err != nil {
			s.logger.Warn("failed to persist default settings", "error", err, "count", len(missing))
		} else {
			s.logger.Info("persisted default settings", "count", len(missing))
		}
	}

	s.mu.Lock()
	s.values = values
	s.loaded = true
	s.degraded = false
	s.loadedAt = s.now()
	s.mu.Unlock()

	return nil
}

// degrade keeps the last good snapshot if there is one, otherwise falls
// back to defaults. Values written while degraded are kept.
func (s *Store) degrade(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || s.degraded {
		if s.values == nil {
			s.values = make(map[string]Setting, len(definitions))
		}
		for _, def := range Defaults() {
			if _, ok := s.values[def.Key]; !ok {
				s.values[def.Key] = def
			}
		}
		s.degraded = true
	}
	s.loaded = true
	s.loadedAt = s.now()

	s.logger.Warn("settings storage unavailable, serving cached or default values",
		"error", err,
		"degraded", s.degraded,
	)
}

func (s *Store) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	fresh := s.loaded && (!s.degraded || s.now().Sub(s.loadedAt) < s.retryAfter)
	s.mu.RUnlock()
	if fresh {
		return
	}
	// Error already logged by degrade.
	_ = s.Refresh(ctx)
}

// Degraded reports whether the store is serving defaults because storage
// could not be read.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Get returns the raw value for key
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	def, ok := lookupDefinition(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	s.ensureLoaded(ctx)

	s.mu.RLock()
	setting, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return def.value, nil
	}
	return setting.Value, nil
}

// GetInt returns key parsed as an integer. A stored value that no longer
// parses falls back to the default.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	def, _ := lookupDefinition(key)
	n, err := def.validate(raw)
	if err != nil {
		s.logger.Warn("stored setting invalid, using default", "key", key, "value", raw, "error", err)
		n, _ = def.validate(def.value)
	}
	return n, nil
}

// All returns every setting sorted by key
func (s *Store) All(ctx context.Context) []Setting {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	out := make([]Setting, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Update validates and persists a new value, then replaces the cached entry.
// The cache is only touched once storage has accepted the write.
func (s *Store) Update(ctx context.Context, key, value, updatedBy string) (Setting, error) {
	def, ok := lookupDefinition(key)
	if !ok {
		return Setting{}, fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if _, err := def.validate(value); err != nil {
		return Setting{}, err
	}

	s.ensureLoaded(ctx)

	setting := Setting{
		Key:         key,
		Value:       value,
		Description: def.description,
		UpdatedAt:   s.now().UTC(),
		UpdatedBy:   updatedBy,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.repo.Upsert(ctx, setting); err != nil {
		return Setting{}, fmt.Errorf("persisting setting %s: %w", key, err)
	}

	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[string]Setting, len(definitions))
	}
	s.values[key] = setting
	s.mu.Unlock()

	s.logger.Info("setting updated", "key", key, "value", value, "updated_by", updatedBy)
	return setting, nil
}

// CommissionRateBP returns the default commission rate in basis points
func (s *Store) CommissionRateBP(ctx context.Context) int64 {
	n, _ := s.GetInt(ctx, KeyCommissionRateBP)
	return n
}

// CommissionHoldPeriod returns how long a commission stays pending
func (s *Store) CommissionHoldPeriod(ctx context.Context) time.Duration {
	n, _ := s.GetInt(ctx, KeyCommissionHoldDays)
	return time.Duration(n) * 24 * time.Hour
}

// MinOrderAmountCents returns the smallest acceptable order total
func (s *Store) MinOrderAmountCents(ctx context.Context) int64 {
	n, _ := s.GetInt(ctx, KeyMinOrderAmountCents)
	return n
}
