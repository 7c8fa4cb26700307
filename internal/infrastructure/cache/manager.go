// Package cache implements the gateway's read-through cache: a process-local
// tier per entity type, a shared Redis tier, and the origin as loader.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/logger"
)

// EntityType selects the per-type policy and local tier.
type EntityType string

const (
	EntityUser          EntityType = "user"
	EntityInterface     EntityType = "interface"
	EntityUserInterface EntityType = "user_interface"
)

// EntityTypes lists every cached entity type in a stable order.
var EntityTypes = []EntityType{EntityUser, EntityInterface, EntityUserInterface}

// ParseEntityType converts an external name into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	for _, e := range EntityTypes {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown cache entity type %q", s)
}

// Prefix returns the key prefix shared by every entry of the type.
func (e EntityType) Prefix() string {
	switch e {
	case EntityUser:
		return constants.CacheKeyPrefixUser
	case EntityInterface:
		return constants.CacheKeyPrefixInterface
	case EntityUserInterface:
		return constants.CacheKeyPrefixUserInterface
	}
	return "gateway:" + string(e) + ":"
}

// Policy sizes one entity type in both tiers.
type Policy struct {
	Capacity       int
	InactivityTTL  time.Duration
	DistributedTTL time.Duration
}

// DefaultPolicies returns the production sizing.
func DefaultPolicies() map[EntityType]Policy {
	return map[EntityType]Policy{
		EntityUser:          {Capacity: 500, InactivityTTL: time.Minute, DistributedTTL: 5 * time.Minute},
		EntityInterface:     {Capacity: 300, InactivityTTL: 2 * time.Minute, DistributedTTL: 5 * time.Minute},
		EntityUserInterface: {Capacity: 1000, InactivityTTL: 4 * time.Minute, DistributedTTL: 5 * time.Minute},
	}
}

// PoliciesFromConfig maps the cache config section onto policies.
func PoliciesFromConfig(cfg config.CacheConfig) map[EntityType]Policy {
	conv := func(p config.EntityPolicy) Policy {
		return Policy{Capacity: p.Capacity, InactivityTTL: p.InactivityTTL, DistributedTTL: p.DistributedTTL}
	}
	return map[EntityType]Policy{
		EntityUser:          conv(cfg.User),
		EntityInterface:     conv(cfg.Interface),
		EntityUserInterface: conv(cfg.UserInterface),
	}
}

// Tier names the level a value was served from.
type Tier string

const (
	TierLocal       Tier = "local"
	TierDistributed Tier = "distributed"
	TierOrigin      Tier = "origin"
)

// Outcome is the result of one tier read.
type Outcome int

const (
	OutcomeHit Outcome = iota
	OutcomeMiss
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	default:
		return "error"
	}
}

// Result is what Get returns. Value is non-nil only for OutcomeHit; Err is
// set only for OutcomeError, which means the loader failed.
type Result[T any] struct {
	Value   *T
	Outcome Outcome
	Tier    Tier
	Err     error
}

// Found reports whether a value was resolved.
func (r Result[T]) Found() bool {
	return r.Outcome == OutcomeHit && r.Value != nil
}

// Loader fetches a value from the origin. A nil value with a nil error means absent.
type Loader[T any] func(ctx context.Context) (*T, error)

// MetricsRecorder receives one observation per tier read.
type MetricsRecorder interface {
	RecordCacheLookup(entity, tier, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCacheLookup(string, string, string) {}

type entityCounters struct {
	distributedHits atomic.Uint64
	originLoads     atomic.Uint64
}

// Manager holds one local tier per entity type and the shared distributed
// tier. It is built once at startup and shared by every request.
type Manager struct {
	local    map[EntityType]*LocalTier
	counters map[EntityType]*entityCounters
	policies map[EntityType]Policy
	remote   *RedisTier

	singleFlight bool
	group        singleflight.Group

	now     func() time.Time
	metrics MetricsRecorder
	log     logger.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDistributedTier enables the Redis tier.
func WithDistributedTier(client redis.UniversalClient) Option {
	return func(m *Manager) {
		if client != nil {
			m.remote = NewRedisTier(client)
		}
	}
}

// WithSingleFlight collapses concurrent origin loads for the same key.
func WithSingleFlight(enabled bool) Option {
	return func(m *Manager) {
		m.singleFlight = enabled
	}
}

// WithClock replaces the clock used for inactivity expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics sets the lookup metrics sink.
func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewManager creates a new Manager with one local tier per policy.
func NewManager(policies map[EntityType]Policy, log logger.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		local:    make(map[EntityType]*LocalTier, len(policies)),
		counters: make(map[EntityType]*entityCounters, len(policies)),
		policies: policies,
		now:      time.Now,
		metrics:  noopMetrics{},
		log:      log.WithComponent("cache"),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, e := range EntityTypes {
		p, ok := policies[e]
		if !ok {
			return nil, fmt.Errorf("missing cache policy for %s", e)
		}
		tier, err := NewLocalTier(p.Capacity, p.InactivityTTL, m.now)
		if err != nil {
			return nil, fmt.Errorf("cache policy for %s: %w", e, err)
		}
		m.local[e] = tier
		m.counters[e] = &entityCounters{}
	}
	return m, nil
}

// DistributedEnabled reports whether a Redis tier is configured.
func (m *Manager) DistributedEnabled() bool {
	return m.remote != nil
}

// Get resolves key through the local tier, then the distributed tier, then
// loader. Lower-tier hits are written back to the upper tiers. Absent loader
// results are not cached.
func Get[T any](ctx context.Context, m *Manager, entity EntityType, key string, loader Loader[T]) Result[T] {
	local := m.local[entity]

	if v, ok := local.Get(key); ok {
		if t, ok := v.(*T); ok {
			m.metrics.RecordCacheLookup(string(entity), string(TierLocal), OutcomeHit.String())
			m.log.Debug(ctx, "Local cache hit", logger.String("entity", string(entity)), logger.String("key", key))
			return Result[T]{Value: t, Outcome: OutcomeHit, Tier: TierLocal}
		}
		local.Remove(key)
	}
	m.metrics.RecordCacheLookup(string(entity), string(TierLocal), OutcomeMiss.String())

	if m.remote != nil {
		t := new(T)
		outcome, err := m.remote.Get(ctx, key, t)
		m.metrics.RecordCacheLookup(string(entity), string(TierDistributed), outcome.String())
		switch outcome {
		case OutcomeHit:
			m.counters[entity].distributedHits.Add(1)
			local.Put(key, t)
			m.log.Debug(ctx, "Distributed cache hit", logger.String("entity", string(entity)), logger.String("key", key))
			return Result[T]{Value: t, Outcome: OutcomeHit, Tier: TierDistributed}
		case OutcomeError:
			m.log.Warn(ctx, "Distributed cache read failed, falling back to origin",
				logger.String("entity", string(entity)),
				logger.String("key", key),
				logger.String("error", err.Error()))
		}
	}

	load := func() (any, error) {
		m.counters[entity].originLoads.Add(1)
		v, err := loader(ctx)
		if err != nil {
			return (*T)(nil), err
		}
		if v != nil {
			m.put(ctx, entity, key, v)
		}
		return v, nil
	}

	var (
		raw any
		err error
	)
	if m.singleFlight {
		raw, err, _ = m.group.Do(string(entity)+"|"+key, load)
	} else {
		raw, err = load()
	}

	if err != nil {
		m.metrics.RecordCacheLookup(string(entity), string(TierOrigin), OutcomeError.String())
		return Result[T]{Outcome: OutcomeError, Tier: TierOrigin, Err: err}
	}
	v, _ := raw.(*T)
	if v == nil {
		m.metrics.RecordCacheLookup(string(entity), string(TierOrigin), OutcomeMiss.String())
		return Result[T]{Outcome: OutcomeMiss, Tier: TierOrigin}
	}
	m.metrics.RecordCacheLookup(string(entity), string(TierOrigin), OutcomeHit.String())
	return Result[T]{Value: v, Outcome: OutcomeHit, Tier: TierOrigin}
}

// Put writes value into both tiers. A nil value is ignored.
func Put[T any](ctx context.Context, m *Manager, entity EntityType, key string, value *T) {
	if value == nil {
		return
	}
	m.put(ctx, entity, key, value)
}

func (m *Manager) put(ctx context.Context, entity EntityType, key string, value any) {
	m.local[entity].Put(key, value)

	if m.remote == nil {
		return
	}
	if err := m.remote.Set(ctx, key, value, m.policies[entity].DistributedTTL); err != nil {
		m.log.Warn(ctx, "Distributed cache write failed",
			logger.String("entity", string(entity)),
			logger.String("key", key),
			logger.String("error", err.Error()))
	}
}

// Evict drops key from both tiers.
func (m *Manager) Evict(ctx context.Context, entity EntityType, key string) error {
	local, ok := m.local[entity]
	if !ok {
		return fmt.Errorf("unknown cache entity type %q", entity)
	}
	local.Remove(key)

	if m.remote != nil {
		if err := m.remote.Delete(ctx, key); err != nil {
			m.log.Warn(ctx, "Distributed cache evict failed",
				logger.String("entity", string(entity)),
				logger.String("key", key),
				logger.String("error", err.Error()))
			return err
		}
	}
	m.log.Info(ctx, "Cache entry evicted", logger.String("entity", string(entity)), logger.String("key", key))
	return nil
}

// Clear empties every local tier and removes the gateway's keys from the
// distributed tier. It returns the number of distributed keys removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	for _, tier := range m.local {
		tier.Purge()
	}

	removed := 0
	if m.remote != nil {
		for _, e := range EntityTypes {
			n, err := m.remote.DeletePrefix(ctx, e.Prefix())
			removed += n
			if err != nil {
				m.log.Warn(ctx, "Distributed cache clear failed",
					logger.String("entity", string(e)),
					logger.String("error", err.Error()))
				return removed, err
			}
		}
	}
	m.log.Info(ctx, "Cache cleared", logger.Int("distributed_keys_removed", removed))
	return removed, nil
}

// EntityStats summarizes one entity type.
type EntityStats struct {
	Entity          EntityType `json:"entity"`
	Size            int        `json:"size"`
	Capacity        int        `json:"capacity"`
	LocalHits       uint64     `json:"localHits"`
	LocalMisses     uint64     `json:"localMisses"`
	HitRate         float64    `json:"hitRate"`
	Evictions       uint64     `json:"evictions"`
	DistributedHits uint64     `json:"distributedHits"`
	OriginLoads     uint64     `json:"originLoads"`
}

// Stats returns per-entity statistics in EntityTypes order.
func (m *Manager) Stats() []EntityStats {
	out := make([]EntityStats, 0, len(EntityTypes))
	for _, e := range EntityTypes {
		tier := m.local[e]
		hits, misses := tier.hits.Load(), tier.misses.Load()
		var rate float64
		if hits+misses > 0 {
			rate = float64(hits) / float64(hits+misses)
		}
		out = append(out, EntityStats{
			Entity:          e,
			Size:            tier.Len(),
			Capacity:        m.policies[e].Capacity,
			LocalHits:       hits,
			LocalMisses:     misses,
			HitRate:         rate,
			Evictions:       tier.evictions.Load(),
			DistributedHits: m.counters[e].distributedHits.Load(),
			OriginLoads:     m.counters[e].originLoads.Load(),
		})
	}
	return out
}

// Ping checks the distributed tier. It returns nil when none is configured.
func (m *Manager) Ping(ctx context.Context) error {
	if m.remote == nil {
		return nil
	}
	return m.remote.Ping(ctx)
}
