// Package capability resolves and caches the capability sets that gate the
// builder, submission, and management-screen endpoints.
package capability

import (
	"sync"
	"time"

	"github.com/proposehq/formbff/model"
)

// PolicyEvaluator resolves the capability set granted to a request.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error)
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Metrics receives cache instrumentation. Satisfied by
// *observability.Metrics; a nil Metrics disables recording.
type Metrics interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	evaluator PolicyEvaluator
	ttl       time.Duration
	metrics   Metrics
	mu        sync.RWMutex
	cache     map[string]cacheEntry
}

// NewResolver creates a Resolver with the given evaluator and cache TTL.
func NewResolver(evaluator PolicyEvaluator, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		cache:     make(map[string]cacheEntry),
	}
}

// SetMetrics attaches instrumentation. Call before the resolver serves
// traffic; the field is not synchronized.
func (r *Resolver) SetMetrics(m Metrics) {
	r.metrics = m
}

func cacheKey(rctx *model.RequestContext) string {
	return rctx.SubjectID + ":" + rctx.TenantID
}

// Resolve returns the full capability set for the given context. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		if r.metrics != nil {
			r.metrics.RecordCapabilityCacheHit()
		}
		return entry.caps, nil
	}
	r.mu.RUnlock()
	if r.metrics != nil {
		r.metrics.RecordCapabilityCacheMiss()
	}

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Invalidate clears cached capabilities for the given user and tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	key := subjectID + ":" + tenantID
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}
