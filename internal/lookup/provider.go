// Package lookup serves option lists for select fields from platform
// entities, with an in-process TTL cache in front of the platform.
package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/internal/platform"
	"github.com/proposehq/formbff/model"
)

// Lister is the platform listing surface the provider needs.
// *platform.Client satisfies it.
type Lister interface {
	ListRecords(ctx context.Context, rc *model.RequestContext, entity string, q platform.ListQuery) (model.RecordPage, error)
}

// Request names the entity and the attributes projected into options.
type Request struct {
	Entity     string
	LabelField string
	ValueField string
	Query      string
}

// Response is a resolved option list. Cached reports whether it was served
// from the in-process cache.
type Response struct {
	Options []model.Option `json:"options"`
	Cached  bool           `json:"cached"`
}

// Metrics receives cache instrumentation. Satisfied by
// *observability.Metrics; a nil Metrics disables recording.
type Metrics interface {
	RecordLookupCacheHit(entity string)
	RecordLookupCacheMiss(entity string)
}

// Provider resolves lookup requests with caching. Entries are scoped per
// tenant: option lists can differ between tenants on the platform side.
type Provider struct {
	client     Lister
	defaultTTL time.Duration
	maxEntries int
	pageSize   int
	metrics    Metrics

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	options   []model.Option
	expiresAt time.Time
}

// NewProvider creates a lookup provider with the configured cache bounds.
func NewProvider(client Lister, cfg config.LookupCacheConfig) *Provider {
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxEntries := cfg.Cache.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Provider{
		client:     client,
		defaultTTL: ttl,
		maxEntries: maxEntries,
		pageSize:   500,
		cache:      make(map[string]cacheEntry),
	}
}

// SetMetrics attaches instrumentation. Call before the provider serves
// traffic; the field is not synchronized.
func (p *Provider) SetMetrics(m Metrics) {
	p.metrics = m
}

// Options resolves a lookup request to an option list. The unfiltered list
// is cached; the query filter applies on every read.
func (p *Provider) Options(ctx context.Context, rc *model.RequestContext, req Request) (Response, error) {
	if req.Entity == "" || req.LabelField == "" || req.ValueField == "" {
		return Response{}, model.NewBadRequestError("lookup requires entity, label_field and value_field")
	}

	key := cacheKey(req, rc)
	if options, hit := p.getFromCache(key); hit {
		if p.metrics != nil {
			p.metrics.RecordLookupCacheHit(req.Entity)
		}
		return Response{Options: filterOptions(options, req.Query), Cached: true}, nil
	}
	if p.metrics != nil {
		p.metrics.RecordLookupCacheMiss(req.Entity)
	}

	page, err := p.client.ListRecords(ctx, rc, req.Entity, platform.ListQuery{
		Page:     1,
		PageSize: p.pageSize,
		Sort:     req.LabelField,
	})
	if err != nil {
		return Response{}, fmt.Errorf("lookup %q: %w", req.Entity, err)
	}

	options := projectOptions(page.Items, req.LabelField, req.ValueField)
	p.putInCache(key, options)

	return Response{Options: filterOptions(options, req.Query), Cached: false}, nil
}

// Invalidate drops every cached list for an entity, optionally narrowed to
// one tenant. Called after management-screen writes.
func (p *Provider) Invalidate(entity, tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := "lookup:" + entity + ":"
	for k := range p.cache {
		if strings.HasPrefix(k, prefix) {
			if tenantID == "" || strings.HasSuffix(k, ":"+tenantID) {
				delete(p.cache, k)
			}
		}
	}
}

// CacheLen returns the number of cached lists. For testing.
func (p *Provider) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func cacheKey(req Request, rc *model.RequestContext) string {
	tenant := ""
	if rc != nil {
		tenant = rc.TenantID
	}
	return fmt.Sprintf("lookup:%s:%s:%s:%s", req.Entity, req.LabelField, req.ValueField, tenant)
}

func (p *Provider) getFromCache(key string) ([]model.Option, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, exists := p.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.options, true
}

func (p *Provider) putInCache(key string, options []model.Option) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cache) >= p.maxEntries {
		p.evictExpired()
	}
	p.cache[key] = cacheEntry{options: options, expiresAt: time.Now().Add(p.defaultTTL)}
}

// evictExpired removes expired entries. Must be called with mu held.
func (p *Provider) evictExpired() {
	now := time.Now()
	for k, v := range p.cache {
		if now.After(v.expiresAt) {
			delete(p.cache, k)
		}
	}
}

func projectOptions(items []map[string]any, labelField, valueField string) []model.Option {
	options := make([]model.Option, 0, len(items))
	for _, item := range items {
		label := stringAttr(item, labelField)
		value := stringAttr(item, valueField)
		if label == "" && value == "" {
			continue
		}
		options = append(options, model.Option{Label: label, Value: value})
	}
	return options
}

func stringAttr(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	case bool:
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// filterOptions keeps options whose label contains the query,
// case-insensitively.
func filterOptions(options []model.Option, query string) []model.Option {
	if query == "" {
		return options
	}
	q := strings.ToLower(query)
	var filtered []model.Option
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}
