package modal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/internal/platform"
	"github.com/proposehq/formbff/model"
)

// Platform is the subset of the platform client the service needs.
// *platform.Client satisfies it.
type Platform interface {
	ListRecords(ctx context.Context, rc *model.RequestContext, entity string, q platform.ListQuery) (model.RecordPage, error)
	GetRecord(ctx context.Context, rc *model.RequestContext, entity, id string) (map[string]any, error)
	CreateRecord(ctx context.Context, rc *model.RequestContext, entity string, payload map[string]any) (string, error)
	UpdateRecord(ctx context.Context, rc *model.RequestContext, entity, id string, payload map[string]any) error
	DeleteRecord(ctx context.Context, rc *model.RequestContext, entity, id string) error
}

// Metrics receives service instrumentation. Satisfied by
// *observability.Metrics; a nil Metrics disables recording.
type Metrics interface {
	RecordValidationRun(valid bool)
	SetModalsCached(count float64)
}

// Service manages modal configurations: CRUD against the platform entity
// holding the config blobs, with a registry cache in front of reads.
// Cache entries are keyed tenant-first, so tenants never see each other's
// modals even when IDs collide.
type Service struct {
	client    Platform
	registry  *Registry
	validator *Validator
	cfg       config.ModalsConfig
	metrics   Metrics
}

// NewService creates a modal service.
func NewService(client Platform, validator *Validator, cfg config.ModalsConfig) *Service {
	if cfg.Entity == "" {
		cfg.Entity = "ModalConfig"
	}
	if cfg.ConfigField == "" {
		cfg.ConfigField = "config"
	}
	return &Service{
		client:    client,
		registry:  NewRegistry(nil),
		validator: validator,
		cfg:       cfg,
	}
}

// Validator exposes the service's validator for pure validation calls.
func (s *Service) Validator() *Validator { return s.validator }

// SetMetrics attaches instrumentation. Call before the service serves
// traffic; the field is not synchronized.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Registry exposes the cache. For readiness checks.
func (s *Service) Registry() *Registry { return s.registry }

// List returns one page of stored modals for the tenant. Rows whose blob
// does not parse are skipped with a log line rather than failing the page.
func (s *Service) List(ctx context.Context, rc *model.RequestContext, page, pageSize int) ([]StoredModal, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	records, err := s.client.ListRecords(ctx, rc, s.cfg.Entity, platform.ListQuery{
		Page:     page,
		PageSize: pageSize,
		Sort:     "title",
	})
	if err != nil {
		return nil, 0, err
	}

	modals := make([]StoredModal, 0, len(records.Items))
	for _, item := range records.Items {
		m, err := s.fromRecord(item)
		if err != nil {
			slog.Warn("skipping unparseable modal record",
				"tenant_id", rc.TenantID, "record", item["id"], "error", err)
			continue
		}
		modals = append(modals, m)
		s.cachePut(rc, m)
	}
	return modals, records.Total, nil
}

// Get returns one stored modal, serving from the registry when cached.
func (s *Service) Get(ctx context.Context, rc *model.RequestContext, id string) (StoredModal, error) {
	if m, ok := s.registry.Get(cacheKey(rc.TenantID, id)); ok {
		m.ID = id
		return m, nil
	}

	record, err := s.client.GetRecord(ctx, rc, s.cfg.Entity, id)
	if err != nil {
		return StoredModal{}, err
	}
	m, err := s.fromRecord(record)
	if err != nil {
		return StoredModal{}, model.NewConfigInvalidError(
			fmt.Sprintf("modal %s holds an unparseable configuration: %v", id, err),
		)
	}
	m.ID = id
	s.cachePut(rc, m)
	return m, nil
}

// Create persists a new modal. A nil config starts from the default.
func (s *Service) Create(ctx context.Context, rc *model.RequestContext, cfg *model.ModalConfig) (StoredModal, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	data, err := SerializeConfig(cfg)
	if err != nil {
		return StoredModal{}, err
	}

	id, err := s.client.CreateRecord(ctx, rc, s.cfg.Entity, map[string]any{
		"title":           cfg.Name,
		s.cfg.ConfigField: string(data),
	})
	if err != nil {
		return StoredModal{}, err
	}

	now := time.Now().UTC()
	m := StoredModal{ID: id, Config: cfg, Checksum: Checksum(data), CreatedAt: now, UpdatedAt: now}
	s.cachePut(rc, m)
	return m, nil
}

// Update replaces a modal's configuration wholesale.
func (s *Service) Update(ctx context.Context, rc *model.RequestContext, id string, cfg *model.ModalConfig) (StoredModal, error) {
	if cfg == nil {
		return StoredModal{}, model.NewBadRequestError("config is required")
	}
	data, err := SerializeConfig(cfg)
	if err != nil {
		return StoredModal{}, err
	}

	err = s.client.UpdateRecord(ctx, rc, s.cfg.Entity, id, map[string]any{
		"title":           cfg.Name,
		s.cfg.ConfigField: string(data),
	})
	if err != nil {
		return StoredModal{}, err
	}

	m := StoredModal{ID: id, Config: cfg, Checksum: Checksum(data), UpdatedAt: time.Now().UTC()}
	s.cachePut(rc, m)
	return m, nil
}

// Delete removes a modal.
func (s *Service) Delete(ctx context.Context, rc *model.RequestContext, id string) error {
	if err := s.client.DeleteRecord(ctx, rc, s.cfg.Entity, id); err != nil {
		return err
	}
	s.registry.Remove(cacheKey(rc.TenantID, id))
	s.publishCacheSize()
	return nil
}

// Validate runs the config validator. Pure: no persistence involved.
func (s *Service) Validate(cfg *model.ModalConfig) Result {
	result := s.validator.Validate(cfg)
	if s.metrics != nil {
		s.metrics.RecordValidationRun(result.IsValid)
	}
	return result
}

// cachePut stores m in the registry under its tenant-scoped key.
func (s *Service) cachePut(rc *model.RequestContext, m StoredModal) {
	s.registry.Upsert(s.cacheKeyed(rc, m))
	s.publishCacheSize()
}

func (s *Service) publishCacheSize() {
	if s.metrics != nil {
		s.metrics.SetModalsCached(float64(s.registry.Len()))
	}
}

// StartEvictor launches a background goroutine that clears the registry
// cache on the configured interval, so edits made by other instances
// become visible. Returns immediately; the goroutine exits when ctx is
// done.
func (s *Service) StartEvictor(ctx context.Context) {
	interval := s.cfg.ReloadInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.registry.Replace(nil)
				s.publishCacheSize()
			}
		}
	}()
}

// cacheKeyed returns a copy of m keyed for the registry.
func (s *Service) cacheKeyed(rc *model.RequestContext, m StoredModal) StoredModal {
	m.ID = cacheKey(rc.TenantID, m.ID)
	return m
}

func cacheKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// fromRecord converts a platform record into a StoredModal. The config
// blob may arrive as a JSON string or as an already-decoded object.
func (s *Service) fromRecord(record map[string]any) (StoredModal, error) {
	var m StoredModal
	if id, ok := record["id"].(string); ok {
		m.ID = id
	}

	raw, ok := record[s.cfg.ConfigField]
	if !ok {
		return StoredModal{}, fmt.Errorf("record has no %q field", s.cfg.ConfigField)
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return StoredModal{}, fmt.Errorf("re-encoding config object: %w", err)
		}
		data = encoded
	default:
		return StoredModal{}, fmt.Errorf("unsupported config field type %T", raw)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return StoredModal{}, err
	}
	m.Config = cfg
	m.Checksum = Checksum(data)

	if ts, ok := record["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.CreatedAt = t
		}
	}
	if ts, ok := record["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			m.UpdatedAt = t
		}
	}
	return m, nil
}
