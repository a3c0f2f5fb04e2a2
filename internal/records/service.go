// Package records backs the management screens: list/get/create/update/
// delete over the platform entities the screens expose, with pagination
// clamped to configured bounds.
package records

import (
	"context"
	"fmt"

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

// screens maps URL screen names to the platform entities behind them. Only
// listed screens are reachable; everything else is NOT_FOUND.
var screens = map[string]string{
	"past-performance": "PastPerformance",
	"key-personnel":    "KeyPersonnel",
}

// ListRequest narrows a screen listing.
type ListRequest struct {
	Page     int
	PageSize int
	Sort     string
	Search   string
	Filter   map[string]string
}

// Service proxies management-screen CRUD to the platform.
type Service struct {
	client          Platform
	defaultPageSize int
	maxPageSize     int
}

// NewService creates a records service with the configured page bounds.
func NewService(client Platform, cfg config.RecordsConfig) *Service {
	defaultSize := cfg.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = 25
	}
	maxSize := cfg.MaxPageSize
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Service{client: client, defaultPageSize: defaultSize, maxPageSize: maxSize}
}

// Entity resolves a screen name to its platform entity.
func (s *Service) Entity(screen string) (string, error) {
	entity, ok := screens[screen]
	if !ok {
		return "", model.NewNotFoundError(fmt.Sprintf("unknown records screen %q", screen))
	}
	return entity, nil
}

// List returns one page of records for a screen.
func (s *Service) List(ctx context.Context, rc *model.RequestContext, screen string, req ListRequest) (model.RecordPage, error) {
	entity, err := s.Entity(screen)
	if err != nil {
		return model.RecordPage{}, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = s.defaultPageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}

	return s.client.ListRecords(ctx, rc, entity, platform.ListQuery{
		Page:     page,
		PageSize: size,
		Sort:     req.Sort,
		Search:   req.Search,
		Filter:   req.Filter,
	})
}

// Get returns one record from a screen.
func (s *Service) Get(ctx context.Context, rc *model.RequestContext, screen, id string) (map[string]any, error) {
	entity, err := s.Entity(screen)
	if err != nil {
		return nil, err
	}
	return s.client.GetRecord(ctx, rc, entity, id)
}

// Create inserts a record and returns its new ID.
func (s *Service) Create(ctx context.Context, rc *model.RequestContext, screen string, payload map[string]any) (string, error) {
	entity, err := s.Entity(screen)
	if err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", model.NewBadRequestError("record payload is empty")
	}
	return s.client.CreateRecord(ctx, rc, entity, payload)
}

// Update patches a record.
func (s *Service) Update(ctx context.Context, rc *model.RequestContext, screen, id string, payload map[string]any) error {
	entity, err := s.Entity(screen)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return model.NewBadRequestError("record payload is empty")
	}
	return s.client.UpdateRecord(ctx, rc, entity, id, payload)
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, rc *model.RequestContext, screen, id string) error {
	entity, err := s.Entity(screen)
	if err != nil {
		return err
	}
	return s.client.DeleteRecord(ctx, rc, entity, id)
}

// Screens lists the known screen names. For the router.
func Screens() []string {
	out := make([]string, 0, len(screens))
	for name := range screens {
		out = append(out, name)
	}
	return out
}
