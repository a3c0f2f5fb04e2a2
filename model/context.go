package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RequestContext carries identity and tenancy information for the lifetime
// of an authenticated request. It is immutable after construction and safe
// for concurrent reads.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	Locale        string
	Timezone      string
}

// Validate checks that the mandatory identity fields are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if rc.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Lookup resolves a dotted context path as used by id resolutions and
// webhook payloads: the well-known names first, then raw claims, with
// nested claim maps navigable by dot.
//
//	user.id / subject_id  → SubjectID
//	user.email / email    → Email
//	tenant_id             → TenantID
//	correlation_id        → CorrelationID
//	<claim>[.<key>...]    → Claims
func (rc *RequestContext) Lookup(path string) (any, bool) {
	switch path {
	case "user.id", "subject_id":
		return rc.SubjectID, rc.SubjectID != ""
	case "user.email", "email":
		return rc.Email, rc.Email != ""
	case "tenant_id":
		return rc.TenantID, rc.TenantID != ""
	case "correlation_id":
		return rc.CorrelationID, rc.CorrelationID != ""
	}

	if rc.Claims == nil {
		return nil, false
	}
	var current any = rc.Claims
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or
// returns nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking
// if it is not present. Safe to call in handlers that run behind the
// authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
