package preview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proposehq/formbff/model"
)

// Session is one live-preview run of a modal: the config snapshot it was
// started against, the values entered so far, and the step position.
// Sessions are tenant-scoped and versioned for optimistic concurrency.
type Session struct {
	ID        string
	ModalID   string
	TenantID  string
	SubjectID string
	Config    *model.ModalConfig
	StepIndex int
	Values    map[string]any
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore persists preview sessions.
type SessionStore interface {
	// Create persists a new session.
	Create(ctx context.Context, s Session) error

	// Get retrieves a session by ID, scoped to a tenant. Returns
	// SESSION_NOT_FOUND if the session doesn't exist or belongs to a
	// different tenant.
	Get(ctx context.Context, tenantID, sessionID string) (Session, error)

	// Update persists an updated session with optimistic locking. The
	// version must match the stored version; CONFLICT otherwise.
	Update(ctx context.Context, s Session) error

	// Delete removes a session.
	Delete(ctx context.Context, tenantID, sessionID string) error

	// DeleteExpired removes sessions idle since before the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// MemorySessionStore is an in-memory SessionStore. Preview sessions are
// ephemeral builder state; losing them on restart only costs a reload.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Create persists a new session.
func (s *MemorySessionStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("preview session %q already exists", sess.ID))
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by ID, scoped to tenant.
func (s *MemorySessionStore) Get(_ context.Context, tenantID, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return Session{}, model.NewSessionNotFoundError(sessionID)
	}
	return sess, nil
}

// Update persists an updated session with optimistic locking.
func (s *MemorySessionStore) Update(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.ID]
	if !exists {
		return model.NewSessionNotFoundError(sess.ID)
	}
	if existing.Version != sess.Version {
		return model.NewConflictError(fmt.Sprintf(
			"preview session %q version conflict (expected %d, got %d)",
			sess.ID, sess.Version, existing.Version,
		))
	}

	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(_ context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return model.NewSessionNotFoundError(sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

// DeleteExpired removes sessions idle since before the cutoff.
func (s *MemorySessionStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Metrics receives session lifecycle instrumentation. Satisfied by
// *observability.Metrics; a nil Metrics disables recording.
type Metrics interface {
	RecordPreviewSessionStarted()
	RecordPreviewSessionEnded()
}

// Manager runs preview sessions: it creates them from a config snapshot,
// applies value and step changes, and projects the resulting state.
type Manager struct {
	store     SessionStore
	projector *Projector
	now       func() time.Time
	metrics   Metrics
}

// NewManager creates a session Manager.
func NewManager(store SessionStore, projector *Projector) *Manager {
	return &Manager{store: store, projector: projector, now: time.Now}
}

// SetMetrics attaches instrumentation. Call before the manager serves
// traffic; the field is not synchronized.
func (m *Manager) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// Start creates a session for the given config and returns its initial state.
func (m *Manager) Start(ctx context.Context, rc model.RequestContext, modalID string, cfg *model.ModalConfig) (model.PreviewState, error) {
	if cfg == nil {
		return model.PreviewState{}, model.NewBadRequestError("preview needs a modal config")
	}

	snap, err := cfg.Clone()
	if err != nil {
		return model.PreviewState{}, model.NewConfigInvalidError(err.Error())
	}

	now := m.now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		ModalID:   modalID,
		TenantID:  rc.TenantID,
		SubjectID: rc.SubjectID,
		Config:    snap,
		Values:    make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return model.PreviewState{}, err
	}
	if m.metrics != nil {
		m.metrics.RecordPreviewSessionStarted()
	}
	return m.project(sess), nil
}

// Get returns the current state of a session.
func (m *Manager) Get(ctx context.Context, rc model.RequestContext, sessionID string) (model.PreviewState, error) {
	sess, err := m.store.Get(ctx, rc.TenantID, sessionID)
	if err != nil {
		return model.PreviewState{}, err
	}
	return m.project(sess), nil
}

// SetValues merges the given values into the session and reprojects.
// A nil value removes the entry, mirroring a cleared input.
func (m *Manager) SetValues(ctx context.Context, rc model.RequestContext, sessionID string, values map[string]any) (model.PreviewState, error) {
	return m.mutate(ctx, rc, sessionID, func(sess *Session) {
		// Copy-on-write keeps the stored map untouched if the update
		// loses its optimistic-lock race.
		next := copyValues(sess.Values)
		for k, v := range values {
			if v == nil {
				delete(next, k)
				continue
			}
			next[k] = v
		}
		sess.Values = next
	})
}

// Advance moves the session one step forward, clamped to the last step.
func (m *Manager) Advance(ctx context.Context, rc model.RequestContext, sessionID string) (model.PreviewState, error) {
	return m.step(ctx, rc, sessionID, +1)
}

// Back moves the session one step backward, clamped to the first step.
func (m *Manager) Back(ctx context.Context, rc model.RequestContext, sessionID string) (model.PreviewState, error) {
	return m.step(ctx, rc, sessionID, -1)
}

// End removes the session.
func (m *Manager) End(ctx context.Context, rc model.RequestContext, sessionID string) error {
	if err := m.store.Delete(ctx, rc.TenantID, sessionID); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordPreviewSessionEnded()
	}
	return nil
}

func (m *Manager) step(ctx context.Context, rc model.RequestContext, sessionID string, delta int) (model.PreviewState, error) {
	return m.mutate(ctx, rc, sessionID, func(sess *Session) {
		sess.StepIndex = ClampStep(sess.StepIndex+delta, len(sess.Config.Steps))
	})
}

func (m *Manager) mutate(ctx context.Context, rc model.RequestContext, sessionID string, fn func(*Session)) (model.PreviewState, error) {
	sess, err := m.store.Get(ctx, rc.TenantID, sessionID)
	if err != nil {
		return model.PreviewState{}, err
	}
	fn(&sess)
	if err := m.store.Update(ctx, sess); err != nil {
		return model.PreviewState{}, err
	}
	sess, err = m.store.Get(ctx, rc.TenantID, sessionID)
	if err != nil {
		return model.PreviewState{}, err
	}
	return m.project(sess), nil
}

func (m *Manager) project(sess Session) model.PreviewState {
	state := model.PreviewState{
		SessionID:     sess.ID,
		ModalID:       sess.ModalID,
		StepIndex:     sess.StepIndex,
		StepCount:     len(sess.Config.Steps),
		VisibleFields: m.projector.VisibleFields(sess.Config.Fields, sess.Config.Steps, sess.StepIndex, sess.Values),
		Values:        copyValues(sess.Values),
		UpdatedAt:     sess.UpdatedAt,
	}
	if len(sess.Config.Steps) > 0 {
		step := sess.Config.Steps[ClampStep(sess.StepIndex, len(sess.Config.Steps))]
		state.CurrentStep = &step
	}
	return state
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
