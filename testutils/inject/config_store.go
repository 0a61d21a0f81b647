package inject

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/pid"
)

// ConfigStore is an injected pid.ConfigStore. Without injected functions it behaves as an
// in-memory store.
type ConfigStore struct {
	mu        sync.Mutex
	pids      map[string]pid.Config
	methods   map[string]*method.Method
	anchors   map[string]pid.MethodAnchor
	activated map[string]bool

	LoadPIDFunc             func(ctx context.Context, id string) (pid.Config, error)
	UpdatePIDFunc           func(ctx context.Context, id string, mutate func(*pid.Config)) error
	LoadMethodFunc          func(ctx context.Context, id string) (*method.Method, error)
	LoadMethodAnchorFunc    func(ctx context.Context, pidID string) (pid.MethodAnchor, error)
	PersistMethodAnchorFunc func(ctx context.Context, pidID string, start, end time.Time) error
	SetActivatedFunc        func(ctx context.Context, pidID string, activated bool) error
}

// NewConfigStore returns an empty injected store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		pids:      map[string]pid.Config{},
		methods:   map[string]*method.Method{},
		anchors:   map[string]pid.MethodAnchor{},
		activated: map[string]bool{},
	}
}

// PutPID stores a PID configuration.
func (s *ConfigStore) PutPID(cfg pid.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pids[cfg.ID] = cfg
	s.activated[cfg.ID] = cfg.Activated
}

// PutMethod stores a method.
func (s *ConfigStore) PutMethod(m *method.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.ID] = m
}

// Anchor returns the stored method anchor of a PID.
func (s *ConfigStore) Anchor(pidID string) pid.MethodAnchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchors[pidID]
}

// Activated returns the stored activation flag of a PID.
func (s *ConfigStore) Activated(pidID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated[pidID]
}

// PID returns the stored configuration of a PID.
func (s *ConfigStore) PID(id string) pid.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pids[id]
}

// LoadPID calls the injected LoadPID or reads the stored configuration.
func (s *ConfigStore) LoadPID(ctx context.Context, id string) (pid.Config, error) {
	if s.LoadPIDFunc != nil {
		return s.LoadPIDFunc(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.pids[id]
	if !ok {
		return pid.Config{}, errors.Errorf("no pid %q", id)
	}
	return cfg, nil
}

// UpdatePID calls the injected UpdatePID or mutates the stored configuration.
func (s *ConfigStore) UpdatePID(ctx context.Context, id string, mutate func(*pid.Config)) error {
	if s.UpdatePIDFunc != nil {
		return s.UpdatePIDFunc(ctx, id, mutate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.pids[id]
	if !ok {
		return errors.Errorf("no pid %q", id)
	}
	mutate(&cfg)
	s.pids[id] = cfg
	return nil
}

// LoadMethod calls the injected LoadMethod or reads the stored method.
func (s *ConfigStore) LoadMethod(ctx context.Context, id string) (*method.Method, error) {
	if s.LoadMethodFunc != nil {
		return s.LoadMethodFunc(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[id]
	if !ok {
		return nil, errors.Errorf("no method %q", id)
	}
	return m, nil
}

// LoadMethodAnchor calls the injected LoadMethodAnchor or reads the stored anchor.
func (s *ConfigStore) LoadMethodAnchor(ctx context.Context, pidID string) (pid.MethodAnchor, error) {
	if s.LoadMethodAnchorFunc != nil {
		return s.LoadMethodAnchorFunc(ctx, pidID)
	}
	return s.Anchor(pidID), nil
}

// PersistMethodAnchor calls the injected PersistMethodAnchor or stores the anchor.
func (s *ConfigStore) PersistMethodAnchor(ctx context.Context, pidID string, start, end time.Time) error {
	if s.PersistMethodAnchorFunc != nil {
		return s.PersistMethodAnchorFunc(ctx, pidID, start, end)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if start.IsZero() {
		delete(s.anchors, pidID)
		return nil
	}
	s.anchors[pidID] = pid.MethodAnchor{Start: start, End: end}
	return nil
}

// SetActivated calls the injected SetActivated or stores the flag.
func (s *ConfigStore) SetActivated(ctx context.Context, pidID string, activated bool) error {
	if s.SetActivatedFunc != nil {
		return s.SetActivatedFunc(ctx, pidID, activated)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated[pidID] = activated
	if cfg, ok := s.pids[pidID]; ok {
		cfg.Activated = activated
		s.pids[pidID] = cfg
	}
	return nil
}
