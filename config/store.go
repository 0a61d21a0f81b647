package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/pid"
)

// PIDState is what the daemon changed on a PID at runtime. Nil fields keep the file value.
type PIDState struct {
	// File is the PID configuration the overrides were made against. Overrides are dropped
	// when the file changes so edits to the file win.
	File               *pid.Config           `json:"file,omitempty"`
	Activated          *bool                 `json:"activated,omitempty"`
	Setpoint           *float64              `json:"setpoint,omitempty"`
	Kp                 *float64              `json:"kp,omitempty"`
	Ki                 *float64              `json:"ki,omitempty"`
	Kd                 *float64              `json:"kd,omitempty"`
	SetpointTracking   *pid.SetpointTracking `json:"setpoint_tracking,omitempty"`
	SetpointTrackingID *string               `json:"setpoint_tracking_id,omitempty"`
	AutotuneActivated  *bool                 `json:"autotune_activated,omitempty"`
	Held               *bool                 `json:"held,omitempty"`
	Paused             *bool                 `json:"paused,omitempty"`
	// Anchor survives file changes: a restart resumes the method where it was.
	Anchor *pid.MethodAnchor `json:"anchor,omitempty"`
}

func (st *PIDState) clearOverrides() {
	*st = PIDState{Anchor: st.Anchor}
}

func (st *PIDState) apply(cfg *pid.Config) {
	if st.Activated != nil {
		cfg.Activated = *st.Activated
	}
	if st.Setpoint != nil {
		cfg.Setpoint = *st.Setpoint
	}
	if st.Kp != nil {
		cfg.Kp = *st.Kp
	}
	if st.Ki != nil {
		cfg.Ki = *st.Ki
	}
	if st.Kd != nil {
		cfg.Kd = *st.Kd
	}
	if st.SetpointTracking != nil {
		cfg.SetpointTracking = *st.SetpointTracking
	}
	if st.SetpointTrackingID != nil {
		cfg.SetpointTrackingID = *st.SetpointTrackingID
	}
	if st.AutotuneActivated != nil {
		cfg.Autotune.Activated = *st.AutotuneActivated
	}
	if st.Held != nil {
		cfg.Held = *st.Held
	}
	if st.Paused != nil {
		cfg.Paused = *st.Paused
	}
}

// State is the content of the state file.
type State struct {
	PIDs map[string]*PIDState `json:"pids"`
}

// FileStore serves the configuration to controllers and persists runtime state to a JSON file.
// It implements pid.ConfigStore and input.ConfigLoader.
type FileStore struct {
	mu     sync.Mutex
	cfg    *Config
	path   string
	state  State
	logger logging.Logger
}

var (
	_ pid.ConfigStore    = (*FileStore)(nil)
	_ input.ConfigLoader = (*FileStore)(nil)
)

// NewFileStore serves cfg and loads the state file of cfg when it exists.
func NewFileStore(cfg *Config, logger logging.Logger) (*FileStore, error) {
	s := &FileStore{
		cfg:    cfg,
		path:   cfg.StatePath(),
		state:  State{PIDs: map[string]*PIDState{}},
		logger: logger,
	}
	buf, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "cannot read state file")
	default:
		if err := json.Unmarshal(buf, &s.state); err != nil {
			return nil, errors.Wrapf(err, "corrupt state file %s", s.path)
		}
		if s.state.PIDs == nil {
			s.state.PIDs = map[string]*PIDState{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked()
	return s, s.saveLocked()
}

// Config returns the served configuration.
func (s *FileStore) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Replace serves a new configuration, as after the file changed.
func (s *FileStore) Replace(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.reconcileLocked()
	return s.saveLocked()
}

// reconcileLocked forgets PIDs that no longer exist and overrides made against another version
// of the file.
func (s *FileStore) reconcileLocked() {
	for id, st := range s.state.PIDs {
		fileCfg, ok := s.cfg.PID(id)
		if !ok {
			delete(s.state.PIDs, id)
			continue
		}
		if st.File != nil && !reflect.DeepEqual(*st.File, fileCfg) {
			s.logger.Infow("pid changed in the config file, dropping runtime changes", "pid", id)
			st.clearOverrides()
		}
	}
}

func (s *FileStore) pidStateLocked(id string) *PIDState {
	st, ok := s.state.PIDs[id]
	if !ok {
		st = &PIDState{}
		s.state.PIDs[id] = st
	}
	return st
}

func (s *FileStore) effectivePIDLocked(id string) (pid.Config, error) {
	cfg, ok := s.cfg.PID(id)
	if !ok {
		return pid.Config{}, errors.Errorf("no pid %q", id)
	}
	if st, ok := s.state.PIDs[id]; ok {
		st.apply(&cfg)
	}
	return cfg, nil
}

// LoadPID implements pid.ConfigStore.
func (s *FileStore) LoadPID(ctx context.Context, id string) (pid.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectivePIDLocked(id)
}

// UpdatePID implements pid.ConfigStore. Only the fields a PID changes at runtime are kept:
// activation, setpoint, gains, setpoint tracking, autotune activation, hold and pause.
func (s *FileStore) UpdatePID(ctx context.Context, id string, mutate func(*pid.Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.effectivePIDLocked(id)
	if err != nil {
		return err
	}
	mutate(&cfg)
	fileCfg, _ := s.cfg.PID(id)
	st := s.pidStateLocked(id)
	st.File = &fileCfg
	st.Activated = override(cfg.Activated, fileCfg.Activated)
	st.Setpoint = override(cfg.Setpoint, fileCfg.Setpoint)
	st.Kp = override(cfg.Kp, fileCfg.Kp)
	st.Ki = override(cfg.Ki, fileCfg.Ki)
	st.Kd = override(cfg.Kd, fileCfg.Kd)
	st.SetpointTracking = override(cfg.SetpointTracking, fileCfg.SetpointTracking)
	st.SetpointTrackingID = override(cfg.SetpointTrackingID, fileCfg.SetpointTrackingID)
	st.AutotuneActivated = override(cfg.Autotune.Activated, fileCfg.Autotune.Activated)
	st.Held = override(cfg.Held, fileCfg.Held)
	st.Paused = override(cfg.Paused, fileCfg.Paused)
	return s.saveLocked()
}

func override[T comparable](value, fileValue T) *T {
	if value == fileValue {
		return nil
	}
	return &value
}

// SetActivated implements pid.ConfigStore.
func (s *FileStore) SetActivated(ctx context.Context, pidID string, activated bool) error {
	return s.UpdatePID(ctx, pidID, func(cfg *pid.Config) { cfg.Activated = activated })
}

// LoadMethod implements pid.ConfigStore.
func (s *FileStore) LoadMethod(ctx context.Context, id string) (*method.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.cfg.Method(id)
	if !ok {
		return nil, errors.Errorf("no method %q", id)
	}
	return m, nil
}

// LoadMethodAnchor implements pid.ConfigStore.
func (s *FileStore) LoadMethodAnchor(ctx context.Context, pidID string) (pid.MethodAnchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state.PIDs[pidID]; ok && st.Anchor != nil {
		return *st.Anchor, nil
	}
	return pid.MethodAnchor{}, nil
}

// PersistMethodAnchor implements pid.ConfigStore.
func (s *FileStore) PersistMethodAnchor(ctx context.Context, pidID string, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfg.PID(pidID); !ok {
		return errors.Errorf("no pid %q", pidID)
	}
	st := s.pidStateLocked(pidID)
	if start.IsZero() {
		st.Anchor = nil
	} else {
		st.Anchor = &pid.MethodAnchor{Start: start, End: end}
	}
	return s.saveLocked()
}

// LoadInput implements input.ConfigLoader.
func (s *FileStore) LoadInput(ctx context.Context, id string) (input.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.cfg.Input(id)
	if !ok {
		return input.Config{}, errors.Errorf("no input %q", id)
	}
	return cfg, nil
}

// saveLocked writes the state file through a temporary file so a crash never leaves it
// truncated.
func (s *FileStore) saveLocked() error {
	buf, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".mycodo-state-*")
	if err != nil {
		return errors.Wrap(err, "cannot write state file")
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "cannot write state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "cannot write state file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "cannot write state file")
}
