package state

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/buildingbit-scraper/internal/storage/local"
)

// maxReportErrors bounds the error tail included in reports.
const maxReportErrors = 20

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Options tune persistence behavior.
type Options struct {
	// FailOnSaveError makes mutators return the save error. The in-memory
	// mutation is kept either way.
	FailOnSaveError bool
	Clock           Clock
	Logger          *zap.Logger
}

// Store guards the checkpoint document. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	opts   Options
	logger *zap.Logger
	state  State
}

// Open loads the checkpoint at path, or starts from an empty state when the
// file is absent, unreadable or fails validation. A rejected file is moved
// aside to <path>.corrupt so the next save does not destroy it.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if opts.Clock == nil {
		opts.Clock = utcClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, opts: opts, logger: logger}
	s.state = s.load()
	return s, nil
}

func (s *Store) load() State {
	// #nosec G304 -- the checkpoint path comes from operator configuration.
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("No checkpoint found, starting fresh", zap.String("path", s.path))
		return newState(s.opts.Clock.Now())
	}
	if err != nil {
		s.logger.Warn("Failed to read checkpoint, starting fresh", zap.String("path", s.path), zap.Error(err))
		return newState(s.opts.Clock.Now())
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.quarantine(fmt.Errorf("decode checkpoint: %w", err))
		return newState(s.opts.Clock.Now())
	}
	if err := st.validate(); err != nil {
		s.quarantine(err)
		return newState(s.opts.Clock.Now())
	}
	st.normalize()
	s.logger.Info("Loaded checkpoint",
		zap.String("path", s.path),
		zap.Int("builds", len(st.Builds)),
		zap.Int("errors", len(st.Errors)),
	)
	return st
}

func (s *Store) quarantine(cause error) {
	backup := s.path + ".corrupt"
	s.logger.Warn("Discarding unusable checkpoint", zap.String("path", s.path), zap.String("backup", backup), zap.Error(cause))
	if err := os.Rename(s.path, backup); err != nil {
		s.logger.Warn("Failed to move checkpoint aside", zap.String("path", s.path), zap.Error(err))
	}
}

// Path returns the checkpoint location.
func (s *Store) Path() string {
	return s.path
}

// Save writes the full state, updating lastCheckpoint.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked always attempts the write. In lenient mode a failure is
// logged and nil is returned.
func (s *Store) persistLocked() error {
	s.state.LastCheckpoint = s.opts.Clock.Now()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err == nil {
		err = local.WriteFile(s.path, data, 0o600)
	}
	if err == nil {
		return nil
	}
	err = fmt.Errorf("save checkpoint: %w", err)
	if s.opts.FailOnSaveError {
		return err
	}
	s.logger.Error("Failed to persist checkpoint, continuing with in-memory state", zap.String("path", s.path), zap.Error(err))
	return nil
}

// SetBuildStatus upserts the status of (identifier, assetType). Reaching
// Complete increments the asset's counter.
func (s *Store) SetBuildStatus(identifier, assetType string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(identifier, assetType, status)
	return s.persistLocked()
}

func (s *Store) setStatusLocked(identifier, assetType string, status Status) {
	entry, ok := s.state.Builds[identifier]
	if !ok {
		entry = make(map[string]Status)
		s.state.Builds[identifier] = entry
	}
	entry[assetType] = status
	if status == Complete {
		s.state.Stats[StatName(assetType)]++
	}
}

// MarkComplete records a finished unit.
func (s *Store) MarkComplete(identifier, assetType string) error {
	return s.SetBuildStatus(identifier, assetType, Complete)
}

// MarkFailed records a failed unit and appends an error entry.
func (s *Store) MarkFailed(identifier, assetType, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(identifier, assetType, Failed)
	s.state.Errors = append(s.state.Errors, ErrorEntry{
		Identifier: identifier,
		AssetType:  assetType,
		Message:    message,
		Timestamp:  s.opts.Clock.Now(),
	})
	return s.persistLocked()
}

// Status returns the current status, Pending when absent.
func (s *Store) Status(identifier, assetType string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.state.Builds[identifier][assetType]; ok {
		return status
	}
	return Pending
}

// IsComplete is true iff the status is exactly Complete.
func (s *Store) IsComplete(identifier, assetType string) bool {
	return s.Status(identifier, assetType) == Complete
}

// IsKeyComplete reports a flat idempotence flag.
func (s *Store) IsKeyComplete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Completed[key]
}

// MarkKeyComplete sets a flat idempotence flag.
func (s *Store) MarkKeyComplete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Completed[key] = true
	return s.persistLocked()
}

// ClearKey drops a flat idempotence flag.
func (s *Store) ClearKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Completed[key] {
		return nil
	}
	delete(s.state.Completed, key)
	return s.persistLocked()
}

// SetPhase records the phase that is currently active.
func (s *Store) SetPhase(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = &name
	return s.persistLocked()
}

// Phase returns the last active phase, if any.
func (s *Store) Phase() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == nil || *s.state.Phase == "" {
		return "", false
	}
	return *s.state.Phase, true
}

// SetRunID tags the checkpoint with the current run.
func (s *Store) SetRunID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RunID = id
	return s.persistLocked()
}

// Reset discards all progress and restarts the clock.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState(s.opts.Clock.Now())
	return s.persistLocked()
}

// Stats returns a copy of the counters.
func (s *Store) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.state.Stats)
}

// Errors returns a copy of every recorded error.
func (s *Store) Errors() []ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorEntry(nil), s.state.Errors...)
}

// Report is a read-only snapshot of the checkpoint.
type Report struct {
	RunID          string                       `json:"runId,omitempty"`
	Phase          string                       `json:"phase,omitempty"`
	StartedAt      time.Time                    `json:"startedAt"`
	LastCheckpoint time.Time                    `json:"lastCheckpoint"`
	Stats          map[string]int               `json:"summary"`
	TotalErrors    int                          `json:"totalErrors"`
	RecentErrors   []ErrorEntry                 `json:"errors"`
	Builds         map[string]map[string]Status `json:"builds"`
}

// GenerateReport snapshots stats, the last 20 errors and every status.
func (s *Store) GenerateReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := s.state.Errors
	if len(errs) > maxReportErrors {
		errs = errs[len(errs)-maxReportErrors:]
	}
	builds := make(map[string]map[string]Status, len(s.state.Builds))
	for id, assets := range s.state.Builds {
		builds[id] = maps.Clone(assets)
	}
	r := Report{
		RunID:          s.state.RunID,
		StartedAt:      s.state.StartedAt,
		LastCheckpoint: s.state.LastCheckpoint,
		Stats:          maps.Clone(s.state.Stats),
		TotalErrors:    len(s.state.Errors),
		RecentErrors:   append([]ErrorEntry{}, errs...),
		Builds:         builds,
	}
	if s.state.Phase != nil {
		r.Phase = *s.state.Phase
	}
	return r
}
