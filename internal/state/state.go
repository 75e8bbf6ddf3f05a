// Package state is the durable checkpoint that makes phases resumable.
//
// Every mutation is written through to a single JSON document. Loading is
// lenient: an absent, unreadable or schema-invalid file yields a fresh state.
package state

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidState reports a checkpoint that failed schema validation.
var ErrInvalidState = errors.New("invalid checkpoint")

// Status is the progress of one identifier for one asset type.
type Status string

// Known statuses. An absent entry reads as Pending.
const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Complete   Status = "complete"
	Failed     Status = "failed"
	NotFound   Status = "not_found"
)

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Identifier string    `json:"buildId" validate:"required"`
	AssetType  string    `json:"assetType"`
	Message    string    `json:"error" validate:"required"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the persisted document.
type State struct {
	Phase          *string                      `json:"phase"`
	RunID          string                       `json:"runId,omitempty"`
	StartedAt      time.Time                    `json:"startedAt"`
	LastCheckpoint time.Time                    `json:"lastCheckpoint"`
	Builds         map[string]map[string]Status `json:"builds" validate:"dive,dive,oneof=pending in_progress complete failed not_found"`
	Completed      map[string]bool              `json:"completed"`
	Errors         []ErrorEntry                 `json:"errors" validate:"dive"`
	Stats          map[string]int               `json:"stats"`
}

func newState(now time.Time) State {
	return State{
		StartedAt:      now,
		LastCheckpoint: now,
		Builds:         make(map[string]map[string]Status),
		Completed:      make(map[string]bool),
		Errors:         []ErrorEntry{},
		Stats:          make(map[string]int),
	}
}

// normalize fills nil collections left by older or hand-edited files.
func (s *State) normalize() {
	if s.Builds == nil {
		s.Builds = make(map[string]map[string]Status)
	}
	if s.Completed == nil {
		s.Completed = make(map[string]bool)
	}
	if s.Errors == nil {
		s.Errors = []ErrorEntry{}
	}
	if s.Stats == nil {
		s.Stats = make(map[string]int)
	}
}

func (s *State) validate() error {
	if err := validator.New().Struct(s); err != nil {
		return errors.Join(ErrInvalidState, err)
	}
	return nil
}

// StatName maps an asset type to the counter incremented on completion.
func StatName(assetType string) string {
	switch assetType {
	case "makecode":
		return "makecodeScraped"
	case "python":
		return "pythonScraped"
	case "sensors":
		return "sensorsScraped"
	case "wiring":
		return "wiringDownloaded"
	case "images":
		return "imagesProcessed"
	default:
		return assetType + "Completed"
	}
}
