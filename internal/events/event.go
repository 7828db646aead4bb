// Package events carries search and per-source task lifecycle events from the
// orchestrator to pluggable sinks without ever blocking a search.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage names a lifecycle milestone.
type Stage string

// Supported stages.
const (
	StageSearchStart Stage = "SEARCH_START"
	StageSearchDone  Stage = "SEARCH_DONE"
	StageTaskStart   Stage = "TASK_START"
	StageTaskDone    Stage = "TASK_DONE"
	StageTaskFailed  Stage = "TASK_FAILED"
	StageTaskTimeout Stage = "TASK_TIMEOUT"
)

// Event is one milestone of a search.
type Event struct {
	SearchID string        `json:"search_id"`
	TS       time.Time     `json:"ts"`
	Stage    Stage         `json:"stage"`
	Source   string        `json:"source,omitempty"`
	Keyword  string        `json:"keyword,omitempty"`
	Products int           `json:"products,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Dur      time.Duration `json:"dur_ns,omitempty"`
	Note     string        `json:"note,omitempty"`
}

// Validate rejects events sinks cannot attribute.
func (e Event) Validate() error {
	if e.SearchID == "" {
		return errors.New("search id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSearchStart, StageSearchDone:
	case StageTaskStart, StageTaskDone, StageTaskFailed, StageTaskTimeout:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage closes a task.
func (s Stage) Terminal() bool {
	return s == StageTaskDone || s == StageTaskFailed || s == StageTaskTimeout
}
