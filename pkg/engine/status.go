package engine

import (
	"encoding/json"
	"fmt"
)

// EventStatus represents the outcome of one resource during an apply.
type EventStatus string

const (
	// EventStatusPending indicates the resource has not been visited yet.
	EventStatusPending EventStatus = "pending"

	// EventStatusApplied indicates the resource was out of sync and was changed.
	EventStatusApplied EventStatus = "applied"

	// EventStatusUnchanged indicates the resource already matched its declaration.
	EventStatusUnchanged EventStatus = "unchanged"

	// EventStatusFailed indicates the resource action returned an error.
	EventStatusFailed EventStatus = "failed"

	// EventStatusSkipped indicates the resource was not attempted because a prerequisite failed.
	EventStatusSkipped EventStatus = "skipped"
)

// IsTerminal returns true if the event status is final.
func (s EventStatus) IsTerminal() bool {
	return s != EventStatusPending
}

// CanTransitionTo reports whether an event may move from s to next.
// Only pending events move, and only to a terminal status.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	return s == EventStatusPending && next.IsTerminal() && next.Validate() == nil
}

// Validate checks if the event status is valid.
func (s EventStatus) Validate() error {
	switch s {
	case EventStatusPending, EventStatusApplied, EventStatusUnchanged,
		EventStatusFailed, EventStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid event status: %s", s)
	}
}

// MarshalJSON implements json.Marshaler for EventStatus.
func (s EventStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for EventStatus.
func (s *EventStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := EventStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// ReportStatus is the overall outcome of an apply, derived from the worst event.
type ReportStatus string

const (
	// ReportStatusUnchanged indicates nothing needed to change.
	ReportStatusUnchanged ReportStatus = "unchanged"

	// ReportStatusChanged indicates at least one resource was applied and none failed.
	ReportStatusChanged ReportStatus = "changed"

	// ReportStatusFailed indicates a resource failed, was skipped, or the catalog failed as a whole.
	ReportStatusFailed ReportStatus = "failed"
)

// Validate checks if the report status is valid.
func (s ReportStatus) Validate() error {
	switch s {
	case ReportStatusUnchanged, ReportStatusChanged, ReportStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid report status: %s", s)
	}
}

// RunState tracks the lifecycle of a transaction.
type RunState string

const (
	// RunStateIdle indicates the transaction has not started.
	RunStateIdle RunState = "idle"

	// RunStateRunning indicates the resource walk is in progress.
	RunStateRunning RunState = "running"

	// RunStateFinalized indicates the report is frozen. No transitions leave this state.
	RunStateFinalized RunState = "finalized"
)

// CanTransitionTo reports whether a run may move from s to next.
func (s RunState) CanTransitionTo(next RunState) bool {
	switch s {
	case RunStateIdle:
		return next == RunStateRunning
	case RunStateRunning:
		return next == RunStateFinalized
	default:
		return false
	}
}

// IsTerminal returns true if the run state is final.
func (s RunState) IsTerminal() bool {
	return s == RunStateFinalized
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case RunStateIdle, RunStateRunning, RunStateFinalized:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// RunMode tells the compiler terminus which manifest sources to use.
type RunMode string

const (
	// RunModeAgent compiles from the local manifest directory.
	RunModeAgent RunMode = "agent"

	// RunModeServer acts as the compiling authority for other nodes.
	RunModeServer RunMode = "server"
)

// Validate checks if the run mode is valid.
func (m RunMode) Validate() error {
	switch m {
	case RunModeAgent, RunModeServer:
		return nil
	default:
		return fmt.Errorf("invalid run mode: %s", m)
	}
}
