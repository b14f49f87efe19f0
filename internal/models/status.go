package models

import "fmt"

// ActivityKind identifies the fine-grained activity of an active trip.
type ActivityKind string

const (
	ActivityInactive      ActivityKind = "inactive"
	ActivityReachedStart  ActivityKind = "reached_start"
	ActivityDetainedStart ActivityKind = "detained_start"
	ActivityRunning       ActivityKind = "running_on_route"
	ActivityHalted        ActivityKind = "halted"
	ActivityReachedVia    ActivityKind = "reached_via"
	ActivityDetainedVia   ActivityKind = "detained_via"
	ActivityReachedEnd    ActivityKind = "reached_end"
	ActivityDetainedEnd   ActivityKind = "detained_end"
)

// ActiveStatus is the activity of a trip. Name is only set for via locations.
type ActiveStatus struct {
	Kind ActivityKind `json:"kind" bson:"kind"`
	Name string       `json:"name,omitempty" bson:"name,omitempty"`
}

// String renders the status for alerts and reports.
func (s ActiveStatus) String() string {
	switch s.Kind {
	case ActivityReachedStart:
		return "Reached Start Location"
	case ActivityDetainedStart:
		return "Detained At Start Location"
	case ActivityRunning:
		return "Running On Route"
	case ActivityHalted:
		return "Halted"
	case ActivityReachedVia:
		return fmt.Sprintf("Reached Via Location (%s)", s.Name)
	case ActivityDetainedVia:
		return fmt.Sprintf("Detained At Via Location (%s)", s.Name)
	case ActivityReachedEnd:
		return "Reached End Location"
	case ActivityDetainedEnd:
		return "Detained At End Location"
	default:
		return "Inactive"
	}
}
