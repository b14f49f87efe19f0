package update

import (
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-trip-engine/internal/models"
	"github.com/ukydev/fleet-trip-engine/internal/rules"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Append-only trip arrays.
const (
	FieldSignificantLocations = "significant_locations"
	FieldSignificantEvents    = "significant_events"
	FieldTripPath             = "trip_path"
	FieldFuelEvents           = "fuel_events"
)

// FieldRuleStatus is the deep-merged rule status sub-document.
const FieldRuleStatus = "rule_status"

// Rule status accumulators that only exist when reverse travel is tracked.
const (
	FieldReverseTravelDistance = "reverse_travel_distance"
	FieldReverseTravelPath     = "reverse_travel_path"
)

var (
	ErrNotAppendable   = errors.New("field is not an append-only array")
	ErrNotOverwritable = errors.New("append-only field cannot be overwritten")
)

var appendOnly = map[string]bool{
	FieldSignificantLocations: true,
	FieldSignificantEvents:    true,
	FieldTripPath:             true,
	FieldFuelEvents:           true,
}

// IsAppendOnly reports whether a trip field only ever grows.
func IsAppendOnly(field string) bool {
	return appendOnly[field]
}

// EventClosure closes an open significant event in place.
type EventClosure struct {
	EventID  string
	EndTime  time.Time
	Duration float64 // minutes
	Distance float64 // km
	Path     []models.Location
}

// Delta collects every change of one tick for a single trip.
type Delta struct {
	Set         map[string]interface{}
	Append      map[string][]interface{}
	RuleStatus  map[string]interface{}
	CloseEvents []EventClosure
}

// NewDelta creates an empty delta.
func NewDelta() *Delta {
	return &Delta{
		Set:        map[string]interface{}{},
		Append:     map[string][]interface{}{},
		RuleStatus: map[string]interface{}{},
	}
}

// SetField overwrites a scalar or sub-document field.
func (d *Delta) SetField(field string, value interface{}) {
	d.Set[field] = value
}

// AppendTo adds items to an append-only array field.
func (d *Delta) AppendTo(field string, items ...interface{}) {
	d.Append[field] = append(d.Append[field], items...)
}

// MergeRuleStatus sets one field of the rule status sub-document.
func (d *Delta) MergeRuleStatus(field string, value interface{}) {
	d.RuleStatus[field] = value
}

// CloseEvent closes an open event that was persisted in an earlier tick.
func (d *Delta) CloseEvent(c EventClosure) {
	d.CloseEvents = append(d.CloseEvents, c)
}

// IsEmpty reports whether the delta would change nothing.
func (d *Delta) IsEmpty() bool {
	return len(d.Set) == 0 && len(d.Append) == 0 && len(d.RuleStatus) == 0 && len(d.CloseEvents) == 0
}

// Validate checks the delta against the merge contract.
func (d *Delta) Validate() error {
	for field := range d.Set {
		if IsAppendOnly(field) || field == FieldRuleStatus {
			return fmt.Errorf("%s: %w", field, ErrNotOverwritable)
		}
	}
	for field := range d.Append {
		if !IsAppendOnly(field) {
			return fmt.Errorf("%s: %w", field, ErrNotAppendable)
		}
	}
	return nil
}

// Scope drops rule status fields of rules the trip does not track.
func (d *Delta) Scope(set rules.RuleSet) {
	for field := range d.RuleStatus {
		if rule, ok := ruleOf(field); ok && !set.Has(rule) {
			delete(d.RuleStatus, field)
		}
	}
}

func ruleOf(field string) (rules.Rule, bool) {
	switch field {
	case FieldReverseTravelDistance, FieldReverseTravelPath:
		return rules.ReverseTravel, true
	}
	for _, r := range rules.All {
		if string(r) == field {
			return r, true
		}
	}
	return "", false
}

// WriteModels translates the delta into ordered Mongo writes. Event closures
// come first and replay safely. The single $set/$push write comes last. The
// bulk is not atomic: closures can land without the final write, and a retry
// after a lost acknowledgement of the final write pushes its appends again.
func (d *Delta) WriteModels(tripID primitive.ObjectID, now time.Time) []mongo.WriteModel {
	filter := bson.M{"_id": tripID}
	var out []mongo.WriteModel

	for _, c := range d.CloseEvents {
		set := bson.M{
			"significant_events.$[e].event_end_time": c.EndTime,
			"significant_events.$[e].event_duration": c.Duration,
			"significant_events.$[e].event_distance": c.Distance,
		}
		if len(c.Path) > 0 {
			set["significant_events.$[e].event_path"] = c.Path
		}
		out = append(out, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": set}).
			SetArrayFilters(options.ArrayFilters{Filters: []interface{}{bson.M{"e.event_id": c.EventID}}}))
	}

	set := bson.M{"updated_at": now}
	for field, v := range d.Set {
		set[field] = v
	}
	for field, v := range d.RuleStatus {
		set[FieldRuleStatus+"."+field] = v
	}
	update := bson.M{"$set": set}
	if len(d.Append) > 0 {
		push := bson.M{}
		for field, items := range d.Append {
			push[field] = bson.M{"$each": items}
		}
		update["$push"] = push
	}
	out = append(out, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update))
	return out
}
