package rules

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// Rule names an operating rule. The value doubles as the rule_status field name.
type Rule string

const (
	DrivingTime    Rule = "driving_time"
	Speed          Rule = "speed"
	Halt           Rule = "halt"
	RouteViolation Rule = "route_violation"
	ReverseTravel  Rule = "reverse_travel"
)

// All lists every rule in evaluation order.
var All = []Rule{DrivingTime, Speed, Halt, RouteViolation, ReverseTravel}

var validate = validator.New()

type drivingWindow struct {
	start int // minutes of day
	end   int
}

func (w drivingWindow) permits(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	switch {
	case w.start == w.end:
		return true
	case w.start < w.end:
		return m >= w.start && m < w.end
	default:
		return m >= w.start || m < w.end
	}
}

// RuleSet is the set of rules configured for one trip, built once from the route thresholds.
type RuleSet struct {
	driving          *drivingWindow
	speedLimit       *float64
	maxHalt          *float64
	routeThreshold   *float64
	reverseThreshold *float64

	// Skipped lists rules whose thresholds were present but malformed.
	Skipped []Rule
}

// NewRuleSet builds the configured rules. Absent thresholds are not tracked and
// malformed thresholds are skipped.
func NewRuleSet(r models.RouteRules) RuleSet {
	var s RuleSet

	if r.DrivingStartTime != nil || r.DrivingEndTime != nil {
		if w, ok := parseWindow(r.DrivingStartTime, r.DrivingEndTime); ok {
			s.driving = &w
		} else {
			s.Skipped = append(s.Skipped, DrivingTime)
		}
	}
	s.speedLimit = positive(r.SpeedLimit, Speed, &s.Skipped)
	s.maxHalt = positive(r.MaxHaltTime, Halt, &s.Skipped)
	s.routeThreshold = positive(r.RouteViolationThreshold, RouteViolation, &s.Skipped)
	s.reverseThreshold = positive(r.ReverseTravelThreshold, ReverseTravel, &s.Skipped)
	return s
}

// Has reports whether the rule is tracked for the trip.
func (s RuleSet) Has(rule Rule) bool {
	switch rule {
	case DrivingTime:
		return s.driving != nil
	case Speed:
		return s.speedLimit != nil
	case Halt:
		return s.maxHalt != nil
	case RouteViolation:
		return s.routeThreshold != nil
	case ReverseTravel:
		return s.reverseThreshold != nil
	default:
		return false
	}
}

// Rules returns the tracked rules in evaluation order.
func (s RuleSet) Rules() []Rule {
	var out []Rule
	for _, r := range All {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func parseWindow(start, end *string) (drivingWindow, bool) {
	if start == nil || end == nil {
		return drivingWindow{}, false
	}
	if validate.Var(*start, "datetime=15:04") != nil || validate.Var(*end, "datetime=15:04") != nil {
		return drivingWindow{}, false
	}
	s, _ := time.Parse("15:04", *start)
	e, _ := time.Parse("15:04", *end)
	return drivingWindow{start: s.Hour()*60 + s.Minute(), end: e.Hour()*60 + e.Minute()}, true
}

func positive(v *float64, rule Rule, skipped *[]Rule) *float64 {
	if v == nil {
		return nil
	}
	if validate.Var(*v, "gt=0") != nil {
		*skipped = append(*skipped, rule)
		return nil
	}
	out := *v
	return &out
}
