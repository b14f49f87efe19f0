package rules

import (
	"time"

	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// Signals are the live values the rules are checked against.
type Signals struct {
	Time        time.Time // local time of the latest sample
	Speed       float64   // km/h of the latest sample
	Moving      bool
	HaltMinutes float64
	// HasRoute is false when the route could not be matched this tick; route rules keep their state.
	HasRoute        bool
	RouteDistance   float64 // meters off the route
	ReverseDistance float64 // km travelled against the route
}

// Transition is a change of one rule's flag.
type Transition struct {
	Rule Rule
	From models.RuleFlag
	To   models.RuleFlag
}

// Opened reports whether the transition starts a violation.
func (t Transition) Opened() bool {
	return t.To == models.RuleViolated
}

// Evaluate checks every configured rule and returns only the rules whose flag changed.
// A rule that was never evaluated counts as Good.
func Evaluate(set RuleSet, prior models.RuleStatus, sig Signals) []Transition {
	var out []Transition
	for _, rule := range set.Rules() {
		violated, ok := set.check(rule, sig)
		if !ok {
			continue
		}
		next := models.RuleGood
		if violated {
			next = models.RuleViolated
		}
		prev := Flag(prior, rule)
		if prev == "" {
			prev = models.RuleGood
		}
		if prev != next {
			out = append(out, Transition{Rule: rule, From: prev, To: next})
		}
	}
	return out
}

func (s RuleSet) check(rule Rule, sig Signals) (violated bool, ok bool) {
	switch rule {
	case DrivingTime:
		return sig.Moving && !s.driving.permits(sig.Time), true
	case Speed:
		return sig.Speed > *s.speedLimit, true
	case Halt:
		return sig.HaltMinutes > *s.maxHalt, true
	case RouteViolation:
		if !sig.HasRoute {
			return false, false
		}
		return sig.RouteDistance > *s.routeThreshold, true
	case ReverseTravel:
		if !sig.HasRoute {
			return false, false
		}
		return sig.ReverseDistance > *s.reverseThreshold, true
	default:
		return false, false
	}
}

// Flag returns the stored flag of a rule.
func Flag(status models.RuleStatus, rule Rule) models.RuleFlag {
	switch rule {
	case DrivingTime:
		return status.DrivingTime
	case Speed:
		return status.Speed
	case Halt:
		return status.Halt
	case RouteViolation:
		return status.RouteViolation
	case ReverseTravel:
		return status.ReverseTravel
	default:
		return ""
	}
}

// SetFlag stores the flag of a rule.
func SetFlag(status *models.RuleStatus, rule Rule, flag models.RuleFlag) {
	switch rule {
	case DrivingTime:
		status.DrivingTime = flag
	case Speed:
		status.Speed = flag
	case Halt:
		status.Halt = flag
	case RouteViolation:
		status.RouteViolation = flag
	case ReverseTravel:
		status.ReverseTravel = flag
	}
}
