package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func fullRules() models.RouteRules {
	return models.RouteRules{
		DrivingStartTime:        s("06:00"),
		DrivingEndTime:          s("22:00"),
		SpeedLimit:              f(60),
		MaxHaltTime:             f(30),
		RouteViolationThreshold: f(500),
		ReverseTravelThreshold:  f(1),
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 1, hour, minute, 0, 0, time.UTC)
}

func TestNewRuleSet_OnlyConfiguredRules(t *testing.T) {
	set := NewRuleSet(models.RouteRules{SpeedLimit: f(80)})
	assert.Equal(t, []Rule{Speed}, set.Rules())
	assert.False(t, set.Has(Halt))
	assert.Empty(t, set.Skipped)

	assert.Equal(t, All, NewRuleSet(fullRules()).Rules())
	assert.Empty(t, NewRuleSet(models.RouteRules{}).Rules())
}

func TestNewRuleSet_MalformedThresholdsAreSkipped(t *testing.T) {
	set := NewRuleSet(models.RouteRules{
		DrivingStartTime:        s("6 am"),
		DrivingEndTime:          s("22:00"),
		SpeedLimit:              f(-5),
		MaxHaltTime:             f(0),
		RouteViolationThreshold: f(300),
	})
	assert.Equal(t, []Rule{RouteViolation}, set.Rules())
	assert.ElementsMatch(t, []Rule{DrivingTime, Speed, Halt}, set.Skipped)

	half := NewRuleSet(models.RouteRules{DrivingStartTime: s("06:00")})
	assert.False(t, half.Has(DrivingTime))
	assert.Equal(t, []Rule{DrivingTime}, half.Skipped)
}

func TestDrivingWindow(t *testing.T) {
	day := drivingWindow{start: 6 * 60, end: 22 * 60}
	assert.True(t, day.permits(at(6, 0)))
	assert.True(t, day.permits(at(21, 59)))
	assert.False(t, day.permits(at(22, 0)))
	assert.False(t, day.permits(at(3, 0)))

	night := drivingWindow{start: 22 * 60, end: 6 * 60}
	assert.True(t, night.permits(at(23, 0)))
	assert.True(t, night.permits(at(5, 0)))
	assert.False(t, night.permits(at(12, 0)))

	assert.True(t, drivingWindow{start: 60, end: 60}.permits(at(17, 0)))
}

func TestEvaluate_EachRule(t *testing.T) {
	set := NewRuleSet(fullRules())
	calm := Signals{Time: at(12, 0), Speed: 40, Moving: true, HasRoute: true, RouteDistance: 50}

	tests := []struct {
		name string
		sig  func(Signals) Signals
		rule Rule
	}{
		{"driving at night", func(s Signals) Signals { s.Time = at(23, 30); return s }, DrivingTime},
		{"overspeed", func(s Signals) Signals { s.Speed = 75; return s }, Speed},
		{"long halt", func(s Signals) Signals { s.HaltMinutes = 31; return s }, Halt},
		{"off route", func(s Signals) Signals { s.RouteDistance = 800; return s }, RouteViolation},
		{"reversing", func(s Signals) Signals { s.ReverseDistance = 1.5; return s }, ReverseTravel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(set, models.RuleStatus{}, tt.sig(calm))
			require.Len(t, out, 1)
			assert.Equal(t, Transition{Rule: tt.rule, From: models.RuleGood, To: models.RuleViolated}, out[0])
			assert.True(t, out[0].Opened())
		})
	}
}

func TestEvaluate_NightHaltIsNotDrivingViolation(t *testing.T) {
	set := NewRuleSet(fullRules())
	out := Evaluate(set, models.RuleStatus{}, Signals{Time: at(23, 30), Moving: false, HasRoute: true})
	assert.Empty(t, out)
}

func TestEvaluate_OnlyChangesAreEmitted(t *testing.T) {
	set := NewRuleSet(fullRules())
	sig := Signals{Time: at(12, 0), Speed: 90, Moving: true, HasRoute: true}

	first := Evaluate(set, models.RuleStatus{}, sig)
	require.Len(t, first, 1)

	var status models.RuleStatus
	for _, tr := range first {
		SetFlag(&status, tr.Rule, tr.To)
	}
	assert.Empty(t, Evaluate(set, status, sig), "unchanged signal must not emit")
	assert.Empty(t, Evaluate(set, status, sig))

	sig.Speed = 50
	recovered := Evaluate(set, status, sig)
	require.Len(t, recovered, 1)
	assert.Equal(t, Transition{Rule: Speed, From: models.RuleViolated, To: models.RuleGood}, recovered[0])
	assert.False(t, recovered[0].Opened())
}

func TestEvaluate_UnconfiguredRuleNeverEvaluated(t *testing.T) {
	set := NewRuleSet(models.RouteRules{MaxHaltTime: f(10)})
	out := Evaluate(set, models.RuleStatus{Speed: models.RuleViolated}, Signals{Speed: 200, Moving: true})
	assert.Empty(t, out)
}

func TestEvaluate_RouteRulesNeedRoute(t *testing.T) {
	set := NewRuleSet(fullRules())
	prior := models.RuleStatus{RouteViolation: models.RuleViolated, ReverseTravel: models.RuleViolated}
	out := Evaluate(set, prior, Signals{Time: at(12, 0), HasRoute: false})
	assert.Empty(t, out)
}

func TestFlagRoundTrip(t *testing.T) {
	var status models.RuleStatus
	for _, r := range All {
		assert.Empty(t, Flag(status, r))
		SetFlag(&status, r, models.RuleViolated)
		assert.Equal(t, models.RuleViolated, Flag(status, r))
	}
	assert.Empty(t, Flag(status, Rule("unknown")))
}
