package update

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"github.com/ukydev/fleet-trip-engine/internal/rules"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestDelta_Validate(t *testing.T) {
	d := NewDelta()
	d.SetField("trip_stage", models.StageActive)
	d.AppendTo(FieldSignificantEvents, models.SignificantEvent{EventID: "e1"})
	assert.NoError(t, d.Validate())

	d = NewDelta()
	d.SetField(FieldSignificantEvents, []models.SignificantEvent{})
	assert.ErrorIs(t, d.Validate(), ErrNotOverwritable)

	d = NewDelta()
	d.SetField(FieldRuleStatus, models.RuleStatus{})
	assert.ErrorIs(t, d.Validate(), ErrNotOverwritable)

	d = NewDelta()
	d.AppendTo("trip_stage", "x")
	assert.ErrorIs(t, d.Validate(), ErrNotAppendable)
}

func TestDelta_IsEmpty(t *testing.T) {
	d := NewDelta()
	assert.True(t, d.IsEmpty())
	d.CloseEvent(EventClosure{EventID: "e1"})
	assert.False(t, d.IsEmpty())
}

func TestDelta_ScopeDropsUntrackedRules(t *testing.T) {
	speedOnly := rules.NewRuleSet(models.RouteRules{SpeedLimit: func() *float64 { v := 60.0; return &v }()})

	d := NewDelta()
	d.MergeRuleStatus(string(rules.Speed), models.RuleViolated)
	d.MergeRuleStatus(string(rules.ReverseTravel), models.RuleGood)
	d.MergeRuleStatus(FieldReverseTravelDistance, 1.2)
	d.MergeRuleStatus(FieldReverseTravelPath, []models.Location{})
	d.Scope(speedOnly)

	assert.Equal(t, map[string]interface{}{"speed": models.RuleViolated}, d.RuleStatus)
}

func TestDelta_WriteModels(t *testing.T) {
	id := primitive.NewObjectID()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := now.Add(-time.Minute)

	d := NewDelta()
	d.SetField("trip_stage", models.StageActive)
	d.MergeRuleStatus("speed", models.RuleGood)
	d.AppendTo(FieldSignificantEvents, "e1", "e2")
	d.CloseEvent(EventClosure{EventID: "old", EndTime: end, Duration: 12, Distance: 3})

	writes := d.WriteModels(id, now)
	require.Len(t, writes, 2)

	closure, ok := writes[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"_id": id}, closure.Filter)
	closeSet := closure.Update.(bson.M)["$set"].(bson.M)
	assert.Equal(t, end, closeSet["significant_events.$[e].event_end_time"])
	assert.Equal(t, 12.0, closeSet["significant_events.$[e].event_duration"])
	require.NotNil(t, closure.ArrayFilters)
	assert.Equal(t, options.ArrayFilters{Filters: []interface{}{bson.M{"e.event_id": "old"}}}, *closure.ArrayFilters)

	main, ok := writes[1].(*mongo.UpdateOneModel)
	require.True(t, ok)
	upd := main.Update.(bson.M)
	set := upd["$set"].(bson.M)
	assert.Equal(t, models.StageActive, set["trip_stage"])
	assert.Equal(t, models.RuleGood, set["rule_status.speed"])
	assert.Equal(t, now, set["updated_at"])
	assert.NotContains(t, set, FieldSignificantEvents)

	push := upd["$push"].(bson.M)
	assert.Equal(t, bson.M{"$each": []interface{}{"e1", "e2"}}, push[FieldSignificantEvents])
}

func TestDelta_WriteModelsWithoutAppends(t *testing.T) {
	d := NewDelta()
	d.SetField("movement_status", models.MovementHalted)

	writes := d.WriteModels(primitive.NewObjectID(), time.Now())
	require.Len(t, writes, 1)
	upd := writes[0].(*mongo.UpdateOneModel).Update.(bson.M)
	assert.NotContains(t, upd, "$push")
}
