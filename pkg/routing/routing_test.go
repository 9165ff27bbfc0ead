package routing

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/domain/memstore"
)

type fixture struct {
	engine  *Engine
	rules   *memstore.RuleStore
	depts   *memstore.DepartmentStore
	workers *memstore.WorkerStore
}

func newFixture() *fixture {
	rules := memstore.NewRuleStore()
	depts := memstore.NewDepartmentStore()
	workers := memstore.NewWorkerStore()
	clk := clock.Fixed{At: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)}
	return &fixture{
		engine:  New(rules, depts, workers, nil, clk, nil),
		rules:   rules,
		depts:   depts,
		workers: workers,
	}
}

func intPtr(v int) *int { return &v }

// Scenario: a matching rule routes to department D; the trade-matched
// worker wins over the less-loaded one, and the rule's set_priority,
// notification channels and 60-minute escalation carry into the decision.
func TestRouteRuleMatchWithWorkerSelection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.rules.Put(&domain.RoutingRule{
		ID: "r1", TenantID: "t1", Name: "Dringende Reparaturen", Priority: 10, Active: true,
		Conditions: domain.RoutingConditions{
			"task_type": []string{"repair"},
			"urgency":   []string{"dringend"},
		},
		RouteToDepartmentID:  "D",
		SetPriority:          intPtr(20),
		SendNotification:     true,
		NotificationChannels: []string{"sms", "email"},
		EscalateAfterMinutes: intPtr(60),
	})
	f.depts.Put(&domain.Department{ID: "D", TenantID: "t1", Name: "Reparatur", Active: true})
	f.workers.Put(&domain.Worker{ID: "W1", TenantID: "t1", DepartmentID: "D", Name: "Anna", Active: true, Available: true, CurrentTaskCount: 2, MaxTasksPerDay: 10, TradeCategories: []string{"shk"}})
	f.workers.Put(&domain.Worker{ID: "W2", TenantID: "t1", DepartmentID: "D", Name: "Ben", Active: true, Available: true, CurrentTaskCount: 0, MaxTasksPerDay: 10, TradeCategories: []string{"elektro"}})

	task := &domain.Task{
		ID: "task-1", TenantID: "t1", SourceType: domain.SourceEmail,
		TaskType: "repair", Urgency: domain.UrgencyDringend, TradeCategory: "shk",
		Status: domain.TaskNew,
	}

	d, err := f.engine.Route(ctx, "t1", task)
	require.NoError(t, err)

	assert.Equal(t, "D", d.DepartmentID)
	// W2 is less loaded but lacks the shk trade category, so W1 wins.
	assert.Equal(t, "W1", d.WorkerID)
	assert.Equal(t, 20, d.Priority)
	assert.Contains(t, d.Reason, "Matched rule:")
	assert.Equal(t, "r1", d.MatchedRuleID)
	assert.True(t, d.SendNotification)
	assert.Equal(t, []string{"sms", "email"}, d.NotificationChannels)
	require.NotNil(t, d.EscalateAfterMinutes)
	assert.Equal(t, 60, *d.EscalateAfterMinutes)

	require.NoError(t, f.engine.Apply(ctx, task, d))
	assert.Equal(t, domain.TaskAssigned, task.Status)
	assert.Equal(t, "W1", task.AssignedWorkerID)
	assert.Equal(t, "auto_routing", task.AssignedBy)
	require.NotNil(t, task.AssignedAt)

	workers, err := f.workers.ByDepartment(ctx, "t1", "D")
	require.NoError(t, err)
	for _, w := range workers {
		if w.ID == "W1" {
			assert.Equal(t, 3, w.CurrentTaskCount)
		}
	}
}

// Scenario: no rule and no department handles the task type; routing falls
// back to the department whose name contains "kundendienst".
func TestRouteDefaultFallbackByName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.depts.Put(&domain.Department{ID: "K", TenantID: "t1", Name: "Kundendienst", Active: true, HandledTaskTypes: []string{"general"}})

	task := &domain.Task{ID: "task-1", TenantID: "t1", TaskType: "quote", Urgency: domain.UrgencyNormal, Status: domain.TaskNew}
	d, err := f.engine.Route(ctx, "t1", task)
	require.NoError(t, err)

	assert.Equal(t, "K", d.DepartmentID)
	assert.Contains(t, d.Reason, "Default fallback")
	assert.Equal(t, 100, d.Priority) // URGENCY_PRIORITY[normal]
}

func TestRouteDefaultByHandledTaskType(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.depts.Put(&domain.Department{ID: "H", TenantID: "t1", Name: "Heizung", Active: true, HandledTaskTypes: []string{"heating_repair"}})
	f.workers.Put(&domain.Worker{ID: "W1", TenantID: "t1", DepartmentID: "H", Name: "Anna", Active: true, Available: true, MaxTasksPerDay: 10})

	task := &domain.Task{ID: "task-1", TenantID: "t1", TaskType: "heating_repair", Urgency: domain.UrgencyRoutine, Status: domain.TaskNew}
	d, err := f.engine.Route(ctx, "t1", task)
	require.NoError(t, err)

	assert.Equal(t, "H", d.DepartmentID)
	assert.Equal(t, "W1", d.WorkerID)
	assert.Contains(t, d.Reason, "Default routing")
}

func TestRouteNoWorkerLeavesTaskNew(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.rules.Put(&domain.RoutingRule{
		ID: "r1", TenantID: "t1", Name: "Alles", Priority: 1, Active: true,
		Conditions:          domain.RoutingConditions{"task_type": "repair"},
		RouteToDepartmentID: "D",
	})
	f.depts.Put(&domain.Department{ID: "D", TenantID: "t1", Name: "Reparatur", Active: true})
	// Only an unavailable worker exists.
	f.workers.Put(&domain.Worker{ID: "W1", TenantID: "t1", DepartmentID: "D", Active: true, Available: false, MaxTasksPerDay: 10})

	task := &domain.Task{ID: "task-1", TenantID: "t1", TaskType: "repair", Urgency: domain.UrgencyNormal, Status: domain.TaskNew}
	d, err := f.engine.Route(ctx, "t1", task)
	require.NoError(t, err)
	assert.Empty(t, d.WorkerID)

	require.NoError(t, f.engine.Apply(ctx, task, d))
	// No assigned-without-worker state is ever observable.
	assert.Equal(t, domain.TaskNew, task.Status)
	assert.Empty(t, task.AssignedWorkerID)
	assert.Equal(t, "D", task.AssignedDepartmentID)
}

func TestRuleOrderingLowerPriorityFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.rules.Put(&domain.RoutingRule{
		ID: "r-late", TenantID: "t1", Name: "Catch-all", Priority: 100, Active: true,
		Conditions:          domain.RoutingConditions{"task_type": "repair"},
		RouteToDepartmentID: "B",
	})
	f.rules.Put(&domain.RoutingRule{
		ID: "r-early", TenantID: "t1", Name: "Specific", Priority: 5, Active: true,
		Conditions:          domain.RoutingConditions{"task_type": "repair"},
		RouteToDepartmentID: "A",
	})

	task := &domain.Task{ID: "task-1", TenantID: "t1", TaskType: "repair", Urgency: domain.UrgencyNormal}
	d, err := f.engine.Route(ctx, "t1", task)
	require.NoError(t, err)
	assert.Equal(t, "A", d.DepartmentID)
	assert.Equal(t, "r-early", d.MatchedRuleID)
}

func TestConditionsPLZPrefixAndDistance(t *testing.T) {
	km := 12.5
	task := &domain.Task{TaskType: "repair", CustomerPLZ: "80331", DistanceFromHQKm: &km}

	assert.True(t, matchesConditions(task, domain.RoutingConditions{"customer_plz_starts": "80"}))
	assert.False(t, matchesConditions(task, domain.RoutingConditions{"customer_plz_starts": "10"}))
	assert.True(t, matchesConditions(task, domain.RoutingConditions{"distance_km_max": 20}))
	assert.False(t, matchesConditions(task, domain.RoutingConditions{"distance_km_max": 10}))

	// Missing attributes never match.
	bare := &domain.Task{TaskType: "repair"}
	assert.False(t, matchesConditions(bare, domain.RoutingConditions{"customer_plz_starts": "80"}))
	assert.False(t, matchesConditions(bare, domain.RoutingConditions{"distance_km_max": 20}))
	assert.False(t, matchesConditions(bare, domain.RoutingConditions{}))
}

func TestNotfallDefaultEscalation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.depts.Put(&domain.Department{ID: "K", TenantID: "t1", Name: "Kundendienst", Active: true})

	task := &domain.Task{ID: "task-1", TenantID: "t1", TaskType: "emergency", Urgency: domain.UrgencyNotfall}
	d, err := f.engine.Route(ctx, "t1", task)
	require.NoError(t, err)

	want := Decision{
		DepartmentID:         "K",
		Priority:             0, // URGENCY_PRIORITY[notfall]
		Reason:               "Default fallback: Kundendienst",
		SendNotification:     true,
		NotificationChannels: []string{"sms", "email"},
		EscalateAfterMinutes: intPtr(15),
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}
}

func TestReassignMovesWorkerCounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.workers.Put(&domain.Worker{ID: "W1", TenantID: "t1", DepartmentID: "D", Active: true, Available: true, CurrentTaskCount: 1, MaxTasksPerDay: 10})
	f.workers.Put(&domain.Worker{ID: "W2", TenantID: "t1", DepartmentID: "D", Active: true, Available: true, CurrentTaskCount: 0, MaxTasksPerDay: 10})

	task := &domain.Task{ID: "task-1", TenantID: "t1", AssignedWorkerID: "W1", Status: domain.TaskAssigned}
	require.NoError(t, f.engine.Reassign(ctx, task, "W2", "manual override"))

	assert.Equal(t, "W2", task.AssignedWorkerID)
	workers, err := f.workers.ByDepartment(ctx, "t1", "D")
	require.NoError(t, err)
	counts := map[string]int{}
	for _, w := range workers {
		counts[w.ID] = w.CurrentTaskCount
	}
	assert.Equal(t, 0, counts["W1"])
	assert.Equal(t, 1, counts["W2"])
}

func TestEscalateHalvesPriority(t *testing.T) {
	f := newFixture()

	task := &domain.Task{ID: "task-1", RoutingPriority: 100, RoutingReason: "Matched rule: X"}
	f.engine.Escalate(task, "no response in 60m")

	assert.Equal(t, 50, task.RoutingPriority)
	assert.Contains(t, task.RoutingReason, "ESCALATED (no response in 60m)")
	assert.Contains(t, task.RoutingReason, "Matched rule: X")

	f.engine.Escalate(task, "still waiting")
	assert.Equal(t, 25, task.RoutingPriority)
}
