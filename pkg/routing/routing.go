// Package routing implements the multi-tenant task routing engine (C10,
// spec.md §4.10): ordered rule evaluation against an inbound Task, default
// fallback routing, and least-loaded worker selection. Grounded on
// original_source/src/phone_agent/services/routing_engine.py — condition
// matching, URGENCY_PRIORITY, and the worker scoring formula are carried
// verbatim; escalate() deliberately diverges (Design Decision D5).
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// URGENCY_PRIORITY (spec.md §4.10), carried verbatim from original_source's
// routing_engine.py.
var urgencyPriority = map[domain.Urgency]int{
	domain.UrgencyNotfall:  0,
	domain.UrgencyDringend: 50,
	domain.UrgencyNormal:   100,
	domain.UrgencyRoutine:  150,
}

const defaultPriority = 100

// Decision is the outcome of routing one task, mirroring
// original_source's RoutingDecision dataclass.
type Decision struct {
	DepartmentID         string
	WorkerID             string
	Priority             int
	Reason               string
	EscalateAfterMinutes *int
	SendNotification     bool
	NotificationChannels []string
	MatchedRuleID        string
	MatchedRuleName      string
}

// RuleStore supplies a tenant's active routing rules, ordered by priority
// ascending (spec.md §4.10 step 1).
type RuleStore interface {
	ActiveRules(ctx context.Context, tenantID string) ([]*domain.RoutingRule, error)
}

// DepartmentStore supplies tenant departments for default routing.
type DepartmentStore interface {
	ByTenant(ctx context.Context, tenantID string) ([]*domain.Department, error)
}

// WorkerStore supplies tenant workers eligible for assignment and commits
// CurrentTaskCount changes. Increment/Decrement must be atomic with respect
// to concurrent reassignments of the same worker (spec.md §5).
type WorkerStore interface {
	ByDepartment(ctx context.Context, tenantID, departmentID string) ([]*domain.Worker, error)
	IncrementTaskCount(ctx context.Context, workerID string) error
	DecrementTaskCount(ctx context.Context, workerID string) error
}

// GeoService is an optional proximity-scoring collaborator (original_source
// left this as a TODO; spec.md's distance_km_max condition is the only
// proximity signal actually specified, so this stays a hook for an
// out-of-scope geo collaborator rather than an implemented scorer).
type GeoService interface {
	DistanceKm(ctx context.Context, workerID string, task *domain.Task) (float64, bool)
}

// Engine evaluates routing rules and assigns tasks to departments/workers.
type Engine struct {
	rules  RuleStore
	depts  DepartmentStore
	workrs WorkerStore
	geo    GeoService
	clock  clock.Clock
	log    *slog.Logger

	mu sync.Mutex // serializes apply/reassign worker-count mutations per engine
}

// New builds a routing Engine. geo may be nil (no proximity scoring).
func New(rules RuleStore, depts DepartmentStore, workers WorkerStore, geo GeoService, c clock.Clock, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{rules: rules, depts: depts, workrs: workers, geo: geo, clock: c, log: log}
}

// Route determines the best department/worker for task, per spec.md §4.10.
// It does not mutate task; call Apply with the result to commit.
func (e *Engine) Route(ctx context.Context, tenantID string, task *domain.Task) (Decision, error) {
	e.log.Info("routing task", "tenant_id", tenantID, "task_id", task.ID, "task_type", task.TaskType, "urgency", task.Urgency)

	rules, err := e.rules.ActiveRules(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("load routing rules: %w", err)
	}

	for _, rule := range rules {
		if !matchesConditions(task, rule.Conditions) {
			continue
		}
		e.log.Info("task matched rule", "rule_name", rule.Name, "priority", rule.Priority)

		priority := defaultPriority
		if rule.SetPriority != nil {
			priority = *rule.SetPriority
		} else {
			priority = e.calculatePriority(task)
		}

		decision := Decision{
			DepartmentID:         rule.RouteToDepartmentID,
			WorkerID:             rule.RouteToWorkerID,
			Priority:             priority,
			Reason:               "Matched rule: " + rule.Name,
			EscalateAfterMinutes: rule.EscalateAfterMinutes,
			SendNotification:     rule.SendNotification,
			NotificationChannels: rule.NotificationChannels,
			MatchedRuleID:        rule.ID,
			MatchedRuleName:      rule.Name,
		}

		if decision.DepartmentID != "" && decision.WorkerID == "" {
			worker, err := e.findBestWorker(ctx, tenantID, decision.DepartmentID, task)
			if err != nil {
				return Decision{}, err
			}
			if worker != nil {
				decision.WorkerID = worker.ID
				decision.Reason += fmt.Sprintf(" → Assigned to %s", worker.Name)
			}
		}
		return decision, nil
	}

	e.log.Info("no rules matched, using default routing", "task_type", task.TaskType)
	return e.defaultRouting(ctx, tenantID, task)
}

// matchesConditions evaluates a rule's structured predicate against task,
// per spec.md §4.10: a task matches iff every condition matches; an empty
// condition set matches no task. Scalar
// expected values are equality-matched; []string/[]any values are
// membership-matched; customer_plz_starts is a string-prefix match;
// distance_km_max is a numeric <= match.
func matchesConditions(task *domain.Task, conditions domain.RoutingConditions) bool {
	if len(conditions) == 0 {
		return false
	}
	for field, expected := range conditions {
		switch field {
		case "customer_plz_starts":
			prefix, _ := expected.(string)
			if task.CustomerPLZ == "" || !strings.HasPrefix(task.CustomerPLZ, prefix) {
				return false
			}
			continue
		case "distance_km_max":
			max, ok := toFloat(expected)
			if !ok || task.DistanceFromHQKm == nil || *task.DistanceFromHQKm > max {
				return false
			}
			continue
		}

		actual, ok := taskField(task, field)
		if !ok {
			return false
		}

		switch want := expected.(type) {
		case []string:
			if !containsString(want, actual) {
				return false
			}
		case []any:
			if !containsAny(want, actual) {
				return false
			}
		default:
			expectedStr, ok := toComparable(expected)
			if !ok || actual != expectedStr {
				return false
			}
		}
	}
	return true
}

// taskField reads the named Task attribute as a string, mirroring
// original_source's getattr(task, field, None) dispatch. Only the fields
// a routing condition can plausibly name are supported.
func taskField(task *domain.Task, field string) (string, bool) {
	switch field {
	case "task_type", "TaskType":
		return task.TaskType, true
	case "urgency", "Urgency":
		return string(task.Urgency), true
	case "trade_category", "TradeCategory":
		if task.TradeCategory == "" {
			return "", false
		}
		return task.TradeCategory, true
	case "source_type", "SourceType":
		return string(task.SourceType), true
	case "status", "Status":
		return string(task.Status), true
	default:
		return "", false
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsAny(list []any, v string) bool {
	for _, item := range list {
		if s, ok := toComparable(item); ok && s == v {
			return true
		}
	}
	return false
}

func toComparable(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func (e *Engine) calculatePriority(task *domain.Task) int {
	if p, ok := urgencyPriority[task.Urgency]; ok {
		return p
	}
	return defaultPriority
}

// defaultRouting applies spec.md §4.10 step 5: first active department
// whose HandledTaskTypes contains the task's type, else a department whose
// name case-insensitively contains "kundendienst".
func (e *Engine) defaultRouting(ctx context.Context, tenantID string, task *domain.Task) (Decision, error) {
	decision := Decision{
		Priority: e.calculatePriority(task),
		Reason:   "No matching department found",
	}

	depts, err := e.depts.ByTenant(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("load departments: %w", err)
	}

	var matched *domain.Department
	for _, d := range depts {
		if d.Active && d.HandlesTaskType(task.TaskType) {
			matched = d
			decision.Reason = fmt.Sprintf("Default routing: %s handles %s", d.Name, task.TaskType)
			break
		}
	}
	if matched == nil {
		// Generic service desk fallback by name (spec.md §4.10 step 5).
		for _, d := range depts {
			if strings.Contains(strings.ToLower(d.Name), "kundendienst") {
				matched = d
				decision.Reason = "Default fallback: " + d.Name
				break
			}
		}
	}

	if matched != nil {
		decision.DepartmentID = matched.ID

		worker, err := e.findBestWorker(ctx, tenantID, matched.ID, task)
		if err != nil {
			return Decision{}, err
		}
		if worker != nil {
			decision.WorkerID = worker.ID
			decision.Reason += fmt.Sprintf(" → %s", worker.Name)
		}
	}

	if task.Urgency == domain.UrgencyNotfall || task.Urgency == domain.UrgencyDringend {
		decision.SendNotification = true
		decision.NotificationChannels = []string{"sms", "email"}
		minutes := 60
		if task.Urgency == domain.UrgencyNotfall {
			minutes = 15
		}
		decision.EscalateAfterMinutes = &minutes
	}

	return decision, nil
}

// findBestWorker selects the least-loaded eligible worker in department,
// per spec.md §4.10's worker-selection scoring. Ties: lowest
// CurrentTaskCount, then lowest worker ID.
func (e *Engine) findBestWorker(ctx context.Context, tenantID, departmentID string, task *domain.Task) (*domain.Worker, error) {
	workers, err := e.workrs.ByDepartment(ctx, tenantID, departmentID)
	if err != nil {
		return nil, fmt.Errorf("load workers: %w", err)
	}

	var eligible []*domain.Worker
	for _, w := range workers {
		if w.Eligible() && w.HasTradeCategory(task.TradeCategory) {
			eligible = append(eligible, w)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	if len(eligible) == 1 {
		return eligible[0], nil
	}

	var best *domain.Worker
	bestScore := 0.0
	for _, w := range eligible {
		score := e.scoreWorker(ctx, w, task)
		if best == nil ||
			score < bestScore ||
			(score == bestScore && w.CurrentTaskCount < best.CurrentTaskCount) ||
			(score == bestScore && w.CurrentTaskCount == best.CurrentTaskCount && w.ID < best.ID) {
			best = w
			bestScore = score
		}
	}
	return best, nil
}

// scoreWorker: 100*current/max - 20 if trade match - proximity term,
// carried verbatim from original_source's _score_worker.
func (e *Engine) scoreWorker(ctx context.Context, w *domain.Worker, task *domain.Task) float64 {
	maxTasks := w.MaxTasksPerDay
	if maxTasks <= 0 {
		maxTasks = 10
	}
	score := (float64(w.CurrentTaskCount) / float64(maxTasks)) * 100

	if task.TradeCategory != "" {
		for _, c := range w.TradeCategories {
			if c == task.TradeCategory {
				score -= 20
				break
			}
		}
	}

	if e.geo != nil {
		if km, ok := e.geo.DistanceKm(ctx, w.ID, task); ok {
			score += km * 0.5
		}
	}

	return score
}

// Apply commits a routing Decision to task (spec.md §4.10 step "Apply
// decision"): sets assignment fields, increments the chosen worker's
// CurrentTaskCount, and advances Task.Status. A task is never observable
// as assigned-without-worker (spec.md §8): status only becomes "assigned"
// when a worker was actually chosen.
func (e *Engine) Apply(ctx context.Context, task *domain.Task, d Decision) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d.DepartmentID != "" {
		task.AssignedDepartmentID = d.DepartmentID
	}

	if d.WorkerID != "" {
		task.AssignedWorkerID = d.WorkerID
		now := e.clock.Now()
		task.AssignedAt = &now
		task.AssignedBy = "auto_routing"
		task.Status = domain.TaskAssigned

		if err := e.workrs.IncrementTaskCount(ctx, d.WorkerID); err != nil {
			return fmt.Errorf("increment worker task count: %w", err)
		}
	} else {
		task.Status = domain.TaskNew
	}

	task.RoutingPriority = d.Priority
	task.RoutingReason = d.Reason

	e.log.Info("applied routing", "task_id", task.ID, "department_id", d.DepartmentID, "worker_id", d.WorkerID, "reason", d.Reason)
	return nil
}

// Reassign moves task to a different worker, decrementing the former
// worker's counter and incrementing the new one's atomically with respect
// to other reassignments of the same task (spec.md §3).
func (e *Engine) Reassign(ctx context.Context, task *domain.Task, newWorkerID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if task.AssignedWorkerID != "" {
		if err := e.workrs.DecrementTaskCount(ctx, task.AssignedWorkerID); err != nil {
			return fmt.Errorf("decrement former worker task count: %w", err)
		}
	}

	task.AssignedWorkerID = newWorkerID
	now := e.clock.Now()
	task.AssignedAt = &now
	task.AssignedBy = reason
	task.RoutingReason = "Reassigned: " + reason

	if err := e.workrs.IncrementTaskCount(ctx, newWorkerID); err != nil {
		return fmt.Errorf("increment new worker task count: %w", err)
	}
	return nil
}

// Escalate halves task's priority (ceiling 0) and prepends an ESCALATED tag
// to its routing reason. spec.md §4.10 specifies halving; original_source's
// escalate_task instead subtracted a flat 50 — implemented per spec.md as a
// deliberate REDESIGN (Design Decision D5).
func (e *Engine) Escalate(task *domain.Task, reason string) {
	current := task.RoutingPriority
	task.RoutingPriority = current / 2
	if task.RoutingPriority < 0 {
		task.RoutingPriority = 0
	}

	prev := task.RoutingReason
	if prev == "" {
		prev = "No previous reason"
	}
	task.RoutingReason = fmt.Sprintf("ESCALATED (%s): %s", reason, prev)

	e.log.Warn("task escalated", "task_id", task.ID, "reason", reason)
}
