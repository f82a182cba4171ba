package domain

import "strings"

type Scenario struct {
	ID        string `json:"id" db:"id"`
	Title     string `json:"title" db:"title"`
	IsLocked  bool   `json:"is_locked" db:"is_locked"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}

type Task struct {
	ID         string   `json:"id"`
	ScenarioID string   `json:"scenario_id"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Program    *string  `json:"program,omitempty"`
}

// HasAnyTag reports whether the task carries at least one of tags.
func (t Task) HasAnyTag(tags []string) bool {
	for _, have := range t.Tags {
		for _, want := range tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

type Person struct {
	ID          string `json:"id" db:"id"`
	ScenarioID  string `json:"scenario_id" db:"scenario_id"`
	Name        string `json:"name" db:"name"`
	CapacityPct int    `json:"capacity_pct" db:"capacity_pct"`
}

type BudgetType string

const (
	BudgetStat         BudgetType = "stat"
	BudgetHandlingsrom BudgetType = "handlingsrom"
)

// Normalize lowercases and trims the type as stored by the editor.
func (t BudgetType) Normalize() BudgetType {
	return BudgetType(strings.ToLower(strings.TrimSpace(string(t))))
}

type BudgetLine struct {
	ID         string     `json:"id" db:"id"`
	ScenarioID string     `json:"scenario_id" db:"scenario_id"`
	Title      string     `json:"title" db:"title"`
	Type       BudgetType `json:"type" db:"type" enum:"stat,handlingsrom"`
	AmountNOK  float64    `json:"amount_nok" db:"amount_nok"`
}

// IsAllocatable is true for flexible lines only; stat lines are context.
func (b BudgetLine) IsAllocatable() bool {
	return b.Type.Normalize() == BudgetHandlingsrom
}

type RuleType string

const (
	RuleMinSpend    RuleType = "min_spend"
	RuleMaxSpend    RuleType = "max_spend"
	RuleAllowedTags RuleType = "allowed_tags"
)

type BudgetRule struct {
	ID           string   `json:"id" db:"id"`
	BudgetLineID string   `json:"budget_line_id" db:"budget_line_id"`
	RuleType     RuleType `json:"rule_type" db:"rule_type"`
	RuleJSON     string   `json:"rule_json" db:"rule_json"`
}

// RuleParams is the decoded rule_json payload.
type RuleParams struct {
	NOK  float64  `json:"nok,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

type TimeAllocation struct {
	PersonID string `json:"person_id"`
	TaskID   string `json:"task_id"`
	Pct      int    `json:"pct"`
}

type MoneyAllocation struct {
	BudgetLineID string  `json:"budget_line_id"`
	TaskID       string  `json:"task_id"`
	Amount       float64 `json:"amount"`
}

type Playthrough struct {
	ID          string `json:"id" db:"id"`
	ScenarioID  string `json:"scenario_id" db:"scenario_id"`
	UserName    string `json:"user_name" db:"user_name"`
	SubmittedAt string `json:"submitted_at" db:"submitted_at" format:"date-time"`
}

type TimeAllocationRow struct {
	PlaythroughID string `json:"playthrough_id" db:"playthrough_id"`
	PersonID      string `json:"person_id" db:"person_id"`
	TaskID        string `json:"task_id" db:"task_id"`
	Pct           int    `json:"pct" db:"pct"`
}

type MoneyAllocationRow struct {
	PlaythroughID string  `json:"playthrough_id" db:"playthrough_id"`
	BudgetLineID  string  `json:"budget_line_id" db:"budget_line_id"`
	TaskID        string  `json:"task_id" db:"task_id"`
	AmountNOK     float64 `json:"amount_nok" db:"amount_nok"`
}

type LogRaw struct {
	Time     []TimeAllocation  `json:"time"`
	Money    []MoneyAllocation `json:"money"`
	Warnings []string          `json:"warnings"`
}

type LogEntry struct {
	ID            string `json:"id"`
	PlaythroughID string `json:"playthrough_id"`
	Summary       string `json:"summary"`
	Raw           LogRaw `json:"raw"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id" db:"id"`
	TS         string `json:"ts" db:"ts" format:"date-time"`
	Type       string `json:"type" db:"type"`
	ScenarioID string `json:"scenario_id,omitempty" db:"scenario_id"`
	EntityKind string `json:"entity_kind" db:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty" db:"entity_id"`
	Actor      string `json:"actor" db:"actor"`
	Payload    string `json:"payload_json" db:"payload_json"`
}
