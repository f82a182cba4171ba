// Package coverage derives task status, capacity usage and advisory warnings
// from a session's allocations and its scenario snapshot. Nothing here mutates
// state or performs I/O.
package coverage

import (
	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
)

type Status string

const (
	Red    Status = "red"
	Yellow Status = "yellow"
	Green  Status = "green"
)

const (
	textNone      = "Mangler både folk og midler"
	textTimeOnly  = "Har folk, mangler midler"
	textMoneyOnly = "Har midler, mangler folk"
	textBoth      = "Dekket med folk og midler"
)

// Usage is an aggregate used-versus-available pair.
type Usage struct {
	Used  float64
	Total float64
}

// Over reports used > total. Over-allocation is allowed and only flagged.
func (u Usage) Over() bool { return u.Used > u.Total }

// Fraction is used/total, or 0 when total is 0.
func (u Usage) Fraction() float64 {
	if u.Total <= 0 {
		return 0
	}
	return u.Used / u.Total
}

func (u Usage) Report() UsageReport {
	return UsageReport{Used: u.Used, Total: u.Total, Fraction: u.Fraction(), Over: u.Over()}
}

type UsageReport struct {
	Used     float64 `json:"used"`
	Total    float64 `json:"total"`
	Fraction float64 `json:"fraction"`
	Over     bool    `json:"over"`
}

type Engine struct {
	Snapshot   *scenario.Snapshot
	Store      *alloc.Store
	Evaluators []Evaluator
}

// New returns an engine with the person overload check and, if withRules is
// set, the budget rule checks.
func New(snap *scenario.Snapshot, store *alloc.Store, withRules bool) *Engine {
	evals := []Evaluator{PersonOverload{}}
	if withRules {
		evals = append(evals, NewBudgetRules())
	}
	return &Engine{Snapshot: snap, Store: store, Evaluators: evals}
}

func (e *Engine) TaskStatus(taskID string) Status {
	a := e.Store.ListByTask(taskID)
	switch {
	case a.HasTime() && a.HasMoney():
		return Green
	case a.HasTime() || a.HasMoney():
		return Yellow
	default:
		return Red
	}
}

func (e *Engine) TaskStatusText(taskID string) string {
	a := e.Store.ListByTask(taskID)
	switch {
	case a.HasTime() && a.HasMoney():
		return textBoth
	case a.HasTime():
		return textTimeOnly
	case a.HasMoney():
		return textMoneyOnly
	default:
		return textNone
	}
}

// CoverageCount returns the number of green tasks and the number of tasks.
func (e *Engine) CoverageCount() (covered, total int) {
	for _, t := range e.Snapshot.Tasks() {
		if e.TaskStatus(t.ID) == Green {
			covered++
		}
	}
	return covered, len(e.Snapshot.Tasks())
}

// PeopleCapacityUsage sums every time allocation against the summed capacity
// of all people. It is a scenario-wide figure, not a per-person check.
func (e *Engine) PeopleCapacityUsage() Usage {
	total := 0
	for _, p := range e.Snapshot.People() {
		total += p.CapacityPct
	}
	return Usage{Used: float64(e.Store.TotalTime()), Total: float64(total)}
}

// BudgetCapacityUsage sums every money allocation against handlingsrom lines
// only; stat lines never count toward the total.
func (e *Engine) BudgetCapacityUsage() Usage {
	total := 0.0
	for _, b := range e.Snapshot.AllocatableBudgetLines() {
		total += b.AmountNOK
	}
	return Usage{Used: e.Store.TotalMoney(), Total: total}
}

// Warnings runs every evaluator in order and concatenates the results.
func (e *Engine) Warnings() []string {
	var out []string
	for _, ev := range e.Evaluators {
		out = append(out, ev.Evaluate(e.Snapshot, e.Store)...)
	}
	return out
}

type TaskCoverage struct {
	TaskID   string  `json:"task_id"`
	Title    string  `json:"title"`
	Status   Status  `json:"status" enum:"red,yellow,green"`
	Text     string  `json:"text"`
	TimePct  int     `json:"time_pct"`
	MoneyNOK float64 `json:"money_nok"`
}

// Derived is the full derived state after a change.
type Derived struct {
	Tasks    []TaskCoverage `json:"tasks"`
	Covered  int            `json:"covered"`
	Total    int            `json:"total"`
	People   UsageReport    `json:"people"`
	Budget   UsageReport    `json:"budget"`
	Warnings []string       `json:"warnings"`
}

func (e *Engine) Derive() Derived {
	d := Derived{Tasks: []TaskCoverage{}, Warnings: []string{}}
	for _, t := range e.Snapshot.Tasks() {
		a := e.Store.ListByTask(t.ID)
		tc := TaskCoverage{
			TaskID: t.ID,
			Title:  t.Title,
			Status: e.TaskStatus(t.ID),
			Text:   e.TaskStatusText(t.ID),
		}
		for _, ta := range a.Time {
			tc.TimePct += ta.Pct
		}
		for _, ma := range a.Money {
			tc.MoneyNOK += ma.Amount
		}
		d.Tasks = append(d.Tasks, tc)
	}
	d.Covered, d.Total = e.CoverageCount()
	d.People = e.PeopleCapacityUsage().Report()
	d.Budget = e.BudgetCapacityUsage().Report()
	d.Warnings = append(d.Warnings, e.Warnings()...)
	return d
}
