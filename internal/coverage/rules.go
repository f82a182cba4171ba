package coverage

import (
	"encoding/json"
	"fmt"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/nok"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
)

// Evaluator produces advisory warnings. Warnings never block a change or a
// submission.
type Evaluator interface {
	Evaluate(snap *scenario.Snapshot, store *alloc.Store) []string
}

type EvaluatorFunc func(snap *scenario.Snapshot, store *alloc.Store) []string

func (f EvaluatorFunc) Evaluate(snap *scenario.Snapshot, store *alloc.Store) []string {
	return f(snap, store)
}

// PersonOverload warns for each person allocated beyond their capacity.
type PersonOverload struct{}

func (PersonOverload) Evaluate(snap *scenario.Snapshot, store *alloc.Store) []string {
	var out []string
	for _, p := range snap.People() {
		used := 0
		for _, a := range store.ListByPerson(p.ID) {
			used += a.Pct
		}
		if used > p.CapacityPct {
			out = append(out, fmt.Sprintf("%s er overbelastet (%d%% > %d%%)", p.Name, used, p.CapacityPct))
		}
	}
	return out
}

// RuleFunc checks one rule against the money spent on its budget line.
type RuleFunc func(line domain.BudgetLine, params domain.RuleParams, spent []domain.MoneyAllocation, snap *scenario.Snapshot) []string

// BudgetRules evaluates the scenario's budget rules. Rules with an unknown
// type or an unreadable rule_json are ignored.
type BudgetRules struct {
	funcs map[domain.RuleType]RuleFunc
}

func NewBudgetRules() *BudgetRules {
	br := &BudgetRules{funcs: map[domain.RuleType]RuleFunc{}}
	br.Register(domain.RuleMinSpend, minSpend)
	br.Register(domain.RuleMaxSpend, maxSpend)
	br.Register(domain.RuleAllowedTags, allowedTags)
	return br
}

// Register installs or replaces the check for a rule type.
func (br *BudgetRules) Register(t domain.RuleType, fn RuleFunc) {
	br.funcs[t] = fn
}

func (br *BudgetRules) Evaluate(snap *scenario.Snapshot, store *alloc.Store) []string {
	var out []string
	for _, line := range snap.BudgetLines() {
		rules := snap.RulesFor(line.ID)
		if len(rules) == 0 {
			continue
		}
		spent := store.ListByBudgetLine(line.ID)
		for _, r := range rules {
			fn, ok := br.funcs[r.RuleType]
			if !ok {
				continue
			}
			var params domain.RuleParams
			if err := json.Unmarshal([]byte(r.RuleJSON), &params); err != nil {
				continue
			}
			out = append(out, fn(line, params, spent, snap)...)
		}
	}
	return out
}

func sum(allocs []domain.MoneyAllocation) float64 {
	total := 0.0
	for _, a := range allocs {
		total += a.Amount
	}
	return total
}

func minSpend(line domain.BudgetLine, params domain.RuleParams, spent []domain.MoneyAllocation, _ *scenario.Snapshot) []string {
	if sum(spent) < params.NOK {
		return []string{fmt.Sprintf("%s: minimum %s ikke nådd", line.Title, nok.Format(params.NOK))}
	}
	return nil
}

func maxSpend(line domain.BudgetLine, params domain.RuleParams, spent []domain.MoneyAllocation, _ *scenario.Snapshot) []string {
	if sum(spent) > params.NOK {
		return []string{fmt.Sprintf("%s: maksimum %s overskredet", line.Title, nok.Format(params.NOK))}
	}
	return nil
}

// allowedTags warns once per allocation whose task shares no tag with the rule.
func allowedTags(line domain.BudgetLine, params domain.RuleParams, spent []domain.MoneyAllocation, snap *scenario.Snapshot) []string {
	var out []string
	for _, a := range spent {
		t, ok := snap.Task(a.TaskID)
		if !ok || !t.HasAnyTag(params.Tags) {
			out = append(out, fmt.Sprintf("%s: midler brukt på oppgave uten tillatte tags", line.Title))
		}
	}
	return out
}
