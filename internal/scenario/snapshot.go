package scenario

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Cinaedin/ResourceGame/internal/domain"
)

// Source is the read side of the persistence backend.
type Source interface {
	GetScenario(ctx context.Context, id string) (domain.Scenario, error)
	ListTasks(ctx context.Context, scenarioID string) ([]domain.Task, error)
	ListPeople(ctx context.Context, scenarioID string) ([]domain.Person, error)
	ListBudgetLines(ctx context.Context, scenarioID string) ([]domain.BudgetLine, error)
	ListBudgetRules(ctx context.Context, scenarioID string) ([]domain.BudgetRule, error)
}

// LoadError means the scenario could not be read; a session cannot start.
type LoadError struct {
	ScenarioID string
	Step       string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load scenario %s: %s: %v", e.ScenarioID, e.Step, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Snapshot is the read-only view of one scenario for the lifetime of a session.
type Snapshot struct {
	scenario domain.Scenario
	tasks    []domain.Task
	people   []domain.Person
	budgets  []domain.BudgetLine
	rules    []domain.BudgetRule

	taskIdx   map[string]int
	personIdx map[string]int
	budgetIdx map[string]int
}

// Load reads every collection of the scenario. Any failure aborts with a
// *LoadError and no snapshot.
func Load(ctx context.Context, src Source, scenarioID string) (*Snapshot, error) {
	fail := func(step string, err error) (*Snapshot, error) {
		return nil, &LoadError{ScenarioID: scenarioID, Step: step, Err: err}
	}
	sc, err := src.GetScenario(ctx, scenarioID)
	if err != nil {
		return fail("scenario", err)
	}
	tasks, err := src.ListTasks(ctx, scenarioID)
	if err != nil {
		return fail("tasks", err)
	}
	people, err := src.ListPeople(ctx, scenarioID)
	if err != nil {
		return fail("people", err)
	}
	budgets, err := src.ListBudgetLines(ctx, scenarioID)
	if err != nil {
		return fail("budget_lines", err)
	}
	rules, err := src.ListBudgetRules(ctx, scenarioID)
	if err != nil {
		return fail("budget_rules", err)
	}
	return New(sc, tasks, people, budgets, rules), nil
}

// New builds a snapshot from already loaded data. Slices are copied.
func New(sc domain.Scenario, tasks []domain.Task, people []domain.Person, budgets []domain.BudgetLine, rules []domain.BudgetRule) *Snapshot {
	s := &Snapshot{
		scenario:  sc,
		tasks:     cloneTasks(tasks),
		people:    append([]domain.Person(nil), people...),
		budgets:   append([]domain.BudgetLine(nil), budgets...),
		rules:     append([]domain.BudgetRule(nil), rules...),
		taskIdx:   map[string]int{},
		personIdx: map[string]int{},
		budgetIdx: map[string]int{},
	}
	for i, t := range s.tasks {
		s.taskIdx[t.ID] = i
	}
	for i, p := range s.people {
		s.personIdx[p.ID] = i
	}
	for i, b := range s.budgets {
		s.budgetIdx[b.ID] = i
	}
	return s
}

func (s *Snapshot) Scenario() domain.Scenario { return s.scenario }
func (s *Snapshot) ID() string                { return s.scenario.ID }
func (s *Snapshot) Title() string             { return s.scenario.Title }

// Locked is advisory; the core does not refuse allocations on a locked scenario.
func (s *Snapshot) Locked() bool { return s.scenario.IsLocked }

func (s *Snapshot) Tasks() []domain.Task { return cloneTasks(s.tasks) }

func (s *Snapshot) People() []domain.Person {
	return append([]domain.Person(nil), s.people...)
}

func (s *Snapshot) BudgetLines() []domain.BudgetLine {
	return append([]domain.BudgetLine(nil), s.budgets...)
}

func (s *Snapshot) Rules() []domain.BudgetRule {
	return append([]domain.BudgetRule(nil), s.rules...)
}

func (s *Snapshot) Task(id string) (domain.Task, bool) {
	i, ok := s.taskIdx[id]
	if !ok {
		return domain.Task{}, false
	}
	return cloneTask(s.tasks[i]), true
}

func (s *Snapshot) Person(id string) (domain.Person, bool) {
	i, ok := s.personIdx[id]
	if !ok {
		return domain.Person{}, false
	}
	return s.people[i], true
}

func (s *Snapshot) BudgetLine(id string) (domain.BudgetLine, bool) {
	i, ok := s.budgetIdx[id]
	if !ok {
		return domain.BudgetLine{}, false
	}
	return s.budgets[i], true
}

func (s *Snapshot) RulesFor(budgetLineID string) []domain.BudgetRule {
	var out []domain.BudgetRule
	for _, r := range s.rules {
		if r.BudgetLineID == budgetLineID {
			out = append(out, r)
		}
	}
	return out
}

// AllocatableBudgetLines returns the handlingsrom lines.
func (s *Snapshot) AllocatableBudgetLines() []domain.BudgetLine {
	var out []domain.BudgetLine
	for _, b := range s.budgets {
		if b.IsAllocatable() {
			out = append(out, b)
		}
	}
	return out
}

// MarshalJSON exposes the snapshot for transports without opening it to mutation.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}

// View is the serializable form of a snapshot.
type View struct {
	Scenario    domain.Scenario     `json:"scenario"`
	Tasks       []domain.Task       `json:"tasks"`
	People      []domain.Person     `json:"people"`
	BudgetLines []domain.BudgetLine `json:"budget_lines"`
	Rules       []domain.BudgetRule `json:"rules"`
}

func (s *Snapshot) View() View {
	return View{
		Scenario:    s.scenario,
		Tasks:       s.Tasks(),
		People:      s.People(),
		BudgetLines: s.BudgetLines(),
		Rules:       s.Rules(),
	}
}

func cloneTask(t domain.Task) domain.Task {
	t.Tags = append([]string(nil), t.Tags...)
	if t.Program != nil {
		p := *t.Program
		t.Program = &p
	}
	return t
}

func cloneTasks(in []domain.Task) []domain.Task {
	out := make([]domain.Task, len(in))
	for i, t := range in {
		out[i] = cloneTask(t)
	}
	return out
}
