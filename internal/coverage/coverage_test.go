package coverage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/nok"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
)

func testSnapshot(rules ...domain.BudgetRule) *scenario.Snapshot {
	return scenario.New(
		domain.Scenario{ID: "sc-1", Title: "Test"},
		[]domain.Task{
			{ID: "t1", Title: "Skoleveg", Tags: []string{"trafikk", "barn"}},
			{ID: "t2", Title: "Bibliotek", Tags: []string{"kultur"}},
			{ID: "t3", Title: "Park"},
		},
		[]domain.Person{
			{ID: "p1", Name: "Kari", CapacityPct: 100},
			{ID: "p2", Name: "Ola", CapacityPct: 50},
		},
		[]domain.BudgetLine{
			{ID: "b1", Title: "Drift", Type: domain.BudgetStat, AmountNOK: 10_000_000},
			{ID: "b2", Title: "Tiltak", Type: domain.BudgetHandlingsrom, AmountNOK: 1_000_000},
			{ID: "b3", Title: "Fond", Type: domain.BudgetHandlingsrom, AmountNOK: 500_000},
		},
		rules,
	)
}

func TestTaskStatusTruthTable(t *testing.T) {
	cases := []struct {
		name   string
		time   bool
		money  bool
		status Status
		text   string
	}{
		{"neither", false, false, Red, textNone},
		{"time only", true, false, Yellow, textTimeOnly},
		{"money only", false, true, Yellow, textMoneyOnly},
		{"both", true, true, Green, textBoth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := alloc.NewStore()
			if tc.time {
				store.SetTime("p1", "t1", 5)
			}
			if tc.money {
				store.SetMoney("b2", "t1", 1)
			}
			e := New(testSnapshot(), store, false)
			assert.Equal(t, tc.status, e.TaskStatus("t1"))
			assert.Equal(t, tc.text, e.TaskStatusText("t1"))
		})
	}
}

func TestCoverageCount(t *testing.T) {
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)
	store.SetMoney("b2", "t1", 100_000)
	store.SetTime("p2", "t2", 10)
	e := New(testSnapshot(), store, false)

	covered, total := e.CoverageCount()
	assert.Equal(t, 1, covered)
	assert.Equal(t, 3, total)
}

func TestClearForTaskReturnsTaskToRed(t *testing.T) {
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)
	store.SetMoney("b2", "t1", 100_000)
	store.SetTime("p1", "t2", 20)
	store.SetMoney("b2", "t2", 100_000)
	e := New(testSnapshot(), store, false)
	require.Equal(t, Green, e.TaskStatus("t1"))

	store.ClearForTask("t1")
	assert.Equal(t, Red, e.TaskStatus("t1"))
	assert.Equal(t, Green, e.TaskStatus("t2"))
}

func TestPeopleCapacityUsageFlagsOver(t *testing.T) {
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 100)
	store.SetTime("p1", "t2", 50)
	store.SetTime("p2", "t3", 10)
	e := New(testSnapshot(), store, false)

	u := e.PeopleCapacityUsage()
	assert.Equal(t, 160.0, u.Used)
	assert.Equal(t, 150.0, u.Total)
	assert.True(t, u.Over())
	assert.InDelta(t, 160.0/150.0, u.Fraction(), 1e-9)
	assert.Equal(t, 150, store.GetTime("p1", "t1")+store.GetTime("p1", "t2"))
}

func TestBudgetCapacityExcludesStat(t *testing.T) {
	store := alloc.NewStore()
	store.SetMoney("b2", "t1", 400_000)
	store.SetMoney("b3", "t2", 200_000)
	e := New(testSnapshot(), store, false)

	u := e.BudgetCapacityUsage()
	assert.Equal(t, 600_000.0, u.Used)
	assert.Equal(t, 1_500_000.0, u.Total)
	assert.False(t, u.Over())
}

func TestUsageNeverDividesByZero(t *testing.T) {
	snap := scenario.New(domain.Scenario{ID: "empty"}, []domain.Task{{ID: "t1"}}, nil,
		[]domain.BudgetLine{{ID: "b1", Type: domain.BudgetStat, AmountNOK: 100}}, nil)
	store := alloc.NewStore()
	store.SetTime("ghost", "t1", 30)
	store.SetMoney("b1", "t1", 50)
	e := New(snap, store, false)

	people := e.PeopleCapacityUsage()
	budget := e.BudgetCapacityUsage()
	for _, u := range []Usage{people, budget} {
		f := u.Fraction()
		assert.False(t, math.IsNaN(f) || math.IsInf(f, 0))
		assert.Zero(t, f)
		assert.True(t, u.Over())
	}
	assert.Equal(t, Green, e.TaskStatus("t1"), "status ignores empty pools")
}

func TestPersonOverloadWarning(t *testing.T) {
	store := alloc.NewStore()
	store.SetTime("p2", "t1", 40)
	store.SetTime("p2", "t2", 30)
	store.SetTime("p1", "t1", 100)
	e := New(testSnapshot(), store, false)

	assert.Equal(t, []string{"Ola er overbelastet (70% > 50%)"}, e.Warnings())
}

func TestBudgetRuleWarnings(t *testing.T) {
	snap := testSnapshot(
		domain.BudgetRule{ID: "r1", BudgetLineID: "b2", RuleType: domain.RuleMinSpend, RuleJSON: `{"nok":300000}`},
		domain.BudgetRule{ID: "r2", BudgetLineID: "b3", RuleType: domain.RuleMaxSpend, RuleJSON: `{"nok":100000}`},
		domain.BudgetRule{ID: "r3", BudgetLineID: "b3", RuleType: domain.RuleAllowedTags, RuleJSON: `{"tags":["trafikk"]}`},
		domain.BudgetRule{ID: "r4", BudgetLineID: "b2", RuleType: "unknown", RuleJSON: `{}`},
		domain.BudgetRule{ID: "r5", BudgetLineID: "b2", RuleType: domain.RuleMaxSpend, RuleJSON: `not json`},
	)
	store := alloc.NewStore()
	store.SetMoney("b2", "t1", 100_000)
	store.SetMoney("b3", "t1", 100_000)
	store.SetMoney("b3", "t2", 50_000)
	store.SetMoney("b3", "t3", 50_000)
	e := New(snap, store, true)

	w := e.Warnings()
	assert.Contains(t, w, "Tiltak: minimum "+nok.Format(300_000)+" ikke nådd")
	assert.Contains(t, w, "Fond: maksimum "+nok.Format(100_000)+" overskredet")
	tagWarnings := 0
	for _, s := range w {
		if s == "Fond: midler brukt på oppgave uten tillatte tags" {
			tagWarnings++
		}
	}
	assert.Equal(t, 2, tagWarnings, "one warning per offending allocation")
	assert.Len(t, w, 4)
}

func TestRulesDisabled(t *testing.T) {
	snap := testSnapshot(domain.BudgetRule{ID: "r1", BudgetLineID: "b2", RuleType: domain.RuleMinSpend, RuleJSON: `{"nok":300000}`})
	e := New(snap, alloc.NewStore(), false)
	assert.Empty(t, e.Warnings())
}

func TestRegisterCustomRule(t *testing.T) {
	snap := testSnapshot(domain.BudgetRule{ID: "r1", BudgetLineID: "b2", RuleType: "must_fund", RuleJSON: `{}`})
	rules := NewBudgetRules()
	rules.Register("must_fund", func(line domain.BudgetLine, _ domain.RuleParams, spent []domain.MoneyAllocation, _ *scenario.Snapshot) []string {
		if len(spent) == 0 {
			return []string{line.Title + ": tom"}
		}
		return nil
	})
	e := &Engine{Snapshot: snap, Store: alloc.NewStore(), Evaluators: []Evaluator{rules}}
	assert.Equal(t, []string{"Tiltak: tom"}, e.Warnings())
}

func TestDerive(t *testing.T) {
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)
	store.SetTime("p2", "t1", 10)
	store.SetMoney("b2", "t1", 250_000)
	store.SetMoney("b3", "t2", 1_300_000)
	e := New(testSnapshot(), store, true)

	d := e.Derive()
	require.Len(t, d.Tasks, 3)
	assert.Equal(t, TaskCoverage{TaskID: "t1", Title: "Skoleveg", Status: Green, Text: textBoth, TimePct: 30, MoneyNOK: 250_000}, d.Tasks[0])
	assert.Equal(t, Yellow, d.Tasks[1].Status)
	assert.Equal(t, Red, d.Tasks[2].Status)
	assert.Equal(t, 1, d.Covered)
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, UsageReport{Used: 30, Total: 150, Fraction: 0.2, Over: false}, d.People)
	assert.True(t, d.Budget.Over)
	assert.NotNil(t, d.Warnings)
}
