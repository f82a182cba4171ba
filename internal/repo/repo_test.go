package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cinaedin/ResourceGame/internal/db"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/migrate"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	tick := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return Repo{DB: conn, Now: func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}}
}

func TestScenarioContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	sc, err := r.CreateScenario(ctx, nil, "", "Budsjett 2026")
	require.NoError(t, err)

	single, err := r.SingleScenario(ctx)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, single.ID)
	assert.False(t, single.IsLocked)

	program := "Oppvekst"
	_, err = r.InsertTask(ctx, nil, domain.Task{ScenarioID: sc.ID, Title: "Skoleveg", Tags: []string{"trafikk", "barn"}, Program: &program})
	require.NoError(t, err)
	_, err = r.InsertTask(ctx, nil, domain.Task{ScenarioID: sc.ID, Title: "Akuttberedskap"})
	require.NoError(t, err)
	tasks, err := r.ListTasks(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Skoleveg", tasks[0].Title, "insertion order is kept")
	assert.Equal(t, []string{"trafikk", "barn"}, tasks[0].Tags)
	require.NotNil(t, tasks[0].Program)
	assert.Equal(t, "Oppvekst", *tasks[0].Program)
	assert.Nil(t, tasks[1].Program)
	assert.Empty(t, tasks[1].Tags)

	_, err = r.InsertPerson(ctx, nil, domain.Person{ScenarioID: sc.ID, Name: "Kari", CapacityPct: 80})
	require.NoError(t, err)
	people, err := r.ListPeople(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, people[0].CapacityPct)

	line, err := r.InsertBudgetLine(ctx, nil, domain.BudgetLine{ScenarioID: sc.ID, Title: "Tiltaksmidler", Type: domain.BudgetHandlingsrom, AmountNOK: 250000.5})
	require.NoError(t, err)
	found, err := r.FindBudgetLineByTitle(ctx, nil, sc.ID, "  tiltaksmidler ")
	require.NoError(t, err)
	assert.Equal(t, line.ID, found.ID)
	assert.Equal(t, 250000.5, found.AmountNOK)
	_, err = r.FindBudgetLineByTitle(ctx, nil, sc.ID, "ukjent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.InsertBudgetRule(ctx, nil, domain.BudgetRule{BudgetLineID: line.ID, RuleType: domain.RuleMinSpend, RuleJSON: `{"nok":1000}`})
	require.NoError(t, err)
	rules, err := r.ListBudgetRules(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.RuleMinSpend, rules[0].RuleType)

	require.NoError(t, r.SetScenarioLocked(ctx, nil, sc.ID, true))
	got, err := r.GetScenario(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLocked)
	assert.ErrorIs(t, r.SetScenarioLocked(ctx, nil, "missing", true), ErrNotFound)
}

func TestSubmissionsAndReset(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	sc, err := r.CreateScenario(ctx, nil, "", "Test")
	require.NoError(t, err)

	first, err := r.CreatePlaythrough(ctx, sc.ID, "Kari")
	require.NoError(t, err)
	second, err := r.CreatePlaythrough(ctx, sc.ID, "Ola")
	require.NoError(t, err)
	require.NoError(t, r.InsertTimeAllocation(ctx, domain.TimeAllocationRow{PlaythroughID: first.ID, PersonID: "p1", TaskID: "t1", Pct: 25}))
	require.NoError(t, r.InsertMoneyAllocation(ctx, domain.MoneyAllocationRow{PlaythroughID: second.ID, BudgetLineID: "b1", TaskID: "t1", AmountNOK: 1500}))
	require.NoError(t, r.InsertLog(ctx, domain.LogEntry{PlaythroughID: first.ID, Summary: "Innspill fra Kari", Raw: domain.LogRaw{
		Time: []domain.TimeAllocation{{PersonID: "p1", TaskID: "t1", Pct: 25}},
	}}))

	plays, err := r.ListPlaythroughs(ctx, sc.ID)
	require.NoError(t, err)
	require.Len(t, plays, 2)
	assert.Equal(t, second.ID, plays[0].ID, "newest first")

	ids := []string{first.ID, second.ID}
	times, err := r.ListTimeRows(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, times, 1)
	money, err := r.ListMoneyRows(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, money[0].AmountNOK)
	logs, err := r.ListLogs(ctx, ids)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 25, logs[0].Raw.Time[0].Pct)

	empty, err := r.ListTimeRows(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err := r.ResetScenario(ctx, nil, sc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	plays, err = r.ListPlaythroughs(ctx, sc.ID)
	require.NoError(t, err)
	assert.Empty(t, plays)
	logs, err = r.ListLogs(ctx, ids)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
