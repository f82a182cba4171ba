package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cinaedin/ResourceGame/internal/db"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/migrate"
	"github.com/Cinaedin/ResourceGame/internal/repo"
)

func setup(t *testing.T) (Importer, domain.Scenario) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	sc, err := r.CreateScenario(context.Background(), nil, "", "Test")
	require.NoError(t, err)
	return Importer{Repo: r}, sc
}

func run(t *testing.T, im Importer, sc domain.Scenario, kind Kind, doc string) (Result, error) {
	t.Helper()
	return im.Run(context.Background(), nil, sc, kind, strings.NewReader(doc))
}

func TestImportPeopleDefaultsCapacity(t *testing.T) {
	im, sc := setup(t)
	res, err := run(t, im, sc, KindPeople, "name,capacity_pct\nKari,80\n\nOla,\n")
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: KindPeople, Inserted: 2}, res)

	people, err := im.Repo.ListPeople(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, 80, people[0].CapacityPct)
	assert.Equal(t, 100, people[1].CapacityPct)
}

func TestImportTasksSplitsTags(t *testing.T) {
	im, sc := setup(t)
	_, err := run(t, im, sc, KindTasks, "task_title,tags,program\n\"Skoleveg\",\"trafikk, barn,,\",Oppvekst\nPark,,\n")
	require.NoError(t, err)
	tasks, err := im.Repo.ListTasks(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, []string{"trafikk", "barn"}, tasks[0].Tags)
	assert.Equal(t, "Oppvekst", *tasks[0].Program)
	assert.Empty(t, tasks[1].Tags)
}

func TestImportRulesSkipsUnknownBudget(t *testing.T) {
	im, sc := setup(t)
	_, err := run(t, im, sc, KindBudgets, "title,type,amount_nok\nTiltak,Handlingsrom,500000\nLønn,stat,2000000\n")
	require.NoError(t, err)

	res, err := run(t, im, sc, KindRules, "budget_title,rule_type,rule_json\ntiltak,min_spend,\"{\"\"nok\"\":100000}\"\nUkjent,max_spend,{}\n")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)

	rules, err := im.Repo.ListBudgetRules(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.JSONEq(t, `{"nok":100000}`, rules[0].RuleJSON)
}

func TestImportRejectsInvalidRows(t *testing.T) {
	im, sc := setup(t)
	_, err := run(t, im, sc, KindBudgets, "title,type,amount_nok\nTiltak,ukjent,10\n")
	var re *RowError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Line)

	_, err = run(t, im, sc, KindPeople, "name,capacity_pct\nKari,mye\n")
	assert.ErrorContains(t, err, "not a number")

	_, err = run(t, im, sc, KindPeople, "name,capacity_pct\nKari,50.7\n")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Line)
	assert.ErrorContains(t, err, "whole number")

	_, err = run(t, im, sc, KindRules, "budget_title,rule_type,rule_json\nTiltak,min_spend,{oops\n")
	assert.Error(t, err)

	_, err = run(t, im, sc, KindPeople, "")
	assert.ErrorContains(t, err, "header row")
}

func TestImportRefusedWhenLocked(t *testing.T) {
	im, sc := setup(t)
	sc.IsLocked = true
	_, err := run(t, im, sc, KindPeople, "name\nKari\n")
	assert.ErrorIs(t, err, ErrScenarioLocked)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Budgets ")
	require.NoError(t, err)
	assert.Equal(t, KindBudgets, k)
	_, err = ParseKind("goals")
	assert.Error(t, err)
}
