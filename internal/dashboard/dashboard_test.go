package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/nok"
)

type fakeSource struct {
	tasks   []domain.Task
	people  []domain.Person
	budgets []domain.BudgetLine
	plays   []domain.Playthrough
	times   []domain.TimeAllocationRow
	money   []domain.MoneyAllocationRow
	logs    []domain.LogEntry
}

func (f fakeSource) ListTasks(context.Context, string) ([]domain.Task, error)    { return f.tasks, nil }
func (f fakeSource) ListPeople(context.Context, string) ([]domain.Person, error) { return f.people, nil }
func (f fakeSource) ListBudgetLines(context.Context, string) ([]domain.BudgetLine, error) {
	return f.budgets, nil
}
func (f fakeSource) ListPlaythroughs(context.Context, string) ([]domain.Playthrough, error) {
	return f.plays, nil
}
func (f fakeSource) ListTimeRows(context.Context, []string) ([]domain.TimeAllocationRow, error) {
	return f.times, nil
}
func (f fakeSource) ListMoneyRows(context.Context, []string) ([]domain.MoneyAllocationRow, error) {
	return f.money, nil
}
func (f fakeSource) ListLogs(context.Context, []string) ([]domain.LogEntry, error) { return f.logs, nil }

func baseSource() fakeSource {
	return fakeSource{
		tasks: []domain.Task{{ID: "t1", Title: "Skoleveg"}, {ID: "t2", Title: `Park "Nord"`}, {ID: "t3", Title: "Bibliotek"}},
		people: []domain.Person{
			{Name: "Kari", CapacityPct: 50},
			{Name: "Ola", CapacityPct: 100},
		},
		budgets: []domain.BudgetLine{
			{Title: "Lønn", Type: domain.BudgetStat, AmountNOK: 2_000_000},
			{Title: "Tiltak", Type: "Handlingsrom ", AmountNOK: 500_000},
		},
	}
}

func TestBuildWithoutSubmissions(t *testing.T) {
	s, err := Build(context.Background(), baseSource(), "sc-1")
	require.NoError(t, err)
	assert.Equal(t, NoSubmissionsMessage, s.Message)
	assert.Len(t, s.Ignored, 3)
	assert.Empty(t, s.Submissions)
	assert.Equal(t, 2_500_000.0, s.Funds.Total)
	assert.Equal(t, fmt.Sprintf("Stat (låst): %s • Handlingsrom: %s • Totalt: %s",
		nok.Format(2_000_000), nok.Format(500_000), nok.Format(2_500_000)), s.Funds.Text)
	assert.Equal(t, "Ola", s.People.ByCap[0].Name)
	assert.Equal(t, "Sum registrert kapasitet: 150%", s.People.Text)
}

func TestBuildAggregatesAcrossPlaythroughs(t *testing.T) {
	src := baseSource()
	src.plays = []domain.Playthrough{{ID: "p2", UserName: "Ola"}, {ID: "p1", UserName: "Kari"}}
	src.times = []domain.TimeAllocationRow{
		{PlaythroughID: "p1", TaskID: "t1", Pct: 20},
		{PlaythroughID: "p2", TaskID: "t1", Pct: 30},
	}
	src.money = []domain.MoneyAllocationRow{
		{PlaythroughID: "p1", TaskID: "t2", AmountNOK: 1000.5},
		{PlaythroughID: "p2", TaskID: "t2", AmountNOK: 2000},
	}
	src.logs = []domain.LogEntry{{PlaythroughID: "p1", Raw: domain.LogRaw{Time: []domain.TimeAllocation{{}}, Money: []domain.MoneyAllocation{{}}}}}

	s, err := Build(context.Background(), src, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, "Innsendinger: 2", s.Message)
	assert.Equal(t, 50, s.Tasks[0].TimePct)
	assert.Equal(t, 3000.5, s.Tasks[1].MoneyNOK)
	assert.Equal(t, "t1", s.TopTime[0].TaskID)
	assert.Equal(t, "t2", s.TopMoney[0].TaskID)
	require.Len(t, s.Ignored, 1)
	assert.Equal(t, "t3", s.Ignored[0].TaskID)

	require.Len(t, s.Submissions, 2)
	assert.Equal(t, "p2", s.Submissions[0].Playthrough.ID, "order of the source is kept")
	assert.Nil(t, s.Submissions[0].Log)
	require.NotNil(t, s.Submissions[1].Log)
	assert.Equal(t, 1, s.Submissions[1].TimeCount)
}

func TestTopIsBounded(t *testing.T) {
	src := baseSource()
	src.tasks = nil
	for i := 0; i < 20; i++ {
		src.tasks = append(src.tasks, domain.Task{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("Oppgave %d", i)})
	}
	s, err := Build(context.Background(), src, "sc-1")
	require.NoError(t, err)
	assert.Len(t, s.TopTime, TopN)
	assert.Equal(t, "t0", s.TopTime[0].TaskID, "ties keep scenario order")
}

func TestWriteCSV(t *testing.T) {
	src := baseSource()
	src.plays = []domain.Playthrough{{ID: "p1"}}
	src.times = []domain.TimeAllocationRow{{PlaythroughID: "p1", TaskID: "t1", Pct: 20}}
	src.money = []domain.MoneyAllocationRow{{PlaythroughID: "p1", TaskID: "t2", AmountNOK: 1500.25}}
	s, err := Build(context.Background(), src, "sc-1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s))
	want := `"oppgave","tid_total_pct","handlingsrom_total_nok"` + "\n" +
		`"Skoleveg","20","0"` + "\n" +
		`"Park ""Nord""","0","1500.25"` + "\n" +
		`"Bibliotek","0","0"`
	assert.Equal(t, want, buf.String())
}

func TestExportFileName(t *testing.T) {
	at := time.Date(2025, 11, 3, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "dashboard_aggregert_2025-11-03.csv", ExportFileName(at))
}
