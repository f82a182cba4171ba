// Package dashboard aggregates every submission of a scenario for the
// facilitator view and the CSV export.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/nok"
)

// TopN bounds the time and money rankings.
const TopN = 12

const NoSubmissionsMessage = "Ingen innsendinger ennå. Grafer viser scenario-kontekst, men ikke prioriteringer."

// Source is the read side the dashboard needs.
type Source interface {
	ListTasks(ctx context.Context, scenarioID string) ([]domain.Task, error)
	ListPeople(ctx context.Context, scenarioID string) ([]domain.Person, error)
	ListBudgetLines(ctx context.Context, scenarioID string) ([]domain.BudgetLine, error)
	ListPlaythroughs(ctx context.Context, scenarioID string) ([]domain.Playthrough, error)
	ListTimeRows(ctx context.Context, playthroughIDs []string) ([]domain.TimeAllocationRow, error)
	ListMoneyRows(ctx context.Context, playthroughIDs []string) ([]domain.MoneyAllocationRow, error)
	ListLogs(ctx context.Context, playthroughIDs []string) ([]domain.LogEntry, error)
}

type Funds struct {
	Stat         float64 `json:"stat_nok"`
	Handlingsrom float64 `json:"handlingsrom_nok"`
	Total        float64 `json:"total_nok"`
	Text         string  `json:"text"`
}

type PersonCapacity struct {
	Name        string `json:"name"`
	CapacityPct int    `json:"capacity_pct"`
}

type People struct {
	TotalPct int              `json:"total_pct"`
	ByCap    []PersonCapacity `json:"by_capacity"`
	Text     string           `json:"text"`
}

type TaskTotal struct {
	TaskID   string  `json:"task_id"`
	Title    string  `json:"title"`
	TimePct  int     `json:"time_pct"`
	MoneyNOK float64 `json:"money_nok"`
}

type Submission struct {
	Playthrough domain.Playthrough `json:"playthrough"`
	Log         *domain.LogEntry   `json:"log,omitempty"`
	TimeCount   int                `json:"time_count"`
	MoneyCount  int                `json:"money_count"`
}

type Summary struct {
	ScenarioID  string       `json:"scenario_id"`
	Message     string       `json:"message"`
	Funds       Funds        `json:"funds"`
	People      People       `json:"people"`
	Tasks       []TaskTotal  `json:"tasks"`
	TopTime     []TaskTotal  `json:"top_time"`
	TopMoney    []TaskTotal  `json:"top_money"`
	Ignored     []TaskTotal  `json:"ignored"`
	Submissions []Submission `json:"submissions"`
}

// Build loads the scenario context and all submissions and aggregates them.
func Build(ctx context.Context, src Source, scenarioID string) (Summary, error) {
	budgets, err := src.ListBudgetLines(ctx, scenarioID)
	if err != nil {
		return Summary{}, fmt.Errorf("load budget lines: %w", err)
	}
	people, err := src.ListPeople(ctx, scenarioID)
	if err != nil {
		return Summary{}, fmt.Errorf("load people: %w", err)
	}
	tasks, err := src.ListTasks(ctx, scenarioID)
	if err != nil {
		return Summary{}, fmt.Errorf("load tasks: %w", err)
	}
	plays, err := src.ListPlaythroughs(ctx, scenarioID)
	if err != nil {
		return Summary{}, fmt.Errorf("load playthroughs: %w", err)
	}

	s := Summary{
		ScenarioID: scenarioID,
		Funds:      funds(budgets),
		People:     capacity(people),
	}
	timeByTask := map[string]int{}
	moneyByTask := map[string]float64{}
	var logs []domain.LogEntry
	if len(plays) == 0 {
		s.Message = NoSubmissionsMessage
	} else {
		ids := make([]string, len(plays))
		for i, p := range plays {
			ids[i] = p.ID
		}
		timeRows, err := src.ListTimeRows(ctx, ids)
		if err != nil {
			return Summary{}, fmt.Errorf("load time allocations: %w", err)
		}
		moneyRows, err := src.ListMoneyRows(ctx, ids)
		if err != nil {
			return Summary{}, fmt.Errorf("load money allocations: %w", err)
		}
		logs, err = src.ListLogs(ctx, ids)
		if err != nil {
			return Summary{}, fmt.Errorf("load logs: %w", err)
		}
		for _, row := range timeRows {
			timeByTask[row.TaskID] += row.Pct
		}
		for _, row := range moneyRows {
			moneyByTask[row.TaskID] += row.AmountNOK
		}
		s.Message = fmt.Sprintf("Innsendinger: %d", len(plays))
	}

	s.Tasks = make([]TaskTotal, 0, len(tasks))
	s.Ignored = []TaskTotal{}
	for _, t := range tasks {
		tt := TaskTotal{TaskID: t.ID, Title: t.Title, TimePct: timeByTask[t.ID], MoneyNOK: moneyByTask[t.ID]}
		s.Tasks = append(s.Tasks, tt)
		if tt.TimePct == 0 && tt.MoneyNOK == 0 {
			s.Ignored = append(s.Ignored, tt)
		}
	}
	s.TopTime = top(s.Tasks, func(t TaskTotal) float64 { return float64(t.TimePct) })
	s.TopMoney = top(s.Tasks, func(t TaskTotal) float64 { return t.MoneyNOK })
	s.Submissions = submissions(plays, logs)
	return s, nil
}

func funds(budgets []domain.BudgetLine) Funds {
	var f Funds
	for _, b := range budgets {
		switch b.Type.Normalize() {
		case domain.BudgetStat:
			f.Stat += b.AmountNOK
		case domain.BudgetHandlingsrom:
			f.Handlingsrom += b.AmountNOK
		}
	}
	f.Total = f.Stat + f.Handlingsrom
	f.Text = fmt.Sprintf("Stat (låst): %s • Handlingsrom: %s • Totalt: %s",
		nok.Format(f.Stat), nok.Format(f.Handlingsrom), nok.Format(f.Total))
	return f
}

func capacity(people []domain.Person) People {
	p := People{ByCap: make([]PersonCapacity, 0, len(people))}
	for _, person := range people {
		p.ByCap = append(p.ByCap, PersonCapacity{Name: person.Name, CapacityPct: person.CapacityPct})
		p.TotalPct += person.CapacityPct
	}
	sort.SliceStable(p.ByCap, func(i, j int) bool { return p.ByCap[i].CapacityPct > p.ByCap[j].CapacityPct })
	p.Text = fmt.Sprintf("Sum registrert kapasitet: %d%%", p.TotalPct)
	return p
}

// top ranks tasks by val, highest first. Ties keep scenario order.
func top(tasks []TaskTotal, val func(TaskTotal) float64) []TaskTotal {
	ranked := append([]TaskTotal(nil), tasks...)
	sort.SliceStable(ranked, func(i, j int) bool { return val(ranked[i]) > val(ranked[j]) })
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	return ranked
}

func submissions(plays []domain.Playthrough, logs []domain.LogEntry) []Submission {
	byPlay := make(map[string]domain.LogEntry, len(logs))
	for _, l := range logs {
		byPlay[l.PlaythroughID] = l
	}
	res := make([]Submission, 0, len(plays))
	for _, p := range plays {
		sub := Submission{Playthrough: p}
		if l, ok := byPlay[p.ID]; ok {
			l := l
			sub.Log = &l
			sub.TimeCount = len(l.Raw.Time)
			sub.MoneyCount = len(l.Raw.Money)
		}
		res = append(res, sub)
	}
	return res
}

var csvHeader = []string{"oppgave", "tid_total_pct", "handlingsrom_total_nok"}

// WriteCSV writes one row per task in scenario order. Every field is
// double-quoted; lines are joined by \n with no trailing newline.
func WriteCSV(w io.Writer, s Summary) error {
	lines := make([]string, 0, len(s.Tasks)+1)
	lines = append(lines, csvLine(csvHeader))
	for _, t := range s.Tasks {
		lines = append(lines, csvLine([]string{
			t.Title,
			strconv.Itoa(t.TimePct),
			strconv.FormatFloat(t.MoneyNOK, 'f', -1, 64),
		}))
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

func csvLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

// ExportFileName is the download name for an export made at now.
func ExportFileName(now time.Time) string {
	return "dashboard_aggregert_" + now.UTC().Format("2006-01-02") + ".csv"
}
