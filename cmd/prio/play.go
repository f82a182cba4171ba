package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/coverage"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/engine"
	"github.com/Cinaedin/ResourceGame/internal/nok"
	prioclient "github.com/Cinaedin/ResourceGame/sdk/go"
)

// ref is something an allocation flag can name, by id or by title.
type ref struct {
	ID    string
	Label string
}

type refs []ref

// resolve matches an id exactly, then a label case-insensitively.
func (rs refs) resolve(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	for _, r := range rs {
		if r.ID == name {
			return r.ID, nil
		}
	}
	var hits []string
	for _, r := range rs {
		if strings.EqualFold(r.Label, name) {
			hits = append(hits, r.ID)
		}
	}
	switch len(hits) {
	case 0:
		return "", fmt.Errorf("unknown %s %q", kind, name)
	case 1:
		return hits[0], nil
	default:
		return "", fmt.Errorf("%s %q is ambiguous; use the id", kind, name)
	}
}

type catalog struct {
	people  refs
	tasks   refs
	budgets refs
}

func localCatalog(people []domain.Person, tasks []domain.Task, lines []domain.BudgetLine) catalog {
	var c catalog
	for _, p := range people {
		c.people = append(c.people, ref{p.ID, p.Name})
	}
	for _, t := range tasks {
		c.tasks = append(c.tasks, ref{t.ID, t.Title})
	}
	for _, b := range lines {
		if b.IsAllocatable() {
			c.budgets = append(c.budgets, ref{b.ID, b.Title})
		}
	}
	return c
}

func remoteCatalog(sc prioclient.Scenario) catalog {
	var c catalog
	for _, p := range sc.People {
		c.people = append(c.people, ref{p.ID, p.Name})
	}
	for _, t := range sc.Tasks {
		c.tasks = append(c.tasks, ref{t.ID, t.Title})
	}
	for _, b := range sc.BudgetLines {
		if strings.EqualFold(strings.TrimSpace(b.Type), string(domain.BudgetHandlingsrom)) {
			c.budgets = append(c.budgets, ref{b.ID, b.Title})
		}
	}
	return c
}

// splitSpec splits "a:b:n" into its parts; n is taken after the last colon
// so names may not contain colons, but the number may not be empty.
func splitSpec(spec string) (string, string, string, error) {
	last := strings.LastIndex(spec, ":")
	if last < 0 {
		return "", "", "", fmt.Errorf("invalid allocation %q; want a:b:n", spec)
	}
	head, num := spec[:last], spec[last+1:]
	first := strings.Index(head, ":")
	if first < 0 || num == "" {
		return "", "", "", fmt.Errorf("invalid allocation %q; want a:b:n", spec)
	}
	return head[:first], head[first+1:], num, nil
}

// parseCommands turns --time person:task:pct and --money line:task:amount
// flags into allocation commands.
func parseCommands(c catalog, timeSpecs, moneySpecs []string) ([]alloc.Command, error) {
	var cmds []alloc.Command
	for _, spec := range timeSpecs {
		person, task, num, err := splitSpec(spec)
		if err != nil {
			return nil, err
		}
		pct, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return nil, fmt.Errorf("invalid pct in %q", spec)
		}
		personID, err := c.people.resolve("person", person)
		if err != nil {
			return nil, err
		}
		taskID, err := c.tasks.resolve("task", task)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, alloc.SetTime{PersonID: personID, TaskID: taskID, Pct: pct})
	}
	for _, spec := range moneySpecs {
		line, task, num, err := splitSpec(spec)
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount in %q", spec)
		}
		lineID, err := c.budgets.resolve("budget line", line)
		if err != nil {
			return nil, err
		}
		taskID, err := c.tasks.resolve("task", task)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, alloc.SetMoney{BudgetLineID: lineID, TaskID: taskID, Amount: amount})
	}
	return cmds, nil
}

func playCmd() *cobra.Command {
	var name, remote string
	var timeSpecs, moneySpecs []string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one session from the command line",
		Long: `Allocate time and money, print the coverage and submit.
--time person:task:pct and --money budget_line:task:amount accept ids or names
and may be repeated. With --remote the session runs on a prio server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" {
				return playRemote(cmd.Context(), remote, name, timeSpecs, moneySpecs, dryRun)
			}
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				return playLocal(ctx, e, sc, name, timeSpecs, moneySpecs, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "player name")
	cmd.Flags().StringArrayVar(&timeSpecs, "time", nil, "person:task:pct")
	cmd.Flags().StringArrayVar(&moneySpecs, "money", nil, "budget_line:task:amount")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show coverage without submitting")
	cmd.Flags().StringVar(&remote, "remote", "", "server URL, e.g. http://127.0.0.1:8080")
	return cmd
}

func playLocal(ctx context.Context, e engine.Engine, sc domain.Scenario, name string, timeSpecs, moneySpecs []string, dryRun bool) error {
	s, err := e.NewSession(ctx, sc.ID, uuid.NewString())
	if err != nil {
		return err
	}
	snap := s.Snapshot
	cmds, err := parseCommands(localCatalog(snap.People(), snap.Tasks(), snap.BudgetLines()), timeSpecs, moneySpecs)
	if err != nil {
		return err
	}
	if snap.Locked() {
		fmt.Println("Note: scenario is locked")
	}
	d := s.Derived()
	for _, c := range cmds {
		if d, err = s.Apply(c); err != nil {
			return fmt.Errorf("%s: %w", c.Kind(), err)
		}
	}
	if viper.GetBool("json") && dryRun {
		return printJSON(d)
	}
	if !viper.GetBool("json") {
		printDerived(d)
	}
	if dryRun {
		return nil
	}
	playID, err := e.Submit(ctx, s, name, viper.GetString("actor"))
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"playthrough_id": playID, "derived": d})
	}
	fmt.Println("Submitted", playID)
	return nil
}

func playRemote(ctx context.Context, baseURL, name string, timeSpecs, moneySpecs []string, dryRun bool) error {
	client := prioclient.New(baseURL)
	client.Actor = viper.GetString("actor")
	sc, err := client.Scenario(ctx)
	if err != nil {
		return err
	}
	cmds, err := parseCommands(remoteCatalog(sc), timeSpecs, moneySpecs)
	if err != nil {
		return err
	}
	s, err := client.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer client.DeleteSession(context.Background(), s.ID)
	for _, c := range cmds {
		switch c := c.(type) {
		case alloc.SetTime:
			s, err = client.SetTime(ctx, s.ID, c.PersonID, c.TaskID, c.Pct)
		case alloc.SetMoney:
			s, err = client.SetMoney(ctx, s.ID, c.BudgetLineID, c.TaskID, c.Amount)
		}
		if err != nil {
			return err
		}
	}
	if viper.GetBool("json") && dryRun {
		return printJSON(s.Derived)
	}
	if !viper.GetBool("json") {
		printRemoteDerived(s.Derived)
	}
	if dryRun {
		return nil
	}
	playID, err := client.Submit(ctx, s.ID, name)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"playthrough_id": playID, "derived": s.Derived})
	}
	fmt.Println("Submitted", playID)
	return nil
}

func printDerived(d coverage.Derived) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Task", "Status", "Time %", "Amount", ""})
	for _, t := range d.Tasks {
		tw.AppendRow(table.Row{t.Title, t.Status, t.TimePct, nok.Format(t.MoneyNOK), t.Text})
	}
	tw.Render()
	fmt.Printf("Dekket: %d/%d\n", d.Covered, d.Total)
	fmt.Printf("Kapasitet: %s%% av %s%%%s\n", nok.Number(d.People.Used), nok.Number(d.People.Total), overMark(d.People.Over))
	fmt.Printf("Handlingsrom: %s av %s%s\n", nok.Format(d.Budget.Used), nok.Format(d.Budget.Total), overMark(d.Budget.Over))
	for _, w := range d.Warnings {
		fmt.Println("!", w)
	}
}

func printRemoteDerived(d prioclient.Derived) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Task", "Status", "Time %", "Amount", ""})
	for _, t := range d.Tasks {
		tw.AppendRow(table.Row{t.Title, t.Status, t.TimePct, nok.Format(t.MoneyNOK), t.Text})
	}
	tw.Render()
	fmt.Printf("Dekket: %d/%d\n", d.Covered, d.Total)
	fmt.Printf("Kapasitet: %s%% av %s%%%s\n", nok.Number(d.People.Used), nok.Number(d.People.Total), overMark(d.People.Over))
	fmt.Printf("Handlingsrom: %s av %s%s\n", nok.Format(d.Budget.Used), nok.Format(d.Budget.Total), overMark(d.Budget.Over))
	for _, w := range d.Warnings {
		fmt.Println("!", w)
	}
}

func overMark(over bool) string {
	if over {
		return " (over)"
	}
	return ""
}
