// Package importer loads scenario content from CSV files with a header row.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/repo"
)

type Kind string

const (
	KindPeople  Kind = "people"
	KindBudgets Kind = "budgets"
	KindTasks   Kind = "tasks"
	KindRules   Kind = "rules"
)

var ErrScenarioLocked = errors.New("scenario is locked")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPeople, KindBudgets, KindTasks, KindRules:
		return k, nil
	}
	return "", fmt.Errorf("unknown import kind %q (people, budgets, tasks, rules)", s)
}

type Result struct {
	Kind     Kind `json:"kind"`
	Inserted int  `json:"inserted"`
	Skipped  int  `json:"skipped"`
}

// RowError points at the offending CSV line (header is line 1).
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

type personRow struct {
	Name        string `validate:"required"`
	CapacityPct int    `validate:"gte=0"`
}

type budgetRow struct {
	Title     string            `validate:"required"`
	Type      domain.BudgetType `validate:"oneof=stat handlingsrom"`
	AmountNOK float64           `validate:"gte=0"`
}

type taskRow struct {
	Title   string `validate:"required"`
	Tags    []string
	Program string
}

type ruleRow struct {
	BudgetTitle string          `validate:"required"`
	RuleType    domain.RuleType `validate:"oneof=min_spend max_spend allowed_tags"`
	RuleJSON    string          `validate:"json"`
}

var validate = validator.New()

type Importer struct {
	Repo repo.Repo
}

// Run inserts every row of r into the scenario within tx. Any invalid row
// fails the whole import; rule rows naming an unknown budget line are
// skipped and counted.
func (im Importer) Run(ctx context.Context, tx *sqlx.Tx, sc domain.Scenario, kind Kind, r io.Reader) (Result, error) {
	res := Result{Kind: kind}
	if sc.IsLocked {
		return res, ErrScenarioLocked
	}
	header, records, err := readCSV(r)
	if err != nil {
		return res, err
	}
	for _, rec := range records {
		get := func(col string) string {
			idx, ok := header[col]
			if !ok || idx >= len(rec.fields) {
				return ""
			}
			return strings.TrimSpace(rec.fields[idx])
		}
		skipped, err := im.insert(ctx, tx, sc.ID, kind, get)
		if err != nil {
			return res, &RowError{Line: rec.line, Err: err}
		}
		if skipped {
			res.Skipped++
		} else {
			res.Inserted++
		}
	}
	return res, nil
}

func (im Importer) insert(ctx context.Context, tx *sqlx.Tx, scenarioID string, kind Kind, get func(string) string) (bool, error) {
	switch kind {
	case KindPeople:
		row := personRow{Name: get("name"), CapacityPct: 100}
		if raw := get("capacity_pct"); raw != "" {
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return false, fmt.Errorf("capacity_pct %q is not a number", raw)
			}
			if n != math.Trunc(n) {
				return false, fmt.Errorf("capacity_pct %q is not a whole number", raw)
			}
			row.CapacityPct = int(n)
		}
		if err := validate.Struct(row); err != nil {
			return false, err
		}
		_, err := im.Repo.InsertPerson(ctx, tx, domain.Person{ScenarioID: scenarioID, Name: row.Name, CapacityPct: row.CapacityPct})
		return false, err
	case KindBudgets:
		row := budgetRow{Title: get("title"), Type: domain.BudgetType(get("type")).Normalize()}
		raw := get("amount_nok")
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return false, fmt.Errorf("amount_nok %q is not a number", raw)
		}
		row.AmountNOK = n
		if err := validate.Struct(row); err != nil {
			return false, err
		}
		_, err = im.Repo.InsertBudgetLine(ctx, tx, domain.BudgetLine{ScenarioID: scenarioID, Title: row.Title, Type: row.Type, AmountNOK: row.AmountNOK})
		return false, err
	case KindTasks:
		row := taskRow{Title: get("task_title"), Tags: SplitTags(get("tags")), Program: get("program")}
		if err := validate.Struct(row); err != nil {
			return false, err
		}
		t := domain.Task{ScenarioID: scenarioID, Title: row.Title, Tags: row.Tags}
		if row.Program != "" {
			t.Program = &row.Program
		}
		_, err := im.Repo.InsertTask(ctx, tx, t)
		return false, err
	case KindRules:
		row := ruleRow{BudgetTitle: get("budget_title"), RuleType: domain.RuleType(strings.ToLower(get("rule_type"))), RuleJSON: get("rule_json")}
		if row.RuleJSON == "" {
			row.RuleJSON = "{}"
		}
		if err := validate.Struct(row); err != nil {
			return false, err
		}
		line, err := im.Repo.FindBudgetLineByTitle(ctx, tx, scenarioID, row.BudgetTitle)
		if errors.Is(err, repo.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		_, err = im.Repo.InsertBudgetRule(ctx, tx, domain.BudgetRule{BudgetLineID: line.ID, RuleType: row.RuleType, RuleJSON: row.RuleJSON})
		return false, err
	}
	return false, fmt.Errorf("unknown import kind %q", kind)
}

// SplitTags splits a comma separated tag list, trimming and dropping blanks.
func SplitTags(s string) []string {
	tags := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

type record struct {
	line   int
	fields []string
}

func readCSV(r io.Reader) (map[string]int, []record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("csv is empty; a header row is required")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	header := map[string]int{}
	for i, col := range head {
		col = strings.TrimPrefix(col, "\ufeff")
		header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	var records []record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if blank(fields) {
			continue
		}
		line, _ := cr.FieldPos(0)
		records = append(records, record{line: line, fields: fields})
	}
	return header, records, nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
