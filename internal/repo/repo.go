package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Cinaedin/ResourceGame/internal/domain"
)

// TimeLayout is the stored timestamp format. Fixed width keeps string order
// equal to time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

type Repo struct {
	DB  *sqlx.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	Rebind(string) string
}

func (r Repo) ext(tx *sqlx.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) now() string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().UTC().Format(TimeLayout)
}

func exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

func selectAll(ctx context.Context, q queryer, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

func getOne(ctx context.Context, q queryer, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Scenarios

// CreateScenario inserts an unlocked scenario. An empty id gets a fresh uuid.
func (r Repo) CreateScenario(ctx context.Context, tx *sqlx.Tx, id, title string) (domain.Scenario, error) {
	if id == "" {
		id = uuid.NewString()
	}
	sc := domain.Scenario{ID: id, Title: title, CreatedAt: r.now()}
	_, err := exec(ctx, r.ext(tx), `INSERT INTO scenarios(id,title,is_locked,created_at) VALUES (?,?,?,?)`,
		sc.ID, sc.Title, false, sc.CreatedAt)
	if err != nil {
		return domain.Scenario{}, err
	}
	return sc, nil
}

func (r Repo) GetScenario(ctx context.Context, id string) (domain.Scenario, error) {
	var sc domain.Scenario
	err := getOne(ctx, r.DB, &sc, `SELECT id,title,is_locked,created_at FROM scenarios WHERE id=?`, id)
	return sc, err
}

func (r Repo) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	var res []domain.Scenario
	err := selectAll(ctx, r.DB, &res, `SELECT id,title,is_locked,created_at FROM scenarios ORDER BY created_at DESC`)
	return res, err
}

// SingleScenario returns the only scenario in the database.
func (r Repo) SingleScenario(ctx context.Context) (domain.Scenario, error) {
	list, err := r.ListScenarios(ctx)
	if err != nil {
		return domain.Scenario{}, err
	}
	if len(list) == 0 {
		return domain.Scenario{}, ErrNotFound
	}
	if len(list) > 1 {
		return domain.Scenario{}, fmt.Errorf("multiple scenarios exist; specify --scenario")
	}
	return list[0], nil
}

func (r Repo) SetScenarioLocked(ctx context.Context, tx *sqlx.Tx, id string, locked bool) error {
	res, err := exec(ctx, r.ext(tx), `UPDATE scenarios SET is_locked=? WHERE id=?`, locked, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetScenario deletes every submission of the scenario: logs, then time
// rows, then money rows, then playthroughs. It returns the number of
// playthroughs removed.
func (r Repo) ResetScenario(ctx context.Context, tx *sqlx.Tx, scenarioID string) (int64, error) {
	q := r.ext(tx)
	const owned = `playthrough_id IN (SELECT id FROM playthroughs WHERE scenario_id=?)`
	for _, table := range []string{"logs", "time_allocations", "budget_allocations"} {
		if _, err := exec(ctx, q, `DELETE FROM `+table+` WHERE `+owned, scenarioID); err != nil {
			return 0, fmt.Errorf("reset %s: %w", table, err)
		}
	}
	res, err := exec(ctx, q, `DELETE FROM playthroughs WHERE scenario_id=?`, scenarioID)
	if err != nil {
		return 0, fmt.Errorf("reset playthroughs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Scenario content

type taskRow struct {
	ID         string         `db:"id"`
	ScenarioID string         `db:"scenario_id"`
	Title      string         `db:"title"`
	TagsJSON   string         `db:"tags_json"`
	Program    sql.NullString `db:"program"`
}

func (t taskRow) task() (domain.Task, error) {
	task := domain.Task{ID: t.ID, ScenarioID: t.ScenarioID, Title: t.Title, Tags: []string{}}
	if t.TagsJSON != "" {
		if err := json.Unmarshal([]byte(t.TagsJSON), &task.Tags); err != nil {
			return domain.Task{}, fmt.Errorf("task %s tags: %w", t.ID, err)
		}
	}
	if t.Program.Valid {
		p := t.Program.String
		task.Program = &p
	}
	return task, nil
}

func nextPosition(ctx context.Context, q queryer, table, scenarioID string) (int, error) {
	var pos int
	err := sqlx.GetContext(ctx, q, &pos, q.Rebind(`SELECT COALESCE(MAX(position),0) FROM `+table+` WHERE scenario_id=?`), scenarioID)
	return pos + 1, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sqlx.Tx, t domain.Task) (domain.Task, error) {
	q := r.ext(tx)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return domain.Task{}, err
	}
	pos, err := nextPosition(ctx, q, "tasks", t.ScenarioID)
	if err != nil {
		return domain.Task{}, err
	}
	var program any
	if t.Program != nil {
		program = nullable(*t.Program)
	}
	_, err = exec(ctx, q, `INSERT INTO tasks(id,scenario_id,title,tags_json,program,position) VALUES (?,?,?,?,?,?)`,
		t.ID, t.ScenarioID, t.Title, string(tags), program, pos)
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, scenarioID string) ([]domain.Task, error) {
	var rows []taskRow
	if err := selectAll(ctx, r.DB, &rows, `SELECT id,scenario_id,title,tags_json,program FROM tasks WHERE scenario_id=? ORDER BY position, title`, scenarioID); err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.task()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) InsertPerson(ctx context.Context, tx *sqlx.Tx, p domain.Person) (domain.Person, error) {
	q := r.ext(tx)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	pos, err := nextPosition(ctx, q, "people", p.ScenarioID)
	if err != nil {
		return domain.Person{}, err
	}
	_, err = exec(ctx, q, `INSERT INTO people(id,scenario_id,name,capacity_pct,position) VALUES (?,?,?,?,?)`,
		p.ID, p.ScenarioID, p.Name, p.CapacityPct, pos)
	return p, err
}

func (r Repo) ListPeople(ctx context.Context, scenarioID string) ([]domain.Person, error) {
	var res []domain.Person
	err := selectAll(ctx, r.DB, &res, `SELECT id,scenario_id,name,capacity_pct FROM people WHERE scenario_id=? ORDER BY position, name`, scenarioID)
	return res, err
}

func (r Repo) InsertBudgetLine(ctx context.Context, tx *sqlx.Tx, b domain.BudgetLine) (domain.BudgetLine, error) {
	q := r.ext(tx)
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	pos, err := nextPosition(ctx, q, "budget_lines", b.ScenarioID)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	_, err = exec(ctx, q, `INSERT INTO budget_lines(id,scenario_id,title,type,amount_nok,position) VALUES (?,?,?,?,?,?)`,
		b.ID, b.ScenarioID, b.Title, string(b.Type), b.AmountNOK, pos)
	return b, err
}

func (r Repo) ListBudgetLines(ctx context.Context, scenarioID string) ([]domain.BudgetLine, error) {
	var res []domain.BudgetLine
	err := selectAll(ctx, r.DB, &res, `SELECT id,scenario_id,title,type,amount_nok FROM budget_lines WHERE scenario_id=? ORDER BY position, title`, scenarioID)
	return res, err
}

// FindBudgetLineByTitle matches titles case-insensitively after trimming.
func (r Repo) FindBudgetLineByTitle(ctx context.Context, tx *sqlx.Tx, scenarioID, title string) (domain.BudgetLine, error) {
	var b domain.BudgetLine
	err := getOne(ctx, r.ext(tx), &b, `SELECT id,scenario_id,title,type,amount_nok FROM budget_lines WHERE scenario_id=? AND LOWER(TRIM(title))=? ORDER BY position LIMIT 1`,
		scenarioID, strings.ToLower(strings.TrimSpace(title)))
	return b, err
}

func (r Repo) InsertBudgetRule(ctx context.Context, tx *sqlx.Tx, rule domain.BudgetRule) (domain.BudgetRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.RuleJSON == "" {
		rule.RuleJSON = "{}"
	}
	_, err := exec(ctx, r.ext(tx), `INSERT INTO budget_rules(id,budget_line_id,rule_type,rule_json) VALUES (?,?,?,?)`,
		rule.ID, rule.BudgetLineID, string(rule.RuleType), rule.RuleJSON)
	return rule, err
}

func (r Repo) ListBudgetRules(ctx context.Context, scenarioID string) ([]domain.BudgetRule, error) {
	var res []domain.BudgetRule
	err := selectAll(ctx, r.DB, &res, `SELECT br.id,br.budget_line_id,br.rule_type,br.rule_json
FROM budget_rules br JOIN budget_lines bl ON bl.id=br.budget_line_id
WHERE bl.scenario_id=? ORDER BY bl.position, br.id`, scenarioID)
	return res, err
}

// Submissions

func (r Repo) CreatePlaythrough(ctx context.Context, scenarioID, userName string) (domain.Playthrough, error) {
	p := domain.Playthrough{ID: uuid.NewString(), ScenarioID: scenarioID, UserName: userName, SubmittedAt: r.now()}
	_, err := exec(ctx, r.DB, `INSERT INTO playthroughs(id,scenario_id,user_name,submitted_at) VALUES (?,?,?,?)`,
		p.ID, p.ScenarioID, p.UserName, p.SubmittedAt)
	if err != nil {
		return domain.Playthrough{}, err
	}
	return p, nil
}

func (r Repo) InsertTimeAllocation(ctx context.Context, row domain.TimeAllocationRow) error {
	_, err := exec(ctx, r.DB, `INSERT INTO time_allocations(playthrough_id,person_id,task_id,pct) VALUES (?,?,?,?)`,
		row.PlaythroughID, row.PersonID, row.TaskID, row.Pct)
	return err
}

func (r Repo) InsertMoneyAllocation(ctx context.Context, row domain.MoneyAllocationRow) error {
	_, err := exec(ctx, r.DB, `INSERT INTO budget_allocations(playthrough_id,budget_line_id,task_id,amount_nok) VALUES (?,?,?,?)`,
		row.PlaythroughID, row.BudgetLineID, row.TaskID, row.AmountNOK)
	return err
}

func (r Repo) InsertLog(ctx context.Context, entry domain.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt == "" {
		entry.CreatedAt = r.now()
	}
	raw, err := json.Marshal(entry.Raw)
	if err != nil {
		return fmt.Errorf("marshal log raw: %w", err)
	}
	_, err = exec(ctx, r.DB, `INSERT INTO logs(id,playthrough_id,summary,raw_json,created_at) VALUES (?,?,?,?,?)`,
		entry.ID, entry.PlaythroughID, entry.Summary, string(raw), entry.CreatedAt)
	return err
}

// ListPlaythroughs returns the scenario's submissions, newest first.
func (r Repo) ListPlaythroughs(ctx context.Context, scenarioID string) ([]domain.Playthrough, error) {
	var res []domain.Playthrough
	err := selectAll(ctx, r.DB, &res, `SELECT id,scenario_id,user_name,submitted_at FROM playthroughs WHERE scenario_id=? ORDER BY submitted_at DESC, id DESC`, scenarioID)
	return res, err
}

func (r Repo) selectIn(ctx context.Context, dest any, query string, ids []string) error {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return selectAll(ctx, r.DB, dest, query, args...)
}

func (r Repo) ListTimeRows(ctx context.Context, playthroughIDs []string) ([]domain.TimeAllocationRow, error) {
	if len(playthroughIDs) == 0 {
		return nil, nil
	}
	var res []domain.TimeAllocationRow
	err := r.selectIn(ctx, &res, `SELECT playthrough_id,person_id,task_id,pct FROM time_allocations WHERE playthrough_id IN (?)`, playthroughIDs)
	return res, err
}

func (r Repo) ListMoneyRows(ctx context.Context, playthroughIDs []string) ([]domain.MoneyAllocationRow, error) {
	if len(playthroughIDs) == 0 {
		return nil, nil
	}
	var res []domain.MoneyAllocationRow
	err := r.selectIn(ctx, &res, `SELECT playthrough_id,budget_line_id,task_id,amount_nok FROM budget_allocations WHERE playthrough_id IN (?)`, playthroughIDs)
	return res, err
}

type logRow struct {
	ID            string `db:"id"`
	PlaythroughID string `db:"playthrough_id"`
	Summary       string `db:"summary"`
	RawJSON       string `db:"raw_json"`
	CreatedAt     string `db:"created_at"`
}

func (r Repo) ListLogs(ctx context.Context, playthroughIDs []string) ([]domain.LogEntry, error) {
	if len(playthroughIDs) == 0 {
		return nil, nil
	}
	var rows []logRow
	if err := r.selectIn(ctx, &rows, `SELECT id,playthrough_id,summary,raw_json,created_at FROM logs WHERE playthrough_id IN (?) ORDER BY created_at`, playthroughIDs); err != nil {
		return nil, err
	}
	res := make([]domain.LogEntry, 0, len(rows))
	for _, row := range rows {
		e := domain.LogEntry{ID: row.ID, PlaythroughID: row.PlaythroughID, Summary: row.Summary, CreatedAt: row.CreatedAt}
		if err := json.Unmarshal([]byte(row.RawJSON), &e.Raw); err != nil {
			return nil, fmt.Errorf("log %s raw: %w", row.ID, err)
		}
		res = append(res, e)
	}
	return res, nil
}

// Events

type eventRow struct {
	ID         int64          `db:"id"`
	TS         string         `db:"ts"`
	Type       string         `db:"type"`
	ScenarioID sql.NullString `db:"scenario_id"`
	EntityKind string         `db:"entity_kind"`
	EntityID   sql.NullString `db:"entity_id"`
	Actor      string         `db:"actor"`
	Payload    string         `db:"payload_json"`
}

func (r Repo) LatestEvents(ctx context.Context, limit int, scenarioID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if scenarioID != "" {
		clauses = append(clauses, "scenario_id=?")
		args = append(args, scenarioID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,scenario_id,entity_kind,entity_id,actor,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	var rows []eventRow
	if err := selectAll(ctx, r.DB, &rows, query, args...); err != nil {
		return nil, err
	}
	res := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.Event{
			ID:         row.ID,
			TS:         row.TS,
			Type:       row.Type,
			ScenarioID: row.ScenarioID.String,
			EntityKind: row.EntityKind,
			EntityID:   row.EntityID.String,
			Actor:      row.Actor,
			Payload:    row.Payload,
		})
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
