package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Cinaedin/ResourceGame/internal/app"
	"github.com/Cinaedin/ResourceGame/internal/config"
	"github.com/Cinaedin/ResourceGame/internal/dashboard"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/events"
	"github.com/Cinaedin/ResourceGame/internal/importer"
	"github.com/Cinaedin/ResourceGame/internal/logging"
	"github.com/Cinaedin/ResourceGame/internal/metrics"
	"github.com/Cinaedin/ResourceGame/internal/repo"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
	"github.com/Cinaedin/ResourceGame/internal/session"
	"github.com/Cinaedin/ResourceGame/internal/submit"
)

type Engine struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    *logging.Logger
}

func New(db *sqlx.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Log:    logging.Nop(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logging.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Nop()
}

// WithRules reports whether budget rule warnings are evaluated.
func (e Engine) WithRules() bool {
	return e.Config == nil || e.Config.Rules.Enabled
}

// ResolveScenario returns the scenario to act on, creating it if needed.
func (e Engine) ResolveScenario(ctx context.Context, override, actor string) (domain.Scenario, error) {
	return app.ResolveScenario(ctx, e.Repo, e.Events, e.Config, override, actor)
}

func (e Engine) CreateScenario(ctx context.Context, id, title, actor string) (domain.Scenario, error) {
	if title == "" {
		return domain.Scenario{}, errors.New("title is required")
	}
	return app.CreateScenario(ctx, e.Repo, e.Events, id, title, actor)
}

// LoadSnapshot reads the scenario and its content for a session.
func (e Engine) LoadSnapshot(ctx context.Context, scenarioID string) (*scenario.Snapshot, error) {
	snap, err := scenario.Load(ctx, e.Repo, scenarioID)
	if err != nil {
		e.log().Error("snapshot load failed", "scenario_id", scenarioID, "error", err)
		return nil, err
	}
	return snap, nil
}

// NewSession loads a snapshot and starts an empty local session on it.
func (e Engine) NewSession(ctx context.Context, scenarioID, id string) (*session.Session, error) {
	snap, err := e.LoadSnapshot(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	return session.New(id, snap, e.WithRules()), nil
}

// Assembler returns a submission assembler writing through the repo.
func (e Engine) Assembler(scenarioID string) submit.Assembler {
	return submit.Assembler{
		Sink:       meteredSink{Sink: e.Repo},
		ScenarioID: scenarioID,
		Log:        e.log(),
	}
}

// Submit persists the session's allocations and records the outcome.
func (e Engine) Submit(ctx context.Context, s *session.Session, playerName, actor string) (string, error) {
	scenarioID := s.Snapshot.ID()
	receipt, err := s.Submit(ctx, e.Assembler(scenarioID), playerName)
	metrics.SubmissionsTotal.WithLabelValues(submitResult(err)).Inc()
	if err != nil {
		return "", err
	}
	if actor == "" {
		actor = "player"
	}
	playID := receipt.PlaythroughID
	if err := e.Events.Append(ctx, nil, events.PlaythroughSubmit, scenarioID, "playthrough", playID, actor,
		events.EventPayload{"time_rows": receipt.TimeRows, "money_rows": receipt.MoneyRows}); err != nil {
		e.log().Warn("submit event not recorded", "playthrough_id", playID, "error", err)
	}
	return playID, nil
}

func submitResult(err error) string {
	var (
		missing *submit.MissingNameError
		empty   *submit.EmptyAllocationError
		persist *submit.PersistenceError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &missing):
		return "missing_name"
	case errors.As(err, &empty):
		return "empty"
	case errors.Is(err, session.ErrSubmitInFlight):
		return "in_flight"
	case errors.As(err, &persist):
		return "persistence_error"
	}
	return "error"
}

func (e Engine) Lock(ctx context.Context, scenarioID, actor string) (domain.Scenario, error) {
	return e.setLocked(ctx, scenarioID, true, actor)
}

func (e Engine) Unlock(ctx context.Context, scenarioID, actor string) (domain.Scenario, error) {
	return e.setLocked(ctx, scenarioID, false, actor)
}

func (e Engine) setLocked(ctx context.Context, scenarioID string, locked bool, actor string) (domain.Scenario, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Scenario{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetScenarioLocked(ctx, tx, scenarioID, locked); err != nil {
		return domain.Scenario{}, err
	}
	evt := events.ScenarioUnlock
	if locked {
		evt = events.ScenarioLock
	}
	if err := e.Events.Append(ctx, tx, evt, scenarioID, "scenario", scenarioID, actorOr(actor), nil); err != nil {
		return domain.Scenario{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Scenario{}, err
	}
	e.log().Info("scenario lock changed", "scenario_id", scenarioID, "locked", locked)
	return e.Repo.GetScenario(ctx, scenarioID)
}

// Reset removes every submission of the scenario. Content and lock state
// are kept.
func (e Engine) Reset(ctx context.Context, scenarioID, actor string) (int64, error) {
	if _, err := e.Repo.GetScenario(ctx, scenarioID); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.ResetScenario(ctx, tx, scenarioID)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, events.ScenarioReset, scenarioID, "scenario", scenarioID, actorOr(actor),
		events.EventPayload{"playthroughs": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.log().Info("scenario reset", "scenario_id", scenarioID, "playthroughs", n)
	return n, nil
}

// Import loads one CSV file of kind into the scenario in a single
// transaction.
func (e Engine) Import(ctx context.Context, scenarioID string, kind importer.Kind, r io.Reader, actor string) (importer.Result, error) {
	sc, err := e.Repo.GetScenario(ctx, scenarioID)
	if err != nil {
		return importer.Result{}, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return importer.Result{}, err
	}
	defer tx.Rollback()
	res, err := importer.Importer{Repo: e.Repo}.Run(ctx, tx, sc, kind, r)
	if err != nil {
		return res, fmt.Errorf("import %s: %w", kind, err)
	}
	if err := e.Events.Append(ctx, tx, events.Import(string(kind)), scenarioID, "scenario", scenarioID, actorOr(actor),
		events.EventPayload{"inserted": res.Inserted, "skipped": res.Skipped}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.log().Info("import done", "scenario_id", scenarioID, "kind", kind, "inserted", res.Inserted, "skipped", res.Skipped)
	return res, nil
}

func (e Engine) Dashboard(ctx context.Context, scenarioID string) (dashboard.Summary, error) {
	return dashboard.Build(ctx, e.Repo, scenarioID)
}

// ExportName is the dashboard CSV file name for today.
func (e Engine) ExportName() string {
	return dashboard.ExportFileName(e.now())
}

// RecentEvents returns the scenario's audit trail, newest first.
func (e Engine) RecentEvents(ctx context.Context, scenarioID string, limit int) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, scenarioID, "")
}

func actorOr(actor string) string {
	if actor == "" {
		return "local-user"
	}
	return actor
}

// meteredSink counts rows as they are written.
type meteredSink struct {
	submit.Sink
}

func (m meteredSink) CreatePlaythrough(ctx context.Context, scenarioID, userName string) (domain.Playthrough, error) {
	p, err := m.Sink.CreatePlaythrough(ctx, scenarioID, userName)
	if err == nil {
		metrics.WritesTotal.WithLabelValues("playthroughs").Inc()
	}
	return p, err
}

func (m meteredSink) InsertTimeAllocation(ctx context.Context, row domain.TimeAllocationRow) error {
	return m.count("time_allocations", m.Sink.InsertTimeAllocation(ctx, row))
}

func (m meteredSink) InsertMoneyAllocation(ctx context.Context, row domain.MoneyAllocationRow) error {
	return m.count("budget_allocations", m.Sink.InsertMoneyAllocation(ctx, row))
}

func (m meteredSink) InsertLog(ctx context.Context, entry domain.LogEntry) error {
	return m.count("logs", m.Sink.InsertLog(ctx, entry))
}

func (m meteredSink) count(collection string, err error) error {
	if err == nil {
		metrics.WritesTotal.WithLabelValues(collection).Inc()
	}
	return err
}
