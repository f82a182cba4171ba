package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cinaedin/ResourceGame/internal/config"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/events"
	"github.com/Cinaedin/ResourceGame/internal/repo"
)

// ResolveScenario picks the active scenario: the override, then the
// configured id, then the only scenario in the database. A missing
// scenario is created on the fly with the configured title.
func ResolveScenario(ctx context.Context, r repo.Repo, w events.Writer, cfg *config.Config, override, actor string) (domain.Scenario, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	id := override
	if id == "" {
		id = cfg.Scenario.ID
	}
	if id == "" {
		sc, err := r.SingleScenario(ctx)
		if err == nil {
			return sc, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Scenario{}, err
		}
	} else {
		sc, err := r.GetScenario(ctx, id)
		if err == nil {
			return sc, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Scenario{}, err
		}
	}
	return CreateScenario(ctx, r, w, id, cfg.Scenario.Title, actor)
}

// CreateScenario inserts a scenario and its creation event in one transaction.
func CreateScenario(ctx context.Context, r repo.Repo, w events.Writer, id, title, actor string) (domain.Scenario, error) {
	if actor == "" {
		actor = "local-user"
	}
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Scenario{}, err
	}
	defer tx.Rollback()
	sc, err := r.CreateScenario(ctx, tx, id, title)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("insert scenario: %w", err)
	}
	if err := w.Append(ctx, tx, events.ScenarioCreate, sc.ID, "scenario", sc.ID, actor, events.EventPayload{"title": sc.Title}); err != nil {
		return domain.Scenario{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Scenario{}, err
	}
	return sc, nil
}
