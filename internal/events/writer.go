package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	ScenarioCreate    = "scenario.create"
	ScenarioLock      = "scenario.lock"
	ScenarioUnlock    = "scenario.unlock"
	ScenarioReset     = "scenario.reset"
	PlaythroughSubmit = "playthrough.submit"
)

// Import returns the event type for a CSV import of kind.
func Import(kind string) string { return "import." + kind }

type Writer struct {
	DB  *sqlx.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event. tx may be nil, in which case the write goes
// straight to DB.
func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evtType, scenarioID, entityKind, entityID, actor string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var ext sqlx.ExtContext = w.DB
	if tx != nil {
		ext = tx
	}
	query := ext.Rebind(`INSERT INTO events(ts,type,scenario_id,entity_kind,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?,?)`)
	_, err = ext.ExecContext(ctx, query, ts, evtType, nullable(scenarioID), entityKind, nullable(entityID), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
