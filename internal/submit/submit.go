// Package submit turns a session's allocations into persisted rows.
package submit

import (
	"context"
	"fmt"
	"strings"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/logging"
)

// Sink is the write side of the persistence backend.
type Sink interface {
	CreatePlaythrough(ctx context.Context, scenarioID, userName string) (domain.Playthrough, error)
	InsertTimeAllocation(ctx context.Context, row domain.TimeAllocationRow) error
	InsertMoneyAllocation(ctx context.Context, row domain.MoneyAllocationRow) error
	InsertLog(ctx context.Context, entry domain.LogEntry) error
}

const (
	StepPlaythrough = "playthrough"
	StepTime        = "time_allocation"
	StepMoney       = "money_allocation"
	StepLog         = "log"
)

type MissingNameError struct{}

func (e *MissingNameError) Error() string { return "player name is required" }

type EmptyAllocationError struct{}

func (e *EmptyAllocationError) Error() string { return "no time or money allocations to submit" }

// PersistenceError reports the first failed write. Rows written before it
// are left in place.
type PersistenceError struct {
	Step          string
	PlaythroughID string
	Written       int
	Err           error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Assembler struct {
	Sink       Sink
	ScenarioID string
	Log        *logging.Logger
}

// Summary is the log row summary for a submission.
func Summary(playerName string) string {
	return "Innspill fra " + playerName
}

// Receipt describes a stored submission.
type Receipt struct {
	PlaythroughID string
	TimeRows      int
	MoneyRows     int
}

// Submit writes the playthrough, then every time row, then every money row,
// then the log row, stopping at the first failure. It does not clear store.
//
// The scenario lock flag is not consulted; a submit racing a lock or reset
// by the facilitator is not coordinated.
func (a Assembler) Submit(ctx context.Context, playerName string, store *alloc.Store, warnings []string) (Receipt, error) {
	name := strings.TrimSpace(playerName)
	if name == "" {
		return Receipt{}, &MissingNameError{}
	}
	if store == nil || store.IsEmpty() {
		return Receipt{}, &EmptyAllocationError{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	log := a.Log
	if log == nil {
		log = logging.Nop()
	}
	timeAllocs := store.TimeAllocations()
	moneyAllocs := store.MoneyAllocations()
	written := 0
	fail := func(step, playID string, err error) (Receipt, error) {
		log.Warn("submission aborted", "step", step, "written", written, "error", err)
		return Receipt{}, &PersistenceError{Step: step, PlaythroughID: playID, Written: written, Err: err}
	}

	play, err := a.Sink.CreatePlaythrough(ctx, a.ScenarioID, name)
	if err != nil {
		return fail(StepPlaythrough, "", err)
	}
	written++
	for _, t := range timeAllocs {
		row := domain.TimeAllocationRow{PlaythroughID: play.ID, PersonID: t.PersonID, TaskID: t.TaskID, Pct: t.Pct}
		if err := a.Sink.InsertTimeAllocation(ctx, row); err != nil {
			return fail(StepTime, play.ID, err)
		}
		written++
	}
	for _, m := range moneyAllocs {
		row := domain.MoneyAllocationRow{PlaythroughID: play.ID, BudgetLineID: m.BudgetLineID, TaskID: m.TaskID, AmountNOK: m.Amount}
		if err := a.Sink.InsertMoneyAllocation(ctx, row); err != nil {
			return fail(StepMoney, play.ID, err)
		}
		written++
	}
	entry := domain.LogEntry{
		PlaythroughID: play.ID,
		Summary:       Summary(name),
		Raw: domain.LogRaw{
			Time:     timeAllocs,
			Money:    moneyAllocs,
			Warnings: warnings,
		},
	}
	if err := a.Sink.InsertLog(ctx, entry); err != nil {
		return fail(StepLog, play.ID, err)
	}
	written++
	log.Info("submission stored", "playthrough_id", play.ID, "player", name, "writes", written)
	return Receipt{PlaythroughID: play.ID, TimeRows: len(timeAllocs), MoneyRows: len(moneyAllocs)}, nil
}
