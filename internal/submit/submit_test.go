package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/domain"
)

type recordingSink struct {
	writes  []string
	failAt  int
	plays   []domain.Playthrough
	times   []domain.TimeAllocationRow
	moneys  []domain.MoneyAllocationRow
	entries []domain.LogEntry
}

func (s *recordingSink) record(kind string) error {
	s.writes = append(s.writes, kind)
	if s.failAt > 0 && len(s.writes) == s.failAt {
		return fmt.Errorf("%s rejected", kind)
	}
	return nil
}

func (s *recordingSink) CreatePlaythrough(ctx context.Context, scenarioID, userName string) (domain.Playthrough, error) {
	if err := s.record(StepPlaythrough); err != nil {
		return domain.Playthrough{}, err
	}
	p := domain.Playthrough{ID: fmt.Sprintf("play-%d", len(s.plays)+1), ScenarioID: scenarioID, UserName: userName}
	s.plays = append(s.plays, p)
	return p, nil
}

func (s *recordingSink) InsertTimeAllocation(ctx context.Context, row domain.TimeAllocationRow) error {
	if err := s.record(StepTime); err != nil {
		return err
	}
	s.times = append(s.times, row)
	return nil
}

func (s *recordingSink) InsertMoneyAllocation(ctx context.Context, row domain.MoneyAllocationRow) error {
	if err := s.record(StepMoney); err != nil {
		return err
	}
	s.moneys = append(s.moneys, row)
	return nil
}

func (s *recordingSink) InsertLog(ctx context.Context, entry domain.LogEntry) error {
	if err := s.record(StepLog); err != nil {
		return err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestSubmitMissingName(t *testing.T) {
	sink := &recordingSink{}
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)

	_, err := Assembler{Sink: sink, ScenarioID: "sc-1"}.Submit(context.Background(), "   ", store, nil)
	var mn *MissingNameError
	require.True(t, errors.As(err, &mn))
	assert.Empty(t, sink.writes)
}

func TestSubmitEmptyAllocation(t *testing.T) {
	sink := &recordingSink{}
	_, err := Assembler{Sink: sink, ScenarioID: "sc-1"}.Submit(context.Background(), "Kari", alloc.NewStore(), nil)
	var ea *EmptyAllocationError
	require.True(t, errors.As(err, &ea))
	assert.Empty(t, sink.writes)
}

func TestSubmitNameCheckedBeforeEmptiness(t *testing.T) {
	_, err := Assembler{Sink: &recordingSink{}}.Submit(context.Background(), "", alloc.NewStore(), nil)
	var mn *MissingNameError
	assert.True(t, errors.As(err, &mn))
}

func TestSubmitSingleTimeRowWritesThree(t *testing.T) {
	sink := &recordingSink{}
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)

	receipt, err := Assembler{Sink: sink, ScenarioID: "sc-1"}.Submit(context.Background(), " Kari ", store, nil)
	require.NoError(t, err)
	assert.Equal(t, Receipt{PlaythroughID: "play-1", TimeRows: 1}, receipt)
	assert.Equal(t, []string{StepPlaythrough, StepTime, StepLog}, sink.writes)
	assert.Equal(t, "Kari", sink.plays[0].UserName)
	assert.Equal(t, "sc-1", sink.plays[0].ScenarioID)
	assert.Equal(t, domain.TimeAllocationRow{PlaythroughID: "play-1", PersonID: "p1", TaskID: "t1", Pct: 20}, sink.times[0])
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "Innspill fra Kari", sink.entries[0].Summary)
	assert.Equal(t, []domain.TimeAllocation{{PersonID: "p1", TaskID: "t1", Pct: 20}}, sink.entries[0].Raw.Time)
	assert.Empty(t, sink.entries[0].Raw.Money)
	raw, err := json.Marshal(sink.entries[0].Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"warnings":[]`)
}

func TestSubmitWriteCountAndOrder(t *testing.T) {
	sink := &recordingSink{}
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)
	store.SetTime("p2", "t2", 30)
	store.SetMoney("b1", "t1", 100_000)
	store.SetMoney("b1", "t2", 50_000)
	store.SetMoney("b2", "t3", 25_000)

	receipt, err := Assembler{Sink: sink, ScenarioID: "sc-1"}.Submit(context.Background(), "Ola", store, []string{"advarsel"})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.TimeRows)
	assert.Equal(t, 3, receipt.MoneyRows)
	require.Len(t, sink.writes, 2+3+2)
	assert.Equal(t, StepPlaythrough, sink.writes[0])
	assert.Equal(t, []string{StepTime, StepTime}, sink.writes[1:3])
	assert.Equal(t, []string{StepMoney, StepMoney, StepMoney}, sink.writes[3:6])
	assert.Equal(t, StepLog, sink.writes[6])
	assert.Equal(t, 100_000.0, sink.moneys[0].AmountNOK)
	assert.Equal(t, []string{"advarsel"}, sink.entries[0].Raw.Warnings)
	assert.Equal(t, 5, store.Len(), "store is kept after submission")
}

func TestSubmitRepeatCreatesIndependentPlaythroughs(t *testing.T) {
	sink := &recordingSink{}
	store := alloc.NewStore()
	store.SetMoney("b1", "t1", 1000)
	a := Assembler{Sink: sink, ScenarioID: "sc-1"}

	first, err := a.Submit(context.Background(), "Kari", store, nil)
	require.NoError(t, err)
	second, err := a.Submit(context.Background(), "Kari", store, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, sink.moneys, 2)
}

func TestSubmitStopsAtFirstFailureWithoutRollback(t *testing.T) {
	sink := &recordingSink{failAt: 3}
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)
	store.SetTime("p1", "t2", 20)
	store.SetMoney("b1", "t1", 100)

	_, err := Assembler{Sink: sink, ScenarioID: "sc-1"}.Submit(context.Background(), "Kari", store, nil)
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StepTime, pe.Step)
	assert.Equal(t, "play-1", pe.PlaythroughID)
	assert.Equal(t, 2, pe.Written)
	assert.Contains(t, pe.Error(), "time_allocation rejected")
	assert.Len(t, sink.writes, 3)
	assert.Len(t, sink.plays, 1, "earlier rows stay")
	assert.Len(t, sink.times, 1)
	assert.Empty(t, sink.entries)
}

func TestSubmitPlaythroughFailure(t *testing.T) {
	sink := &recordingSink{failAt: 1}
	store := alloc.NewStore()
	store.SetTime("p1", "t1", 20)

	_, err := Assembler{Sink: sink}.Submit(context.Background(), "Kari", store, nil)
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StepPlaythrough, pe.Step)
	assert.Empty(t, pe.PlaythroughID)
}
