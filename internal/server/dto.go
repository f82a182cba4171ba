package server

import (
	"time"

	"github.com/Cinaedin/ResourceGame/internal/coverage"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/session"
)

// Request payloads

type SetTimeRequest struct {
	PersonID string `json:"person_id" minLength:"1"`
	TaskID   string `json:"task_id" minLength:"1"`
	Pct      int    `json:"pct" minimum:"0" doc:"Percent of the person's time; 0 removes the allocation"`
}

type SetMoneyRequest struct {
	BudgetLineID string  `json:"budget_line_id" minLength:"1"`
	TaskID       string  `json:"task_id" minLength:"1"`
	Amount       float64 `json:"amount" minimum:"0" doc:"NOK; 0 removes the allocation"`
}

type SubmitRequest struct {
	PlayerName string `json:"player_name" example:"Kari"`
}

// Responses

type ScenarioResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	IsLocked  bool   `json:"is_locked"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SessionResponse struct {
	ID         string                   `json:"id"`
	ScenarioID string                   `json:"scenario_id"`
	Time       []domain.TimeAllocation  `json:"time"`
	Money      []domain.MoneyAllocation `json:"money"`
	Derived    coverage.Derived         `json:"derived"`
	Submitting bool                     `json:"submitting"`
	UpdatedAt  string                   `json:"updated_at" format:"date-time"`
}

type SubmitResponse struct {
	PlaythroughID string `json:"playthrough_id"`
}

type ResetResponse struct {
	ScenarioID          string `json:"scenario_id"`
	PlaythroughsRemoved int64  `json:"playthroughs_removed"`
}

func scenarioResponse(sc domain.Scenario) ScenarioResponse {
	return ScenarioResponse{ID: sc.ID, Title: sc.Title, IsLocked: sc.IsLocked, CreatedAt: sc.CreatedAt}
}

func sessionResponse(s *session.Session, d coverage.Derived) SessionResponse {
	t, m := s.Allocations()
	if t == nil {
		t = []domain.TimeAllocation{}
	}
	if m == nil {
		m = []domain.MoneyAllocation{}
	}
	return SessionResponse{
		ID:         s.ID,
		ScenarioID: s.Snapshot.ID(),
		Time:       t,
		Money:      m,
		Derived:    d,
		Submitting: s.Submitting(),
		UpdatedAt:  s.UpdatedAt().Format(time.RFC3339),
	}
}
