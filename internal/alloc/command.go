package alloc

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Command is one discrete allocation change.
type Command interface {
	Kind() string
	Validate() error
	Apply(s *Store)
}

type SetTime struct {
	PersonID string `json:"person_id" validate:"required"`
	TaskID   string `json:"task_id" validate:"required"`
	Pct      int    `json:"pct" validate:"gte=0"`
}

func (c SetTime) Kind() string    { return "set_time" }
func (c SetTime) Validate() error { return validateCommand(c) }
func (c SetTime) Apply(s *Store)  { s.SetTime(c.PersonID, c.TaskID, c.Pct) }

type SetMoney struct {
	BudgetLineID string  `json:"budget_line_id" validate:"required"`
	TaskID       string  `json:"task_id" validate:"required"`
	Amount       float64 `json:"amount" validate:"gte=0"`
}

func (c SetMoney) Kind() string    { return "set_money" }
func (c SetMoney) Validate() error { return validateCommand(c) }
func (c SetMoney) Apply(s *Store)  { s.SetMoney(c.BudgetLineID, c.TaskID, c.Amount) }

type RemoveTime struct {
	PersonID string `json:"person_id" validate:"required"`
	TaskID   string `json:"task_id" validate:"required"`
}

func (c RemoveTime) Kind() string    { return "remove_time" }
func (c RemoveTime) Validate() error { return validateCommand(c) }
func (c RemoveTime) Apply(s *Store)  { s.RemoveTime(c.PersonID, c.TaskID) }

type RemoveMoney struct {
	BudgetLineID string `json:"budget_line_id" validate:"required"`
	TaskID       string `json:"task_id" validate:"required"`
}

func (c RemoveMoney) Kind() string    { return "remove_money" }
func (c RemoveMoney) Validate() error { return validateCommand(c) }
func (c RemoveMoney) Apply(s *Store)  { s.RemoveMoney(c.BudgetLineID, c.TaskID) }

type ClearTask struct {
	TaskID string `json:"task_id" validate:"required"`
}

func (c ClearTask) Kind() string    { return "clear_task" }
func (c ClearTask) Validate() error { return validateCommand(c) }
func (c ClearTask) Apply(s *Store)  { s.ClearForTask(c.TaskID) }

func validateCommand(c any) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid allocation command: %w", err)
	}
	return nil
}
