// Package alloc holds a session's local time and money allocations.
//
// Each table is a map keyed by the (pool, task) pair. Writing a value replaces
// whatever was stored for the pair; a value of zero or less leaves no record.
package alloc

import (
	"sort"

	"github.com/Cinaedin/ResourceGame/internal/domain"
)

type TimeKey struct {
	PersonID string
	TaskID   string
}

type MoneyKey struct {
	BudgetLineID string
	TaskID       string
}

// Store is not safe for concurrent use; the owning session serializes access.
type Store struct {
	time  map[TimeKey]int
	money map[MoneyKey]float64
}

func NewStore() *Store {
	return &Store{
		time:  map[TimeKey]int{},
		money: map[MoneyKey]float64{},
	}
}

func (s *Store) init() {
	if s.time == nil {
		s.time = map[TimeKey]int{}
	}
	if s.money == nil {
		s.money = map[MoneyKey]float64{}
	}
}

// SetTime replaces the record for the pair; pct <= 0 removes it.
func (s *Store) SetTime(personID, taskID string, pct int) {
	s.init()
	key := TimeKey{PersonID: personID, TaskID: taskID}
	delete(s.time, key)
	if pct > 0 {
		s.time[key] = pct
	}
}

// SetMoney replaces the record for the pair; amount <= 0 removes it.
func (s *Store) SetMoney(budgetLineID, taskID string, amount float64) {
	s.init()
	key := MoneyKey{BudgetLineID: budgetLineID, TaskID: taskID}
	delete(s.money, key)
	if amount > 0 {
		s.money[key] = amount
	}
}

func (s *Store) GetTime(personID, taskID string) int {
	return s.time[TimeKey{PersonID: personID, TaskID: taskID}]
}

func (s *Store) GetMoney(budgetLineID, taskID string) float64 {
	return s.money[MoneyKey{BudgetLineID: budgetLineID, TaskID: taskID}]
}

func (s *Store) RemoveTime(personID, taskID string) {
	delete(s.time, TimeKey{PersonID: personID, TaskID: taskID})
}

func (s *Store) RemoveMoney(budgetLineID, taskID string) {
	delete(s.money, MoneyKey{BudgetLineID: budgetLineID, TaskID: taskID})
}

// ClearForTask drops every time and money record that targets taskID.
func (s *Store) ClearForTask(taskID string) {
	for k := range s.time {
		if k.TaskID == taskID {
			delete(s.time, k)
		}
	}
	for k := range s.money {
		if k.TaskID == taskID {
			delete(s.money, k)
		}
	}
}

// TaskAllocations is the projection of both tables onto one task.
type TaskAllocations struct {
	Time  []domain.TimeAllocation  `json:"time"`
	Money []domain.MoneyAllocation `json:"money"`
}

func (t TaskAllocations) HasTime() bool  { return len(t.Time) > 0 }
func (t TaskAllocations) HasMoney() bool { return len(t.Money) > 0 }

func (s *Store) ListByTask(taskID string) TaskAllocations {
	var out TaskAllocations
	for _, a := range s.TimeAllocations() {
		if a.TaskID == taskID {
			out.Time = append(out.Time, a)
		}
	}
	for _, a := range s.MoneyAllocations() {
		if a.TaskID == taskID {
			out.Money = append(out.Money, a)
		}
	}
	return out
}

func (s *Store) ListByPerson(personID string) []domain.TimeAllocation {
	var out []domain.TimeAllocation
	for _, a := range s.TimeAllocations() {
		if a.PersonID == personID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ListByBudgetLine(budgetLineID string) []domain.MoneyAllocation {
	var out []domain.MoneyAllocation
	for _, a := range s.MoneyAllocations() {
		if a.BudgetLineID == budgetLineID {
			out = append(out, a)
		}
	}
	return out
}

// TimeAllocations returns every time record sorted by person then task.
func (s *Store) TimeAllocations() []domain.TimeAllocation {
	out := make([]domain.TimeAllocation, 0, len(s.time))
	for k, pct := range s.time {
		out = append(out, domain.TimeAllocation{PersonID: k.PersonID, TaskID: k.TaskID, Pct: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PersonID != out[j].PersonID {
			return out[i].PersonID < out[j].PersonID
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// MoneyAllocations returns every money record sorted by budget line then task.
func (s *Store) MoneyAllocations() []domain.MoneyAllocation {
	out := make([]domain.MoneyAllocation, 0, len(s.money))
	for k, amount := range s.money {
		out = append(out, domain.MoneyAllocation{BudgetLineID: k.BudgetLineID, TaskID: k.TaskID, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BudgetLineID != out[j].BudgetLineID {
			return out[i].BudgetLineID < out[j].BudgetLineID
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

func (s *Store) TotalTime() int {
	total := 0
	for _, pct := range s.time {
		total += pct
	}
	return total
}

func (s *Store) TotalMoney() float64 {
	total := 0.0
	for _, amount := range s.money {
		total += amount
	}
	return total
}

// Len counts records across both tables.
func (s *Store) Len() int { return len(s.time) + len(s.money) }

func (s *Store) IsEmpty() bool { return s.Len() == 0 }

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	c := NewStore()
	for k, v := range s.time {
		c.time[k] = v
	}
	for k, v := range s.money {
		c.money[k] = v
	}
	return c
}

// Load replaces the contents with the given records, applying the usual
// replace and remove-at-zero rules.
func (s *Store) Load(time []domain.TimeAllocation, money []domain.MoneyAllocation) {
	s.time = map[TimeKey]int{}
	s.money = map[MoneyKey]float64{}
	for _, a := range time {
		s.SetTime(a.PersonID, a.TaskID, a.Pct)
	}
	for _, a := range money {
		s.SetMoney(a.BudgetLineID, a.TaskID, a.Amount)
	}
}
