package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cinaedin/ResourceGame/internal/domain"
)

func TestSetTimeReplacesAndRemovesAtZero(t *testing.T) {
	s := NewStore()
	s.SetTime("p1", "t1", 20)
	s.SetTime("p1", "t1", 35)
	assert.Equal(t, 35, s.GetTime("p1", "t1"))
	assert.Len(t, s.ListByTask("t1").Time, 1)

	s.SetTime("p1", "t1", 0)
	assert.Equal(t, 0, s.GetTime("p1", "t1"))
	assert.Empty(t, s.ListByTask("t1").Time)
	assert.True(t, s.IsEmpty())
}

func TestSetTimeNegativeLeavesNoRecord(t *testing.T) {
	s := NewStore()
	s.SetTime("p1", "t1", 10)
	s.SetTime("p1", "t1", -5)
	assert.Zero(t, s.Len())
}

func TestSetMoneyIdempotent(t *testing.T) {
	s := NewStore()
	s.SetMoney("b1", "t1", 100000)
	s.SetMoney("b1", "t1", 100000)
	require.Len(t, s.ListByBudgetLine("b1"), 1)
	assert.Equal(t, 100000.0, s.GetMoney("b1", "t1"))

	s.SetMoney("b1", "t1", 0)
	assert.Empty(t, s.ListByBudgetLine("b1"))
}

func TestRemoveIsNoOpWhenAbsent(t *testing.T) {
	s := NewStore()
	s.RemoveTime("p1", "t1")
	s.RemoveMoney("b1", "t1")
	s.SetTime("p1", "t1", 5)
	s.RemoveTime("p1", "t1")
	assert.Zero(t, s.Len())
}

func TestClearForTaskLeavesOtherTasks(t *testing.T) {
	s := NewStore()
	s.SetTime("p1", "t1", 20)
	s.SetTime("p2", "t1", 10)
	s.SetMoney("b1", "t1", 5000)
	s.SetTime("p1", "t2", 15)
	s.SetMoney("b1", "t2", 7000)

	s.ClearForTask("t1")

	t1 := s.ListByTask("t1")
	assert.False(t, t1.HasTime())
	assert.False(t, t1.HasMoney())
	assert.Equal(t, 15, s.GetTime("p1", "t2"))
	assert.Equal(t, 7000.0, s.GetMoney("b1", "t2"))
}

func TestListProjections(t *testing.T) {
	s := NewStore()
	s.SetTime("p1", "t2", 20)
	s.SetTime("p1", "t1", 30)
	s.SetTime("p2", "t1", 40)
	s.SetMoney("b2", "t1", 10)
	s.SetMoney("b1", "t1", 20)

	assert.ElementsMatch(t, []string{"t1", "t2"}, taskIDs(s.ListByPerson("p1")))
	assert.Len(t, s.ListByTask("t1").Time, 2)
	assert.Len(t, s.ListByTask("t1").Money, 2)
	assert.Equal(t, 90, s.TotalTime())
	assert.Equal(t, 30.0, s.TotalMoney())
	assert.Equal(t, 5, s.Len())
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewStore()
	s.SetTime("p1", "t1", 20)
	c := s.Clone()
	c.SetTime("p1", "t1", 50)
	c.SetMoney("b1", "t1", 1)
	assert.Equal(t, 20, s.GetTime("p1", "t1"))
	assert.Zero(t, s.GetMoney("b1", "t1"))
}

func TestZeroValueStoreIsUsable(t *testing.T) {
	var s Store
	assert.Zero(t, s.GetTime("p1", "t1"))
	s.SetTime("p1", "t1", 5)
	assert.Equal(t, 5, s.GetTime("p1", "t1"))
}

func TestCommands(t *testing.T) {
	s := NewStore()
	cmds := []Command{
		SetTime{PersonID: "p1", TaskID: "t1", Pct: 25},
		SetMoney{BudgetLineID: "b1", TaskID: "t1", Amount: 1000},
		SetMoney{BudgetLineID: "b1", TaskID: "t2", Amount: 500},
		RemoveMoney{BudgetLineID: "b1", TaskID: "t2"},
	}
	for _, c := range cmds {
		require.NoError(t, c.Validate(), c.Kind())
		c.Apply(s)
	}
	assert.Equal(t, 25, s.GetTime("p1", "t1"))
	assert.Equal(t, 1000.0, s.GetMoney("b1", "t1"))
	assert.Zero(t, s.GetMoney("b1", "t2"))

	ClearTask{TaskID: "t1"}.Apply(s)
	assert.True(t, s.IsEmpty())
}

func TestCommandValidation(t *testing.T) {
	assert.Error(t, SetTime{PersonID: "", TaskID: "t1", Pct: 5}.Validate())
	assert.Error(t, SetTime{PersonID: "p1", TaskID: "t1", Pct: -1}.Validate())
	assert.Error(t, SetMoney{BudgetLineID: "b1", TaskID: "t1", Amount: -10}.Validate())
	assert.Error(t, ClearTask{}.Validate())
	assert.NoError(t, SetTime{PersonID: "p1", TaskID: "t1", Pct: 0}.Validate())
}

func taskIDs(in []domain.TimeAllocation) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, a.TaskID)
	}
	return out
}
