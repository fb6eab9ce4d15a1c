package database

import (
	"testing"
	"time"

	"github.com/splitpot/splitpot/ledger"
	"github.com/splitpot/splitpot/money"
)

// makeExpense builds a minimal self-balancing expense fixture
func makeExpense(groupID int) ledger.Expense {
	return ledger.Expense{
		GroupID: groupID,
		PayerID: 1,
		Amount:  money.FromCents(1000),
		Splits: []ledger.Split{
			{UserID: 1, Owed: money.FromCents(1000), Paid: money.FromCents(1000)},
		},
		CreatedAt: time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExpenseIDsNotReused(t *testing.T) {
	// Ids behave like SERIAL columns: deleting an expense must not make its
	// id available for the next insert, otherwise a new expense aliases a
	// still-live one.
	dbh := NewInMemoryDatabase().Connect()
	dbh.CreateUser("test1@example.com", "secret")
	groupID, err := dbh.CreateGroup("Flat", 1)
	if err != nil {
		t.Fatalf("unable to create group: %v", err)
	}

	first, _ := dbh.CreateExpense(makeExpense(groupID))
	second, _ := dbh.CreateExpense(makeExpense(groupID))
	if err := dbh.DeleteExpense(groupID, first); err != nil {
		t.Fatalf("unable to delete expense: %v", err)
	}

	third, _ := dbh.CreateExpense(makeExpense(groupID))
	if third == second {
		t.Errorf("expense id %d was reused for a new expense", second)
	}

	seen := make(map[int]int)
	for _, e := range dbh.GetExpenses(groupID) {
		seen[e.ExpenseID]++
	}
	for id, count := range seen {
		if count > 1 {
			t.Errorf("expense id %d appears %d times in the group", id, count)
		}
	}
}

func TestGroupIDsNotReused(t *testing.T) {
	dbh := NewInMemoryDatabase().Connect()
	dbh.CreateUser("test1@example.com", "secret")

	first, _ := dbh.CreateGroup("One", 1)
	second, _ := dbh.CreateGroup("Two", 1)
	if err := dbh.DeleteGroup(first); err != nil {
		t.Fatalf("unable to delete group: %v", err)
	}

	third, _ := dbh.CreateGroup("Three", 1)
	if third == second {
		t.Errorf("group id %d was reused for a new group", second)
	}

	group, err := dbh.GetGroup(second)
	if err != nil || group.Name != "Two" {
		t.Errorf("group %d: expected name 'Two', got %+v (%v)", second, group, err)
	}
}
