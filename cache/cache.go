package cache

import (
	"github.com/splitpot/splitpot/database"
	"github.com/splitpot/splitpot/ledger"
)

// Cache is an interface used for caching a group's derived balances. The
// cache is a disposable projection: every mutation writes through a fresh
// computation and entries expire on their own, so the event history in the
// database stays the only authority.
type Cache interface {
	SetBalances(groupID int, balances []ledger.Balance)
	GetBalances(db database.Database, groupID int) ([]ledger.Balance, error)
}

// computeBalances derives a group's balances from its full event history
func computeBalances(db database.Database, groupID int) ([]ledger.Balance, error) {
	dbh := db.Connect()
	defer dbh.Close()

	expenses := dbh.GetExpenses(groupID)
	settlements := dbh.GetSettlements(groupID)
	members := dbh.GetGroupMembers(groupID)
	return ledger.ComputeBalances(expenses, settlements, members)
}
