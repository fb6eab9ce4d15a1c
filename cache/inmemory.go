package cache

import (
	"github.com/splitpot/splitpot/database"
	"github.com/splitpot/splitpot/ledger"
)

// InMemoryCache implements the Cache interface for an in memory cache
type InMemoryCache struct {
	entries map[int][]ledger.Balance
}

// NewInMemoryCache creates an instance of InMemoryCache
func NewInMemoryCache() Cache {
	cache := new(InMemoryCache)
	cache.entries = make(map[int][]ledger.Balance)
	return cache
}

// SetBalances sets the groupID/balances key/value
func (c *InMemoryCache) SetBalances(groupID int, balances []ledger.Balance) {
	c.entries[groupID] = balances
}

// GetBalances gets the groupID/balances key/value, deriving the balances
// from the database on a miss
func (c *InMemoryCache) GetBalances(db database.Database, groupID int) ([]ledger.Balance, error) {
	if balances, exists := c.entries[groupID]; exists {
		return balances, nil
	}

	balances, err := computeBalances(db, groupID)
	if err != nil {
		return nil, err
	}
	c.entries[groupID] = balances
	return balances, nil
}
