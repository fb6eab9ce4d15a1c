package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/splitpot/splitpot/database"
	"github.com/splitpot/splitpot/ledger"
)

// Config is the redis configuration
type Config struct {
	Addr     string
	Password string
	Db       int
}

var ctx = context.Background()

// cacheEntryTTL bounds how stale a cached balance can get in case of
// concurrent writers racing the write-through
var cacheEntryTTL = 5 * time.Second

// RedisCache implements the Cache interface for redis
type RedisCache struct {
	config Config
}

// NewRedisCache creates an instance of RedisCache
func NewRedisCache(config Config) Cache {
	return RedisCache{config: config}
}

// connect returns a Redis client
func (r RedisCache) connect() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.Db,
	})
}

// makeKey makes a key from a groupID
func (r RedisCache) makeKey(groupID int) string {
	return fmt.Sprintf("balances-%d", groupID)
}

// setBalancesWithRdb writes the balances to redis for a groupID
func (r RedisCache) setBalancesWithRdb(rdb *redis.Client, groupID int, balances []ledger.Balance) {
	value, err := json.Marshal(balances)
	if err != nil {
		panic(err)
	}

	if err := rdb.Set(ctx, r.makeKey(groupID), value, cacheEntryTTL).Err(); err != nil {
		panic(err)
	}
}

// SetBalances sets the groupID/balances key/value in redis
func (r RedisCache) SetBalances(groupID int, balances []ledger.Balance) {
	rdb := r.connect()
	defer rdb.Close()
	r.setBalancesWithRdb(rdb, groupID, balances)
}

// GetBalances gets the groupID/balances key/value from redis. If the key
// doesn't exist, the group's events are read from the database, the
// balances derived and then written to the cache. The TTL ensures data
// doesn't remain stale in case of races writing the data concurrently.
func (r RedisCache) GetBalances(db database.Database, groupID int) ([]ledger.Balance, error) {
	rdb := r.connect()
	defer rdb.Close()

	val, err := rdb.Get(ctx, r.makeKey(groupID)).Result()
	if err == redis.Nil {
		balances, err := computeBalances(db, groupID)
		if err != nil {
			return nil, err
		}
		r.setBalancesWithRdb(rdb, groupID, balances)
		return balances, nil
	} else if err != nil {
		panic(err)
	}

	var balances []ledger.Balance
	if err := json.Unmarshal([]byte(val), &balances); err != nil {
		panic(err)
	}
	return balances, nil
}
