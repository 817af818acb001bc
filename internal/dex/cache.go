package dex

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PoolTokens is the immutable token pair of a pool.
type PoolTokens struct {
	Token0 common.Address
	Token1 common.Address
}

// PoolTokensCache caches pool token pairs by pool address.
type PoolTokensCache struct {
	mu   sync.RWMutex
	data map[common.Address]PoolTokens
}

func NewPoolTokensCache() *PoolTokensCache {
	return &PoolTokensCache{data: make(map[common.Address]PoolTokens)}
}

func (c *PoolTokensCache) Get(pool common.Address) (PoolTokens, bool) {
	c.mu.RLock()
	tokens, ok := c.data[pool]
	c.mu.RUnlock()
	return tokens, ok
}

func (c *PoolTokensCache) Set(pool common.Address, tokens PoolTokens) {
	c.mu.Lock()
	c.data[pool] = tokens
	c.mu.Unlock()
}

func (c *PoolTokensCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
