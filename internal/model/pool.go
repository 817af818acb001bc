package model

// Pool is a tracked exchange pool and its token pair.
type Pool struct {
	ChainID        uint64 `json:"chain_id"`
	Address        string `json:"address"`
	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	FirstSeenBlock uint64 `json:"first_seen_block"`
}
