package model

// TradeQuote is an executable trade derived from pool virtual reserves.
// Amounts are decimal strings so they survive JSON without precision loss.
type TradeQuote struct {
	SellAmount   string `json:"sell_amount"`
	BuyAmount    string `json:"buy_amount"`
	ExchangeRate string `json:"exchange_rate"`
}

// ExchangeRateRecord is persisted once per pool per block.
type ExchangeRateRecord struct {
	ChainID        uint64      `json:"chain_id"`
	BlockNumber    uint64      `json:"block_number"`
	Pool           string      `json:"pool"`
	Token0         string      `json:"token0"`
	Token1         string      `json:"token1"`
	Reserve0       string      `json:"reserve0"`
	Reserve1       string      `json:"reserve1"`
	VReserve0      string      `json:"vreserve0"`
	VReserve1      string      `json:"vreserve1"`
	FeeInPrecision string      `json:"fee_in_precision"`
	BestSell0Buy1  *TradeQuote `json:"best_sell0_buy1,omitempty"`
	BestSell1Buy0  *TradeQuote `json:"best_sell1_buy0,omitempty"`
	CollectedAt    string      `json:"collected_at"`
}
