package domain

// TradeResult reports the outcome of an executed order.
type TradeResult struct {
	OrderID        string  `json:"order_id"`
	MarketID       string  `json:"market_id"`
	Side           string  `json:"side"`
	Position       string  `json:"position"`
	Shares         int64   `json:"shares"`
	Price          int64   `json:"price"`
	NewBalance     int64   `json:"new_balance"`
	ProbabilityYes float64 `json:"probability_yes"`
	ProbabilityNo  float64 `json:"probability_no"`
}

// PositionReport is a user's holding on one side of a market.
type PositionReport struct {
	MarketID  string `json:"market_id"`
	Position  string `json:"position"`
	Shares    int64  `json:"shares"`
	CostBasis int64  `json:"cost_basis"`
	LotCount  int    `json:"lot_count"`
}
