package model

// TradeStatus tracks the lifecycle of a recorded trade.
type TradeStatus string

const (
	TradeStatusOpen TradeStatus = "open"
	TradeStatusWon  TradeStatus = "won"
	TradeStatusLost TradeStatus = "lost"
)

// TradeRecord is the gateway's durable view of a trade issued by a trader.
// The gateway records trades; it never matches them.
type TradeRecord struct {
	ID        string      `json:"id"`
	TraderID  string      `json:"traderId,omitempty"`
	Asset     string      `json:"asset"`
	Contract  string      `json:"contract,omitempty"` // e.g. CALL/PUT, cfd
	Stake     float64     `json:"stake"`
	Payout    float64     `json:"payout,omitempty"`
	Status    TradeStatus `json:"status"`
	OpenedAt  int64       `json:"openedAt"`  // milliseconds
	ClosedAt  int64       `json:"closedAt,omitempty"`
	OpenPrice float64     `json:"openPrice,omitempty"`
}
