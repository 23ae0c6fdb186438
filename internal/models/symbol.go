package models

// Symbol is a tradable pair listed by the exchange.
type Symbol struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"base_coin"`
	QuoteCoin string `json:"quote_coin"`

	// Status is the raw exchange status, e.g. "Trading".
	Status   string `json:"status"`
	IsActive bool   `json:"is_active"`
}
