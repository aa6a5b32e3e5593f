package model

// Fees is the cost schedule of one venue.
type Fees struct {
	Taker       float64 `json:"taker"`
	WithdrawUSD float64 `json:"withdraw_usd"`
}

// FeeTable maps exchange names to their fee schedule.
type FeeTable map[string]Fees

// Taker returns the taker rate for exchange, zero when unknown.
func (t FeeTable) Taker(exchange string) float64 {
	return t[exchange].Taker
}

// Withdraw returns the flat withdrawal fee for exchange, zero when unknown.
func (t FeeTable) Withdraw(exchange string) float64 {
	return t[exchange].WithdrawUSD
}
