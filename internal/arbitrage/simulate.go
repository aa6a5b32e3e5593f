package arbitrage

import (
	"fmt"
	"math"

	"arbsignals/internal/model"
)

// fillTolerance absorbs float noise when a walk consumes a level exactly.
const fillTolerance = 1e-9

// Execution is the outcome of simulating one directed route.
type Execution struct {
	NotionalUSD float64
	Quantity    float64
	SpentUSD    float64
	ReceivedUSD float64
	AvgBuy      float64
	AvgSell     float64
	BuyFeeUSD   float64
	SellFeeUSD  float64
	WithdrawUSD float64
	SlippageUSD float64
	ProfitUSD   float64
	ProfitBps   float64
	SpreadBps   float64
}

// CostModel carries the per-venue fee table and the market impact constant.
type CostModel struct {
	Fees      model.FeeTable
	SlippageK float64
}

// Slippage is the deterministic market impact cost k·sqrt(notional).
func (c CostModel) Slippage(notional float64) float64 {
	if notional <= 0 {
		return 0
	}
	return c.SlippageK * math.Sqrt(notional)
}

// TradableNotional caps the volume by what both top-of-book sides can absorb.
func TradableNotional(buy, sell model.NormalizedBook, volumeCap float64) float64 {
	available := math.Min(buy.AskSize, sell.BidSize) * buy.Ask
	return math.Min(volumeCap, available)
}

// Simulate buys notional USD on buy and sells the acquired quantity on sell,
// walking each side's levels. It fails with ErrInsufficientDepth when either
// side cannot fill completely.
func (c CostModel) Simulate(buy, sell model.NormalizedBook, notional float64) (Execution, error) {
	if !(notional > 0) {
		return Execution{}, fmt.Errorf("%w: non-positive notional", model.ErrInsufficientDepth)
	}
	qty, spent, err := walkAsks(buy.AskLevels(), notional)
	if err != nil {
		return Execution{}, fmt.Errorf("buy %s: %w", buy.Exchange, err)
	}
	received, err := walkBids(sell.BidLevels(), qty)
	if err != nil {
		return Execution{}, fmt.Errorf("sell %s: %w", sell.Exchange, err)
	}

	ex := Execution{
		NotionalUSD: notional,
		Quantity:    qty,
		SpentUSD:    spent,
		ReceivedUSD: received,
		AvgBuy:      spent / qty,
		AvgSell:     received / qty,
		BuyFeeUSD:   spent * c.Fees.Taker(buy.Exchange),
		SellFeeUSD:  received * c.Fees.Taker(sell.Exchange),
		WithdrawUSD: c.Fees.Withdraw(sell.Exchange),
		SlippageUSD: c.Slippage(spent),
	}
	ex.ProfitUSD = received - spent - ex.BuyFeeUSD - ex.SellFeeUSD - ex.WithdrawUSD - ex.SlippageUSD
	ex.ProfitBps = ex.ProfitUSD / spent * 10_000
	ex.SpreadBps = (ex.AvgSell - ex.AvgBuy) / ex.AvgBuy * 10_000
	return ex, nil
}

// walkAsks spends notional USD across ask levels, best first.
func walkAsks(levels []model.Level, notional float64) (qty, spent float64, err error) {
	remaining := notional
	for _, lvl := range levels {
		if remaining <= notional*fillTolerance {
			break
		}
		take := math.Min(remaining, lvl.Price*lvl.Size)
		qty += take / lvl.Price
		spent += take
		remaining -= take
	}
	if remaining > notional*fillTolerance {
		return 0, 0, model.ErrInsufficientDepth
	}
	return qty, spent, nil
}

// walkBids sells qty across bid levels, best first.
func walkBids(levels []model.Level, qty float64) (received float64, err error) {
	remaining := qty
	for _, lvl := range levels {
		if remaining <= qty*fillTolerance {
			break
		}
		take := math.Min(remaining, lvl.Size)
		received += take * lvl.Price
		remaining -= take
	}
	if remaining > qty*fillTolerance {
		return 0, model.ErrInsufficientDepth
	}
	return received, nil
}
