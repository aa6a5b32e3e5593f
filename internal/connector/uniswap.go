package connector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbsignals/internal/model"
)

const uniswapV2PairABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}]`

var uniswapV2PairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(uniswapV2PairABIJSON))
	if err != nil {
		panic("failed to parse Uniswap V2 pair ABI: " + err.Error())
	}
	uniswapV2PairABI = parsed
}

// UniswapPair maps a tracked symbol onto a constant-product pool.
type UniswapPair struct {
	Symbol        string
	Address       string
	BaseIsToken0  bool
	BaseDecimals  int
	QuoteDecimals int
	// Fee is the pool swap fee; zero selects the canonical 0.003.
	Fee float64
}

// UniswapOptions parameterise the on-chain source.
type UniswapOptions struct {
	Name    string
	RPCURL  string
	Timeout time.Duration
	// DepthImpact is the price move used to size the quoted liquidity.
	DepthImpact float64
	Pairs       []UniswapPair
}

// UniswapV2 quotes pools through eth_call getReserves. The pool fee is folded
// into the quoted bid and ask so the venue carries no separate taker fee.
type UniswapV2 struct {
	opts      UniswapOptions
	logger    zerolog.Logger
	now       func() time.Time
	caller    ethereum.ContractCaller
	clientMux sync.Mutex
}

// NewUniswapV2 builds the source. The RPC connection is opened lazily.
func NewUniswapV2(opts UniswapOptions, logger zerolog.Logger) *UniswapV2 {
	if opts.Name == "" {
		opts.Name = "uniswap_v2"
	}
	if opts.DepthImpact <= 0 {
		opts.DepthImpact = 0.005
	}
	for i := range opts.Pairs {
		if opts.Pairs[i].Fee <= 0 {
			opts.Pairs[i].Fee = 0.003
		}
	}
	return &UniswapV2{
		opts:   opts,
		logger: logger.With().Str("component", "exchange").Str("exchange", opts.Name).Logger(),
		now:    time.Now,
	}
}

// Name implements Exchange.
func (u *UniswapV2) Name() string { return u.opts.Name }

// FetchBooks implements Exchange. A failing pool call fails the whole fetch
// so the health tracker sees RPC outages.
func (u *UniswapV2) FetchBooks(ctx context.Context, symbols []string) ([]model.NormalizedBook, error) {
	timeout := u.opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := u.getCaller(ctx)
	if err != nil {
		return nil, err
	}

	want := symbolSet(symbols)
	now := u.now().UTC()
	var books []model.NormalizedBook
	for _, pair := range u.opts.Pairs {
		symbol := CanonicalSymbol(pair.Symbol)
		if !want[symbol] {
			continue
		}
		base, quote, err := u.reserves(ctx, caller, pair)
		if err != nil {
			return nil, fmt.Errorf("%s reserves: %w", symbol, err)
		}
		books = appendQuote(books, poolQuote(u.opts.Name, symbol, base, quote, pair.Fee, u.opts.DepthImpact, now), u.logger)
	}
	return books, nil
}

// reserves returns the pool's base and quote reserves in whole-token units.
func (u *UniswapV2) reserves(ctx context.Context, caller ethereum.ContractCaller, pair UniswapPair) (float64, float64, error) {
	payload, err := uniswapV2PairABI.Pack("getReserves")
	if err != nil {
		return 0, 0, err
	}
	addr := common.HexToAddress(pair.Address)
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, 0, err
	}
	outputs, err := uniswapV2PairABI.Unpack("getReserves", res)
	if err != nil {
		return 0, 0, err
	}
	if len(outputs) != 3 {
		return 0, 0, errors.New("unexpected getReserves response")
	}
	r0, ok0 := outputs[0].(*big.Int)
	r1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return 0, 0, errors.New("failed to decode getReserves output")
	}

	baseRaw, quoteRaw := r0, r1
	if !pair.BaseIsToken0 {
		baseRaw, quoteRaw = r1, r0
	}
	base := decimal.NewFromBigInt(baseRaw, -int32(pair.BaseDecimals)).InexactFloat64()
	quote := decimal.NewFromBigInt(quoteRaw, -int32(pair.QuoteDecimals)).InexactFloat64()
	return base, quote, nil
}

// poolQuote derives a synthetic top of book from constant-product reserves.
// The size is the base amount that moves the pool price by impact.
func poolQuote(exchange, symbol string, base, quote, fee, impact float64, ts time.Time) model.Quote {
	q := model.Quote{Exchange: exchange, Symbol: symbol, Timestamp: ts}
	if base <= 0 || quote <= 0 || fee < 0 || fee >= 1 {
		return q
	}
	mid := quote / base
	size := base * (1 - 1/math.Sqrt(1+impact))
	q.Bid = mid * (1 - fee)
	q.Ask = mid / (1 - fee)
	q.BidSize = size
	q.AskSize = size
	return q
}

func (u *UniswapV2) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	u.clientMux.Lock()
	defer u.clientMux.Unlock()

	if u.caller != nil {
		return u.caller, nil
	}
	if u.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, u.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	u.caller = client
	return client, nil
}

var _ Exchange = (*UniswapV2)(nil)
