// Package oracle computes display prices from read-only oracle contract calls.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/web3-frozen/oraclebot/internal/metrics"
)

// Version selects the pricing algorithm.
type Version int

const (
	// V1 is the legacy double-inverse formula (1e6/spot) * (1e6/bnbSpot).
	V1 Version = 1
	// V2 scales a spot reading by the oracle's own decimals.
	V2 Version = 2
	// V3 prices through the shared router contract and a reference asset.
	V3 Version = 3
)

const (
	MethodSpot     = "getSpotPrice"
	MethodBaseSpot = "getBNBSpotPrice"
	MethodDecimals = "getDecimals"

	methodRouterBase  = "getBNBSpotPrice"
	methodRouterTotal = "getTokenTokenPrice"

	routerDecimals   = 18
	maxDecimals      = 77
	DefaultCallLimit = 10 * time.Second
)

var legacyScale = decimal.NewFromInt(1_000_000)

var routerABI = mustParseABI(RouterABI)

// ContractCaller is the read-only subset of *ethclient.Client the oracle needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reference points at the oracle a bot reads.
type Reference struct {
	Endpoint string
	Address  common.Address
	ABI      string
	// Token is the priced asset for the router variant.
	Token common.Address
	// Methods overrides default getter names, keyed by "spot", "base_spot"
	// and "decimals".
	Methods map[string]string
}

func (r Reference) method(key, fallback string) string {
	if m := strings.TrimSpace(r.Methods[key]); m != "" {
		return m
	}
	return fallback
}

// Quote is one computed price.
type Quote struct {
	Price      decimal.Decimal
	ComputedAt time.Time
}

type Options struct {
	Router      Router
	Fetcher     ABIFetcher
	Store       ABIStore
	CallTimeout time.Duration
}

// Client computes prices against one RPC endpoint. It is safe for concurrent use.
type Client struct {
	caller      ContractCaller
	abis        *abiCache
	router      Router
	callTimeout time.Duration
	logger      *slog.Logger
}

func NewClient(caller ContractCaller, opts Options, logger *slog.Logger) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallLimit
	}
	if (opts.Router.Address == common.Address{}) {
		opts.Router = DefaultRouter()
	}
	return &Client{
		caller:      caller,
		abis:        newABICache(opts.Fetcher, opts.Store, logger),
		router:      opts.Router,
		callTimeout: opts.CallTimeout,
		logger:      logger,
	}
}

// Quote computes the current price and stamps it.
func (c *Client) Quote(ctx context.Context, ref Reference, version Version, quoteHint string) (Quote, error) {
	p, err := c.ComputePrice(ctx, ref, version, quoteHint)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: p, ComputedAt: time.Now()}, nil
}

// ComputePrice reads the oracle and applies the algorithm for version. It
// never retries; errors are *OracleCallError or *OracleDataError.
func (c *Client) ComputePrice(ctx context.Context, ref Reference, version Version, quoteHint string) (decimal.Decimal, error) {
	switch version {
	case V1:
		return c.priceV1(ctx, ref)
	case V2:
		return c.priceV2(ctx, ref, quoteHint)
	case V3:
		return c.priceRouter(ctx, ref)
	default:
		return decimal.Decimal{}, &OracleCallError{Err: fmt.Errorf("unsupported oracle version %d", version)}
	}
}

func (c *Client) priceV1(ctx context.Context, ref Reference) (decimal.Decimal, error) {
	parsed, err := c.contractABI(ctx, ref)
	if err != nil {
		return decimal.Decimal{}, err
	}
	spot, err := c.readPositive(ctx, ref.Address, parsed, ref.method("spot", MethodSpot))
	if err != nil {
		return decimal.Decimal{}, err
	}
	base, err := c.readPositive(ctx, ref.Address, parsed, ref.method("base_spot", MethodBaseSpot))
	if err != nil {
		return decimal.Decimal{}, err
	}
	return LegacyPrice(spot, base), nil
}

func (c *Client) priceV2(ctx context.Context, ref Reference, quoteHint string) (decimal.Decimal, error) {
	parsed, err := c.contractABI(ctx, ref)
	if err != nil {
		return decimal.Decimal{}, err
	}

	spotMethod := ref.method("spot", MethodSpot)
	if IsBaseAsset(quoteHint) {
		spotMethod = ref.method("base_spot", MethodBaseSpot)
	}
	spot, err := c.readPositive(ctx, ref.Address, parsed, spotMethod)
	if err != nil {
		return decimal.Decimal{}, err
	}

	decMethod := ref.method("decimals", MethodDecimals)
	dec, err := c.readBig(ctx, ref.Address, parsed, decMethod)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if dec.Sign() < 0 || dec.Cmp(big.NewInt(maxDecimals)) > 0 {
		return decimal.Decimal{}, &OracleDataError{Method: decMethod, Reason: fmt.Sprintf("decimals %s out of range", dec)}
	}
	return ScaledPrice(spot, int32(dec.Int64())), nil
}

func (c *Client) priceRouter(ctx context.Context, ref Reference) (decimal.Decimal, error) {
	base, err := c.readPositive(ctx, c.router.Address, &routerABI, methodRouterBase)
	if err != nil {
		return decimal.Decimal{}, err
	}
	basePrice := ScaledPrice(base, routerDecimals)
	if ref.Token == c.router.Reference {
		return basePrice, nil
	}

	pair, err := c.readPositive(ctx, c.router.Address, &routerABI, methodRouterTotal, ref.Token, c.router.Reference)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return ScaledPrice(pair, routerDecimals).Mul(basePrice), nil
}

// LegacyPrice is (1e6/spot) * (1e6/baseSpot), kept exactly as the v1 bots
// reported it.
func LegacyPrice(spot, baseSpot *big.Int) decimal.Decimal {
	s := decimal.NewFromBigInt(spot, 0)
	b := decimal.NewFromBigInt(baseSpot, 0)
	return legacyScale.Div(s).Mul(legacyScale.Div(b))
}

// ScaledPrice is raw / 10^decimals without rounding.
func ScaledPrice(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -decimals)
}

// IsBaseAsset reports whether a quote hint names the chain's base asset, in
// which case v2 reads the base spot price directly.
func IsBaseAsset(hint string) bool {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "bnb", "wbnb", "base":
		return true
	}
	return false
}

func (c *Client) contractABI(ctx context.Context, ref Reference) (*abi.ABI, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	parsed, err := c.abis.get(ctx, ref.Address, ref.ABI)
	if err != nil {
		return nil, &OracleCallError{Method: "abi", Err: err}
	}
	return parsed, nil
}

func (c *Client) readPositive(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	n, err := c.readBig(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	if n.Sign() <= 0 {
		return nil, &OracleDataError{Method: method, Reason: fmt.Sprintf("non-positive value %s", n)}
	}
	return n, nil
}

func (c *Client) readBig(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	vals, err := c.call(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	n, err := toBig(vals[0])
	if err != nil {
		return nil, &OracleCallError{Method: method, Err: err}
	}
	return n, nil
}

func (c *Client) call(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &OracleCallError{Method: method, Err: err}
	}

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		metrics.OracleCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, &OracleCallError{Method: method, Err: err}
	}
	if len(out) == 0 {
		metrics.OracleCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, &OracleCallError{Method: method, Err: fmt.Errorf("empty result from %s", to.Hex())}
	}

	vals, err := parsed.Unpack(method, out)
	if err != nil {
		metrics.OracleCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, &OracleCallError{Method: method, Err: fmt.Errorf("unpack: %w", err)}
	}
	if len(vals) == 0 {
		metrics.OracleCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, &OracleCallError{Method: method, Err: errors.New("no return values")}
	}
	metrics.OracleCallsTotal.WithLabelValues(method, "ok").Inc()
	return vals, nil
}

func toBig(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, errors.New("nil integer result")
		}
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("unexpected result type %T", v)
	}
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse embedded abi: %v", err))
	}
	return parsed
}
