package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/web3-frozen/oraclebot/internal/metrics"
)

const DefaultExplorerURL = "https://api.bscscan.com/api"

// ABIFetcher retrieves a verified contract ABI as raw JSON.
type ABIFetcher interface {
	FetchABI(ctx context.Context, address common.Address) (string, error)
}

// ABIStore persists raw ABI JSON keyed by contract address so a restart does
// not hit the rate-limited explorer again.
type ABIStore interface {
	Get(ctx context.Context, address string) (string, bool)
	Put(ctx context.Context, address, raw string)
}

// Explorer fetches ABIs from an Etherscan-compatible API (bscscan by default).
type Explorer struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewExplorer(baseURL, apiKey string) *Explorer {
	if baseURL == "" {
		baseURL = DefaultExplorerURL
	}
	return &Explorer{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (e *Explorer) FetchABI(ctx context.Context, address common.Address) (string, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getabi")
	q.Set("address", address.Hex())
	q.Set("format", "raw")
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", &FetchError{Address: address.Hex(), Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.ABIFetchTotal.WithLabelValues("error").Inc()
		return "", &FetchError{Address: address.Hex(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.ABIFetchTotal.WithLabelValues("error").Inc()
		return "", &FetchError{Address: address.Hex(), StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ABIFetchTotal.WithLabelValues("error").Inc()
		return "", &FetchError{Address: address.Hex(), StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	raw := strings.TrimSpace(string(body))
	if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
		metrics.ABIFetchTotal.WithLabelValues("malformed").Inc()
		return "", &FetchError{Address: address.Hex(), StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed abi %q: %w", snippet(body), err)}
	}

	metrics.ABIFetchTotal.WithLabelValues("ok").Inc()
	return raw, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// abiCache resolves a contract ABI once and keeps it for the owner's
// lifetime. Failed lookups are not cached.
type abiCache struct {
	fetcher ABIFetcher
	store   ABIStore
	logger  *slog.Logger

	mu     sync.RWMutex
	parsed map[common.Address]*abi.ABI
}

func newABICache(fetcher ABIFetcher, store ABIStore, logger *slog.Logger) *abiCache {
	return &abiCache{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
		parsed:  make(map[common.Address]*abi.ABI),
	}
}

func (c *abiCache) get(ctx context.Context, address common.Address, inline string) (*abi.ABI, error) {
	c.mu.RLock()
	cached := c.parsed[address]
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	raw, source, err := c.lookup(ctx, address, inline)
	if err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse abi for %s: %w", address.Hex(), err)
	}

	if source == "explorer" && c.store != nil {
		c.store.Put(ctx, address.Hex(), raw)
	}

	c.mu.Lock()
	c.parsed[address] = &parsed
	c.mu.Unlock()

	c.logger.Info("abi cached", "address", address.Hex(), "source", source)
	return &parsed, nil
}

func (c *abiCache) lookup(ctx context.Context, address common.Address, inline string) (string, string, error) {
	if inline != "" {
		return inline, "inline", nil
	}
	if c.store != nil {
		if raw, ok := c.store.Get(ctx, address.Hex()); ok {
			return raw, "store", nil
		}
	}
	if c.fetcher == nil {
		return "", "", fmt.Errorf("no abi configured for %s and no explorer available", address.Hex())
	}
	raw, err := c.fetcher.FetchABI(ctx, address)
	if err != nil {
		return "", "", err
	}
	return raw, "explorer", nil
}
