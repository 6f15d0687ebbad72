package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

const expiryDateFormat = "2006-01-02"

// UpstoxClient is a REST client for the Upstox v2 API implementing the Broker
// interface for index option trading.
type UpstoxClient struct {
	client         *http.Client
	baseURL        string
	accessToken    string
	indexKey       string
	strikeInterval float64
}

// Ensure UpstoxClient implements Broker at compile time.
var _ Broker = (*UpstoxClient)(nil)

// UpstoxConfig holds the settings needed to construct an UpstoxClient.
type UpstoxConfig struct {
	BaseURL        string
	AccessToken    string
	IndexKey       string // e.g. "NSE_INDEX|Nifty 50"
	StrikeInterval float64
	Timeout        time.Duration
}

// NewUpstoxClient creates a new Upstox API client.
func NewUpstoxClient(cfg UpstoxConfig) *UpstoxClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.upstox.com/v2"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &UpstoxClient{
		client:         &http.Client{Timeout: timeout},
		baseURL:        baseURL,
		accessToken:    cfg.AccessToken,
		indexKey:       cfg.IndexKey,
		strikeInterval: cfg.StrikeInterval,
	}
}

type positionsResponse struct {
	Status string        `json:"status"`
	Data   []RawPosition `json:"data"`
}

type ltpResponse struct {
	Status string `json:"status"`
	Data   map[string]struct {
		LastPrice float64 `json:"last_price"`
	} `json:"data"`
}

type chainResponse struct {
	Status string `json:"status"`
	Data   []struct {
		StrikePrice float64      `json:"strike_price"`
		CallOptions *chainOption `json:"call_options"`
		PutOptions  *chainOption `json:"put_options"`
	} `json:"data"`
}

type chainOption struct {
	InstrumentKey string `json:"instrument_key"`
	MarketData    struct {
		LTP float64 `json:"ltp"`
		OI  int64   `json:"oi"`
		Vol int64   `json:"volume"`
	} `json:"market_data"`
	Greeks struct {
		IV float64 `json:"iv"`
	} `json:"option_greeks"`
}

type multiOrderLeg struct {
	InstrumentKey   string `json:"instrument_token"`
	Quantity        int    `json:"quantity"`
	TransactionType string `json:"transaction_type"`
	OrderType       string `json:"order_type"`
	Product         string `json:"product"`
	Tag             string `json:"tag"`
	CorrelationID   string `json:"correlation_id"`
}

type multiOrderResponse struct {
	Status string `json:"status"`
	Data   struct {
		OrderIDs []string `json:"order_ids"`
	} `json:"data"`
}

// GetPositions returns a fresh snapshot of all broker positions.
func (u *UpstoxClient) GetPositions(ctx context.Context) ([]RawPosition, error) {
	var resp positionsResponse
	if err := u.get(ctx, "positions", "/portfolio/short-term-positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetSpotPrice returns the last traded price of the underlying index.
func (u *UpstoxClient) GetSpotPrice(ctx context.Context, instrumentKey string) (float64, error) {
	q := url.Values{}
	q.Set("instrument_key", instrumentKey)
	var resp ltpResponse
	if err := u.get(ctx, "spot", "/market-quote/ltp", q, &resp); err != nil {
		return 0, err
	}
	// The quote API keys its response by exchange symbol, not by the requested
	// instrument key, so take the single entry it returns.
	for _, quote := range resp.Data {
		if quote.LastPrice > 0 {
			return quote.LastPrice, nil
		}
	}
	return 0, NewFetchError(FetchNotFound, "spot",
		fmt.Errorf("no quote returned for %s", instrumentKey))
}

// GetOptionChain returns the full option chain for one expiry, validated
// against the configured strike interval.
func (u *UpstoxClient) GetOptionChain(ctx context.Context, expiry time.Time) (models.ChainSnapshot, error) {
	q := url.Values{}
	q.Set("instrument_key", u.indexKey)
	q.Set("expiry_date", expiry.Format(expiryDateFormat))
	var resp chainResponse
	if err := u.get(ctx, "chain", "/option/chain", q, &resp); err != nil {
		return models.ChainSnapshot{}, err
	}
	if len(resp.Data) == 0 {
		return models.ChainSnapshot{}, NewFetchError(FetchNotFound, "chain",
			fmt.Errorf("empty chain for expiry %s", expiry.Format(expiryDateFormat)))
	}

	snap := models.ChainSnapshot{Expiry: expiry}
	for _, row := range resp.Data {
		if row.CallOptions != nil {
			snap.Contracts = append(snap.Contracts, contractFromChain(row.StrikePrice, models.OptionTypeCall, expiry, row.CallOptions))
		}
		if row.PutOptions != nil {
			snap.Contracts = append(snap.Contracts, contractFromChain(row.StrikePrice, models.OptionTypePut, expiry, row.PutOptions))
		}
	}
	if err := snap.Validate(u.strikeInterval); err != nil {
		return models.ChainSnapshot{}, NewFetchError(FetchTransient, "chain",
			fmt.Errorf("malformed chain snapshot: %w", err))
	}
	return snap, nil
}

func contractFromChain(strike float64, typ models.OptionType, expiry time.Time, opt *chainOption) models.Contract {
	return models.Contract{
		InstrumentKey: opt.InstrumentKey,
		Strike:        strike,
		OptionType:    typ,
		Expiry:        expiry,
		LastPrice:     opt.MarketData.LTP,
		OpenInterest:  opt.MarketData.OI,
		ImpliedVol:    opt.Greeks.IV,
	}
}

// PlaceMultiLegOrder submits all four legs as one basket under the given tag.
func (u *UpstoxClient) PlaceMultiLegOrder(ctx context.Context, strategy models.Strategy, tag string) (string, error) {
	chainKeys, err := u.legInstrumentKeys(ctx, strategy)
	if err != nil {
		return "", &OrderError{Tag: tag, Err: err}
	}

	legs := make([]multiOrderLeg, 0, len(strategy.Legs))
	for i, leg := range strategy.Legs {
		txn := "BUY"
		if leg.Side == models.SideSell {
			txn = "SELL"
		}
		legs = append(legs, multiOrderLeg{
			InstrumentKey:   chainKeys[i],
			Quantity:        leg.Quantity,
			TransactionType: txn,
			OrderType:       "MARKET",
			Product:         "D",
			Tag:             tag,
			CorrelationID:   fmt.Sprintf("%s-%d", tag[:min(8, len(tag))], i+1),
		})
	}

	var resp multiOrderResponse
	if err := u.post(ctx, "order", "/order/multi/place", legs, &resp); err != nil {
		return "", &OrderError{Tag: tag, Err: err}
	}
	if len(resp.Data.OrderIDs) == 0 {
		return "", &OrderError{Tag: tag, Err: errors.New("broker returned no order ids")}
	}
	return strings.Join(resp.Data.OrderIDs, ","), nil
}

// legInstrumentKeys resolves each leg to its tradeable contract key via the
// chain for the strategy expiry.
func (u *UpstoxClient) legInstrumentKeys(ctx context.Context, strategy models.Strategy) ([]string, error) {
	snap, err := u.GetOptionChain(ctx, strategy.Expiry)
	if err != nil {
		return nil, fmt.Errorf("resolving leg instruments: %w", err)
	}
	keys := make([]string, len(strategy.Legs))
	for i, leg := range strategy.Legs {
		contract, ok := snap.Lookup(leg.Strike, leg.OptionType)
		if !ok {
			return nil, fmt.Errorf("no contract for %s %.2f at %s",
				leg.OptionType, leg.Strike, strategy.Expiry.Format(expiryDateFormat))
		}
		keys[i] = contract.InstrumentKey
	}
	return keys, nil
}

func (u *UpstoxClient) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	endpoint := u.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	return u.do(op, req, out)
}

func (u *UpstoxClient) post(ctx context.Context, op, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return u.do(op, req, out)
}

func (u *UpstoxClient) do(op string, req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.accessToken)

	resp, err := u.client.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewFetchError(FetchTransient, op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return NewFetchError(FetchAuth, op, apiErr)
		case resp.StatusCode == http.StatusNotFound:
			return NewFetchError(FetchNotFound, op, apiErr)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return NewFetchError(FetchTransient, op, apiErr)
		default:
			return apiErr
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewFetchError(FetchTransient, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// classifyTransportError maps network-level failures onto the fetch taxonomy.
// Timeouts, resets and deadline expiries all count as transient; cancellation
// propagates untouched so the cycle can abort cleanly.
func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewFetchError(FetchTransient, op, fmt.Errorf("request timed out: %w", err))
	}
	return NewFetchError(FetchTransient, op, err)
}
