// REST API client for Bybit v5 unified accounts.
// Resty only, internal retry on transient failures.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// apiResponse is the Bybit v5 envelope around every endpoint.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type tickerList struct {
	Category string `json:"category"`
	List     []struct {
		Symbol          string `json:"symbol"`
		LastPrice       string `json:"lastPrice"`
		MarkPrice       string `json:"markPrice"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
		Turnover24h     string `json:"turnover24h"`
	} `json:"list"`
}

type instrumentList struct {
	List []struct {
		Symbol        string `json:"symbol"`
		LotSizeFilter struct {
			MinOrderQty string `json:"minOrderQty"`
			MaxOrderQty string `json:"maxOrderQty"`
			QtyStep     string `json:"qtyStep"`
			MinOrderAmt string `json:"minOrderAmt"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
	} `json:"list"`
}

type walletList struct {
	List []struct {
		AccountMMRate         string `json:"accountMMRate"`
		TotalEquity           string `json:"totalEquity"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		Coin                  []struct {
			Coin                string `json:"coin"`
			WalletBalance       string `json:"walletBalance"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
		} `json:"coin"`
	} `json:"list"`
}

type orderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type executionList struct {
	List []struct {
		OrderID   string `json:"orderId"`
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		ExecQty   string `json:"execQty"`
		ExecPrice string `json:"execPrice"`
		ExecFee   string `json:"execFee"`
		ExecTime  string `json:"execTime"`
	} `json:"list"`
}

// Client is an authenticated Bybit v5 REST client.
type Client struct {
	apiKey     string
	apiSecret  string
	recvWindow int
	http       *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewClient(cfg Config) *Client {
	retryCount := defaultRetryAttempts - 1

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api-testnet.bybit.com"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		http:       httpClient,
	}
}

// sign builds the Bybit v5 request signature:
// HMAC_SHA256(timestamp + apiKey + recvWindow + payload).
func (c *Client) sign(timestamp int64, payload string) string {
	base := fmt.Sprintf("%d%s%d%s", timestamp, c.apiKey, c.recvWindow, payload)
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, signed bool) (*apiResponse, error) {
	req := c.http.R().SetContext(ctx)
	encoded := query.Encode()

	if signed {
		ts := time.Now().UnixMilli()
		req.
			SetHeader("X-BAPI-API-KEY", c.apiKey).
			SetHeader("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10)).
			SetHeader("X-BAPI-RECV-WINDOW", strconv.Itoa(c.recvWindow)).
			SetHeader("X-BAPI-SIGN", c.sign(ts, encoded))
	}
	if encoded != "" {
		req.SetQueryString(encoded)
	}

	resp, err := req.Get(path)
	return parseResponse(resp, err)
}

func (c *Client) doPost(ctx context.Context, path string, body map[string]interface{}) (*apiResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UnixMilli()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10)).
		SetHeader("X-BAPI-RECV-WINDOW", strconv.Itoa(c.recvWindow)).
		SetHeader("X-BAPI-SIGN", c.sign(ts, string(b))).
		SetBody(b).
		Post(path)

	return parseResponse(resp, err)
}

func parseResponse(resp *resty.Response, err error) (*apiResponse, error) {
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var parsed apiResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, err
	}
	if parsed.RetCode != 0 {
		return nil, fmt.Errorf("API error %d: %s", parsed.RetCode, parsed.RetMsg)
	}
	return &parsed, nil
}

// GetTickerPrice returns the last traded price for a symbol in the given
// category, or an error when the exchange knows no such symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol, category string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)

	resp, err := c.doGet(ctx, "/v5/market/tickers", query, false)
	if err != nil {
		return decimal.Zero, err
	}

	var tickers tickerList
	if err := json.Unmarshal(resp.Result, &tickers); err != nil {
		return decimal.Zero, err
	}
	if len(tickers.List) == 0 {
		return decimal.Zero, fmt.Errorf("no ticker data for %s", symbol)
	}

	return decimal.NewFromString(tickers.List[0].LastPrice)
}

// GetFundingRates returns the current funding snapshot for every linear
// perpetual the exchange lists.
func (c *Client) GetFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	query := url.Values{}
	query.Set("category", model.CategoryLinear)

	resp, err := c.doGet(ctx, "/v5/market/tickers", query, false)
	if err != nil {
		return nil, err
	}

	var tickers tickerList
	if err := json.Unmarshal(resp.Result, &tickers); err != nil {
		return nil, err
	}

	now := time.Now()
	rates := make([]model.FundingRate, 0, len(tickers.List))
	for _, t := range tickers.List {
		rate, err := decimal.NewFromString(t.FundingRate)
		if err != nil {
			continue // symbols without funding (e.g. pre-listing) are skipped
		}
		mark, _ := decimal.NewFromString(t.MarkPrice)
		volume, _ := decimal.NewFromString(t.Turnover24h)

		var nextFunding time.Time
		if ms, err := strconv.ParseInt(t.NextFundingTime, 10, 64); err == nil {
			nextFunding = time.UnixMilli(ms)
		}

		rates = append(rates, model.FundingRate{
			Symbol:          t.Symbol,
			Rate:            rate,
			NextFundingTime: nextFunding,
			IntervalHours:   8,
			MarkPrice:       mark,
			Volume24h:       volume,
			UpdatedAt:       now,
		})
	}

	return rates, nil
}

// GetInstrumentInfo fetches the trading constraints for one symbol.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol, category string) (*model.InstrumentInfo, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)

	resp, err := c.doGet(ctx, "/v5/market/instruments-info", query, false)
	if err != nil {
		return nil, err
	}

	var instruments instrumentList
	if err := json.Unmarshal(resp.Result, &instruments); err != nil {
		return nil, err
	}
	if len(instruments.List) == 0 {
		return nil, fmt.Errorf("no instrument info for %s", symbol)
	}

	raw := instruments.List[0]
	info := &model.InstrumentInfo{Symbol: raw.Symbol}

	if info.MinQty, err = decimal.NewFromString(raw.LotSizeFilter.MinOrderQty); err != nil {
		return nil, fmt.Errorf("bad minOrderQty for %s: %w", symbol, err)
	}
	if info.MaxQty, err = decimal.NewFromString(raw.LotSizeFilter.MaxOrderQty); err != nil {
		return nil, fmt.Errorf("bad maxOrderQty for %s: %w", symbol, err)
	}
	if info.QtyStep, err = decimal.NewFromString(raw.LotSizeFilter.QtyStep); err != nil {
		return nil, fmt.Errorf("bad qtyStep for %s: %w", symbol, err)
	}
	if raw.LotSizeFilter.MinOrderAmt != "" {
		if info.MinNotional, err = decimal.NewFromString(raw.LotSizeFilter.MinOrderAmt); err != nil {
			return nil, fmt.Errorf("bad minOrderAmt for %s: %w", symbol, err)
		}
	}
	if raw.PriceFilter.TickSize != "" {
		if info.TickSize, err = decimal.NewFromString(raw.PriceFilter.TickSize); err != nil {
			return nil, fmt.Errorf("bad tickSize for %s: %w", symbol, err)
		}
	}

	return info, nil
}

// GetAvailableBalance returns the unified account's available quote balance.
func (c *Client) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")

	resp, err := c.doGet(ctx, "/v5/account/wallet-balance", query, true)
	if err != nil {
		return decimal.Zero, err
	}

	var wallet walletList
	if err := json.Unmarshal(resp.Result, &wallet); err != nil {
		return decimal.Zero, err
	}
	if len(wallet.List) == 0 {
		return decimal.Zero, fmt.Errorf("empty wallet balance response")
	}

	return decimal.NewFromString(wallet.List[0].TotalAvailableBalance)
}

// MarginRatio returns the account maintenance-margin utilization. Implements
// the risk manager's margin provider contract for live trading.
func (c *Client) MarginRatio(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")

	resp, err := c.doGet(ctx, "/v5/account/wallet-balance", query, true)
	if err != nil {
		return decimal.Zero, err
	}

	var wallet walletList
	if err := json.Unmarshal(resp.Result, &wallet); err != nil {
		return decimal.Zero, err
	}
	if len(wallet.List) == 0 || wallet.List[0].AccountMMRate == "" {
		return decimal.Zero, nil
	}

	return decimal.NewFromString(wallet.List[0].AccountMMRate)
}

// PlaceOrder submits a market order and resolves its fill via the execution
// history endpoint. Returns the complete fill or an error; no partial state
// is exposed to the caller.
func (c *Client) PlaceOrder(ctx context.Context, request model.OrderRequest) (*model.OrderResult, error) {
	side := "Buy"
	if request.Side == model.SideSell {
		side = "Sell"
	}

	body := map[string]interface{}{
		"category":    request.Category,
		"symbol":      request.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         request.Quantity.String(),
		"orderLinkId": fmt.Sprintf("fa-%d", time.Now().UnixNano()),
	}

	resp, err := c.doPost(ctx, "/v5/order/create", body)
	if err != nil {
		return nil, err
	}

	var ack orderAck
	if err := json.Unmarshal(resp.Result, &ack); err != nil {
		return nil, err
	}

	return c.resolveFill(ctx, ack.OrderID, request)
}

func (c *Client) resolveFill(ctx context.Context, orderID string, request model.OrderRequest) (*model.OrderResult, error) {
	query := url.Values{}
	query.Set("category", request.Category)
	query.Set("orderId", orderID)

	var lastErr error
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		resp, err := c.doGet(ctx, "/v5/execution/list", query, true)
		if err != nil {
			lastErr = err
		} else {
			var execs executionList
			if err := json.Unmarshal(resp.Result, &execs); err != nil {
				return nil, err
			}
			if len(execs.List) > 0 {
				return aggregateExecutions(orderID, request, execs)
			}
			lastErr = fmt.Errorf("order %s has no executions yet", orderID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(defaultRetryBaseDelay):
		}
	}

	return nil, fmt.Errorf("order %s fill not resolved: %w", orderID, lastErr)
}

// aggregateExecutions folds one or more partial executions into a single fill
// with a quantity-weighted average price. All values go through
// decimal.NewFromString; no float parsing.
func aggregateExecutions(orderID string, request model.OrderRequest, execs executionList) (*model.OrderResult, error) {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	totalFee := decimal.Zero
	var filledAt time.Time

	for _, e := range execs.List {
		qty, err := decimal.NewFromString(e.ExecQty)
		if err != nil {
			return nil, fmt.Errorf("bad execQty for order %s: %w", orderID, err)
		}
		price, err := decimal.NewFromString(e.ExecPrice)
		if err != nil {
			return nil, fmt.Errorf("bad execPrice for order %s: %w", orderID, err)
		}
		if fee, err := decimal.NewFromString(e.ExecFee); err == nil {
			totalFee = totalFee.Add(fee)
		}
		if ms, err := strconv.ParseInt(e.ExecTime, 10, 64); err == nil {
			ts := time.UnixMilli(ms)
			if ts.After(filledAt) {
				filledAt = ts
			}
		}

		totalQty = totalQty.Add(qty)
		totalValue = totalValue.Add(qty.Mul(price))
	}

	if totalQty.Sign() <= 0 {
		return nil, fmt.Errorf("order %s filled zero quantity", orderID)
	}
	if filledAt.IsZero() {
		filledAt = time.Now()
	}

	return &model.OrderResult{
		OrderID:     orderID,
		Symbol:      request.Symbol,
		Side:        request.Side,
		FilledQty:   totalQty,
		FilledPrice: totalValue.Div(totalQty),
		Fee:         totalFee,
		FilledAt:    filledAt,
		IsSimulated: false,
	}, nil
}

// CancelOrder attempts to cancel an open order. The bool is the exchange's
// acknowledgement; transport failures come back as the error.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol, category string) (bool, error) {
	body := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	if _, err := c.doPost(ctx, "/v5/order/cancel", body); err != nil {
		logger.WithError(err).WithFields(logger.Fields{
			"order_id": orderID,
			"symbol":   symbol,
			"category": category,
		}).Warn("cancel order failed")
		return false, err
	}

	return true, nil
}
