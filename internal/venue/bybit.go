package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sentinel/internal/models"
	"sentinel/pkg/ratelimit"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

var bybitJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// bybitIntervals - соответствие таймфреймов параметру interval Bybit v5
var bybitIntervals = map[string]string{
	models.Timeframe1m:  "1",
	models.Timeframe5m:  "5",
	models.Timeframe15m: "15",
	models.Timeframe1h:  "60",
	models.Timeframe4h:  "240",
	models.Timeframe1d:  "D",
}

// Bybit реализует интерфейс ExecutionVenue для биржи Bybit
type Bybit struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter

	connected bool
}

// NewBybit создает новый экземпляр Bybit.
// Rate limiter настроен под публичный лимит Bybit: 10 req/sec, burst 20.
func NewBybit() *Bybit {
	return &Bybit{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    ratelimit.NewRateLimiter(10, 20),
	}
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API.
//
// Сетевые сбои и rate limit оборачиваются в транзиентную ошибку,
// бизнес-отказы (retCode != 0) - в отказ без повтора.
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL = bybitBaseURL + endpoint + "?" + reqBody
		} else {
			reqURL = bybitBaseURL + endpoint
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := bybitJSON.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, reqBody)

		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, NewTransientError("bybit", "network", err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransientError("bybit", "network", err.Error(), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, NewTransientError("bybit", strconv.Itoa(resp.StatusCode),
			"http "+resp.Status, nil)
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := bybitJSON.Unmarshal(body, &baseResp); err != nil {
		return nil, NewTransientError("bybit", "decode", err.Error(), err)
	}

	if baseResp.RetCode != 0 {
		return nil, NewRejectionError("bybit", strconv.Itoa(baseResp.RetCode), baseResp.RetMsg)
	}

	return body, nil
}

func (b *Bybit) Connect(apiKey, secret string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	// Проверяем подключение через получение баланса
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}

	b.connected = true
	return nil
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin   string `json:"coin"`
					Equity string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) > 0 {
		for _, coin := range resp.Result.List[0].Coin {
			if coin.Coin == "USDT" {
				equity, _ := strconv.ParseFloat(coin.Equity, 64)
				return equity, nil
			}
		}
	}

	return 0, nil
}

func (b *Bybit) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.List) == 0 {
		return nil, NewRejectionError("bybit", "not_found", "ticker not found for "+symbol)
	}

	t := resp.Result.List[0]
	bidPrice, _ := strconv.ParseFloat(t.Bid1Price, 64)
	askPrice, _ := strconv.ParseFloat(t.Ask1Price, 64)
	lastPrice, _ := strconv.ParseFloat(t.LastPrice, 64)

	return &Ticker{
		Symbol:    t.Symbol,
		BidPrice:  bidPrice,
		AskPrice:  askPrice,
		LastPrice: lastPrice,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (b *Bybit) FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	interval, ok := bybitIntervals[timeframe]
	if !ok {
		return nil, NewRejectionError("bybit", "bad_interval", "unsupported timeframe "+timeframe)
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			// [startTime, open, high, low, close, volume, turnover]
			List [][]string `json:"list"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(resp.Result.List))
	// Bybit отдаёт свечи от новых к старым, разворачиваем
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 6 {
			continue
		}

		ts, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePrice, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)

		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(ts).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}

	return bars, nil
}

func (b *Bybit) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*OrderResult, error) {
	bybitSide := "Buy"
	if side == SideSell {
		bybitSide = "Sell"
	}

	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "IOC",
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderId string `json:"orderId"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	result := &OrderResult{
		OrderID:      resp.Result.OrderId,
		Symbol:       symbol,
		Side:         side,
		RequestedQty: qty,
		Status:       OrderStatusFilled,
		CreatedAt:    time.Now().UTC(),
	}

	// Уточняем фактическое исполнение
	filledQty, avgPrice, err := b.getOrderExecution(ctx, symbol, resp.Result.OrderId)
	if err == nil {
		result.FilledQty = filledQty
		result.AvgFillPrice = avgPrice
		if result.PartiallyFilled() {
			result.Status = OrderStatusPartial
		}
	} else {
		result.FilledQty = qty
	}

	return result, nil
}

// getOrderExecution получает информацию об исполнении ордера
func (b *Bybit) getOrderExecution(ctx context.Context, symbol, orderID string) (filledQty, avgPrice float64, err error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				CumExecQty string `json:"cumExecQty"`
				AvgPrice   string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return 0, 0, err
	}

	if len(resp.Result.List) == 0 {
		return 0, 0, NewRejectionError("bybit", "not_found", "order not found")
	}

	o := resp.Result.List[0]
	filledQty, _ = strconv.ParseFloat(o.CumExecQty, 64)
	avgPrice, _ = strconv.ParseFloat(o.AvgPrice, 64)

	return filledQty, avgPrice, nil
}

// closeOrderSides строит встречный ордер для закрытия позиции:
// long закрывается продажей, short - покупкой.
// Возвращает сторону в нотации Bybit и в нотации OrderResult.
func closeOrderSides(positionSide string) (bybitSide, orderSide string, err error) {
	switch positionSide {
	case models.SideLong:
		return "Sell", SideSell, nil
	case models.SideShort:
		return "Buy", SideBuy, nil
	default:
		return "", "", NewRejectionError("bybit", "bad_side",
			"unknown position side "+positionSide)
	}
}

func (b *Bybit) ClosePosition(ctx context.Context, symbol, positionSide string, qty float64) (*OrderResult, error) {
	closeSide, orderSide, err := closeOrderSides(positionSide)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        closeSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "IOC",
		"reduceOnly":  "true",
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderId string `json:"orderId"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	result := &OrderResult{
		OrderID:      resp.Result.OrderId,
		Symbol:       symbol,
		Side:         orderSide,
		RequestedQty: qty,
		FilledQty:    qty,
		Status:       OrderStatusFilled,
		CreatedAt:    time.Now().UTC(),
	}

	if filledQty, avgPrice, err := b.getOrderExecution(ctx, symbol, resp.Result.OrderId); err == nil {
		result.FilledQty = filledQty
		result.AvgFillPrice = avgPrice
		if result.PartiallyFilled() {
			result.Status = OrderStatusPartial
		}
	}

	return result, nil
}

func (b *Bybit) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				CreatedTime   string `json:"createdTime"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}

		entryPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		leverage, _ := strconv.Atoi(p.Leverage)
		createdTime, _ := strconv.ParseInt(p.CreatedTime, 10, 64)

		side := models.SideLong
		if p.Side == "Sell" {
			side = models.SideShort
		}

		pos := &models.Position{
			Symbol:     p.Symbol,
			Side:       side,
			EntryPrice: entryPrice,
			Size:       size,
			Leverage:   leverage,
			OpenedAt:   time.UnixMilli(createdTime).UTC(),
		}

		unrealized, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		if notional := entryPrice * size; notional > 0 {
			pos.UnrealizedPnlPercent = unrealized / notional * 100
		}

		return pos, nil
	}

	// Позиции нет - это не ошибка
	return nil, nil
}

func (b *Bybit) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				LotSizeFilter struct {
					MinOrderQty string `json:"minOrderQty"`
					MaxOrderQty string `json:"maxOrderQty"`
					QtyStep     string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
				LeverageFilter struct {
					MaxLeverage string `json:"maxLeverage"`
				} `json:"leverageFilter"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := bybitJSON.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.List) == 0 {
		return nil, NewRejectionError("bybit", "not_found", "instrument not found: "+symbol)
	}

	inst := resp.Result.List[0]
	minQty, _ := strconv.ParseFloat(inst.LotSizeFilter.MinOrderQty, 64)
	maxQty, _ := strconv.ParseFloat(inst.LotSizeFilter.MaxOrderQty, 64)
	qtyStep, _ := strconv.ParseFloat(inst.LotSizeFilter.QtyStep, 64)
	tickSize, _ := strconv.ParseFloat(inst.PriceFilter.TickSize, 64)
	maxLeverage, _ := strconv.ParseFloat(inst.LeverageFilter.MaxLeverage, 64)

	return &Limits{
		Symbol:      inst.Symbol,
		MinOrderQty: minQty,
		MaxOrderQty: maxQty,
		QtyStep:     qtyStep,
		PriceStep:   tickSize,
		MaxLeverage: int(maxLeverage),
	}, nil
}

func (b *Bybit) Close() error {
	b.connected = false
	b.httpClient.CloseIdleConnections()
	return nil
}
