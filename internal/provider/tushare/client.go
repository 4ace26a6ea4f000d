// Package tushare implements the provider contract against the tushare-style
// HTTP endpoint: every call is a POST of {api_name, token, params, fields}
// answered by a column-oriented {fields, items} payload.
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/domain"
)

// Client is a tushare HTTP API client. It performs no rate limiting of its
// own; wrap it in provider.NewClient before handing it to the sync engine.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a tushare client. The token is required: construction
// fails fast so a misconfigured process never starts fetching.
func NewClient(baseURL, token string, log zerolog.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("tushare token is required")
	}
	if baseURL == "" {
		baseURL = "http://api.waditu.com"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "tushare").Logger(),
	}, nil
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields,omitempty"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// query posts one API call and returns the rows as field-name keyed maps.
func (c *Client) query(ctx context.Context, apiName string, params map[string]string, fields string) ([]map[string]interface{}, error) {
	body, err := json.Marshal(apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("api error %d: %s", parsed.Code, parsed.Msg)
	}

	rows := make([]map[string]interface{}, 0, len(parsed.Data.Items))
	for _, item := range parsed.Data.Items {
		row := make(map[string]interface{}, len(parsed.Data.Fields))
		for i, f := range parsed.Data.Fields {
			if i < len(item) {
				row[f] = item[i]
			}
		}
		rows = append(rows, row)
	}

	c.log.Debug().
		Str("api", apiName).
		Int("rows", len(rows)).
		Dur("elapsed", time.Since(started)).
		Msg("Query completed")

	return rows, nil
}

// Daily returns raw daily bars for one entity.
func (c *Client) Daily(ctx context.Context, tsCode, start, end string) ([]domain.Bar, error) {
	rows, err := c.query(ctx, "daily", map[string]string{
		"ts_code":    tsCode,
		"start_date": start,
		"end_date":   end,
	}, "ts_code,trade_date,open,high,low,close,vol,amount")
	if err != nil {
		return nil, fmt.Errorf("daily %s: %w", tsCode, err)
	}
	return rowsToBars(rows)
}

// DailyByDate returns raw daily bars for every entity on one date.
func (c *Client) DailyByDate(ctx context.Context, date string) ([]domain.Bar, error) {
	rows, err := c.query(ctx, "daily", map[string]string{
		"trade_date": date,
	}, "ts_code,trade_date,open,high,low,close,vol,amount")
	if err != nil {
		return nil, fmt.Errorf("daily by date %s: %w", date, err)
	}
	return rowsToBars(rows)
}

// AdjFactors returns adjustment events for one entity.
func (c *Client) AdjFactors(ctx context.Context, tsCode, start, end string) ([]domain.AdjustmentEvent, error) {
	rows, err := c.query(ctx, "adj_factor", map[string]string{
		"ts_code":    tsCode,
		"start_date": start,
		"end_date":   end,
	}, "ts_code,trade_date,adj_factor")
	if err != nil {
		return nil, fmt.Errorf("adj_factor %s: %w", tsCode, err)
	}

	events := make([]domain.AdjustmentEvent, 0, len(rows))
	for _, row := range rows {
		date, err := domain.NormalizeDate(getString(row, "trade_date"))
		if err != nil {
			return nil, fmt.Errorf("adj_factor %s: %w", tsCode, err)
		}
		events = append(events, domain.AdjustmentEvent{
			TsCode:    getString(row, "ts_code"),
			TradeDate: date,
			AdjFactor: getFloat(row, "adj_factor"),
		})
	}
	return events, nil
}

// Calendar returns the trading calendar of one exchange.
func (c *Client) Calendar(ctx context.Context, exchange, start, end string) ([]domain.TradingDay, error) {
	rows, err := c.query(ctx, "trade_cal", map[string]string{
		"exchange":   exchange,
		"start_date": start,
		"end_date":   end,
	}, "exchange,cal_date,is_open")
	if err != nil {
		return nil, fmt.Errorf("trade_cal %s: %w", exchange, err)
	}

	days := make([]domain.TradingDay, 0, len(rows))
	for _, row := range rows {
		date, err := domain.NormalizeDate(getString(row, "cal_date"))
		if err != nil {
			return nil, fmt.Errorf("trade_cal %s: %w", exchange, err)
		}
		days = append(days, domain.TradingDay{
			Exchange: getString(row, "exchange"),
			CalDate:  date,
			IsOpen:   getFloat(row, "is_open") == 1,
		})
	}
	return days, nil
}

// StockBasics returns the listed entity universe.
func (c *Client) StockBasics(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, "stock_basic", map[string]string{
		"list_status": "L",
	}, "ts_code")
	if err != nil {
		return nil, fmt.Errorf("stock_basic: %w", err)
	}

	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		if code := getString(row, "ts_code"); code != "" {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func rowsToBars(rows []map[string]interface{}) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		date, err := domain.NormalizeDate(getString(row, "trade_date"))
		if err != nil {
			return nil, err
		}
		bars = append(bars, domain.Bar{
			TsCode:    getString(row, "ts_code"),
			TradeDate: date,
			Open:      getFloat(row, "open"),
			High:      getFloat(row, "high"),
			Low:       getFloat(row, "low"),
			Close:     getFloat(row, "close"),
			Vol:       getFloat(row, "vol"),
			Amount:    getFloat(row, "amount"),
		})
	}
	return bars, nil
}

func getString(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func getFloat(row map[string]interface{}, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
