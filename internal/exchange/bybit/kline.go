package bybit

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/exchange"
	"github.com/navid-fn/obradar/internal/models"
)

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

// FetchCandles fetches one page of klines, ascending by open time.
// A single malformed row rejects the whole page.
func (c *Client) FetchCandles(ctx context.Context, req exchange.KlineRequest) ([]models.Candle, error) {
	limit := req.Limit
	if limit <= 0 || limit > exchange.MaxPageSize {
		limit = exchange.MaxPageSize
	}

	params := url.Values{}
	params.Set("category", c.cfg.Category)
	params.Set("symbol", req.Symbol)
	params.Set("interval", string(req.Timeframe))
	params.Set("limit", strconv.Itoa(limit))
	if req.Start > 0 {
		params.Set("start", itoa(req.Start))
	}
	if req.End > 0 {
		params.Set("end", itoa(req.End))
	}

	var res klineResult
	if err := c.get(ctx, "kline", klinePath, params, &res); err != nil {
		return nil, err
	}

	candles, err := parseKlines(req.Symbol, req.Timeframe, res.List)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("Fetched %d klines for %s/%s from %d", len(candles), req.Symbol, req.Timeframe, req.Start)
	return candles, nil
}

// parseKlines converts raw rows and sorts them ascending.
func parseKlines(symbol string, tf models.Timeframe, list [][]string) ([]models.Candle, error) {
	out := make([]models.Candle, 0, len(list))
	for i, row := range list {
		c, err := parseKline(symbol, tf, row)
		if err != nil {
			return nil, &errs.DataIntegrityError{Reason: fmt.Sprintf("row %d of %s/%s: %v", i, symbol, tf, err)}
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b models.Candle) int {
		switch {
		case a.OpenTime < b.OpenTime:
			return -1
		case a.OpenTime > b.OpenTime:
			return 1
		}
		return 0
	})
	return out, nil
}

func parseKline(symbol string, tf models.Timeframe, row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}

	openTime, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid start time %q", row[0])
	}

	var nums [6]float64
	for i := 1; i < len(row) && i <= 6; i++ {
		d, err := decimal.NewFromString(row[i])
		if err != nil {
			return models.Candle{}, fmt.Errorf("non-numeric field %d: %q", i, row[i])
		}
		nums[i-1] = d.InexactFloat64()
	}

	c := models.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}
	if len(row) >= 7 {
		turnover := nums[5]
		c.Turnover = &turnover
	}
	if err := c.Validate(); err != nil {
		return models.Candle{}, err
	}
	return c, nil
}
