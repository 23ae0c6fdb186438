package bybit

import (
	"context"
	"net/url"

	"github.com/navid-fn/obradar/internal/models"
)

// Safety net against a cursor that never ends.
const maxInstrumentPages = 50

type instrumentsResult struct {
	Category       string       `json:"category"`
	List           []instrument `json:"list"`
	NextPageCursor string       `json:"nextPageCursor"`
}

type instrument struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`
	Status    string `json:"status"`
}

// FetchInstruments lists every instrument of a category, following the page cursor.
// An empty category uses the client's default.
func (c *Client) FetchInstruments(ctx context.Context, category string) ([]models.Symbol, error) {
	if category == "" {
		category = c.cfg.Category
	}

	var (
		symbols []models.Symbol
		cursor  string
	)
	for page := 0; page < maxInstrumentPages; page++ {
		params := url.Values{}
		params.Set("category", category)
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var res instrumentsResult
		if err := c.get(ctx, "instruments-info", instrumentsPath, params, &res); err != nil {
			return nil, err
		}
		for _, in := range res.List {
			symbols = append(symbols, models.Symbol{
				Symbol:    in.Symbol,
				BaseCoin:  in.BaseCoin,
				QuoteCoin: in.QuoteCoin,
				Status:    in.Status,
				IsActive:  in.Status == "Trading",
			})
		}

		if res.NextPageCursor == "" || res.NextPageCursor == cursor {
			break
		}
		cursor = res.NextPageCursor
	}

	c.logger.Infof("Fetched %d %s instruments", len(symbols), category)
	return symbols, nil
}
