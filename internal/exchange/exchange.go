// Package exchange declares what the ingestion pipeline needs from a market
// data source. The bybit subpackage is the production implementation.
package exchange

import (
	"context"

	"github.com/navid-fn/obradar/internal/models"
)

// MaxPageSize is the most candles one kline request may return.
const MaxPageSize = 200

// KlineRequest asks for one page of candles.
type KlineRequest struct {
	Symbol    string
	Timeframe models.Timeframe

	// Start is the inclusive lower bound in epoch ms. Zero lets the exchange pick.
	Start int64

	// End is the inclusive upper bound in epoch ms. Zero means now.
	End int64

	// Limit is capped at MaxPageSize.
	Limit int
}

// Source fetches candles and instrument listings.
//
// FetchCandles returns rows ascending by open time. Failures are
// *errs.TransientNetworkError, *errs.ExchangeProtocolError or
// *errs.DataIntegrityError.
type Source interface {
	FetchCandles(ctx context.Context, req KlineRequest) ([]models.Candle, error)
	FetchInstruments(ctx context.Context, category string) ([]models.Symbol, error)
}
