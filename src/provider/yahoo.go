package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// YahooProvider fetches OHLCV rows from the Yahoo Finance chart endpoint.
// One FetchBatch call covers one symbol batch; symbols fan out concurrently
// under a semaphore. A failed symbol yields no row, not a batch abort.
// -----------------------------------------------------------------------------

type YahooProvider struct {
	Network            interfaces.INetworkManager
	Logger             *logger.Logger
	ConcurrentRequests int
}

// -----------------------------------------------------------------------------

func NewYahooProvider(netMgr interfaces.INetworkManager, concurrent int, log *logger.Logger) *YahooProvider {
	if concurrent <= 0 {
		concurrent = 4
	}
	return &YahooProvider{
		Network:            netMgr,
		Logger:             log,
		ConcurrentRequests: concurrent,
	}
}

// -----------------------------------------------------------------------------

func (p *YahooProvider) Name() string {
	return "yahoo"
}

// -----------------------------------------------------------------------------

// FetchBatch retrieves the latest completed OHLCV row per symbol.
func (p *YahooProvider) FetchBatch(ctx context.Context, symbols []string, interval string) ([]models.MOHLCVRow, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	rows := make([]models.MOHLCVRow, 0, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	// Semaphore for concurrency limit
	sem := make(chan struct{}, p.ConcurrentRequests)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			row, err := p.fetchSymbol(ctx, sym, interval)
			if err != nil {
				p.Logger.Info("Error fetching symbol %s: %v", sym, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()

	p.Logger.Debug("Yahoo: fetched %d/%d symbols", len(rows), len(symbols))

	// The batch as a whole failed only when nothing came back.
	if len(rows) == 0 && firstErr != nil {
		return nil, helpers.NewProviderError("all symbols in batch failed", firstErr)
	}
	return rows, nil
}

// -----------------------------------------------------------------------------

func (p *YahooProvider) fetchSymbol(ctx context.Context, symbol, interval string) (models.MOHLCVRow, error) {
	params := map[string]string{
		"interval":       interval,
		"range":          "1d",
		"includePrePost": "false",
	}

	url := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s", symbol)

	respBytes, err := p.Network.Get(ctx, url, params)
	if err != nil {
		return models.MOHLCVRow{}, fmt.Errorf("network error for %s: %w", symbol, err)
	}

	return p.parseChartResponse(symbol, respBytes)
}

// -----------------------------------------------------------------------------

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					High   []*float64 `json:"high"`   // Use pointers to handle null
					Low    []*float64 `json:"low"`    // Use pointers to handle null
					Open   []*float64 `json:"open"`   // Use pointers to handle null
					Close  []*float64 `json:"close"`  // Use pointers to handle null
					Volume []*float64 `json:"volume"` // Use pointers to handle null
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// -----------------------------------------------------------------------------

// parseChartResponse extracts the most recent complete OHLCV point.
func (p *YahooProvider) parseChartResponse(symbol string, data []byte) (models.MOHLCVRow, error) {
	var resp yahooChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.MOHLCVRow{}, fmt.Errorf("json unmarshal failed: %w", err)
	}

	if resp.Chart.Error != nil {
		return models.MOHLCVRow{}, fmt.Errorf("yahoo api error: %s - %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return models.MOHLCVRow{}, fmt.Errorf("no result in response for %s", symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return models.MOHLCVRow{}, fmt.Errorf("no quote data in response for %s", symbol)
	}

	quote := result.Indicators.Quote[0]

	// Alignment check
	n := len(result.Timestamp)
	if n != len(quote.Open) || n != len(quote.High) || n != len(quote.Low) ||
		n != len(quote.Close) || n != len(quote.Volume) {
		return models.MOHLCVRow{}, fmt.Errorf("data alignment error for %s", symbol)
	}

	// Walk backwards to the newest point with all fields present
	for i := n - 1; i >= 0; i-- {
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil ||
			quote.Close[i] == nil || quote.Volume[i] == nil {
			continue
		}
		if *quote.Close[i] <= 0 || *quote.Volume[i] < 0 {
			continue
		}
		return models.MOHLCVRow{
			Symbol:    symbol,
			Timestamp: result.Timestamp[i],
			Open:      *quote.Open[i],
			High:      *quote.High[i],
			Low:       *quote.Low[i],
			Close:     *quote.Close[i],
			Volume:    int64(*quote.Volume[i]),
		}, nil
	}

	return models.MOHLCVRow{}, fmt.Errorf("no complete data point for %s", symbol)
}
