package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/dehouse/donation-ledger/internal/adapter"
	"github.com/dehouse/donation-ledger/internal/domain"
	"github.com/dehouse/donation-ledger/internal/logger"
)

// Oracle defines the interface for historical USD price lookups
type Oracle interface {
	// GetPrice returns the USD price of the currency on the calendar day of at.
	// A zero price means no valid quote is available; callers must treat such
	// donations as unpriceable rather than recording them at $0.
	GetPrice(ctx context.Context, currency domain.Currency, at time.Time) (float64, error)
}

// historyResponse mirrors the CoinGecko /coins/{id}/history payload
type historyResponse struct {
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

type coinGeckoOracle struct {
	baseURL    string
	httpClient adapter.HTTPClient
	limiter    ratelimit.Limiter

	mu    sync.Mutex
	cache map[string]float64 // one quote per (coin, calendar day)
}

// NewCoinGeckoOracle creates a price oracle backed by the CoinGecko history
// endpoint. Requests are paced to stay inside the public API rate limit.
func NewCoinGeckoOracle(baseURL string, requestsPerMinute int, httpClient adapter.HTTPClient) Oracle {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 40
	}

	return &coinGeckoOracle{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    ratelimit.New(requestsPerMinute, ratelimit.Per(time.Minute)),
		cache:      make(map[string]float64),
	}
}

// GetPrice returns the USD price of the currency on the calendar day of at
func (o *coinGeckoOracle) GetPrice(ctx context.Context, currency domain.Currency, at time.Time) (float64, error) {
	// Stablecoins are pegged; skip the network round trip entirely
	if currency.IsStablecoin() {
		return 1.0, nil
	}

	coinID := currency.CoinGeckoID()
	if coinID == "" {
		return 0, domain.ErrUnsupportedAsset
	}

	date := at.UTC().Format("02-01-2006")
	cacheKey := coinID + ":" + date

	o.mu.Lock()
	if price, ok := o.cache[cacheKey]; ok {
		o.mu.Unlock()
		return price, nil
	}
	o.mu.Unlock()

	o.limiter.Take()

	url := fmt.Sprintf("%s/coins/%s/history?date=%s&localization=false", o.baseURL, coinID, date)

	var resp historyResponse
	if err := o.httpClient.Get(ctx, url, &resp); err != nil {
		// The HTTP adapter already retried transient failures; degrade to a
		// zero quote and let the caller reject the donation.
		logger.WarnCtx(ctx, "price lookup failed",
			zap.String("coin", coinID),
			zap.String("date", date),
			zap.Error(err))
		return 0, nil
	}

	price := resp.MarketData.CurrentPrice["usd"]
	if price <= 0 {
		logger.WarnCtx(ctx, "price data missing for coin",
			zap.String("coin", coinID),
			zap.String("date", date))
		return 0, nil
	}

	o.mu.Lock()
	o.cache[cacheKey] = price
	o.mu.Unlock()

	return price, nil
}
