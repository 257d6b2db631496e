// Package bootstrap builds the adapters and the market view from configuration.
// It is shared by the headless runner and the command line tools.
package bootstrap

import (
	"context"
	"fmt"

	"ecoStock/config"
	"ecoStock/internal/adapters/binanceclient"
	"ecoStock/internal/adapters/feedws"
	"ecoStock/internal/adapters/logger"
	"ecoStock/internal/adapters/restapi"
	"ecoStock/internal/app"
	"ecoStock/internal/chart"
	"ecoStock/internal/market"
	"ecoStock/internal/ports"
)

// Backend is the market provider selected by MARKET_PROVIDER.
type Backend struct {
	Provider  string
	API       ports.MarketAPI
	Transport ports.FeedTransport
}

// NewLogger creates the application logger from the configuration.
func NewLogger(cfg *config.Config) *logger.Logger {
	l := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	l.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": string(cfg.LogFormat)})
	return l
}

// NewBackend creates the REST and feed adapters of the configured provider.
func NewBackend(cfg *config.Config, log ports.Logger) (*Backend, error) {
	switch cfg.Provider {
	case config.ProviderEco:
		api, err := restapi.New(restapi.Config{
			BaseURL:   cfg.APIBaseURL,
			AuthToken: cfg.AuthToken,
			Timeout:   cfg.RequestTimeout,
			Logger:    log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize REST client: %w", err)
		}
		transport, err := feedws.New(feedws.Config{
			URL:          cfg.FeedURL,
			AuthToken:    cfg.AuthToken,
			PingInterval: cfg.PingInterval,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize feed transport: %w", err)
		}
		log.Info(context.Background(), "Eco-stock backend initialized", map[string]interface{}{"api": cfg.APIBaseURL, "feed": cfg.FeedURL})
		return &Backend{Provider: cfg.Provider, API: api, Transport: transport}, nil

	case config.ProviderBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     log,
			Symbols:    cfg.BinanceSymbols,
			Interval:   cfg.BinanceInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Binance client: %w", err)
		}
		log.Info(context.Background(), "Binance backend initialized", map[string]interface{}{"testnet": cfg.IsTestnet, "interval": cfg.BinanceInterval})
		return &Backend{Provider: cfg.Provider, API: client, Transport: client}, nil

	default:
		return nil, fmt.Errorf("%w: unknown market provider %q", ports.ErrConfigurationError, cfg.Provider)
	}
}

// ViewDeps are the optional parts of a market view.
type ViewDeps struct {
	Journal ports.SellJournal
	OnSold  func(ctx context.Context, outcome market.SellOutcome)
}

// NewMarketView creates the feed connection over the backend's transport and
// the view that owns it.
func NewMarketView(cfg *config.Config, log ports.Logger, backend *Backend, factory chart.Factory, deps ViewDeps) (*app.MarketView, error) {
	feed, err := market.NewFeedConnection(market.FeedConfig{
		Transport:            backend.Transport,
		Logger:               log,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feed connection: %w", err)
	}
	return app.NewMarketView(app.ViewConfig{
		API:     backend.API,
		Feed:    feed,
		Journal: deps.Journal,
		Logger:  log,
		Chart:   factory,
		ChartOptions: chart.Options{
			Width:         cfg.ChartWidth,
			Height:        cfg.ChartHeight,
			VisiblePoints: cfg.ChartVisiblePoints,
			RightMargin:   cfg.ChartRightMargin,
		},
		RequestTimeout: cfg.RequestTimeout,
		OnSold:         deps.OnSold,
	})
}
