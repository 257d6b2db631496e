package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ecoStock/internal/domain"
	"ecoStock/internal/ports"
)

const (
	stocksPath   = "/api/v1/eco-stocks"
	maxErrorBody = 64 << 10
)

// Client implements ports.MarketAPI against the eco-stock REST backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration specific to the REST adapter.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	Logger    ports.Logger
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// New creates a new REST client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for REST client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ports.ErrConfigurationError)
	}
	if cfg.AuthToken == "" {
		cfg.Logger.Warn(context.Background(), "AuthToken is empty. Holding and sell endpoints will be rejected.")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: cfg.BaseURL, token: cfg.AuthToken, httpClient: hc, logger: cfg.Logger}, nil
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sellRequest struct {
	ClientOrderID uuid.UUID       `json:"clientOrderId"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
}

// ListSymbols fetches the tradable symbols.
func (c *Client) ListSymbols(ctx context.Context) ([]domain.Symbol, error) {
	op := "ListSymbols"
	var out []domain.Symbol
	if err := c.do(ctx, op, http.MethodGet, stocksPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSnapshot fetches the chart snapshot for a symbol.
func (c *Client) GetSnapshot(ctx context.Context, symbolID int64) (*domain.Snapshot, error) {
	op := "GetSnapshot"
	var out domain.Snapshot
	if err := c.do(ctx, op, http.MethodGet, symbolPath(symbolID, "chart"), nil, &out); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ports.ErrUnknownSymbol, err)
		}
		return nil, fmt.Errorf("%w: %w", ports.ErrSnapshotUnavailable, err)
	}
	if out.SymbolID == 0 {
		out.SymbolID = symbolID
	}
	return &out, nil
}

// GetHolding fetches the user's holding. A 404 means nothing was ever bought.
func (c *Client) GetHolding(ctx context.Context, symbolID int64) (*domain.HoldingSnapshot, error) {
	op := "GetHolding"
	var out domain.HoldingSnapshot
	if err := c.do(ctx, op, http.MethodGet, symbolPath(symbolID, "holding"), nil, &out); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.logger.Debug(ctx, "No holding record, treating as empty", map[string]interface{}{"symbolId": symbolID})
			return &domain.HoldingSnapshot{SymbolID: symbolID}, nil
		}
		return nil, err
	}
	if out.SymbolID == 0 {
		out.SymbolID = symbolID
	}
	return &out, nil
}

// SubmitSell posts a sell order. Client errors unwrap to ports.ErrSellRejected.
func (c *Client) SubmitSell(ctx context.Context, order domain.SellOrder) (*domain.SellReceipt, error) {
	op := "SubmitSell"
	body := sellRequest{ClientOrderID: order.ClientOrderID, Quantity: order.Quantity, Price: order.PriceAtConfirmation}
	var out domain.SellReceipt
	if err := c.do(ctx, op, http.MethodPost, symbolPath(order.SymbolID, "sell"), body, &out); err != nil {
		var apiErr *ports.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", ports.ErrSellRejected, err)
		}
		return nil, err
	}
	if out.SymbolID == 0 {
		out.SymbolID = order.SymbolID
	}
	if out.Quantity == 0 {
		out.Quantity = order.Quantity
	}
	if out.Proceeds.IsZero() {
		out.Proceeds = order.ExpectedProceeds()
	}
	return &out, nil
}

func symbolPath(symbolID int64, resource string) string {
	return stocksPath + "/" + strconv.FormatInt(symbolID, 10) + "/" + resource
}

// do performs one request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleError(ctx, decodeAPIError(resp), op)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.handleError(ctx, fmt.Errorf("decode response: %w", err), op)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *ports.APIError {
	apiErr := &ports.APIError{Status: resp.StatusCode, Kind: statusKind(resp.StatusCode)}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	return apiErr
}

func statusKind(status int) error {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusConflict:
		return ports.ErrInvalidRequest
	case status == http.StatusUnauthorized:
		return ports.ErrAuthenticationFailed
	case status == http.StatusForbidden:
		return ports.ErrPermissionDenied
	case status == http.StatusNotFound:
		return ports.ErrNotFound
	case status == http.StatusTooManyRequests:
		return ports.ErrRateLimited
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		return ports.ErrTimeout
	case status >= 500:
		return ports.ErrServiceUnavailable
	default:
		return ports.ErrUnknown
	}
}

// handleError translates transport and API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *ports.APIError
	if errors.As(err, &apiErr) {
		fields["status"] = apiErr.Status
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		if apiErr.Status == http.StatusNotFound {
			c.logger.Debug(ctx, fmt.Sprintf("%s returned not found", operation), fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	var mapped error
	switch {
	case errors.Is(err, context.Canceled):
		mapped = ports.ErrContextCanceled
	case errors.Is(err, context.DeadlineExceeded):
		mapped = ports.ErrTimeout
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			mapped = ports.ErrTimeout
		} else {
			mapped = ports.ErrServiceUnavailable
		}
	}
	if mapped == ports.ErrContextCanceled {
		c.logger.Debug(ctx, fmt.Sprintf("%s canceled", operation), fields)
	} else {
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	}
	return fmt.Errorf("%s failed: %w: %w", operation, mapped, err)
}
