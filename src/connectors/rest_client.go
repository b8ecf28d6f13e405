// REST API CLIENT FOR THE BROKERAGE ORDER API
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	// Default retry configuration
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	brokerTimeLayout = "2006-01-02 15:04:05"
)

// APIResponse is the envelope every broker endpoint responds with.
type APIResponse struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

type wireOrder struct {
	OrderID           string  `json:"order_id"`
	Status            string  `json:"status"`
	FilledQuantity    float64 `json:"filled_quantity"`
	PendingQuantity   float64 `json:"pending_quantity"`
	AveragePrice      float64 `json:"average_price"`
	StatusMessage     string  `json:"status_message"`
	OrderTimestamp    string  `json:"order_timestamp"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
}

// RESTClient talks to the brokerage order API. One client is shared across
// users; the per-user access token is passed on every call.
type RESTClient struct {
	apiKey  string
	baseURL string
	http    *resty.Client
}

var _ Broker = (*RESTClient)(nil)

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

func NewRESTClient(apiKey, baseURL string) *RESTClient {
	config := GetConfig()

	retryCount := config.RetryAttempts - 1
	if retryCount < 0 {
		retryCount = defaultRetryAttempts - 1
	}

	if baseURL == "" {
		baseURL = config.BrokerBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(config.HTTPTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RESTClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    httpClient,
	}
}

func (c *RESTClient) doRequest(ctx context.Context, accessToken, method, path string, form map[string]string) (*APIResponse, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Broker-Version", "3").
		SetHeader("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, accessToken))

	if form != nil {
		req = req.SetFormData(form)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("broker request %s %s failed: %w", method, path, err)
	}

	var api APIResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return nil, fmt.Errorf("broker response decode failed: %w", err)
	}

	if resp.IsError() || !strings.EqualFold(api.Status, "success") {
		return &api, fmt.Errorf("broker error (%d %s): %s", resp.StatusCode(), api.ErrorType, api.Message)
	}

	return &api, nil
}

// PlaceOrder submits a regular order and returns the broker order id.
func (c *RESTClient) PlaceOrder(ctx context.Context, accessToken string, params OrderParams) (string, error) {
	form := map[string]string{
		"tradingsymbol":    params.Symbol,
		"transaction_type": params.Side,
		"quantity":         fmt.Sprintf("%d", int64(params.Quantity)),
		"order_type":       params.OrderKind,
	}
	if params.Exchange != "" {
		form["exchange"] = params.Exchange
	}
	if params.Product != "" {
		form["product"] = params.Product
	}
	if params.Validity != "" {
		form["validity"] = params.Validity
	}
	if params.Price != nil {
		form["price"] = fmt.Sprintf("%f", *params.Price)
	}
	if params.TriggerPrice != nil {
		form["trigger_price"] = fmt.Sprintf("%f", *params.TriggerPrice)
	}
	if params.ClientTag != "" {
		form["tag"] = params.ClientTag
	}

	api, err := c.doRequest(ctx, accessToken, resty.MethodPost, "/orders/regular", form)
	if err != nil {
		return "", err
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(api.Data, &data); err != nil {
		return "", fmt.Errorf("broker place order decode failed: %w", err)
	}
	if data.OrderID == "" {
		return "", fmt.Errorf("broker returned no order id")
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   params.Symbol,
		"side":     params.Side,
		"qty":      params.Quantity,
		"order_id": data.OrderID,
	}).Info("order placed on broker")

	return data.OrderID, nil
}

// GetLatestOrderState fetches the order's history and returns the most
// recent entry, or (nil, nil) when the broker does not know the order.
func (c *RESTClient) GetLatestOrderState(ctx context.Context, accessToken, orderID string) (*OrderSnapshot, error) {
	api, err := c.doRequest(ctx, accessToken, resty.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		if api != nil && strings.EqualFold(api.ErrorType, "OrderNotFoundException") {
			return nil, nil
		}
		return nil, err
	}

	var history []wireOrder
	if err := json.Unmarshal(api.Data, &history); err != nil {
		return nil, fmt.Errorf("broker order history decode failed: %w", err)
	}
	if len(history) == 0 {
		return nil, nil
	}

	snap := toSnapshot(history[len(history)-1])
	return &snap, nil
}

// GetOrders fetches the broker's entire order list for the session.
func (c *RESTClient) GetOrders(ctx context.Context, accessToken string) ([]OrderSnapshot, error) {
	api, err := c.doRequest(ctx, accessToken, resty.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}

	var wire []wireOrder
	if err := json.Unmarshal(api.Data, &wire); err != nil {
		return nil, fmt.Errorf("broker order list decode failed: %w", err)
	}

	snapshots := make([]OrderSnapshot, 0, len(wire))
	for _, w := range wire {
		snapshots = append(snapshots, toSnapshot(w))
	}

	return snapshots, nil
}

// CancelOrder requests cancellation of an open order.
func (c *RESTClient) CancelOrder(ctx context.Context, accessToken, orderID string) error {
	_, err := c.doRequest(ctx, accessToken, resty.MethodDelete, "/orders/regular/"+orderID, nil)
	return err
}

func toSnapshot(w wireOrder) OrderSnapshot {
	return OrderSnapshot{
		OrderID:           w.OrderID,
		Status:            w.Status,
		FilledQuantity:    w.FilledQuantity,
		PendingQuantity:   w.PendingQuantity,
		AveragePrice:      w.AveragePrice,
		StatusMessage:     w.StatusMessage,
		OrderTimestamp:    parseBrokerTime(w.OrderTimestamp),
		ExchangeTimestamp: parseBrokerTime(w.ExchangeTimestamp),
	}
}

func parseBrokerTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(brokerTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
