package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/padifield/ricemart/internal/domain"
)

// CreateOrderRequest is the wire contract for order creation. The client may
// propose an order number for display continuity, but the server always
// generates its own.
type CreateOrderRequest struct {
	CustomerID      string               `json:"customer_id"`
	OrderNumber     string               `json:"order_number,omitempty"`
	Items           []domain.OrderItem   `json:"items"`
	ShippingAddress domain.Address       `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	CouponCode      string               `json:"coupon_code,omitempty"`
}

// Client talks to the orders service over HTTP. It is used by the cart
// service at checkout and by the worker when reacting to events.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) Create(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("orders service returned status %d: %s", resp.StatusCode, body["error"])
	}

	var order domain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode created order: %w", err)
	}

	return &order, nil
}

func (c *Client) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, note, actor string) error {
	data, err := json.Marshal(map[string]string{
		"status": string(status),
		"note":   note,
		"actor":  actor,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/orders/%s/status", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orders service returned status %d for order %s", resp.StatusCode, orderID)
	}

	return nil
}

func (c *Client) Cancel(ctx context.Context, orderID, reason, actor string) error {
	data, err := json.Marshal(map[string]string{
		"reason": reason,
		"actor":  actor,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/orders/%s/cancel", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orders service returned status %d for order %s", resp.StatusCode, orderID)
	}

	return nil
}
