package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/padifield/ricemart/internal/domain"
)

// Client talks to the catalog service over HTTP. Only the featured listing
// retries: transient failures there degrade the storefront landing page, so
// it gets a bounded fixed-delay retry. Everything else fails fast and is
// surfaced once to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// featured fetch retry policy
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// GetProduct fetches a single product. A missing product is (nil, nil).
func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/"+id, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned status %d for product %s", resp.StatusCode, id)
	}

	var product domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}

	return &product, nil
}

// Featured fetches the featured product list, retrying up to MaxAttempts
// with a fixed delay between attempts.
func (c *Client) Featured(ctx context.Context) ([]domain.Product, error) {
	var lastErr error

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		products, err := c.fetchFeatured(ctx)
		if err == nil {
			return products, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("featured products after %d attempts: %w", c.MaxAttempts, lastErr)
}

func (c *Client) fetchFeatured(ctx context.Context) ([]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products?featured=true", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	var page ProductPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}

	return page.Items, nil
}

// Reserve decrements stock for a product. Insufficient stock maps back to
// ErrInsufficientStock so callers can branch on it.
func (c *Client) Reserve(ctx context.Context, id string, quantity int) error {
	return c.postStock(ctx, id, "reserve", quantity)
}

// Release returns stock for a product.
func (c *Client) Release(ctx context.Context, id string, quantity int) error {
	return c.postStock(ctx, id, "release", quantity)
}

func (c *Client) postStock(ctx context.Context, id, op string, quantity int) error {
	data, err := json.Marshal(map[string]int{"quantity": quantity})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/products/%s/stock/%s", c.baseURL, id, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s stock for product %s: %w", op, id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("product %s: %w", id, ErrInsufficientStock)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog service returned status %d for product %s", resp.StatusCode, id)
	}

	return nil
}
