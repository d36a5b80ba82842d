package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPCartClient clears a user's cart once an order settles. The cart
// service is out of scope (spec.md §1); this is the one operation
// payments.CartClearer needs from it. Product pricing itself is read
// locally (internal/infrastructure/repositories.OrderRepository also
// implements payments.Catalog against a mirrored products table) since
// the catalog's authoritative price feed is assumed replicated there.
type HTTPCartClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPCartClient(baseURL string) *HTTPCartClient {
	return &HTTPCartClient{
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPCartClient) ClearCart(ctx context.Context, userID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/carts/"+url.PathEscape(userID), nil)
	if err != nil {
		return fmt.Errorf("cart client: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cart client: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("cart client: status %d", resp.StatusCode)
	}
	return nil
}
