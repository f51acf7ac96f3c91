// Package dataprovider adapts the external data-provider HTTP API (a
// plain-text decimal TVL reading per protocol) for both specification
// validation and answer computation.
package dataprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/carrot-kpi/defillama-answerer/pkg/httpclient"
)

// requestsPerSecond bounds calls to the data provider, per §5.
const requestsPerSecond = 7

const requestTimeout = 30 * time.Second

// Client fetches GET /tvl/{protocol} from the configured data provider.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// New builds a Client against baseURL (e.g. "https://api.llama.fi").
func New(baseURL string) *Client {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	return &Client{
		http:    httpclient.New("dataprovider", limiter, requestTimeout),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GetTVL fetches the current TVL for protocol as the provider's raw
// plain-text decimal string. Used both to probe for specification
// validation and to compute the answer.
func (c *Client) GetTVL(ctx context.Context, protocol string) (string, error) {
	url := fmt.Sprintf("%s/tvl/%s", c.baseURL, protocol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("could not build tvl request: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("could not fetch tvl for protocol %q: %w", protocol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("data provider returned status %d for protocol %q", resp.StatusCode, protocol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read tvl response body: %w", err)
	}

	return strings.TrimSpace(string(body)), nil
}
