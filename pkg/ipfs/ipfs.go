// Package ipfs fetches specifications by content identifier from an IPFS
// gateway, and optionally pins them on web3.storage so they survive
// beyond the gateway's own cache.
package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carrot-kpi/defillama-answerer/pkg/httpclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// specificationFetchBudget bounds the total wall-clock time spent
// retrying a specification fetch, per §5/§4.3.
const specificationFetchBudget = 6 * time.Second

const requestTimeout = 30 * time.Second

// Client fetches specification JSON from an IPFS gateway.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// New builds a Client against the given IPFS gateway base URL. The
// gateway is not rate limited (§5: "IPFS unlimited").
func New(baseURL string) *Client {
	return &Client{
		http:    httpclient.New("ipfs", nil, requestTimeout),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// FetchSpecification retrieves and parses the specification stored at
// cid. Network failures are retried with exponential backoff up to
// specificationFetchBudget; a malformed response is a permanent failure
// and is not retried.
func (c *Client) FetchSpecification(ctx context.Context, cid string) (specification.Specification, error) {
	var spec specification.Specification

	err := httpclient.RetryWithBudget(ctx, specificationFetchBudget, func() error {
		url := fmt.Sprintf("%s/api/v0/cat?arg=%s", c.baseURL, cid)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return httpclient.PermanentError(err)
		}

		resp, err := c.http.Do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ipfs gateway returned status %d for cid %s", resp.StatusCode, cid)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(body, &spec); err != nil {
			return httpclient.PermanentError(fmt.Errorf("malformed specification json for cid %s: %w", cid, err))
		}
		return nil
	})
	if err != nil {
		return specification.Specification{}, fmt.Errorf("could not fetch specification for cid %s: %w", cid, err)
	}

	return spec, nil
}
