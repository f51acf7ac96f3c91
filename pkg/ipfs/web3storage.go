package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carrot-kpi/defillama-answerer/pkg/httpclient"
)

const web3StorageBaseURL = "https://api.web3.storage"

// web3StoragePinBudget bounds pinning retries, per §5.
const web3StoragePinBudget = 6 * time.Second

// Web3StorageClient pins previously-fetched specifications on
// web3.storage so they outlive the IPFS gateway's own cache. Pinning is
// a best-effort step gated on the operator configuring an API key; see
// SPEC_FULL.md's SUPPLEMENTED FEATURES.
type Web3StorageClient struct {
	http   *httpclient.Client
	apiKey string
}

// NewWeb3StorageClient builds a client authenticated with apiKey.
func NewWeb3StorageClient(apiKey string) *Web3StorageClient {
	return &Web3StorageClient{
		http:   httpclient.New("web3storage", nil, requestTimeout),
		apiKey: apiKey,
	}
}

type pinRequest struct {
	CID string `json:"cid"`
}

type pinResponse struct {
	CID string `json:"cid"`
}

// Pin asks web3.storage to pin cid, retrying transient failures up to
// web3StoragePinBudget. A response naming a different CID than requested
// is a permanent error.
func (w *Web3StorageClient) Pin(ctx context.Context, cid string) error {
	return httpclient.RetryWithBudget(ctx, web3StoragePinBudget, func() error {
		payload, err := json.Marshal(pinRequest{CID: cid})
		if err != nil {
			return httpclient.PermanentError(fmt.Errorf("could not encode pin request: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, web3StorageBaseURL+"/pins", bytes.NewReader(payload))
		if err != nil {
			return httpclient.PermanentError(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+w.apiKey)

		resp, err := w.http.Do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("web3.storage returned status %d pinning cid %s", resp.StatusCode, cid)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		var pr pinResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			return httpclient.PermanentError(fmt.Errorf("malformed pin response for cid %s: %w", cid, err))
		}
		if pr.CID != cid {
			return httpclient.PermanentError(fmt.Errorf("web3.storage pinned cid %s, expected %s", pr.CID, cid))
		}

		return nil
	})
}
