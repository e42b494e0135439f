// Package stakereg is the REST client for the external restaking registry. It
// reads operator registration state and forwards slashing reports; stake
// itself never moves through this process.
package stakereg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// Client is the REST client for the restaking registry API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a registry client.
//
// baseURL is the API root, e.g. "https://stake-registry.internal/v1".
// apiKey authenticates slashing reports; read endpoints accept it too.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsRegistered implements domain.StakeRegistry. It reports whether the account
// holds an active stake registration.
func (c *Client) IsRegistered(ctx context.Context, account common.Address) (bool, error) {
	path := fmt.Sprintf("/operators/%s", url.PathEscape(account.Hex()))

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		// An unknown operator is simply not registered.
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("stakereg: lookup %s: %w", account.Hex(), err)
	}

	var resp struct {
		Operator struct {
			Address string `json:"address"`
			Active  bool   `json:"active"`
		} `json:"operator"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("stakereg: decode operator: %w", err)
	}

	return resp.Operator.Active, nil
}

// ReportSlash implements domain.StakeRegistry. It files a slashing report for
// the given account; the registry executes the slash against posted stake.
func (c *Client) ReportSlash(ctx context.Context, account common.Address, amount *big.Int, auctionID string) error {
	report := struct {
		Address   string `json:"address"`
		Amount    string `json:"amount"`
		AuctionID string `json:"auction_id"`
		Reason    string `json:"reason"`
	}{
		Address:   account.Hex(),
		Amount:    amount.String(),
		AuctionID: auctionID,
		Reason:    "auction_default",
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/slashes", report); err != nil {
		return fmt.Errorf("stakereg: report slash for %s: %w", account.Hex(), err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, sends and reads an HTTP request against the registry API.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s (%s)", domain.ErrAlreadySlashed, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("stakereg: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
