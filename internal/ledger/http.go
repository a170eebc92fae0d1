package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/convergence/internal/ir"
)

// DefaultTimeout bounds one gateway request.
const DefaultTimeout = 60 * time.Second

// HTTPClient talks to a JSON ledger gateway:
//
//	POST {endpoint}/claims          body: Claim            -> {"tx_ref": "..."}
//	GET  {endpoint}/claims/{hash}   200 {"tx_ref": "..."}  or 404
//
// Submissions are paced by a token bucket so a backlog drained after an
// outage does not burst into the gateway.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request timeout. Default: 60s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithRate limits submissions to perSecond with the given burst.
// Default: 1 per second, burst 1.
func WithRate(perSecond float64, burst int) HTTPOption {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewHTTPClient creates a client for the gateway at endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitRequest struct {
	AgentID       int64  `json:"agent_id"`
	Identity      string `json:"identity"`
	Score         int64  `json:"score"`
	ScoreDecimals int    `json:"score_decimals"`
	Tag1          string `json:"tag1"`
	Tag2          string `json:"tag2"`
	URI           string `json:"uri"`
	Hash          string `json:"hash"`
}

type claimResponse struct {
	TxRef string `json:"tx_ref"`
	Error string `json:"error,omitempty"`
}

// SubmitClaim posts c to the gateway. A 4xx response wraps ErrRejected.
func (c *HTTPClient) SubmitClaim(ctx context.Context, claim Claim) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("submit claim: rate limit: %w", err)
	}

	body, err := json.Marshal(submitRequest{
		AgentID:       claim.AgentID,
		Identity:      claim.Identity,
		Score:         claim.Score,
		ScoreDecimals: claim.ScoreDecimals,
		Tag1:          claim.Tag1,
		Tag2:          claim.Tag2,
		URI:           claim.URI,
		Hash:          "0x" + claim.Hash.String(),
	})
	if err != nil {
		return "", fmt.Errorf("submit claim: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/claims", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submit claim: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit claim: http request: %w", err)
	}
	defer resp.Body.Close()

	var out claimResponse
	if err := decodeResponse(resp, &out); err != nil {
		return "", fmt.Errorf("submit claim %s: %w", claim.Identity, err)
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("submit claim %s: gateway returned no tx_ref", claim.Identity)
	}
	return out.TxRef, nil
}

// FindClaim asks the gateway whether a claim with hash has landed.
func (c *HTTPClient) FindClaim(ctx context.Context, hash ir.ContentHash) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/claims/0x"+hash.String(), nil)
	if err != nil {
		return "", false, fmt.Errorf("find claim: create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("find claim: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	var out claimResponse
	if err := decodeResponse(resp, &out); err != nil {
		return "", false, fmt.Errorf("find claim %s: %w", hash, err)
	}
	return out.TxRef, out.TxRef != "", nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeResponse(resp *http.Response, out *claimResponse) error {
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
