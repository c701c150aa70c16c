// Package market is the client for the market-creation backend, which signs
// and submits the on-chain market creation on the bot's behalf.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edgard/marketbot/internal/database"
)

// Request is a validated market to create.
type Request struct {
	Params            *database.MarketParams
	FeeReceiverWallet string
}

// Result is the outcome of a creation attempt. Error is set only when
// Success is false.
type Result struct {
	Success    bool
	MarketID   string
	MarketPDA  string
	Signatures []string
	Error      string
}

// URL returns the public page of a created market.
func URL(baseURL, marketPDA string) string {
	return strings.TrimRight(baseURL, "/") + "/" + marketPDA
}

type resolverPayload struct {
	Type   string   `json:"type"`
	Voters []string `json:"voters,omitempty"`
}

type createPayload struct {
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	MarketQuestion string          `json:"marketQuestion"`
	EventDeadline  time.Time       `json:"eventDeadline"`
	Description    string          `json:"description,omitempty"`
	Rules          string          `json:"rules,omitempty"`
	ImageURI       string          `json:"imageUri,omitempty"`
	ResolverType   resolverPayload `json:"resolverType"`
	FeeReceiver    string          `json:"feeReceiver"`
}

type createResponse struct {
	MarketID   json.RawMessage `json:"marketId"`
	MarketPDA  string          `json:"marketPda"`
	Signatures []string        `json:"signatures"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
}

// HTTPClient creates markets through the backend's REST API.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient returns a client posting to endpoint. A zero timeout means 60s.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "market_client"),
	}
}

func toPayload(req Request) createPayload {
	p := req.Params
	resolver := resolverPayload{Type: "uma"}
	if p.Resolver.Type == database.ResolverWalletVote {
		resolver = resolverPayload{Type: "walletVote", Voters: p.Resolver.Voters}
	}
	return createPayload{
		Name:           p.Question,
		Category:       p.Category,
		MarketQuestion: p.Question,
		EventDeadline:  p.EndDate.UTC(),
		Description:    p.Description,
		Rules:          p.Rules,
		ImageURI:       p.ImageURI,
		ResolverType:   resolver,
		FeeReceiver:    req.FeeReceiverWallet,
	}
}

// CreateMarket submits req. It never returns a Go error; every failure is
// reported as an unsuccessful Result whose Error is fit to show the requester.
func (c *HTTPClient) CreateMarket(ctx context.Context, req Request) Result {
	if req.Params == nil {
		return Result{Error: "missing market parameters"}
	}

	log := c.logger.With("question", req.Params.Question, "category", req.Params.Category)
	log.InfoContext(ctx, "Creating market", "end_date", req.Params.EndDate)

	res, err := c.post(ctx, toPayload(req))
	if err != nil {
		log.ErrorContext(ctx, "Market creation failed", "error", err)
		return Result{Error: err.Error()}
	}

	log.InfoContext(ctx, "Market created", "market_id", res.MarketID, "market_pda", res.MarketPDA)
	return res
}

func (c *HTTPClient) post(ctx context.Context, payload createPayload) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("market service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var decoded createResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil {
			if msg := firstNonEmpty(decoded.Error, decoded.Message); msg != "" {
				return Result{}, fmt.Errorf("%s", msg)
			}
		}
		return Result{}, fmt.Errorf("market service returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if decodeErr != nil {
		return Result{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	if decoded.MarketPDA == "" {
		return Result{}, fmt.Errorf("market service response has no market address")
	}

	return Result{
		Success:    true,
		MarketID:   strings.Trim(string(decoded.MarketID), `"`),
		MarketPDA:  decoded.MarketPDA,
		Signatures: decoded.Signatures,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
