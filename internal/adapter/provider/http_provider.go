// Package provider holds the fulfillment providers that deliver digital goods.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Request headers carried by every delivery call.
const (
	HeaderTimestamp      = "X-Storefront-Timestamp"
	HeaderSignature      = "X-Storefront-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

const maxErrorBody = 512

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures an HTTPProvider.
type Options struct {
	Name      string
	BaseURL   string
	Secret    string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	Burst     int
}

// HTTPProvider delivers through a supplier API: a signed JSON POST to
// {BaseURL}/deliveries answered with {"payload": "..."}.
type HTTPProvider struct {
	name    string
	url     string
	secret  string
	client  HTTPClient
	signer  ports.SignatureService
	limiter *rate.Limiter
	now     func() time.Time
	log     zerolog.Logger
}

// NewHTTPProvider creates an HTTPProvider. A nil client gets an *http.Client
// with opts.Timeout.
func NewHTTPProvider(opts Options, signer ports.SignatureService, client HTTPClient, log zerolog.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}
	return &HTTPProvider{
		name:    opts.Name,
		url:     strings.TrimRight(opts.BaseURL, "/") + "/deliveries",
		secret:  opts.Secret,
		client:  client,
		signer:  signer,
		limiter: limiter,
		now:     time.Now,
		log:     log.With().Str("provider", opts.Name).Logger(),
	}
}

// Name implements ports.FulfillmentProvider.
func (p *HTTPProvider) Name() string {
	return p.name
}

type deliveryResponse struct {
	Payload string `json:"payload"`
}

// Deliver implements ports.FulfillmentProvider. Retrying is the queue's job;
// Deliver makes exactly one call.
func (p *HTTPProvider) Deliver(ctx context.Context, req ports.DeliveryRequest) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("provider %s: rate limit: %w", p.name, err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("provider %s: marshal request: %w", p.name, err)
	}

	ts := p.now().Unix()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider %s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	httpReq.Header.Set(HeaderSignature, p.signer.Sign(p.secret, SignedPayload(ts, body)))
	httpReq.Header.Set(HeaderIdempotencyKey, "fulfillment:"+req.FulfillmentID.String())

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	p.log.Debug().
		Str("fulfillment_id", req.FulfillmentID.String()).
		Int("attempt", req.Attempt).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("delivery call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("provider %s: status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out deliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("provider %s: decode response: %w", p.name, err)
	}
	return out.Payload, nil
}

// SignedPayload is the string a delivery signature covers:
// "<unix timestamp>.<body>".
func SignedPayload(timestamp int64, body []byte) string {
	return strconv.FormatInt(timestamp, 10) + "." + string(body)
}
