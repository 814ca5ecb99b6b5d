package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// HTTPConfig configures the classifier client.
type HTTPConfig struct {
	URL               string        // classifier endpoint, receives POST {"text": ...}
	RequestsPerSecond float64       // client-side rate limit, 0 disables
	Timeout           time.Duration // overall per-request timeout including the retry
}

// label is one classifier head output.
type label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// classifierResponse mirrors the classifier service payload: one top label
// per model head.
type classifierResponse struct {
	Sentiment label `json:"sentiment"`
	Toxic     label `json:"toxic"`
	Emotion   label `json:"emotion"`
}

// HTTPProvider scores text with a remote classifier service.
type HTTPProvider struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	policy  Policy
}

// NewHTTPProvider builds a provider whose transport retries once on
// connection errors, 429 and 5xx responses.
func NewHTTPProvider(cfg HTTPConfig, policy Policy, logger *slog.Logger) *HTTPProvider {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	if logger != nil {
		retryClient.Logger = logger.With("component", "scoring")
	} else {
		retryClient.Logger = nil
	}
	client := retryClient.StandardClient()
	client.Timeout = cfg.Timeout

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPProvider{
		url:     cfg.URL,
		client:  client,
		limiter: limiter,
		policy:  policy,
	}
}

// Score implements Provider.
func (p *HTTPProvider) Score(ctx context.Context, text string) (Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("scoring: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Result{}, fmt.Errorf("scoring: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(string(body)))
	if err != nil {
		return Result{}, fmt.Errorf("scoring: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("scoring: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("scoring: classifier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out classifierResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("scoring: decode response: %w", err)
	}
	if out.Sentiment.Label == "" {
		return Result{}, fmt.Errorf("scoring: response has no sentiment label")
	}
	return p.toResult(out), nil
}

func (p *HTTPProvider) toResult(out classifierResponse) Result {
	// Sentiment is signed by label: positive scores stay, negative ones flip.
	var sentiment float64
	switch strings.ToUpper(out.Sentiment.Label) {
	case "POSITIVE":
		sentiment = out.Sentiment.Score
	case "NEGATIVE":
		sentiment = -out.Sentiment.Score
	}

	var toxicity float64
	if strings.EqualFold(out.Toxic.Label, "toxic") {
		toxicity = out.Toxic.Score
	}

	res := Result{
		Toxicity:       toxicity,
		SentimentLabel: strings.ToUpper(out.Sentiment.Label),
		SentimentScore: sentiment,
		EmotionLabel:   strings.ToLower(out.Emotion.Label),
	}
	res.IsNegative = p.policy.IsNegative(res)
	return res
}
