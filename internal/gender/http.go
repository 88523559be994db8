package gender

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/extapi"
	"github.com/biolitmap/bibliometrics-service/internal/names"
)

const (
	// DefaultBaseURL is the default base URL for the gender inference API.
	DefaultBaseURL = "https://api.genderize.io"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 5.0

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultMinConfidence is the minimum probability for accepting an
	// inferred gender. Below it the lookup is treated as inconclusive.
	DefaultMinConfidence = 0.6

	// apiKeyHeader is the header name for the provider API key.
	apiKeyHeader = "X-API-Key"
)

// Config contains configuration options for the HTTP gender provider.
type Config struct {
	// BaseURL is the base URL for the API. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	APIKey string

	// Timeout is the HTTP request timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to
	// DefaultRateLimit.
	RateLimit float64

	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int

	// MinConfidence is the minimum probability for accepting an inferred
	// gender. Defaults to DefaultMinConfidence.
	MinConfidence float64
}

// HTTPProvider queries a genderize-style HTTP API.
type HTTPProvider struct {
	client *extapi.Client
	config Config
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider with the given configuration. If client
// is nil, a rate-limited client is created from the configuration.
func NewHTTPProvider(cfg Config, client *extapi.Client) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}

	if client == nil {
		client = extapi.NewClient(extapi.ClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			MaxRetries:   cfg.MaxRetries,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		})
	}

	return &HTTPProvider{
		client: client,
		config: cfg,
	}
}

// apiResponse mirrors the provider's JSON payload.
type apiResponse struct {
	Name        string  `json:"name"`
	Gender      *string `json:"gender"`
	Probability float64 `json:"probability"`
	Count       int     `json:"count"`
}

// Infer looks up the gender for the first name extracted from fullName.
func (p *HTTPProvider) Infer(ctx context.Context, fullName string) (Result, error) {
	first, _ := names.SplitParts(names.Normalize(fullName))
	if first == "" {
		return Result{
			Gender: domain.GenderUnknown,
			Failed: true,
			Reason: "no first name",
		}, nil
	}

	q := url.Values{}
	q.Set("name", first)
	lookupURL := fmt.Sprintf("%s/?%s", p.config.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return Result{}, fmt.Errorf("%w: gender API returned status %d: %s",
			domain.ErrServiceUnavailable, resp.StatusCode, string(body))
	}

	var payload apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decoding response: %w", err)
	}

	if payload.Gender == nil || payload.Count == 0 {
		return Result{
			Gender: domain.GenderUnknown,
			Failed: true,
			Reason: "name not found",
		}, nil
	}

	g := domain.ParseGender(*payload.Gender)
	if !g.Known() {
		return Result{
			Gender: domain.GenderUnknown,
			Failed: true,
			Reason: fmt.Sprintf("unrecognized gender %q", *payload.Gender),
		}, nil
	}

	if payload.Probability < p.config.MinConfidence {
		return Result{
			Gender:     domain.GenderUnknown,
			Confidence: payload.Probability,
			Failed:     true,
			Reason:     fmt.Sprintf("probability %.2f below threshold", payload.Probability),
		}, nil
	}

	return Result{
		Gender:     g,
		Confidence: payload.Probability,
	}, nil
}
