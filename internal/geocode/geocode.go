// Package geocode resolves free-text affiliation strings to countries using
// an external geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biolitmap/bibliometrics-service/internal/domain"
	"github.com/biolitmap/bibliometrics-service/internal/extapi"
)

const (
	// DefaultBaseURL is the default base URL for the geocoding API.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultRateLimit is the default rate limit in requests per second.
	// Public Nominatim instances require at most one request per second.
	DefaultRateLimit = 1.0

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second
)

// CountryResolver maps an affiliation string to a country name.
type CountryResolver interface {
	// ResolveCountry returns the country for the given affiliation. It
	// returns domain.ErrNotFound when the affiliation cannot be located.
	ResolveCountry(ctx context.Context, affiliation string) (string, error)
}

// Config contains configuration options for the HTTP resolver.
type Config struct {
	// BaseURL is the base URL for the API. Defaults to DefaultBaseURL.
	BaseURL string

	// Timeout is the HTTP request timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to
	// DefaultRateLimit.
	RateLimit float64
}

// HTTPResolver queries a Nominatim-style search endpoint.
type HTTPResolver struct {
	client *extapi.Client
	config Config
}

var _ CountryResolver = (*HTTPResolver)(nil)

// NewHTTPResolver creates a resolver with the given configuration. If client
// is nil, a rate-limited client is created from the configuration.
func NewHTTPResolver(cfg Config, client *extapi.Client) *HTTPResolver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}

	if client == nil {
		client = extapi.NewClient(extapi.ClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: 1,
		})
	}

	return &HTTPResolver{
		client: client,
		config: cfg,
	}
}

// searchResult mirrors one entry of the search response payload.
type searchResult struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Country string `json:"country"`
	} `json:"address"`
}

// ResolveCountry geocodes the affiliation and returns the country of the
// best-ranked match.
func (r *HTTPResolver) ResolveCountry(ctx context.Context, affiliation string) (string, error) {
	affiliation = strings.TrimSpace(affiliation)
	if affiliation == "" {
		return "", fmt.Errorf("%w: empty affiliation", domain.ErrInvalidInput)
	}

	q := url.Values{}
	q.Set("q", affiliation)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", "1")
	q.Set("accept-language", "en")
	searchURL := fmt.Sprintf("%s/search?%s", r.config.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: geocoder returned status %d",
			domain.ErrServiceUnavailable, resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&results); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(results) == 0 || results[0].Address.Country == "" {
		return "", domain.NewNotFoundError("country", affiliation)
	}

	return results[0].Address.Country, nil
}
