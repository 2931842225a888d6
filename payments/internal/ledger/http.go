package ledger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/i3lani/paywatch/common/config"
	"github.com/i3lani/paywatch/payments/internal/models"
)

const maxResponseBytes = 4 << 20

// parseFunc extracts transactions from a provider response body.
type parseFunc func(body []byte) ([]models.RawTransaction, error)

// urlFunc builds the request URL for an account.
type urlFunc func(baseURL, account string, limit int) string

// HTTPProvider is a Provider backed by an indexer's HTTP JSON API.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	authHeader string
	client     *http.Client
	limiter    *rate.Limiter
	buildURL   urlFunc
	parse      parseFunc
}

// Option configures an HTTPProvider.
type Option func(*HTTPProvider)

// WithAPIKey sends key in the provider's API key header.
func WithAPIKey(key string) Option {
	return func(p *HTTPProvider) { p.apiKey = key }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) { p.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.client = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit paces requests to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *HTTPProvider) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func newHTTPProvider(name, baseURL, authHeader string, buildURL urlFunc, parse parseFunc, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		buildURL:   buildURL,
		parse:      parse,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// FetchRecent requests and parses the latest transactions of account.
func (p *HTTPProvider) FetchRecent(ctx context.Context, account string, limit int) ([]models.RawTransaction, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.buildURL(p.baseURL, account, limit), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		if p.authHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		} else {
			req.Header.Set(p.authHeader, p.apiKey)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	txs, err := p.parse(body)
	if err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	for i := range txs {
		txs[i].SourceProvider = p.name
	}
	return txs, nil
}

// NewProviders builds providers from configuration, in order.
func NewProviders(cfgs []config.ProviderConfig) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfgs))
	for i, c := range cfgs {
		opts := []Option{
			WithTimeout(c.Timeout),
			WithRateLimit(c.RatePerSecond, c.Burst),
			WithAPIKey(c.APIKey),
		}
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", c.Kind, i)
		}

		switch c.Kind {
		case "toncenter_v2":
			providers = append(providers, NewTonCenterV2(name, c.URL, opts...))
		case "toncenter_v3":
			providers = append(providers, NewTonCenterV3(name, c.URL, opts...))
		case "tonapi":
			providers = append(providers, NewTonAPI(name, c.URL, opts...))
		default:
			return nil, fmt.Errorf("unsupported provider kind %q", c.Kind)
		}
	}
	return providers, nil
}
