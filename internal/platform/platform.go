// Package platform wraps the commerce platform REST API for the Hustler funnel engine.
//
// It provides tenant lookups (affiliate app ids, experiences, company routes)
// and the fire-and-forget interest-tracking endpoint.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL is the default commerce platform API endpoint.
const DefaultBaseURL = "https://api.whop.com/api/v1"

// DefaultRequestTimeout bounds every platform API call.
const DefaultRequestTimeout = 10 * time.Second

// Experience describes a platform experience (the tenant unit funnels run in).
type Experience struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id"`
}

// Lookup is the read surface the funnel engine depends on.
type Lookup interface {
	// GetAffiliateAppID resolves the affiliate app id configured for an experience.
	GetAffiliateAppID(ctx context.Context, experienceID string) (string, error)

	// GetExperience loads a platform experience by id.
	GetExperience(ctx context.Context, experienceID string) (*Experience, error)

	// GetCompanyRoute resolves the public route segment for a company.
	GetCompanyRoute(ctx context.Context, companyID string) (string, error)
}

// InterestTracker records funnel interest signals for analytics.
// Callers dispatch it in the background and ignore its errors.
type InterestTracker interface {
	RecordInterest(ctx context.Context, experienceID, funnelID string) error
}

// Opts holds configuration options for the platform client.
type Opts struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// Option defines a configuration option for the platform client.
type Option func(*Opts)

// WithAPIKey sets the platform API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the platform API endpoint.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = base }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client calls the commerce platform REST API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a new platform client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("PLATFORM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("PLATFORM_API_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("Platform client config loaded", "APIKey_set", cfg.APIKey != "", "base_url", cfg.BaseURL)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("platform API key must be provided")
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  cfg.Client,
	}, nil
}

// GetAffiliateAppID resolves the affiliate app id configured for an experience.
func (c *Client) GetAffiliateAppID(ctx context.Context, experienceID string) (string, error) {
	var payload struct {
		AffiliateAppID string `json:"affiliate_app_id"`
	}
	path := fmt.Sprintf("/experiences/%s/affiliate", url.PathEscape(experienceID))
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return "", fmt.Errorf("failed to resolve affiliate app id for %s: %w", experienceID, err)
	}
	slog.Debug("Platform affiliate app id resolved", "experienceID", experienceID)
	return payload.AffiliateAppID, nil
}

// GetExperience loads a platform experience by id.
func (c *Client) GetExperience(ctx context.Context, experienceID string) (*Experience, error) {
	var exp Experience
	path := fmt.Sprintf("/experiences/%s", url.PathEscape(experienceID))
	if err := c.getJSON(ctx, path, &exp); err != nil {
		return nil, fmt.Errorf("failed to load experience %s: %w", experienceID, err)
	}
	return &exp, nil
}

// GetCompanyRoute resolves the public route segment for a company.
func (c *Client) GetCompanyRoute(ctx context.Context, companyID string) (string, error) {
	var payload struct {
		Route string `json:"route"`
	}
	path := fmt.Sprintf("/companies/%s/route", url.PathEscape(companyID))
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return "", fmt.Errorf("failed to resolve company route for %s: %w", companyID, err)
	}
	return payload.Route, nil
}

// RecordInterest records a funnel interest signal.
func (c *Client) RecordInterest(ctx context.Context, experienceID, funnelID string) error {
	body := fmt.Sprintf(`{"experience_id":%q,"funnel_id":%q}`, experienceID, funnelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interest", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build interest request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Platform RecordInterest failed", "error", err, "experienceID", experienceID, "funnelID", funnelID)
		return fmt.Errorf("failed to record interest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		slog.Error("Platform RecordInterest rejected", "status", resp.StatusCode, "experienceID", experienceID)
		return fmt.Errorf("interest endpoint returned status %d", resp.StatusCode)
	}
	slog.Debug("Platform interest recorded", "experienceID", experienceID, "funnelID", funnelID)
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("platform API returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode platform response: %w", err)
	}
	return nil
}

// MockClient implements Lookup and InterestTracker in memory (for tests).
type MockClient struct {
	AffiliateAppIDs map[string]string
	Experiences     map[string]Experience
	CompanyRoutes   map[string]string
	InterestCalls   []InterestCall
	LookupErr       error
	InterestErr     error
}

// InterestCall records one RecordInterest invocation.
type InterestCall struct {
	ExperienceID string
	FunnelID     string
}

// NewMockClient creates an empty mock platform client.
func NewMockClient() *MockClient {
	return &MockClient{
		AffiliateAppIDs: make(map[string]string),
		Experiences:     make(map[string]Experience),
		CompanyRoutes:   make(map[string]string),
	}
}

func (m *MockClient) GetAffiliateAppID(ctx context.Context, experienceID string) (string, error) {
	if m.LookupErr != nil {
		return "", m.LookupErr
	}
	id, ok := m.AffiliateAppIDs[experienceID]
	if !ok {
		return "", fmt.Errorf("no affiliate app id for %s", experienceID)
	}
	return id, nil
}

func (m *MockClient) GetExperience(ctx context.Context, experienceID string) (*Experience, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	exp, ok := m.Experiences[experienceID]
	if !ok {
		return nil, fmt.Errorf("no experience %s", experienceID)
	}
	return &exp, nil
}

func (m *MockClient) GetCompanyRoute(ctx context.Context, companyID string) (string, error) {
	if m.LookupErr != nil {
		return "", m.LookupErr
	}
	route, ok := m.CompanyRoutes[companyID]
	if !ok {
		return "", fmt.Errorf("no route for company %s", companyID)
	}
	return route, nil
}

func (m *MockClient) RecordInterest(ctx context.Context, experienceID, funnelID string) error {
	m.InterestCalls = append(m.InterestCalls, InterestCall{ExperienceID: experienceID, FunnelID: funnelID})
	return m.InterestErr
}
