// Package transifex is a minimal client for the Transifex v2 REST API.
//
// Only the two read endpoints needed to pull translations are covered:
// per-language completion statistics and the translated content of a
// resource.
package transifex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/minios-linux/txpull/settings"
)

// Defaults for NewClient.
const (
	DefaultBaseURL = "https://www.transifex.com/api/2/"
	DefaultProject = "Psiphon3"
	DefaultTimeout = 60 * time.Second
	DefaultRetries = 3
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Stats is the completion record of one language of a resource.
type Stats struct {
	Completed            string `json:"completed"`
	TranslatedEntities   int    `json:"translated_entities"`
	UntranslatedEntities int    `json:"untranslated_entities"`
	LastUpdate           string `json:"last_update,omitempty"`
}

// Percent returns the completion percentage, or 0 when the service sent
// something unparsable.
func (s Stats) Percent() int {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(s.Completed, "%")))
	if err != nil {
		return 0
	}
	return n
}

// Total returns the number of entities in the resource.
func (s Stats) Total() int {
	return s.TranslatedEntities + s.UntranslatedEntities
}

// Translation is the content of one language of a resource.
type Translation struct {
	Content  string `json:"content"`
	MimeType string `json:"mimetype"`
}

// RequestError is returned for any response other than 200 OK.
type RequestError struct {
	StatusCode int
	URL        string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.StatusCode, e.URL)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client talks to one Transifex project.
type Client struct {
	creds   settings.Credentials
	baseURL string
	project string
	timeout time.Duration
	retries int
	logger  *slog.Logger

	http *retryablehttp.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithProject selects the project slug.
func WithProject(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.project = p
		}
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how often a failed request is retried. Zero disables
// retries.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithLogger sets the logger used for request and retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client authenticating with creds.
func NewClient(creds settings.Credentials, opts ...Option) *Client {
	c := &Client{
		creds:   creds,
		baseURL: DefaultBaseURL,
		project: DefaultProject,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = c.retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = c.timeout
	rc.Logger = c.logger
	// Hand the last response back so its status becomes a RequestError.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.http = rc

	return c
}

// Project returns the project slug.
func (c *Client) Project() string { return c.project }

// GetStats returns completion statistics per service language code.
func (c *Client) GetStats(ctx context.Context, resource string) (map[string]Stats, error) {
	var stats map[string]Stats
	if err := c.get(ctx, "resource/"+url.PathEscape(resource)+"/stats", &stats); err != nil {
		return nil, fmt.Errorf("fetching stats for %s: %w", resource, err)
	}
	return stats, nil
}

// GetTranslation returns the translated content of resource in lang.
func (c *Client) GetTranslation(ctx context.Context, resource, lang string) (*Translation, error) {
	var tr Translation
	cmd := "resource/" + url.PathEscape(resource) + "/translation/" + url.PathEscape(lang)
	if err := c.get(ctx, cmd, &tr); err != nil {
		return nil, fmt.Errorf("fetching %s translation of %s: %w", lang, resource, err)
	}
	return &tr, nil
}

// endpoint builds {base}project/{project}/{command}/.
func (c *Client) endpoint(command string) string {
	return c.baseURL + "project/" + url.PathEscape(c.project) + "/" + command + "/"
}

func (c *Client) get(ctx context.Context, command string, out any) error {
	endpoint := c.endpoint(command)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("GET", "url", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &RequestError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response from %s: %w", endpoint, err)
	}
	return nil
}
