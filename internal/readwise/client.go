package readwise

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

	"golang.org/x/oauth2"

	"github.com/kevinhojae/savewise-mcp-server/internal/logging"
)

const (
	// DefaultBaseURL is the public Readwise API host.
	DefaultBaseURL = "https://readwise.io"

	// HighlightsPath is the batched highlight creation endpoint.
	HighlightsPath = "/api/v2/highlights/"

	// TokenType is the Authorization scheme Readwise expects.
	TokenType = "Token"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 64 << 10
)

// Client talks to the Readwise highlights API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the Readwise host, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client whose transport carries the requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Readwise client
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateHighlights sends all highlights in a single request.
// The context is used as given; callers decide whether a client disconnect
// should abort the write.
func (c *Client) CreateHighlights(ctx context.Context, token string, highlights []Highlight) ([]CreateResponse, error) {
	if token == "" {
		return nil, NewConfigError("Readwise API token is empty")
	}
	if len(highlights) == 0 {
		return nil, NewValidationError([]string{"highlights: must contain at least one highlight"})
	}

	body := createRequest{Highlights: make([]highlightPayload, 0, len(highlights))}
	for _, h := range highlights {
		body.Highlights = append(body.Highlights, toPayload(h))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to encode highlights: %v", err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+HighlightsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to build request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.authorizedClient(token).Do(req)
	if err != nil {
		c.logger.Warn("Readwise request failed",
			logging.Operation("create_highlights"),
			logging.Err(err))
		return nil, &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Readwise request completed",
		logging.Operation("create_highlights"),
		slog.Int(logging.KeyStatus, resp.StatusCode),
		slog.Int("highlights", len(highlights)),
		logging.Duration(time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, string(raw))
	}

	var result []CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to decode Readwise response: %v", err), Err: err}
	}
	return result, nil
}

// authorizedClient wraps the base transport so every request carries
// "Authorization: Token <token>".
func (c *Client) authorizedClient(token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   TokenType,
	})
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: src,
			Base:   c.httpClient.Transport,
		},
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
		Timeout:       c.httpClient.Timeout,
	}
}
