// Package samgov talks to the SAM.gov contract-opportunity search API.
package samgov

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIURL = "https://api.sam.gov/opportunities/v2/search"
	// SAM.gov date parameters use US-style dates.
	queryDateLayout = "01/02/2006"
	defaultPageSize = 100
	// Polite minimum spacing between requests; the API rate limits hard.
	defaultMinInterval = 500 * time.Millisecond
)

type Client struct {
	apiKey      string
	logger      *zap.Logger
	lastRequest time.Time

	// Overridable for tests and alternate deployments.
	HTTPClient    *http.Client
	UserAgent     string
	APIURL        string
	APIKeyInQuery bool
	PageSize      int
	MinInterval   time.Duration
}

func New(logger *zap.Logger, apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		logger: logger,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		UserAgent:   "sam-digest (github.com/ceradon/sam-digest)",
		APIURL:      defaultAPIURL,
		PageSize:    defaultPageSize,
		MinInterval: defaultMinInterval,
	}
}

// throttle enforces the minimum spacing between consecutive requests.
func (c *Client) throttle(ctx context.Context) error {
	if c.lastRequest.IsZero() || c.MinInterval <= 0 {
		return nil
	}
	wait := c.MinInterval - time.Since(c.lastRequest)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
