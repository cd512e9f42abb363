package samgov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/ceradon/sam-digest/internal/notice"
)

type searchResponse struct {
	TotalRecords      int          `json:"totalRecords"`
	OpportunitiesData []notice.Raw `json:"opportunitiesData"`
}

// Search returns every raw opportunity posted inside [from, to], walking the
// API's limit/offset pagination until totalRecords is exhausted.
func (c *Client) Search(ctx context.Context, from, to time.Time) ([]notice.Raw, error) {
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var items []notice.Raw
	offset := 0
	total := -1

	for {
		q := url.Values{}
		q.Set("postedFrom", from.Format(queryDateLayout))
		q.Set("postedTo", to.Format(queryDateLayout))
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))
		if c.APIKeyInQuery {
			q.Set("api_key", c.apiKey)
		}

		page, err := c.fetchPage(ctx, q)
		if err != nil {
			return nil, err
		}

		if total < 0 {
			total = page.TotalRecords
			c.logger.Debug("search started",
				zap.Int("total_records", total),
				zap.Int("page_size", pageSize),
			)
		}

		items = append(items, page.OpportunitiesData...)
		if len(page.OpportunitiesData) == 0 {
			break
		}

		offset += pageSize
		if total >= 0 && offset >= total {
			break
		}
	}

	c.logger.Debug("search finished", zap.Int("items", len(items)))
	return items, nil
}

// fetchPage gets one page, retrying transport errors and server-side failures
// with backoff. Client-side errors (bad key, bad params) fail immediately.
func (c *Client) fetchPage(ctx context.Context, q url.Values) (*searchResponse, error) {
	var page *searchResponse

	err := retry.Do(
		func() error {
			if err := c.throttle(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.URL.RawQuery = q.Encode()
			req.Header.Set("User-Agent", c.UserAgent)
			req.Header.Set("Accept", "application/json")
			if !c.APIKeyInQuery {
				req.Header.Set("X-API-Key", c.apiKey)
			}

			resp, err := c.HTTPClient.Do(req)
			c.lastRequest = time.Now()
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			switch {
			case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("server error: %s", resp.Status)
			case resp.StatusCode != http.StatusOK:
				return retry.Unrecoverable(fmt.Errorf("bad status: %s", resp.Status))
			}

			var decoded searchResponse
			if err := json.Unmarshal(body, &decoded); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			page = &decoded
			return nil
		},
		retry.Attempts(4),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying SAM.gov request",
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching opportunities page: %w", err)
	}

	return page, nil
}
