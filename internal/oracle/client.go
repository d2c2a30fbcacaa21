package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/solvena/solvena-bridge/internal/model"
)

// Client fetches raw notices from the oracle's HTTP feed.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a notice feed client.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// noticeFeedResponse is the feed's JSON envelope.
type noticeFeedResponse struct {
	Notices []model.OracleNotice `json:"notices"`
}

// FetchLatest retrieves up to limit of the most recent notices.
func (c *Client) FetchLatest(ctx context.Context, limit int) ([]model.OracleNotice, error) {
	url := fmt.Sprintf("%s?limit=%d", c.endpoint, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build notice request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch notices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notice feed returned status %d", resp.StatusCode)
	}

	var feed noticeFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode notice feed: %w", err)
	}

	return feed.Notices, nil
}
