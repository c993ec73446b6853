// Package client is a thin HTTP client for the git-insights API.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yamada-k/git-insights/internal/domain"
)

// Client is the API client for git-insights
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // an uncached run fetches the whole window
		},
	}
}

// GetMetrics retrieves the aggregated metrics report
func (c *Client) GetMetrics(org string, days int, repos []string) (*domain.MetricsReport, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/metrics", org)
	params := buildParams(days, repos)

	var response struct {
		Data *domain.MetricsReport `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetReleases retrieves the release-delta report
func (c *Client) GetReleases(org string, repos []string) ([]domain.ReleaseReport, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/releases", org)
	params := buildParams(0, repos)

	var response struct {
		Data []domain.ReleaseReport `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetEpics retrieves the epic progress report
func (c *Client) GetEpics() ([]domain.Epic, error) {
	var response struct {
		Data []domain.Epic `json:"data"`
	}
	if err := c.get("/api/v1/epics", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ClearCache drops every cached report on the server
func (c *Client) ClearCache() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/v1/cache", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	return nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func buildParams(days int, repos []string) url.Values {
	params := url.Values{}
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}
	if len(repos) > 0 {
		params.Set("repos", strings.Join(repos, ","))
	}
	return params
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
