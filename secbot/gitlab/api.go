package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/secstack/secbot/common/config"
)

// Client is a minimal GitLab API client, one per configured instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client for one GitLab instance.
func NewClient(instance *config.GitlabInstance, timeout time.Duration) *Client {
	return &Client{
		baseURL: fmt.Sprintf("https://%s", instance.Host),
		token:   instance.AuthToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// ProjectLanguages returns the language share of a project, e.g.
// {"Python": 75.06, "Dockerfile": 7.95}. A non-200 answer yields nil: the
// languages are advisory and their absence must not fail a scan.
func (c *Client) ProjectLanguages(ctx context.Context, projectID int64) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%d/languages", c.baseURL, projectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build languages request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch project languages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var languages map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&languages); err != nil {
		return nil, fmt.Errorf("decode project languages: %w", err)
	}
	return languages, nil
}
