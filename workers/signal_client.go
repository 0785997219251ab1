package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"startup-fantasy-core/models"
)

// SignalClient talks to the social-signal ingestor, which classifies raw
// posts into per-startup daily base points. It implements
// services.SignalSource.
type SignalClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewSignalClient() *SignalClient {
	baseURL := os.Getenv("SIGNAL_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("SIGNAL_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("LEAGUE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("LEAGUE_SERVICE_TOKEN environment variable is required for signal access")
	}

	return &SignalClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *SignalClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid signal base URL '%s': %w", c.BaseURL, err)
	}
	endpoint := base.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call signal service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("signal service returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchDailyPoints returns one startup's base points for one calendar date.
// The ingestor answers 200 with zero points for a quiet day; only transport
// or server faults surface as errors (and become retryable gaps upstream).
func (c *SignalClient) FetchDailyPoints(ctx context.Context, startupID int64, date string) (*models.DailyPoints, error) {
	q := url.Values{}
	q.Set("date", date)
	var daily models.DailyPoints
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/startups/%d/points", startupID), q, &daily); err != nil {
		return nil, err
	}
	if daily.BasePoints < 0 {
		return nil, fmt.Errorf("signal service returned negative base points %d for startup %d", daily.BasePoints, startupID)
	}
	return &daily, nil
}

// TrackedStartup is the signal service's directory entry for one startup.
type TrackedStartup struct {
	StartupID int64  `json:"startup_id"`
	Name      string `json:"name"`
	Handle    string `json:"handle"`
}

// ListStartups returns every startup the ingestor tracks.
func (c *SignalClient) ListStartups(ctx context.Context) ([]TrackedStartup, error) {
	var response struct {
		Startups []TrackedStartup `json:"startups"`
	}
	if err := c.getJSON(ctx, "/api/v1/startups", nil, &response); err != nil {
		return nil, err
	}
	return response.Startups, nil
}
