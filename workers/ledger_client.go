package workers

import (
	"bytes"
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

// LedgerClient talks to the collateral ledger gateway — the authoritative
// store of card ownership, lock state and the prize pool. It implements
// services.CollateralLedger.
type LedgerClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewLedgerClient() *LedgerClient {
	baseURL := os.Getenv("LEDGER_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("LEDGER_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("LEAGUE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("LEAGUE_SERVICE_TOKEN environment variable is required for ledger access")
	}

	return &LedgerClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *LedgerClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid ledger base URL '%s': %w", c.BaseURL, err)
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
		return fmt.Errorf("failed to call ledger service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("ledger returned 404 for %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ledger service returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return nil
}

func (c *LedgerClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) (int, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid ledger base URL '%s': %w", c.BaseURL, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call ledger service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("ledger service returned status %d: %s", resp.StatusCode, string(errBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode ledger response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *LedgerClient) GetTournament(ctx context.Context, id int64) (*models.LedgerTournament, error) {
	var t models.LedgerTournament
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/tournaments/%d", id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *LedgerClient) GetParticipants(ctx context.Context, tournamentID int64) ([]string, error) {
	var response struct {
		Participants []string `json:"participants"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/tournaments/%d/participants", tournamentID), nil, &response); err != nil {
		return nil, err
	}
	return response.Participants, nil
}

func (c *LedgerClient) GetLineup(ctx context.Context, tournamentID int64, entrantID string) (*models.LedgerLineup, error) {
	var lineup models.LedgerLineup
	path := fmt.Sprintf("/api/v1/tournaments/%d/lineups/%s", tournamentID, url.PathEscape(entrantID))
	if err := c.getJSON(ctx, path, nil, &lineup); err != nil {
		return nil, err
	}
	return &lineup, nil
}

func (c *LedgerClient) GetCardInfo(ctx context.Context, cardID int64) (*models.CardSnapshot, error) {
	var card models.CardSnapshot
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/cards/%d", cardID), nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *LedgerClient) LockCards(ctx context.Context, cardIDs []int64) error {
	payload := map[string]interface{}{"card_ids": cardIDs}
	status, err := c.postJSON(ctx, "/api/v1/cards/lock", payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("ledger rejected lock with status %d", status)
	}
	return nil
}

// UnlockCards is idempotent on the ledger side: unlocking an already
// unlocked card is a no-op, not an error.
func (c *LedgerClient) UnlockCards(ctx context.Context, cardIDs []int64) error {
	payload := map[string]interface{}{"card_ids": cardIDs}
	status, err := c.postJSON(ctx, "/api/v1/cards/unlock", payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("ledger rejected unlock with status %d", status)
	}
	return nil
}

func (c *LedgerClient) SubmitFinalization(ctx context.Context, tournamentID int64, winners []string, amounts []int64) (models.SubmitOutcome, error) {
	payload := map[string]interface{}{
		"winners": winners,
		"amounts": amounts,
	}
	var response struct {
		Outcome models.SubmitOutcome `json:"outcome"`
	}
	status, err := c.postJSON(ctx, fmt.Sprintf("/api/v1/tournaments/%d/finalize", tournamentID), payload, &response)
	if err != nil {
		return "", err
	}
	// A 409 means a previous submission already settled this tournament and
	// our ack was lost; the caller adopts that result instead of resubmitting.
	if status == http.StatusConflict || response.Outcome == models.SubmitAlreadyFinalized {
		return models.SubmitAlreadyFinalized, nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("ledger rejected finalization with status %d", status)
	}
	return models.SubmitAccepted, nil
}

// ListTournaments returns ledger tournaments changed since the given time.
// Used only by the tournament sync worker, so it lives on the concrete
// client rather than the services contract.
func (c *LedgerClient) ListTournaments(ctx context.Context, since time.Time) ([]models.LedgerTournament, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	var response struct {
		Tournaments []models.LedgerTournament `json:"tournaments"`
	}
	if err := c.getJSON(ctx, "/api/v1/tournaments", q, &response); err != nil {
		return nil, err
	}
	return response.Tournaments, nil
}
