package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const usageBaseURL = "https://api.poe.com/usage"

// PointsClient queries the Poe usage endpoints. Both calls are best-effort:
// callers treat a nil result as "unknown" and carry on.
type PointsClient struct {
	apiKey string
	http   *http.Client
}

func NewPointsClient(apiKey string) *PointsClient {
	return &PointsClient{
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// LastRequestCost returns the point cost of the most recent API request,
// or (0, false) when it cannot be determined.
func (p *PointsClient) LastRequestCost(ctx context.Context) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usageBaseURL+"/points_history?limit=1", nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		slog.Debug("points history lookup failed", "error", err)
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Debug("points history lookup non-200", "status", resp.StatusCode)
		return 0, false
	}

	var parsed struct {
		Data []struct {
			CostPoints *int64 `json:"cost_points"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, false
	}
	if len(parsed.Data) == 0 || parsed.Data[0].CostPoints == nil {
		return 0, false
	}
	return *parsed.Data[0].CostPoints, true
}

// CurrentBalance returns the account's current point balance, or
// (0, false) when it cannot be determined.
func (p *PointsClient) CurrentBalance(ctx context.Context) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usageBaseURL+"/current_balance", nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		slog.Debug("balance lookup failed", "error", err)
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Debug("balance lookup non-200", "status", resp.StatusCode)
		return 0, false
	}

	var parsed struct {
		CurrentPointBalance *int64 `json:"current_point_balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, false
	}
	if parsed.CurrentPointBalance == nil {
		return 0, false
	}
	return *parsed.CurrentPointBalance, true
}

// String implements fmt.Stringer for log readability.
func (u Usage) String() string {
	return fmt.Sprintf("prompt=%d completion=%d total=%d", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}
