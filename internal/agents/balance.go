package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ErrBalanceNotConfigured is returned when a profile has no balance
// endpoint configured.
var ErrBalanceNotConfigured = fmt.Errorf("balance query not configured")

// FetchBalance queries the profile's balance endpoint and returns the
// response pretty-printed when it is JSON, verbatim otherwise.
func FetchBalance(ctx context.Context, client *http.Client, p *Profile) (string, error) {
	if p.BalanceURL == "" || p.BalanceToken == "" {
		return "", ErrBalanceNotConfigured
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BalanceURL, nil)
	if err != nil {
		return "", fmt.Errorf("balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.BalanceToken)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("balance query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("balance response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("balance query: status %d", resp.StatusCode)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return string(body), nil
	}
	return pretty.String(), nil
}
