package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/nishantd01/sheetwatch/models"
)

// RuleClient talks to the deployed rule service: one bearer-authenticated
// GET per operation, dispatched on the action query parameter.
type RuleClient struct {
	HTTPClient *http.Client
}

func NewRuleClient() *RuleClient {
	return &RuleClient{HTTPClient: http.DefaultClient}
}

func (c *RuleClient) call(ctx context.Context, deploymentURL, accessToken string, params url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deploymentURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rule service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule service response: %w", err)
	}

	var envelope models.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("rule service returned a malformed response: %w", err)
	}
	return envelope.Result()
}

// List fetches all rules of the installation.
func (c *RuleClient) List(ctx context.Context, deploymentURL, accessToken string) ([]models.Rule, error) {
	data, err := c.call(ctx, deploymentURL, accessToken, url.Values{"action": {"list"}})
	if err != nil {
		return nil, err
	}

	var rules []models.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rule list: %w", err)
	}
	return rules, nil
}

// Add registers a new rule and returns the server-assigned trigger id.
func (c *RuleClient) Add(ctx context.Context, deploymentURL, accessToken string, input models.RuleInput) (string, error) {
	params := url.Values{
		"action":     {"add"},
		"sheetUrl":   {input.SheetURL},
		"sheetName":  {input.SheetName},
		"column":     {input.Column},
		"webhookUrl": {input.WebhookURL},
	}
	data, err := c.call(ctx, deploymentURL, accessToken, params)
	if err != nil {
		return "", err
	}

	var created struct {
		TriggerID string `json:"triggerId"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("failed to decode add-rule response: %w", err)
	}
	return created.TriggerID, nil
}

// Delete removes the rule bound to triggerId. Deleting an already-removed
// rule is not an error on the service side.
func (c *RuleClient) Delete(ctx context.Context, deploymentURL, accessToken, triggerID string) error {
	params := url.Values{
		"action":    {"delete"},
		"triggerId": {triggerID},
	}
	_, err := c.call(ctx, deploymentURL, accessToken, params)
	return err
}
