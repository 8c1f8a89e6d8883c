// Package rulesvc implements the deployed rule service's dispatcher in Go.
// It backs the local development emulator and mirrors the behavior of the
// Apps Script the installer deploys: a single GET endpoint dispatching on
// an action parameter, per-trigger properties, and a silent edit handler
// that posts to Slack when a watched column changes.
package rulesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nishantd01/sheetwatch/models"
)

type trigger struct {
	id            string
	spreadsheetID string
}

// Service holds the trigger registry and the property store. Property keys
// are unique per trigger, so different rules never contend on the same key.
type Service struct {
	mu       sync.Mutex
	triggers []trigger
	props    map[string]string

	directory  SheetDirectory
	httpClient *http.Client
	newID      func() string
}

func New(directory SheetDirectory) *Service {
	return &Service{
		props:      make(map[string]string),
		directory:  directory,
		httpClient: http.DefaultClient,
		newID:      uuid.NewString,
	}
}

// Handler dispatches a rule-service request. Like the deployed script, it
// always answers 200 with an envelope; failures travel in the envelope.
func (s *Service) Handler(c *gin.Context) {
	action := c.Query("action")
	if action == "" {
		c.JSON(http.StatusOK, models.ErrorEnvelope("No action specified."))
		return
	}

	var envelope models.Envelope
	switch action {
	case "list":
		envelope = s.listRules()
	case "add":
		envelope = s.addRule(c.Request.Context(), models.RuleInput{
			SheetURL:   c.Query("sheetUrl"),
			SheetName:  c.Query("sheetName"),
			Column:     c.Query("column"),
			WebhookURL: c.Query("webhookUrl"),
		})
	case "delete":
		envelope = s.deleteRule(c.Query("triggerId"))
	default:
		envelope = models.ErrorEnvelope("Unknown action: " + action)
	}
	c.JSON(http.StatusOK, envelope)
}

// listRules reconstructs Rule records from the trigger registry and the
// property store. Triggers without a spreadsheet source are excluded; no
// ordering is guaranteed.
func (s *Service) listRules() models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := make([]models.Rule, 0, len(s.triggers))
	for _, t := range s.triggers {
		if t.spreadsheetID == "" {
			continue
		}
		rules = append(rules, models.Rule{
			TriggerID:      t.id,
			SpreadsheetID:  t.spreadsheetID,
			SpreadsheetURL: "https://docs.google.com/spreadsheets/d/" + t.spreadsheetID + "/",
			SheetName:      s.propOr("sheetName_"+t.id, "N/A"),
			Column:         s.propOr("column_"+t.id, "N/A"),
			WebhookURL:     s.propOr("webhook_"+t.id, "N/A"),
		})
	}
	return models.SuccessEnvelope(rules)
}

func (s *Service) propOr(key, fallback string) string {
	if v, ok := s.props[key]; ok && v != "" {
		return v
	}
	return fallback
}

// addRule validates the four required fields, resolves the spreadsheet and
// tab, then registers a trigger and its three properties.
func (s *Service) addRule(ctx context.Context, input models.RuleInput) models.Envelope {
	if input.SheetURL == "" || input.SheetName == "" || input.Column == "" || input.WebhookURL == "" {
		return models.ErrorEnvelope("Missing required parameters for adding a rule.")
	}

	sheet, err := s.directory.Resolve(ctx, input.SheetURL)
	if err != nil {
		return models.ErrorEnvelope(err.Error())
	}
	if !sheet.HasTab(input.SheetName) {
		return models.ErrorEnvelope(fmt.Sprintf("Sheet %q was not found in the spreadsheet.", input.SheetName))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := trigger{
		id:            s.newID(),
		spreadsheetID: sheet.ID,
	}
	s.triggers = append(s.triggers, t)
	s.props["webhook_"+t.id] = input.WebhookURL
	s.props["column_"+t.id] = input.Column
	s.props["sheetName_"+t.id] = input.SheetName

	return models.Envelope{
		Status:  models.EnvelopeSuccess,
		Message: "Rule added successfully!",
		Data:    mustJSON(map[string]string{"triggerId": t.id}),
	}
}

// deleteRule removes the matching trigger if present and always deletes the
// three properties, tolerating metadata orphaned by earlier failures.
func (s *Service) deleteRule(triggerID string) models.Envelope {
	if triggerID == "" {
		return models.ErrorEnvelope("Missing triggerId for deleting a rule.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i, t := range s.triggers {
		if t.id == triggerID {
			s.triggers = append(s.triggers[:i], s.triggers[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		log.Printf("trigger %s not found, cleaning up its properties anyway", triggerID)
	}

	delete(s.props, "webhook_"+triggerID)
	delete(s.props, "column_"+triggerID)
	delete(s.props, "sheetName_"+triggerID)

	return models.Envelope{Status: models.EnvelopeSuccess, Message: "Rule deleted successfully!"}
}

// EditEvent is the platform-delivered edit notification.
type EditEvent struct {
	TriggerID       string
	SpreadsheetName string
	SheetName       string
	Row             int
	Column          int
	Value           string
}

// HandleEdit fires the Slack webhook when the edited column matches the
// trigger's watched column. It never returns an error: notification
// delivery must not disturb the editing user, so every failure is only
// logged.
func (s *Service) HandleEdit(ctx context.Context, e EditEvent) {
	s.mu.Lock()
	webhookURL := s.props["webhook_"+e.TriggerID]
	watchCol := s.props["column_"+e.TriggerID]
	s.mu.Unlock()

	if webhookURL == "" || watchCol == "" {
		return
	}
	col, err := strconv.Atoi(watchCol)
	if err != nil || col != e.Column {
		return
	}

	text := fmt.Sprintf("🔔 *Sheet alert!*\n\n*Sheet*: %s (%s)\n*Cell*: %s\n*New value*: %s",
		e.SpreadsheetName, e.SheetName, A1Notation(e.Column, e.Row), e.Value)
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		log.Printf("edit trigger handling failed: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Printf("edit trigger handling failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("edit trigger handling failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("edit trigger webhook returned status %d", resp.StatusCode)
	}
}

// A1Notation converts a 1-based column and row to A1 style, e.g. (28, 5)
// becomes AB5.
func A1Notation(col, row int) string {
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return fmt.Sprintf("%s%d", letters, row)
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
