package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the session controller state. All network calls are gated on it.
type Status string

const (
	StatusInitial    Status = "INITIAL"
	StatusLoggedOut  Status = "LOGGED_OUT"
	StatusLoggedIn   Status = "LOGGED_IN"
	StatusInstalling Status = "INSTALLING"
	StatusInstalled  Status = "INSTALLED"
	StatusError      Status = "ERROR"
)

// Rule binds a watched spreadsheet column to a Slack webhook. The server
// assigns TriggerID; the client never invents one.
type Rule struct {
	TriggerID      string `json:"triggerId"`
	SpreadsheetID  string `json:"spreadsheetId"`
	SpreadsheetURL string `json:"spreadsheetUrl"`
	SheetName      string `json:"sheetName"`
	Column         string `json:"column"`
	WebhookURL     string `json:"webhookUrl"`
}

// RuleInput carries the four user-supplied fields of an add-rule request.
type RuleInput struct {
	SheetURL   string `json:"sheetUrl"`
	SheetName  string `json:"sheetName"`
	Column     string `json:"column"`
	WebhookURL string `json:"webhookUrl"`
}

// TokenResponse is the provider's token callback payload.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Profile is the identity fetched after login.
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Installation identifies the provisioned bot. Both fields are set together
// or not at all.
type Installation struct {
	ScriptID      string `json:"scriptId"`
	DeploymentURL string `json:"deploymentUrl"`
}

const (
	EnvelopeSuccess = "success"
	EnvelopeError   = "error"
)

// Envelope is the uniform response shape of the deployed rule service.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ErrRemote marks an error reported inside a well-formed error envelope.
var ErrRemote = errors.New("rule service error")

// Result collapses the envelope into exactly two variants: raw payload on
// success, error carrying the remote message otherwise. Callers never look
// at Data and Message directly.
func (e Envelope) Result() (json.RawMessage, error) {
	if e.Status == EnvelopeSuccess {
		return e.Data, nil
	}
	if e.Message == "" {
		return nil, fmt.Errorf("%w: no message", ErrRemote)
	}
	return nil, fmt.Errorf("%w: %s", ErrRemote, e.Message)
}

// SuccessEnvelope wraps a payload in a success envelope.
func SuccessEnvelope(data interface{}) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Status: EnvelopeSuccess, Data: raw}
}

// ErrorEnvelope wraps a message in an error envelope.
func ErrorEnvelope(message string) Envelope {
	return Envelope{Status: EnvelopeError, Message: message}
}
