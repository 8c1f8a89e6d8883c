package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nishantd01/sheetwatch/db"
	"github.com/nishantd01/sheetwatch/models"
)

// AuthClient is the injected consent-flow capability. Token arrival is
// asynchronous: the controller hands out a consent URL and is later fed the
// provider's token response through HandleToken.
type AuthClient interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Revoke(ctx context.Context, accessToken string) error
}

// ProfileFetcher resolves the identity behind an access token.
type ProfileFetcher interface {
	Fetch(ctx context.Context, accessToken string) (email, name, picture string, err error)
}

// Provisioner installs the alerter bot into the user's account.
type Provisioner interface {
	Provision(ctx context.Context, accessToken string) (scriptID, deploymentURL string, err error)
}

// RuleAPI is the client for the deployed rule service.
type RuleAPI interface {
	List(ctx context.Context, deploymentURL, accessToken string) ([]models.Rule, error)
	Add(ctx context.Context, deploymentURL, accessToken string, input models.RuleInput) (string, error)
	Delete(ctx context.Context, deploymentURL, accessToken, triggerID string) error
}

// InstallationStore persists the installation identifiers across restarts.
type InstallationStore interface {
	Save(ctx context.Context, inst models.Installation) error
	Load(ctx context.Context) (models.Installation, error)
	Clear(ctx context.Context) error
}

// ErrNotReady is returned when an operation is attempted in a status that
// does not permit it.
var ErrNotReady = errors.New("operation not allowed in current session state")

// SessionController owns the session state machine. The mutex is held for
// the whole of every operation, so actions are serialized exactly like the
// one-action-at-a-time UI the controller fronts.
type SessionController struct {
	mu sync.Mutex

	status       models.Status
	token        models.TokenResponse
	profile      *models.Profile
	installation *models.Installation
	rules        []models.Rule
	lastErr      string
	pendingState string

	// published copy of the access token for out-of-band readers (the
	// emulator's sheet directory); read without taking mu to avoid
	// re-entrancy during rule calls.
	publishedToken atomic.Value

	auth     AuthClient
	profiles ProfileFetcher
	bot      Provisioner
	ruleAPI  RuleAPI
	store    InstallationStore
}

func NewSessionController(auth AuthClient, profiles ProfileFetcher, bot Provisioner, ruleAPI RuleAPI, store InstallationStore) *SessionController {
	return &SessionController{
		status:   models.StatusInitial,
		auth:     auth,
		profiles: profiles,
		bot:      bot,
		ruleAPI:  ruleAPI,
		store:    store,
	}
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	Status       models.Status        `json:"status"`
	Profile      *models.Profile      `json:"profile,omitempty"`
	Installation *models.Installation `json:"installation,omitempty"`
	Rules        []models.Rule        `json:"rules"`
	Error        string               `json:"error,omitempty"`
}

func (s *SessionController) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Status: s.status,
		Rules:  append([]models.Rule(nil), s.rules...),
		Error:  s.lastErr,
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	if s.installation != nil {
		inst := *s.installation
		snap.Installation = &inst
	}
	return snap
}

// AccessToken returns the current bearer token, empty when logged out.
func (s *SessionController) AccessToken() string {
	tok, _ := s.publishedToken.Load().(string)
	return tok
}

// Start loads any saved installation and leaves the controller logged out.
// A saved installation without a token only means the next login lands
// directly in INSTALLED.
func (s *SessionController) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.store.Load(ctx)
	switch {
	case err == nil:
		s.installation = &inst
	case errors.Is(err, db.ErrNoInstallation):
		// first run, nothing saved
	default:
		log.Printf("failed to load saved installation: %v", err)
	}
	s.status = models.StatusLoggedOut
}

// BeginLogin clears any banner error and returns the consent URL. The
// returned state is verified when the provider redirects back.
func (s *SessionController) BeginLogin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.StatusInstalling {
		return "", ErrNotReady
	}
	s.lastErr = ""
	s.pendingState = uuid.NewString()
	return s.auth.AuthURL(s.pendingState), nil
}

// HandleAuthCallback processes the provider redirect: either an error code
// (denied consent) or an authorization code to exchange. Both outcomes are
// funneled through the registered token callback.
func (s *SessionController) HandleAuthCallback(ctx context.Context, state, code, errCode, errDescription string) {
	s.mu.Lock()
	if s.pendingState == "" || state != s.pendingState {
		s.lastErr = "Google authentication error: state mismatch"
		s.status = models.StatusError
		s.mu.Unlock()
		return
	}
	s.pendingState = ""
	s.mu.Unlock()

	if errCode != "" {
		s.HandleToken(ctx, models.TokenResponse{Error: errCode, ErrorDescription: errDescription})
		return
	}

	tok, err := s.auth.Exchange(ctx, code)
	if err != nil {
		s.HandleToken(ctx, models.TokenResponse{Error: "exchange_failed", ErrorDescription: err.Error()})
		return
	}
	s.HandleToken(ctx, models.TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(time.Until(tok.Expiry).Seconds()),
	})
}

// HandleToken is the token-arrival callback. A provider error forces the
// ERROR state; a usable token leads to the profile fetch and then to
// LOGGED_IN or INSTALLED.
func (s *SessionController) HandleToken(ctx context.Context, tok models.TokenResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.Error != "" {
		s.lastErr = fmt.Sprintf("Google authentication error: %s", tok.ErrorDescription)
		if tok.ErrorDescription == "" {
			s.lastErr = fmt.Sprintf("Google authentication error: %s", tok.Error)
		}
		s.status = models.StatusError
		return
	}

	s.token = tok
	s.publishedToken.Store(tok.AccessToken)

	email, name, picture, err := s.profiles.Fetch(ctx, tok.AccessToken)
	if err != nil {
		s.lastErr = "Failed to fetch user profile."
		s.status = models.StatusError
		return
	}
	s.profile = &models.Profile{Email: email, Name: name, Picture: picture}

	if s.installation != nil {
		s.status = models.StatusInstalled
		s.refreshRulesLocked(ctx)
		return
	}
	s.status = models.StatusLoggedIn
}

// refreshRulesLocked re-fetches the authoritative rule list. A failure at
// installation boot is not fatal: the list stays empty and the error is
// kept for the banner.
func (s *SessionController) refreshRulesLocked(ctx context.Context) {
	rules, err := s.ruleAPI.List(ctx, s.installation.DeploymentURL, s.token.AccessToken)
	if err != nil {
		s.rules = nil
		s.lastErr = fmt.Sprintf("Could not fetch rules: %v. You may need to reinstall the bot or sign in again.", err)
		return
	}
	s.rules = rules
}

// Install provisions the alerter bot. Only legal from LOGGED_IN; a failure
// at either provisioning step is fatal to the session.
func (s *SessionController) Install(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StatusLoggedIn {
		return ErrNotReady
	}
	s.status = models.StatusInstalling
	s.lastErr = ""

	scriptID, deploymentURL, err := s.bot.Provision(ctx, s.token.AccessToken)
	if err != nil {
		s.lastErr = fmt.Sprintf("Installation failed: %v", err)
		s.status = models.StatusError
		return err
	}

	inst := models.Installation{ScriptID: scriptID, DeploymentURL: deploymentURL}
	if err := s.store.Save(ctx, inst); err != nil {
		s.lastErr = fmt.Sprintf("Installation failed: %v", err)
		s.status = models.StatusError
		return err
	}

	s.installation = &inst
	s.status = models.StatusInstalled
	s.refreshRulesLocked(ctx)
	return nil
}

// ListRules re-fetches and returns the rule list. Errors are recoverable:
// the session stays INSTALLED.
func (s *SessionController) ListRules(ctx context.Context) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StatusInstalled {
		return nil, ErrNotReady
	}
	s.lastErr = ""

	rules, err := s.ruleAPI.List(ctx, s.installation.DeploymentURL, s.token.AccessToken)
	if err != nil {
		s.lastErr = fmt.Sprintf("Could not fetch rules: %v", err)
		return nil, err
	}
	s.rules = rules
	return append([]models.Rule(nil), rules...), nil
}

// AddRule registers a new rule, then refreshes the list so the local copy
// never diverges from the remote truth.
func (s *SessionController) AddRule(ctx context.Context, input models.RuleInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StatusInstalled {
		return ErrNotReady
	}
	s.lastErr = ""

	if _, err := s.ruleAPI.Add(ctx, s.installation.DeploymentURL, s.token.AccessToken, input); err != nil {
		s.lastErr = fmt.Sprintf("Failed to add rule: %v", err)
		return err
	}
	s.refreshRulesLocked(ctx)
	return nil
}

// DeleteRule removes a rule and drops it from the local list on success.
func (s *SessionController) DeleteRule(ctx context.Context, triggerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StatusInstalled {
		return ErrNotReady
	}
	s.lastErr = ""

	if err := s.ruleAPI.Delete(ctx, s.installation.DeploymentURL, s.token.AccessToken, triggerID); err != nil {
		s.lastErr = fmt.Sprintf("Failed to delete rule: %v", err)
		return err
	}

	kept := s.rules[:0]
	for _, r := range s.rules {
		if r.TriggerID != triggerID {
			kept = append(kept, r)
		}
	}
	s.rules = kept
	return nil
}

// Logout revokes the token (best effort, unawaited), clears all in-memory
// and persisted state, and returns to LOGGED_OUT.
func (s *SessionController) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token := s.token.AccessToken; token != "" {
		go func() {
			revokeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.auth.Revoke(revokeCtx, token); err != nil {
				log.Printf("token revoke failed: %v", err)
			}
		}()
	}

	if err := s.store.Clear(ctx); err != nil {
		log.Printf("failed to clear saved installation: %v", err)
	}

	s.token = models.TokenResponse{}
	s.publishedToken.Store("")
	s.profile = nil
	s.installation = nil
	s.rules = nil
	s.lastErr = ""
	s.pendingState = ""
	s.status = models.StatusLoggedOut
}
