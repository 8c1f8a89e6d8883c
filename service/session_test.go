package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/nishantd01/sheetwatch/db"
	"github.com/nishantd01/sheetwatch/models"
)

type fakeAuth struct {
	exchangeErr error
	revoked     chan string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{revoked: make(chan string, 1)}
}

func (f *fakeAuth) AuthURL(state string) string {
	return "https://accounts.example.com/consent?state=" + state
}

func (f *fakeAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "token-for-" + code, TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAuth) Revoke(_ context.Context, accessToken string) error {
	f.revoked <- accessToken
	return nil
}

type fakeProfiles struct {
	err error
}

func (f *fakeProfiles) Fetch(_ context.Context, _ string) (string, string, string, error) {
	if f.err != nil {
		return "", "", "", f.err
	}
	return "user@example.com", "Test User", "https://example.com/p.png", nil
}

type fakeProvisioner struct {
	err   error
	calls int
}

func (f *fakeProvisioner) Provision(_ context.Context, _ string) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return "script-1", "https://script.google.com/macros/s/dep-1/exec", nil
}

type fakeRuleAPI struct {
	mu        sync.Mutex
	rules     []models.Rule
	listErr   error
	addErr    error
	deleteErr error
	listCalls int
	nextID    int
}

func (f *fakeRuleAPI) List(_ context.Context, _, _ string) ([]models.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Rule(nil), f.rules...), nil
}

func (f *fakeRuleAPI) Add(_ context.Context, _, _ string, input models.RuleInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return "", f.addErr
	}
	f.nextID++
	id := fmt.Sprintf("trigger-%d", f.nextID)
	f.rules = append(f.rules, models.Rule{
		TriggerID:  id,
		SheetName:  input.SheetName,
		Column:     input.Column,
		WebhookURL: input.WebhookURL,
	})
	return id, nil
}

func (f *fakeRuleAPI) Delete(_ context.Context, _, _, triggerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.rules[:0]
	for _, r := range f.rules {
		if r.TriggerID != triggerID {
			kept = append(kept, r)
		}
	}
	f.rules = kept
	return nil
}

type fakeStore struct {
	mu    sync.Mutex
	inst  *models.Installation
	saved int
}

func (f *fakeStore) Save(_ context.Context, inst models.Installation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inst = &inst
	f.saved++
	return nil
}

func (f *fakeStore) Load(_ context.Context) (models.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inst == nil {
		return models.Installation{}, db.ErrNoInstallation
	}
	return *f.inst, nil
}

func (f *fakeStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inst = nil
	return nil
}

type fixture struct {
	auth     *fakeAuth
	profiles *fakeProfiles
	bot      *fakeProvisioner
	ruleAPI  *fakeRuleAPI
	store    *fakeStore
	session  *SessionController
}

func newFixture() *fixture {
	f := &fixture{
		auth:     newFakeAuth(),
		profiles: &fakeProfiles{},
		bot:      &fakeProvisioner{},
		ruleAPI:  &fakeRuleAPI{},
		store:    &fakeStore{},
	}
	f.session = NewSessionController(f.auth, f.profiles, f.bot, f.ruleAPI, f.store)
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.session.HandleToken(context.Background(), models.TokenResponse{AccessToken: "tok-1", TokenType: "Bearer"})
}

func TestSessionStateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("start lands in LOGGED_OUT", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)

		if got := f.session.Snapshot().Status; got != models.StatusLoggedOut {
			t.Fatalf("expected LOGGED_OUT, got %s", got)
		}
	})

	t.Run("token without error transitions to LOGGED_IN", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)
		f.login(t)

		snap := f.session.Snapshot()
		if snap.Status != models.StatusLoggedIn {
			t.Fatalf("expected LOGGED_IN, got %s", snap.Status)
		}
		if snap.Profile == nil || snap.Profile.Email != "user@example.com" {
			t.Fatalf("profile not populated: %+v", snap.Profile)
		}
	})

	t.Run("denied consent transitions to ERROR with the provider description", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)
		f.session.HandleToken(ctx, models.TokenResponse{
			Error:            "access_denied",
			ErrorDescription: "The user denied the request.",
		})

		snap := f.session.Snapshot()
		if snap.Status != models.StatusError {
			t.Fatalf("expected ERROR, got %s", snap.Status)
		}
		if !strings.Contains(snap.Error, "The user denied the request.") {
			t.Fatalf("error message should contain the provider description: %q", snap.Error)
		}
	})

	t.Run("profile fetch failure is fatal", func(t *testing.T) {
		f := newFixture()
		f.profiles.err = errors.New("userinfo unavailable")
		f.session.Start(ctx)
		f.login(t)

		if got := f.session.Snapshot().Status; got != models.StatusError {
			t.Fatalf("expected ERROR, got %s", got)
		}
	})

	t.Run("login with a saved installation lands in INSTALLED with rules fetched", func(t *testing.T) {
		f := newFixture()
		f.store.inst = &models.Installation{ScriptID: "script-1", DeploymentURL: "https://example.com/exec"}
		f.ruleAPI.rules = []models.Rule{{TriggerID: "trigger-1", SheetName: "Sheet1", Column: "2"}}
		f.session.Start(ctx)
		f.login(t)

		snap := f.session.Snapshot()
		if snap.Status != models.StatusInstalled {
			t.Fatalf("expected INSTALLED, got %s", snap.Status)
		}
		if len(snap.Rules) != 1 || snap.Rules[0].TriggerID != "trigger-1" {
			t.Fatalf("rules not fetched at boot: %+v", snap.Rules)
		}
	})

	t.Run("list failure at installation boot keeps INSTALLED with empty rules and a banner", func(t *testing.T) {
		f := newFixture()
		f.store.inst = &models.Installation{ScriptID: "script-1", DeploymentURL: "https://example.com/exec"}
		f.ruleAPI.listErr = errors.New("deployment gone")
		f.session.Start(ctx)
		f.login(t)

		snap := f.session.Snapshot()
		if snap.Status != models.StatusInstalled {
			t.Fatalf("expected INSTALLED despite list failure, got %s", snap.Status)
		}
		if len(snap.Rules) != 0 {
			t.Fatalf("expected empty rules, got %+v", snap.Rules)
		}
		if !strings.Contains(snap.Error, "Could not fetch rules") {
			t.Fatalf("expected banner error, got %q", snap.Error)
		}
	})
}

func TestInstall(t *testing.T) {
	ctx := context.Background()

	t.Run("successful install persists the installation and fetches rules", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)
		f.login(t)

		if err := f.session.Install(ctx); err != nil {
			t.Fatalf("Install returned error: %v", err)
		}

		snap := f.session.Snapshot()
		if snap.Status != models.StatusInstalled {
			t.Fatalf("expected INSTALLED, got %s", snap.Status)
		}
		if snap.Installation == nil || snap.Installation.ScriptID != "script-1" {
			t.Fatalf("installation not recorded: %+v", snap.Installation)
		}
		if f.store.saved != 1 {
			t.Fatalf("expected one store save, got %d", f.store.saved)
		}
		if f.ruleAPI.listCalls != 1 {
			t.Fatalf("expected rules fetched once after install, got %d", f.ruleAPI.listCalls)
		}
	})

	t.Run("provisioning failure is fatal", func(t *testing.T) {
		f := newFixture()
		f.bot.err = errors.New("script deployment failed")
		f.session.Start(ctx)
		f.login(t)

		if err := f.session.Install(ctx); err == nil {
			t.Fatal("expected install error")
		}
		snap := f.session.Snapshot()
		if snap.Status != models.StatusError {
			t.Fatalf("expected ERROR, got %s", snap.Status)
		}
		if snap.Installation != nil {
			t.Fatalf("no installation should be recorded, got %+v", snap.Installation)
		}
	})

	t.Run("install is only legal from LOGGED_IN", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)

		if err := f.session.Install(ctx); !errors.Is(err, ErrNotReady) {
			t.Fatalf("expected ErrNotReady, got %v", err)
		}
		if f.bot.calls != 0 {
			t.Fatalf("provisioner must not be called, got %d calls", f.bot.calls)
		}
	})
}

func TestRuleOperations(t *testing.T) {
	ctx := context.Background()

	installed := func(t *testing.T) *fixture {
		t.Helper()
		f := newFixture()
		f.session.Start(ctx)
		f.login(t)
		if err := f.session.Install(ctx); err != nil {
			t.Fatalf("install failed: %v", err)
		}
		return f
	}

	t.Run("add refreshes the authoritative list", func(t *testing.T) {
		f := installed(t)

		err := f.session.AddRule(ctx, models.RuleInput{
			SheetURL:   "https://docs.google.com/spreadsheets/d/s1/edit",
			SheetName:  "Sheet1",
			Column:     "2",
			WebhookURL: "https://hooks.slack.com/services/x",
		})
		if err != nil {
			t.Fatalf("AddRule returned error: %v", err)
		}

		snap := f.session.Snapshot()
		if len(snap.Rules) != 1 {
			t.Fatalf("expected 1 rule after add, got %d", len(snap.Rules))
		}
	})

	t.Run("rule errors are recoverable", func(t *testing.T) {
		f := installed(t)
		f.ruleAPI.addErr = fmt.Errorf("%w: Sheet \"Ghost\" was not found in the spreadsheet.", models.ErrRemote)

		err := f.session.AddRule(ctx, models.RuleInput{
			SheetURL:   "https://docs.google.com/spreadsheets/d/s1/edit",
			SheetName:  "Ghost",
			Column:     "2",
			WebhookURL: "https://hooks.slack.com/services/x",
		})
		if err == nil {
			t.Fatal("expected add error")
		}

		snap := f.session.Snapshot()
		if snap.Status != models.StatusInstalled {
			t.Fatalf("rule errors must not leave INSTALLED, got %s", snap.Status)
		}
		if !strings.Contains(snap.Error, "Ghost") {
			t.Fatalf("banner should carry the remote message: %q", snap.Error)
		}
	})

	t.Run("delete drops the rule locally on success", func(t *testing.T) {
		f := installed(t)
		if err := f.session.AddRule(ctx, models.RuleInput{
			SheetURL: "u", SheetName: "Sheet1", Column: "2", WebhookURL: "w",
		}); err != nil {
			t.Fatalf("AddRule returned error: %v", err)
		}
		id := f.session.Snapshot().Rules[0].TriggerID

		if err := f.session.DeleteRule(ctx, id); err != nil {
			t.Fatalf("DeleteRule returned error: %v", err)
		}
		if got := f.session.Snapshot().Rules; len(got) != 0 {
			t.Fatalf("expected no rules after delete, got %+v", got)
		}
	})

	t.Run("rule operations are gated on INSTALLED", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)

		if _, err := f.session.ListRules(ctx); !errors.Is(err, ErrNotReady) {
			t.Fatalf("expected ErrNotReady from ListRules, got %v", err)
		}
		if err := f.session.AddRule(ctx, models.RuleInput{}); !errors.Is(err, ErrNotReady) {
			t.Fatalf("expected ErrNotReady from AddRule, got %v", err)
		}
		if err := f.session.DeleteRule(ctx, "x"); !errors.Is(err, ErrNotReady) {
			t.Fatalf("expected ErrNotReady from DeleteRule, got %v", err)
		}
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("clears all state and revokes the token", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)
		f.login(t)
		if err := f.session.Install(ctx); err != nil {
			t.Fatalf("install failed: %v", err)
		}
		if err := f.session.AddRule(ctx, models.RuleInput{
			SheetURL: "u", SheetName: "Sheet1", Column: "1", WebhookURL: "w",
		}); err != nil {
			t.Fatalf("AddRule returned error: %v", err)
		}
		listCallsBefore := f.ruleAPI.listCalls

		f.session.Logout(ctx)

		snap := f.session.Snapshot()
		if snap.Status != models.StatusLoggedOut {
			t.Fatalf("expected LOGGED_OUT, got %s", snap.Status)
		}
		if len(snap.Rules) != 0 || snap.Installation != nil || snap.Profile != nil {
			t.Fatalf("logout did not clear state: %+v", snap)
		}
		if f.store.inst != nil {
			t.Fatal("persisted installation not cleared")
		}
		if f.session.AccessToken() != "" {
			t.Fatal("published token not cleared")
		}

		// revoke is best-effort and unawaited, but it must happen
		select {
		case revoked := <-f.auth.revoked:
			if revoked != "tok-1" {
				t.Fatalf("revoked wrong token: %q", revoked)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("token was never revoked")
		}

		// no list call is attempted after logout
		if _, err := f.session.ListRules(ctx); !errors.Is(err, ErrNotReady) {
			t.Fatalf("expected ErrNotReady after logout, got %v", err)
		}
		if f.ruleAPI.listCalls != listCallsBefore {
			t.Fatalf("list was called after logout: %d -> %d", listCallsBefore, f.ruleAPI.listCalls)
		}
	})
}

func TestAuthCallback(t *testing.T) {
	ctx := context.Background()

	stateFrom := func(t *testing.T, authURL string) string {
		t.Helper()
		i := strings.Index(authURL, "state=")
		if i < 0 {
			t.Fatalf("no state in auth URL: %q", authURL)
		}
		return authURL[i+len("state="):]
	}

	t.Run("happy path lands in LOGGED_IN", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)

		authURL, err := f.session.BeginLogin()
		if err != nil {
			t.Fatalf("BeginLogin returned error: %v", err)
		}
		f.session.HandleAuthCallback(ctx, stateFrom(t, authURL), "auth-code", "", "")

		if got := f.session.Snapshot().Status; got != models.StatusLoggedIn {
			t.Fatalf("expected LOGGED_IN, got %s", got)
		}
	})

	t.Run("provider error code forces ERROR", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)

		authURL, _ := f.session.BeginLogin()
		f.session.HandleAuthCallback(ctx, stateFrom(t, authURL), "", "access_denied", "The user denied the request.")

		snap := f.session.Snapshot()
		if snap.Status != models.StatusError {
			t.Fatalf("expected ERROR, got %s", snap.Status)
		}
		if !strings.Contains(snap.Error, "The user denied the request.") {
			t.Fatalf("missing provider description: %q", snap.Error)
		}
	})

	t.Run("state mismatch forces ERROR", func(t *testing.T) {
		f := newFixture()
		f.session.Start(ctx)

		if _, err := f.session.BeginLogin(); err != nil {
			t.Fatalf("BeginLogin returned error: %v", err)
		}
		f.session.HandleAuthCallback(ctx, "forged-state", "auth-code", "", "")

		if got := f.session.Snapshot().Status; got != models.StatusError {
			t.Fatalf("expected ERROR, got %s", got)
		}
	})

	t.Run("exchange failure forces ERROR", func(t *testing.T) {
		f := newFixture()
		f.auth.exchangeErr = errors.New("invalid_grant")
		f.session.Start(ctx)

		authURL, _ := f.session.BeginLogin()
		f.session.HandleAuthCallback(ctx, stateFrom(t, authURL), "bad-code", "", "")

		if got := f.session.Snapshot().Status; got != models.StatusError {
			t.Fatalf("expected ERROR, got %s", got)
		}
	})
}
