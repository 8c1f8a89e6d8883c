package utils

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Scopes requested at consent time: script project management, deployment
// management, spreadsheet access, and drive (for cleanup of orphaned
// projects), plus identity.
var GoogleAPIScopes = []string{
	"https://www.googleapis.com/auth/script.projects",
	"https://www.googleapis.com/auth/script.deployments",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

const defaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// GoogleAuthClient wraps the interactive consent flow. It is injected into
// the session controller so tests can substitute a fake provider.
type GoogleAuthClient struct {
	config *oauth2.Config

	// overridable in tests
	RevokeURL  string
	HTTPClient *http.Client
}

func NewGoogleAuthClient(clientID, clientSecret, redirectURL string) *GoogleAuthClient {
	return &GoogleAuthClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       GoogleAPIScopes,
			Endpoint:     google.Endpoint,
		},
		RevokeURL:  defaultRevokeURL,
		HTTPClient: http.DefaultClient,
	}
}

// AuthURL returns the consent URL the user is sent to. Token arrival is
// asynchronous: the provider redirects back with a code (or an error), and
// the callback handler feeds the outcome to the session controller.
func (c *GoogleAuthClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token.
func (c *GoogleAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return tok, nil
}

// Revoke invalidates the token with the provider. Callers treat this as
// best effort.
func (c *GoogleAuthClient) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned status %d", resp.StatusCode)
	}
	return nil
}

// ProfileFetcher resolves the logged-in identity from an access token.
type ProfileFetcher struct {
	// Extra options let tests point the userinfo service at a fake endpoint.
	Options []option.ClientOption
}

// Fetch returns email, display name, and picture URL for the token's owner.
func (f *ProfileFetcher) Fetch(ctx context.Context, accessToken string) (email, name, picture string, err error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, f.Options...)

	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return "", "", "", fmt.Errorf("unable to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to fetch user profile: %w", err)
	}
	return info.Email, info.Name, info.Picture, nil
}
