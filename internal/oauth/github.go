package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"berrymix-auth/internal/domain"
)

const githubAPIBase = "https://api.github.com"

// GitHubProvider no emite ID tokens: la identidad sale de /user y /user/emails.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase: githubAPIBase,
	}
}

func (p *GitHubProvider) Name() string { return domain.ProviderGitHub }

func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("allow_signup", "true"))
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (p *GitHubProvider) ExchangeCodeForIdentity(ctx context.Context, code string) (domain.OAuthIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return domain.OAuthIdentity{}, ErrExchangeFailed
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return domain.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	client := p.config.Client(ctx, token)

	var user githubUser
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return domain.OAuthIdentity{}, err
	}
	if user.ID == 0 {
		return domain.OAuthIdentity{}, fmt.Errorf("%w: empty github user", ErrExchangeFailed)
	}

	var emails []githubEmail
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return domain.OAuthIdentity{}, err
	}
	email := primaryVerifiedEmail(emails)
	if email == "" {
		return domain.OAuthIdentity{}, ErrEmailUnavailable
	}

	first, last := splitName(user.Name)
	if first == "" {
		first = user.Login
	}
	return domain.OAuthIdentity{
		Provider:          domain.ProviderGitHub,
		ProviderAccountID: strconv.FormatInt(user.ID, 10),
		Email:             email,
		FirstName:         first,
		LastName:          last,
		PictureURL:        user.AvatarURL,
	}, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: github %s status %d", ErrExchangeFailed, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrExchangeFailed, path, err)
	}
	return nil
}

// primaryVerifiedEmail prefiere el primario verificado y cae a cualquier verificado.
// Un email no verificado nunca se usa.
func primaryVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}
