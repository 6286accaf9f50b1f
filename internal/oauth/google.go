package oauth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"berrymix-auth/internal/domain"
)

// GoogleProvider intercambia el código y consulta userinfo con el cliente oficial de la API.
type GoogleProvider struct {
	config     *oauth2.Config
	apiOptions []option.ClientOption
}

func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				goauth2.OpenIDScope,
				goauth2.UserinfoEmailScope,
				goauth2.UserinfoProfileScope,
			},
		},
	}
}

func (p *GoogleProvider) Name() string { return domain.ProviderGoogle }

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (p *GoogleProvider) ExchangeCodeForIdentity(ctx context.Context, code string) (domain.OAuthIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return domain.OAuthIdentity{}, ErrExchangeFailed
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return domain.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(p.config.Client(ctx, token))}, p.apiOptions...)
	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return domain.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return domain.OAuthIdentity{}, fmt.Errorf("%w: userinfo: %v", ErrExchangeFailed, err)
	}
	return googleIdentity(info)
}

func googleIdentity(info *goauth2.Userinfo) (domain.OAuthIdentity, error) {
	if info == nil || strings.TrimSpace(info.Id) == "" {
		return domain.OAuthIdentity{}, fmt.Errorf("%w: empty userinfo", ErrExchangeFailed)
	}
	if strings.TrimSpace(info.Email) == "" || (info.VerifiedEmail != nil && !*info.VerifiedEmail) {
		return domain.OAuthIdentity{}, ErrEmailUnavailable
	}
	first, last := info.GivenName, info.FamilyName
	if first == "" && last == "" {
		first, last = splitName(info.Name)
	}
	return domain.OAuthIdentity{
		Provider:          domain.ProviderGoogle,
		ProviderAccountID: info.Id,
		Email:             info.Email,
		FirstName:         first,
		LastName:          last,
		PictureURL:        info.Picture,
	}, nil
}
