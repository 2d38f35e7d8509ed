package oauth

import (
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// NewGoogle creates the Google provider.
func NewGoogle(cfg Config) *Provider {
	return newProvider(
		accounts.MethodGoogle,
		cfg,
		google.Endpoint,
		[]string{"openid", "email", "profile"},
		googleUserInfoURL,
		decodeGoogle,
	)
}

func decodeGoogle(body []byte) (accounts.ProviderProfile, error) {
	var u googleUser
	if err := decodeJSON(accounts.MethodGoogle, body, &u); err != nil {
		return accounts.ProviderProfile{}, err
	}
	// Accounts are matched by email, so an unverified address could claim
	// someone else's account.
	if u.Email != "" && !u.EmailVerified {
		return accounts.ProviderProfile{}, ErrUnverifiedEmail
	}
	return accounts.ProviderProfile{
		ExternalID: u.Sub,
		Email:      u.Email,
		FirstName:  u.GivenName,
		LastName:   u.FamilyName,
		Avatar:     u.Picture,
	}, nil
}
