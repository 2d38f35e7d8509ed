package oauth

import (
	"fmt"

	"github.com/jmerrifield20/photogallery/internal/accounts"
	"golang.org/x/oauth2"
)

const discordUserInfoURL = "https://discord.com/api/users/@me"

var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
	Avatar     string `json:"avatar"`
}

// NewDiscord creates the Discord provider.
func NewDiscord(cfg Config) *Provider {
	return newProvider(
		accounts.MethodDiscord,
		cfg,
		discordEndpoint,
		[]string{"identify", "email"},
		discordUserInfoURL,
		decodeDiscord,
	)
}

func decodeDiscord(body []byte) (accounts.ProviderProfile, error) {
	var u discordUser
	if err := decodeJSON(accounts.MethodDiscord, body, &u); err != nil {
		return accounts.ProviderProfile{}, err
	}
	if u.Email != "" && !u.Verified {
		return accounts.ProviderProfile{}, ErrUnverifiedEmail
	}

	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	var avatar string
	if u.Avatar != "" {
		avatar = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
	}
	return accounts.ProviderProfile{
		ExternalID: u.ID,
		Email:      u.Email,
		FirstName:  name,
		Avatar:     avatar,
	}, nil
}
