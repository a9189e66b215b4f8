package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/procurations/matching-engine/internal/config"
)

func TestMissingScopesError(t *testing.T) {
	assert.NoError(t, missingScopesError([]string{ScopeGmailSend, "openid", ScopeSheets}))

	err := missingScopesError([]string{ScopeSheets})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ScopeGmailSend)
	assert.NotContains(t, err.Error(), ScopeSheets)
}

func TestGetOAuthConfig(t *testing.T) {
	oauthCfg := &config.OAuthClientConfig{}
	oauthCfg.Installed.ClientID = "client-id"
	oauthCfg.Installed.ClientSecret = "secret"
	oauthCfg.Installed.AuthURI = "https://accounts.google.com/o/oauth2/auth"
	oauthCfg.Installed.TokenURI = "https://oauth2.googleapis.com/token"
	oauthCfg.Installed.RedirectURIs = []string{"http://localhost"}

	cfg, err := GetOAuthConfig(oauthCfg)
	require.NoError(t, err)

	assert.Equal(t, "client-id", cfg.ClientID)
	assert.Equal(t, []string{ScopeSheets, ScopeGmailSend}, cfg.Scopes)
	assert.Equal(t, "http://localhost:3000/oauth/callback", cfg.RedirectURL)
}

func TestTokenFileRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	token, err := LoadTokenFromFile("test")
	require.NoError(t, err)
	assert.Nil(t, token)

	require.NoError(t, SaveTokenToFile("test", &oauth2.Token{AccessToken: "abc", RefreshToken: "def"}))

	token, err = LoadTokenFromFile("test")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "def", token.RefreshToken)

	require.NoError(t, DeleteTokenFile("test"))
	require.NoError(t, DeleteTokenFile("test"))
}
