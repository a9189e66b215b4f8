package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/procurations/matching-engine/internal/config"
)

const (
	AuthPort       = 3000
	authTimeout    = 5 * time.Minute
	callbackPath   = "/oauth/callback"
	tokenDirName   = ".procurations/tokens"
	tokenFilePerms = 0600 // Read/write for owner only
	tokenDirPerms  = 0700 // Read/write/execute for owner only
	tokenInfoURL   = "https://oauth2.googleapis.com/tokeninfo"
)

var (
	tokenCache   *oauth2.Token
	tokenCacheMu sync.Mutex
)

// OAuth scopes for Google APIs
const (
	ScopeSheets    = "https://www.googleapis.com/auth/spreadsheets"
	ScopeGmailSend = "https://www.googleapis.com/auth/gmail.send"
)

// requiredScopes returns all scopes required by the application:
// report publication and notification delivery
func requiredScopes() []string {
	return []string{
		ScopeSheets,
		ScopeGmailSend,
	}
}

// GetOAuthConfig creates an OAuth2 config from the OAuth client configuration.
// All scopes are requested upfront so a single token serves the Sheets and Gmail clients.
func GetOAuthConfig(oauthCfg *config.OAuthClientConfig) (*oauth2.Config, error) {
	oauthConfigJSON, err := json.Marshal(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oauth config: %w", err)
	}

	googleConfig, err := google.ConfigFromJSON(oauthConfigJSON, requiredScopes()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google config: %w", err)
	}

	// Override redirect URI to use our local server
	googleConfig.RedirectURL = fmt.Sprintf("http://localhost:%d%s", AuthPort, callbackPath)

	return googleConfig, nil
}

// NewHTTPClient returns an HTTP client authorized for the application's scopes,
// running the OAuth flow if no usable token is stored for the environment
func NewHTTPClient(
	ctx context.Context,
	oauthCfg *config.OAuthClientConfig,
	env string,
	logger *zap.Logger,
) (*http.Client, error) {
	oauthConfig, err := GetOAuthConfig(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth config: %w", err)
	}

	token, err := GetTokenWithFlow(ctx, oauthConfig, env, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth token: %w", err)
	}

	return oauthConfig.Client(ctx, token), nil
}

// validateTokenScopes checks that the token has all required scopes by calling Google's tokeninfo endpoint
func validateTokenScopes(ctx context.Context, token *oauth2.Token) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenInfoURL+"?access_token="+token.AccessToken, nil)
	if err != nil {
		return fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call tokeninfo endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tokeninfo request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenInfo struct {
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		return fmt.Errorf("failed to decode tokeninfo response: %w", err)
	}

	return missingScopesError(strings.Fields(tokenInfo.Scope))
}

// missingScopesError returns an error listing the required scopes absent from granted
func missingScopesError(granted []string) error {
	var missing []string
	for _, required := range requiredScopes() {
		if !slices.Contains(granted, required) {
			missing = append(missing, required)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("token is missing required scopes: %v - please grant all permissions during the OAuth flow", missing)
	}
	return nil
}

// GetTokenWithFlow returns a valid token for the environment: from memory, from disk
// (refreshed if needed) or from a new interactive OAuth flow.
// Only one flow runs at a time.
func GetTokenWithFlow(ctx context.Context, oauthConfig *oauth2.Config, env string, logger *zap.Logger) (*oauth2.Token, error) {
	tokenCacheMu.Lock()
	defer tokenCacheMu.Unlock()

	if tokenCache != nil && tokenCache.Valid() {
		return tokenCache, nil
	}

	if token := storedToken(ctx, oauthConfig, env, logger); token != nil {
		tokenCache = token
		return token, nil
	}

	logger.Info("No valid token found - starting OAuth flow")

	authURL := oauthConfig.AuthCodeURL("state", oauth2.AccessTypeOffline)
	fmt.Printf("\nVisit this URL to authorize the application:\n%s\n\n", authURL)

	code, err := listenForAuthCallback(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if err := validateTokenScopes(ctx, token); err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if err := SaveTokenToFile(env, token); err != nil {
		// The token is still usable for this process
		logger.Warn("Failed to save token to file", zap.Error(err))
	}

	tokenCache = token
	return token, nil
}

// storedToken returns the token saved for the environment if it is usable, refreshing it if expired.
// An unusable token file is deleted.
func storedToken(ctx context.Context, oauthConfig *oauth2.Config, env string, logger *zap.Logger) *oauth2.Token {
	fileToken, err := LoadTokenFromFile(env)
	if err != nil {
		logger.Warn("Failed to load token from file", zap.Error(err))
		return nil
	}
	if fileToken == nil {
		return nil
	}

	token := fileToken
	if !fileToken.Valid() {
		if fileToken.RefreshToken == "" {
			return nil
		}
		refreshed, err := oauthConfig.TokenSource(ctx, fileToken).Token()
		if err != nil || refreshed.AccessToken == fileToken.AccessToken {
			return nil
		}
		token = refreshed
	}

	if err := validateTokenScopes(ctx, token); err != nil {
		logger.Warn("Stored token is missing required scopes, deleting it", zap.Error(err))
		if err := DeleteTokenFile(env); err != nil {
			logger.Warn("Failed to delete token file", zap.Error(err))
		}
		return nil
	}

	if token != fileToken {
		logger.Info("Token refreshed successfully")
		if err := SaveTokenToFile(env, token); err != nil {
			logger.Warn("Failed to save refreshed token", zap.Error(err))
		}
	}
	return token
}

// listenForAuthCallback starts a local HTTP server and waits for the OAuth callback
func listenForAuthCallback(ctx context.Context) (string, error) {
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			http.Error(w, "Authorization failed", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `
			<html>
				<head><title>Authorization Successful</title></head>
				<body>
					<h1>Authorization successful!</h1>
					<p>You can close this window and return to the terminal.</p>
				</body>
			</html>
		`)

		codeChan <- code
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", AuthPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	var code string
	var authErr error

	select {
	case code = <-codeChan:
	case authErr = <-errChan:
	case <-timeoutCtx.Done():
		authErr = fmt.Errorf("authorization timeout after %v", authTimeout)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if authErr != nil {
		return "", authErr
	}
	return code, nil
}

// ClearToken clears the token from memory cache
func ClearToken() {
	tokenCacheMu.Lock()
	defer tokenCacheMu.Unlock()
	tokenCache = nil
}

// tokenDir returns the directory holding the per-environment token files
func tokenDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, tokenDirName), nil
}

func getTokenFilePath(env string) (string, error) {
	dir, err := tokenDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("token-%s.json", env)), nil
}

// LoadTokenFromFile loads the OAuth token saved for the environment.
// Returns nil without error when no token was saved yet.
func LoadTokenFromFile(env string) (*oauth2.Token, error) {
	tokenPath, err := getTokenFilePath(env)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	return &token, nil
}

// SaveTokenToFile saves the OAuth token for the environment, readable by the owner only
func SaveTokenToFile(env string, token *oauth2.Token) error {
	dir, err := tokenDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, tokenDirPerms); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tokenPath, err := getTokenFilePath(env)
	if err != nil {
		return err
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.WriteFile(tokenPath, data, tokenFilePerms); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}

// DeleteTokenFile deletes the token file for the given environment
func DeleteTokenFile(env string) error {
	tokenPath, err := getTokenFilePath(env)
	if err != nil {
		return err
	}

	if err := os.Remove(tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}

	return nil
}
