package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/clients/gmailclient"
	"github.com/procurations/matching-engine/pkg/clients/sheetsclient"
	"github.com/procurations/matching-engine/pkg/db"
	"github.com/procurations/matching-engine/pkg/notifications"
)

// AppContext holds the application dependencies shared across all commands.
// Google clients are created on first use so that commands which never reach Google
// don't trigger the OAuth flow.
type AppContext struct {
	Env      string
	Silent   bool
	Cfg      *config.Config
	Database db.Database
	Outbox   *notifications.Outbox
	Logger   *zap.Logger
	Ctx      context.Context

	oauthCfg     *config.OAuthClientConfig
	sheetsClient *sheetsclient.Client
	gmailClient  *gmailclient.Client
}

// Out is where commands print their summaries. Summaries are discarded in silent mode.
func (a *AppContext) Out() io.Writer {
	if a.Silent {
		return io.Discard
	}
	return os.Stdout
}

// SheetsClient returns the Sheets client, authenticating on first use
func (a *AppContext) SheetsClient() (*sheetsclient.Client, error) {
	if a.sheetsClient != nil {
		return a.sheetsClient, nil
	}

	oauthCfg, err := a.loadOAuthClient()
	if err != nil {
		return nil, err
	}

	a.Logger.Info("Initializing sheets client")
	a.sheetsClient, err = sheetsclient.NewClient(a.Ctx, oauthCfg, a.Env, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return a.sheetsClient, nil
}

// GmailClient returns the Gmail client, authenticating on first use
func (a *AppContext) GmailClient() (*gmailclient.Client, error) {
	if a.gmailClient != nil {
		return a.gmailClient, nil
	}

	oauthCfg, err := a.loadOAuthClient()
	if err != nil {
		return nil, err
	}

	a.Logger.Info("Initializing gmail client")
	a.gmailClient, err = gmailclient.NewClient(a.Ctx, a.Cfg, oauthCfg, a.Env, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail client: %w", err)
	}
	return a.gmailClient, nil
}

func (a *AppContext) loadOAuthClient() (*config.OAuthClientConfig, error) {
	if a.oauthCfg != nil {
		return a.oauthCfg, nil
	}

	a.Logger.Debug("Loading OAuth client configuration")
	oauthCfg, err := config.LoadOAuthClientWithEnv(a.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth client config: %w", err)
	}
	a.oauthCfg = oauthCfg
	return oauthCfg, nil
}
