package gmailclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/utils"
)

// Client wraps the Gmail API client used to deliver notifications
type Client struct {
	service *gmail.Service
	userID  string
	sender  string

	// lastSendTime is the start of the last booked send
	lastSendTime time.Time
	sendMutex    sync.Mutex
}

// NewClient creates a Gmail client sending as cfg.GmailUserID.
// Performs the OAuth flow if no token is stored for the environment.
func NewClient(ctx context.Context, cfg *config.Config, oauthCfg *config.OAuthClientConfig, env string, logger *zap.Logger) (*Client, error) {
	httpClient, err := utils.NewHTTPClient(ctx, oauthCfg, env, logger)
	if err != nil {
		return nil, err
	}

	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &Client{
		service: service,
		userID:  cfg.GmailUserID,
		sender:  cfg.GmailSender,
	}, nil
}
