package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidConfig(t *testing.T) {
	leadTime := 3
	cfg := &Config{
		DatabaseURL:   "postgres://localhost/procurations",
		GmailUserID:   "me",
		GmailSender:   "procurations@example.com",
		ReportSheetID: "sheet123",
		Matching: MatchingConfig{
			LeadTimeDays:   &leadTime,
			MaxDistanceKm:  15,
			CandidateLimit: 5,
			Schedule:       "FREQ=DAILY;BYHOUR=8,18;BYMINUTE=0;BYSECOND=0",
		},
		Notifications: NotificationsConfig{BatchSize: 20, Concurrency: 2, MaxAttempts: 3},
	}

	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestValidate_MinimalConfig(t *testing.T) {
	cfg := &Config{
		DatabaseURL: "postgres://localhost/procurations",
		GmailUserID: "me",
	}

	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestValidate_MissingRequiredField(t *testing.T) {
	cfg := &Config{
		// Missing DatabaseURL
		GmailUserID: "me",
	}

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestValidate_InvalidRRule(t *testing.T) {
	cfg := &Config{
		DatabaseURL: "postgres://localhost/procurations",
		GmailUserID: "me",
		Matching:    MatchingConfig{Schedule: "INVALID_RRULE_SYNTAX"},
	}

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rrule")
}

func TestValidate_OutOfRangeValues(t *testing.T) {
	negative := -1
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative lead time", Config{Matching: MatchingConfig{LeadTimeDays: &negative}}},
		{"negative distance", Config{Matching: MatchingConfig{MaxDistanceKm: -5}}},
		{"too much concurrency", Config{Notifications: NotificationsConfig{Concurrency: 100}}},
		{"invalid sender", Config{GmailSender: "not-an-email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.DatabaseURL = "postgres://localhost/procurations"
			cfg.GmailUserID = "me"

			err := Validate(&cfg)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed")
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	require.NotNil(t, cfg.Matching.LeadTimeDays)
	assert.Equal(t, 2, *cfg.Matching.LeadTimeDays)
	assert.Equal(t, 20.0, cfg.Matching.MaxDistanceKm)
	assert.Equal(t, 10, cfg.Matching.CandidateLimit)
	assert.Equal(t, 20.0, cfg.Matching.CandidateRadiusKm)
	require.NotNil(t, cfg.Matching.CandidateCooldownDays)
	assert.Equal(t, 7, *cfg.Matching.CandidateCooldownDays)
	require.NotNil(t, cfg.Matching.RecruitmentEnabled)
	assert.True(t, *cfg.Matching.RecruitmentEnabled)
	assert.Equal(t, 50, cfg.Notifications.BatchSize)
	assert.Equal(t, 4, cfg.Notifications.Concurrency)
	assert.Equal(t, 5, cfg.Notifications.MaxAttempts)
}

func TestLoadFromPath_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	validConfig := `
databaseURL: "postgres://localhost/procurations"
gmailUserID: "me"
gmailSender: "procurations@example.com"
reportSheetID: "sheet123"
matching:
  leadTimeDays: 0
  maxDistanceKm: 12.5
  recruitmentEnabled: false
  schedule: "FREQ=DAILY;BYHOUR=8"
notifications:
  concurrency: 2
`

	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/procurations", cfg.DatabaseURL)
	assert.Equal(t, "me", cfg.GmailUserID)
	assert.Equal(t, "procurations@example.com", cfg.GmailSender)
	assert.Equal(t, "sheet123", cfg.ReportSheetID)

	// Explicit zero and false are kept, unset values get defaults
	require.NotNil(t, cfg.Matching.LeadTimeDays)
	assert.Equal(t, 0, *cfg.Matching.LeadTimeDays)
	assert.Equal(t, 12.5, cfg.Matching.MaxDistanceKm)
	assert.False(t, *cfg.Matching.RecruitmentEnabled)
	assert.Equal(t, 10, cfg.Matching.CandidateLimit)
	assert.Equal(t, 2, cfg.Notifications.Concurrency)
	assert.Equal(t, 50, cfg.Notifications.BatchSize)
}

func TestLoadFromPath_InvalidRRule(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_rrule.yaml")

	invalidConfig := `
databaseURL: "postgres://localhost/procurations"
gmailUserID: "me"
matching:
  schedule: "INVALID_RRULE_SYNTAX"
`

	err := os.WriteFile(configPath, []byte(invalidConfig), 0644)
	require.NoError(t, err)

	_, err = LoadFromPath(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rrule")
}

func TestLoadFromPath_MissingRequiredField(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.yaml")

	invalidConfig := `
# Missing databaseURL
gmailUserID: "me"
`

	err := os.WriteFile(configPath, []byte(invalidConfig), 0644)
	require.NoError(t, err)

	_, err = LoadFromPath(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_yaml.yaml")

	invalidYAML := `
databaseURL: "postgres://localhost/procurations"
  invalid indentation
gmailUserID: "me"
`

	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = LoadFromPath(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromPath_FileNotFound(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvFileName(t *testing.T) {
	assert.Equal(t, "proxy_matcher_config.yaml", envFileName(configBaseName, "", "yaml"))
	assert.Equal(t, "oauthClient.prod.json", envFileName(oauthClientBaseName, "prod", "json"))
}

func TestLoadOAuthClientFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "oauthClient.json")

	content := `{
  "installed": {
    "client_id": "client.apps.googleusercontent.com",
    "project_id": "procurations",
    "auth_uri": "https://accounts.google.com/o/oauth2/auth",
    "token_uri": "https://oauth2.googleapis.com/token",
    "auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
    "client_secret": "secret",
    "redirect_uris": ["http://localhost"]
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadOAuthClientFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "procurations", cfg.Installed.ProjectID)
}

func TestValidateOAuthClient_InvalidURL(t *testing.T) {
	cfg := &OAuthClientConfig{
		Installed: OAuthInstalled{
			ClientID:                "client",
			ProjectID:               "procurations",
			AuthURI:                 "not-a-valid-url",
			TokenURI:                "https://oauth2.googleapis.com/token",
			AuthProviderX509CertURL: "https://www.googleapis.com/oauth2/v1/certs",
			ClientSecret:            "secret",
			RedirectURIs:            []string{"http://localhost"},
		},
	}

	err := ValidateOAuthClient(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
