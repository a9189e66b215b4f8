package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"
)

const configBaseName = "proxy_matcher_config"

// MatchingConfig controls the matching run
type MatchingConfig struct {
	// LeadTimeDays: only requests whose voting date is strictly more than this many days away are matched
	LeadTimeDays *int `yaml:"leadTimeDays,omitempty" validate:"omitempty,min=0"`

	// MaxDistanceKm bounds the proxy/requester distance for the radius strategy
	MaxDistanceKm float64 `yaml:"maxDistanceKm,omitempty" validate:"omitempty,gt=0"`

	// CandidateLimit caps recruitment invitations per requester group
	CandidateLimit int `yaml:"candidateLimit,omitempty" validate:"omitempty,min=1"`

	CandidateRadiusKm float64 `yaml:"candidateRadiusKm,omitempty" validate:"omitempty,gt=0"`

	// CandidateCooldownDays: candidates invited within this window are not invited again
	CandidateCooldownDays *int `yaml:"candidateCooldownDays,omitempty" validate:"omitempty,min=0"`

	RecruitmentEnabled *bool `yaml:"recruitmentEnabled,omitempty"`

	// Schedule is an RRULE (e.g. FREQ=DAILY;BYHOUR=8,18) used by the schedule command
	Schedule string `yaml:"schedule,omitempty"`
}

// NotificationsConfig controls delivery of the notification outbox
type NotificationsConfig struct {
	BatchSize int `yaml:"batchSize,omitempty" validate:"omitempty,min=1"`

	// Concurrency bounds the deliveries in flight. The Gmail mailer still starts at most one send
	// per throttle interval, so it only helps when the API is slower than the interval.
	Concurrency int `yaml:"concurrency,omitempty" validate:"omitempty,min=1,max=32"`

	MaxAttempts int `yaml:"maxAttempts,omitempty" validate:"omitempty,min=1"`
}

// Config represents the application configuration
type Config struct {
	DatabaseURL   string              `yaml:"databaseURL" validate:"required"`
	GmailUserID   string              `yaml:"gmailUserID" validate:"required"`
	GmailSender   string              `yaml:"gmailSender,omitempty" validate:"omitempty,email"`
	ReportSheetID string              `yaml:"reportSheetID,omitempty"`
	Matching      MatchingConfig      `yaml:"matching"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// LoadWithEnv loads and validates the configuration for an environment.
// For example, env="prod" looks for "proxy_matcher_config.prod.yaml".
func LoadWithEnv(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// Validate validates the configuration struct and checks the schedule rrule syntax
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Matching.Schedule != "" {
		if _, err := rrule.StrToRRule(cfg.Matching.Schedule); err != nil {
			return fmt.Errorf("invalid rrule in matching.schedule: %w", err)
		}
	}

	return nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	m := &c.Matching
	if m.LeadTimeDays == nil {
		m.LeadTimeDays = intPtr(2)
	}
	if m.MaxDistanceKm == 0 {
		m.MaxDistanceKm = 20
	}
	if m.CandidateLimit == 0 {
		m.CandidateLimit = 10
	}
	if m.CandidateRadiusKm == 0 {
		m.CandidateRadiusKm = 20
	}
	if m.CandidateCooldownDays == nil {
		m.CandidateCooldownDays = intPtr(7)
	}
	if m.RecruitmentEnabled == nil {
		enabled := true
		m.RecruitmentEnabled = &enabled
	}

	n := &c.Notifications
	if n.BatchSize == 0 {
		n.BatchSize = 50
	}
	if n.Concurrency == 0 {
		n.Concurrency = 4
	}
	if n.MaxAttempts == 0 {
		n.MaxAttempts = 5
	}
}

func intPtr(v int) *int {
	return &v
}

// findConfigFile returns the config file path for the environment
func findConfigFile(env string) (string, error) {
	return findInSearchPath(envFileName(configBaseName, env, "yaml"))
}

// envFileName builds "<base>.<env>.<ext>", or "<base>.<ext>" without an environment
func envFileName(base, env, ext string) string {
	if env == "" {
		return base + "." + ext
	}
	return base + "." + env + "." + ext
}

// findInSearchPath looks for fileName in the current directory, then in the home directory
func findInSearchPath(fileName string) (string, error) {
	if _, err := os.Stat(fileName); err == nil {
		return fileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homePath := filepath.Join(homeDir, fileName)
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("%s not found in current directory or home directory", fileName)
}
