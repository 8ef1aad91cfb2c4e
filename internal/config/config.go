// Package config loads and validates the server configuration from
// congregate.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"
)

const configFileName = "congregate.yaml"

// Config represents the application configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port" validate:"omitempty,min=1,max=65535"`

	// CORSOrigins lists the allowed cross-origin request origins.
	CORSOrigins []string `yaml:"corsOrigins,omitempty"`

	// GoogleCredentialsFile is the service account key used for both
	// Sheets and Firestore.
	GoogleCredentialsFile string `yaml:"googleCredentialsFile" validate:"required"`

	// FirestoreProjectID hosts the organisation records.
	FirestoreProjectID string `yaml:"firestoreProjectID" validate:"required"`

	// DefaultSheetURL is the spreadsheet backing unscoped requests and
	// unresolvable organisations.
	DefaultSheetURL string `yaml:"defaultSheetURL" validate:"required,url"`

	// MembersRange is the ranged read covering the members region.
	MembersRange string `yaml:"membersRange,omitempty"`

	// ServiceRule optionally describes the service cadence as an RRULE,
	// e.g. "FREQ=WEEKLY;BYDAY=SU".
	ServiceRule string `yaml:"serviceRule,omitempty"`

	MembersTTLSeconds    int `yaml:"membersTTLSeconds,omitempty" validate:"omitempty,min=1"`
	PlansTTLSeconds      int `yaml:"plansTTLSeconds,omitempty" validate:"omitempty,min=1"`
	SweepIntervalSeconds int `yaml:"sweepIntervalSeconds,omitempty" validate:"omitempty,min=1"`
	MaxPlanTabs          int `yaml:"maxPlanTabs,omitempty" validate:"omitempty,min=1"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration, looking for the config
// file in the current directory first, then in the user's home
// directory.
func Load() (*Config, error) {
	configPath, err := findConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
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

	applyDefaults(&cfg)

	return &cfg, nil
}

// Validate validates the configuration struct and checks the recurrence
// rule syntax.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.ServiceRule != "" {
		if _, err := rrule.StrToRRule(cfg.ServiceRule); err != nil {
			return fmt.Errorf("invalid serviceRule: %w", err)
		}
	}

	return nil
}

// MembersTTL returns the members cache lifetime.
func (c *Config) MembersTTL() time.Duration {
	return time.Duration(c.MembersTTLSeconds) * time.Second
}

// PlansTTL returns the service-plan cache lifetime.
func (c *Config) PlansTTL() time.Duration {
	return time.Duration(c.PlansTTLSeconds) * time.Second
}

// SweepInterval returns how often the background cache sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}
	if cfg.MembersTTLSeconds == 0 {
		cfg.MembersTTLSeconds = 300
	}
	if cfg.PlansTTLSeconds == 0 {
		cfg.PlansTTLSeconds = 300
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 600
	}
	if cfg.MaxPlanTabs == 0 {
		cfg.MaxPlanTabs = 10
	}
}

// findConfigFile searches for congregate.yaml in the current directory
// and the home directory.
func findConfigFile() (string, error) {
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
