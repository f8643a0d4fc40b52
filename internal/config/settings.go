package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/monorkin/device-fleet-manager/internal/access"
)

const (
	EnvListenAddress = "DEVICE_FLEET_MANAGER_LISTEN"
	EnvAMQPURL       = "DEVICE_FLEET_MANAGER_AMQP_URL"
	EnvPublicURL     = "DEVICE_FLEET_MANAGER_PUBLIC_URL"
)

// Operator is an API credential together with the role and sectors it acts under.
type Operator struct {
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	Role    string `yaml:"role"`
	Sectors string `yaml:"sectors,omitempty"`
}

// RateLimit allows Requests per Window for each client address.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type RateLimits struct {
	Read   RateLimit `yaml:"read"`
	Modify RateLimit `yaml:"modify"`
	Enroll RateLimit `yaml:"enroll"`
}

type Settings struct {
	ListenAddress string     `yaml:"listen_address"`
	PublicURL     string     `yaml:"public_url,omitempty"`
	AdvertiseMDNS bool       `yaml:"advertise_mdns"`
	AMQPURL       string     `yaml:"amqp_url,omitempty"`
	RateLimits    RateLimits `yaml:"rate_limits"`
	Operators     []Operator `yaml:"operators"`

	principals map[string]access.Principal
}

func DefaultSettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

func DefaultSettings() *Settings {
	return &Settings{
		ListenAddress: ":3000",
		AdvertiseMDNS: true,
		RateLimits: RateLimits{
			Read:   RateLimit{Requests: 500, Window: 15 * time.Minute},
			Modify: RateLimit{Requests: 100, Window: 15 * time.Minute},
			Enroll: RateLimit{Requests: 10, Window: 15 * time.Minute},
		},
	}
}

func LoadOrInitializeSettingsFromDefaultLocation() (bool, *Settings, error) {
	return LoadOrInitializeSettings(DefaultSettingsPath())
}

// LoadOrInitializeSettings loads path, or returns fresh defaults with a
// generated admin operator when the file does not exist yet. The boolean
// reports whether the settings are new and should be saved.
func LoadOrInitializeSettings(path string) (bool, *Settings, error) {
	settings, err := LoadSettings(path)
	if err == nil {
		return false, settings, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, nil, err
	}

	settings = DefaultSettings()
	token, err := GenerateOperatorToken()
	if err != nil {
		return false, nil, err
	}
	settings.Operators = []Operator{{Name: "admin", Token: token, Role: string(access.RoleAdmin)}}
	settings.ApplyEnv()

	if err := settings.Validate(); err != nil {
		return false, nil, err
	}

	return true, settings, nil
}

func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	settings.ApplyEnv()

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	return settings, nil
}

// ApplyEnv overrides file values with the environment.
func (s *Settings) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvListenAddress)); v != "" {
		s.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAMQPURL)); v != "" {
		s.AMQPURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPublicURL)); v != "" {
		s.PublicURL = v
	}
}

// Validate checks the settings and parses operator scopes once, so requests
// never re-parse sector lists.
func (s *Settings) Validate() error {
	if s.ListenAddress == "" {
		return errors.New("listen_address must not be empty")
	}
	for name, limit := range map[string]RateLimit{"read": s.RateLimits.Read, "modify": s.RateLimits.Modify, "enroll": s.RateLimits.Enroll} {
		if limit.Requests <= 0 || limit.Window <= 0 {
			return fmt.Errorf("rate_limits.%s must have positive requests and window", name)
		}
	}

	principals := make(map[string]access.Principal, len(s.Operators))
	for i, op := range s.Operators {
		if op.Name == "" {
			return fmt.Errorf("operators[%d]: name must not be empty", i)
		}
		if len(op.Token) < 16 {
			return fmt.Errorf("operator %q: token must be at least 16 characters", op.Name)
		}
		if _, dup := principals[op.Token]; dup {
			return fmt.Errorf("operator %q: token already assigned to another operator", op.Name)
		}

		role, err := access.ParseRole(op.Role)
		if err != nil {
			return fmt.Errorf("operator %q: %w", op.Name, err)
		}

		principal := access.Principal{Name: op.Name, Role: role, Scope: access.ParseScope(op.Sectors)}
		if role == access.RoleUser && principal.Scope.Empty() {
			return fmt.Errorf("operator %q: role user requires at least one sector", op.Name)
		}
		principals[op.Token] = principal
	}
	s.principals = principals

	return nil
}

// Principal resolves an API token to its operator.
func (s *Settings) Principal(token string) (access.Principal, bool) {
	p, ok := s.principals[token]
	return p, ok
}

func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	// Operator tokens are credentials.
	return os.WriteFile(path, data, 0o600)
}

func GenerateOperatorToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate operator token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
