// Package provisioning enrolls devices with single-purpose tokens.
//
// A token is bound to an organization and a configuration profile and is
// redeemable while active, unexpired and below its use limit. Redeeming it
// upserts the device and queues the profile's initial commands.
package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/access"
	"github.com/monorkin/device-fleet-manager/internal/clock"
	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/events"
	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

const (
	DefaultMaxUses   = 1
	DefaultExpiresIn = 24 * time.Hour
	tokenBytes       = 32
)

type Tokens interface {
	CreateToken(ctx context.Context, token *models.ProvisioningToken) error
	FindToken(ctx context.Context, token string) (*models.ProvisioningToken, error)
	ListTokens(ctx context.Context, organization string) ([]models.ProvisioningToken, error)
	ClaimToken(ctx context.Context, token string, now time.Time) (bool, error)
	DeactivateToken(ctx context.Context, token string) (*models.ProvisioningToken, error)
}

type Profiles interface {
	CreateProfile(ctx context.Context, profile *models.ConfigProfile) error
	FindProfile(ctx context.Context, name string) (*models.ConfigProfile, error)
	ListProfiles(ctx context.Context) ([]models.ConfigProfile, error)
}

// Devices is the slice of the device registry enrollment depends on.
type Devices interface {
	Find(ctx context.Context, serial string) (*models.Device, error)
	UpsertFromReport(ctx context.Context, p access.Principal, report registry.Report) (*models.Device, error)
	SetProvisioningOutcome(ctx context.Context, serial string, success bool, message string) (*models.Device, error)
}

type Queue interface {
	EnqueueBatch(ctx context.Context, p access.Principal, serial string, payloads []commands.Payload) ([]string, error)
}

type Options struct {
	Clock     clock.Clock
	Publisher events.Publisher
	Logger    *slog.Logger
}

type Engine struct {
	tokens    Tokens
	profiles  Profiles
	devices   Devices
	queue     Queue
	clock     clock.Clock
	publisher events.Publisher
	logger    *slog.Logger
}

func New(tokens Tokens, profiles Profiles, devices Devices, queue Queue, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}

	return &Engine{
		tokens:    tokens,
		profiles:  profiles,
		devices:   devices,
		queue:     queue,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
}

func (e *Engine) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Log(ctx, level, msg, args...)
	}
}

func (e *Engine) publish(ctx context.Context, kind events.Kind, serial string, data any) {
	event := events.Event{Kind: kind, SerialNumber: serial, Time: e.clock.Now(), Data: data}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.log(ctx, slog.LevelWarn, "Failed to publish event", "kind", kind, "serial_number", serial, "error", err)
	}
}

// IssueRequest describes a new token. Zero MaxUses and ExpiresIn take the
// defaults of one use and 24 hours.
type IssueRequest struct {
	Organization string        `json:"organization"`
	Profile      string        `json:"config_profile"`
	MaxUses      int           `json:"max_uses,omitempty"`
	ExpiresIn    time.Duration `json:"-"`
}

func (r *IssueRequest) validate() error {
	r.Organization = strings.TrimSpace(r.Organization)
	r.Profile = strings.TrimSpace(r.Profile)

	if r.Organization == "" {
		return fault.Validationf("organization is required")
	}
	if r.Profile == "" {
		return fault.Validationf("config_profile is required")
	}
	if r.MaxUses < 0 {
		return fault.Validationf("max_uses must be positive")
	}
	if r.ExpiresIn < 0 {
		return fault.Validationf("expiry must be in the future")
	}
	if r.MaxUses == 0 {
		r.MaxUses = DefaultMaxUses
	}
	if r.ExpiresIn == 0 {
		r.ExpiresIn = DefaultExpiresIn
	}
	return nil
}

func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (e *Engine) IssueToken(ctx context.Context, req IssueRequest) (*models.ProvisioningToken, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := e.profiles.FindProfile(ctx, req.Profile); err != nil {
		return nil, err
	}

	secret, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	token := &models.ProvisioningToken{
		Token:         secret,
		Organization:  req.Organization,
		ConfigProfile: req.Profile,
		MaxUses:       req.MaxUses,
		ExpiresAt:     now.Add(req.ExpiresIn),
		CreatedAt:     now,
		IsActive:      true,
	}
	if err := e.tokens.CreateToken(ctx, token); err != nil {
		return nil, err
	}

	e.log(ctx, slog.LevelInfo, "Provisioning token issued", "organization", token.Organization, "config_profile", token.ConfigProfile, "max_uses", token.MaxUses, "expires_at", token.ExpiresAt)
	return token, nil
}

// Enrollment is the outcome of a successful redemption.
type Enrollment struct {
	Device           *models.Device `json:"device"`
	CommandsEnqueued int            `json:"commands_enqueued"`
	CommandIDs       []string       `json:"command_ids,omitempty"`
}

// Redeem enrolls the reporting device with token. The token use is claimed
// with a conditional increment, so concurrent redemptions never exceed
// max_uses. A failure after the claim is not rolled back.
func (e *Engine) Redeem(ctx context.Context, secret string, report registry.Report) (*Enrollment, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	if report.SerialNumber == "" {
		return nil, fault.Validationf("serial_number is required to enroll")
	}

	now := e.clock.Now()
	token, err := e.usableToken(ctx, secret, now)
	if err != nil {
		return nil, err
	}

	existing, err := e.devices.Find(ctx, report.SerialNumber)
	switch {
	case err == nil && existing.ProvisioningStatus == models.ProvisioningCompleted:
		return nil, fault.Conflictf("device %q is already provisioned", report.SerialNumber)
	case err != nil && !errors.Is(err, fault.ErrNotFound):
		return nil, err
	}

	profile, err := e.profiles.FindProfile(ctx, token.ConfigProfile)
	if err != nil {
		return nil, err
	}

	claimed, err := e.tokens.ClaimToken(ctx, token.Token, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fault.Unauthorizedf("provisioning token is no longer valid")
	}

	report.Enrollment = &registry.Enrollment{
		Token:        token.Token,
		Profile:      profile.Name,
		Organization: token.Organization,
		At:           now,
	}
	if report.LastSeen == nil {
		report.LastSeen = &now
	}

	device, err := e.devices.UpsertFromReport(ctx, access.System, report)
	if err != nil {
		return nil, err
	}

	ids, err := e.queue.EnqueueBatch(ctx, access.System, device.SerialNumber, ProfileCommands(profile.Settings.Data()))
	if err != nil {
		e.log(ctx, slog.LevelError, "Enrollment commands could not be queued", "serial_number", device.SerialNumber, "error", err)
		return nil, err
	}

	e.log(ctx, slog.LevelInfo, "Device enrolled", "serial_number", device.SerialNumber, "organization", token.Organization, "config_profile", profile.Name, "commands", len(ids))
	e.publish(ctx, events.ProvisioningRedeemed, device.SerialNumber, map[string]any{
		"organization":   token.Organization,
		"config_profile": profile.Name,
		"commands":       len(ids),
	})

	return &Enrollment{Device: device, CommandsEnqueued: len(ids), CommandIDs: ids}, nil
}

func (e *Engine) usableToken(ctx context.Context, secret string, now time.Time) (*models.ProvisioningToken, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fault.Unauthorizedf("provisioning token is required")
	}

	token, err := e.tokens.FindToken(ctx, secret)
	if errors.Is(err, fault.ErrNotFound) {
		return nil, fault.Unauthorizedf("invalid provisioning token")
	}
	if err != nil {
		return nil, err
	}

	if state := token.State(now); state != models.TokenActive {
		e.log(ctx, slog.LevelWarn, "Rejected provisioning token", "state", state, "organization", token.Organization)
		return nil, fault.Unauthorizedf("provisioning token is %s", state)
	}

	return token, nil
}

// ProfileCommands lists the initial commands of a profile: one install per
// mandatory app, then restrictions, then wifi configuration.
func ProfileCommands(settings models.ProfileSettings) []commands.Payload {
	var payloads []commands.Payload

	for _, app := range settings.MandatoryApps {
		payloads = append(payloads, commands.InstallApp{
			PackageName: app.PackageName,
			ApkURL:      app.ApkURL,
			Version:     app.Version,
		})
	}
	if settings.Restrictions != nil {
		payloads = append(payloads, commands.ApplyRestrictions{Restrictions: *settings.Restrictions})
	}
	if len(settings.WifiConfigs) > 0 {
		payloads = append(payloads, commands.ConfigureWifi{WifiConfigs: settings.WifiConfigs})
	}

	return payloads
}

// Complete records the outcome the device reports once its enrollment
// commands have run. The principal must reach the device.
func (e *Engine) Complete(ctx context.Context, p access.Principal, serial string, success bool, message string) (*models.Device, error) {
	if err := p.Authorize(); err != nil {
		return nil, err
	}
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, fault.Validationf("serial_number is required")
	}

	stored, err := e.devices.Find(ctx, serial)
	if err != nil {
		return nil, err
	}
	if err := p.Check(stored); err != nil {
		e.log(ctx, slog.LevelWarn, "Access denied", "principal", p.Name, "serial_number", serial)
		return nil, err
	}

	device, err := e.devices.SetProvisioningOutcome(ctx, serial, success, message)
	if err != nil {
		return nil, err
	}

	e.log(ctx, slog.LevelInfo, "Provisioning finished", "serial_number", serial, "success", success)
	e.publish(ctx, events.ProvisioningCompleted, serial, map[string]any{"success": success, "error": message})

	return device, nil
}

// TokenView is a token together with its state at read time.
type TokenView struct {
	models.ProvisioningToken
	State         models.TokenState `json:"state"`
	RemainingUses int               `json:"remaining_uses"`
}

func (e *Engine) view(token models.ProvisioningToken) TokenView {
	remaining := token.MaxUses - token.UsedCount
	if remaining < 0 {
		remaining = 0
	}
	return TokenView{ProvisioningToken: token, State: token.State(e.clock.Now()), RemainingUses: remaining}
}

func (e *Engine) Lookup(ctx context.Context, secret string) (*TokenView, error) {
	token, err := e.tokens.FindToken(ctx, strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	view := e.view(*token)
	return &view, nil
}

func (e *Engine) ListTokens(ctx context.Context, organization string) ([]TokenView, error) {
	tokens, err := e.tokens.ListTokens(ctx, organization)
	if err != nil {
		return nil, err
	}

	views := make([]TokenView, len(tokens))
	for i, token := range tokens {
		views[i] = e.view(token)
	}
	return views, nil
}

func (e *Engine) Deactivate(ctx context.Context, secret string) (*TokenView, error) {
	token, err := e.tokens.DeactivateToken(ctx, strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}

	e.log(ctx, slog.LevelInfo, "Provisioning token deactivated", "organization", token.Organization)
	view := e.view(*token)
	return &view, nil
}
