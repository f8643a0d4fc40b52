package models

import "time"

type TokenState string

const (
	TokenActive      TokenState = "active"
	TokenExhausted   TokenState = "exhausted"
	TokenExpired     TokenState = "expired"
	TokenDeactivated TokenState = "deactivated"
)

type ProvisioningToken struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	Token         string    `gorm:"column:token" json:"token"`
	Organization  string    `gorm:"column:organization" json:"organization"`
	ConfigProfile string    `gorm:"column:config_profile" json:"config_profile"`
	MaxUses       int       `gorm:"column:max_uses" json:"max_uses"`
	UsedCount     int       `gorm:"column:used_count" json:"used_count"`
	ExpiresAt     time.Time `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	IsActive      bool      `gorm:"column:is_active" json:"is_active"`
}

func (ProvisioningToken) TableName() string { return "provisioning_tokens" }

// State classifies the token at now. Deactivation takes precedence over
// expiry, and expiry over exhaustion.
func (t *ProvisioningToken) State(now time.Time) TokenState {
	switch {
	case !t.IsActive:
		return TokenDeactivated
	case !now.Before(t.ExpiresAt):
		return TokenExpired
	case t.UsedCount >= t.MaxUses:
		return TokenExhausted
	default:
		return TokenActive
	}
}
