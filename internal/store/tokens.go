package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

func (s *Store) CreateToken(ctx context.Context, token *models.ProvisioningToken) error {
	return translate(s.db.WithContext(ctx).Create(token).Error, "provisioning token")
}

func (s *Store) FindToken(ctx context.Context, token string) (*models.ProvisioningToken, error) {
	var found models.ProvisioningToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&found).Error; err != nil {
		return nil, translate(err, "provisioning token")
	}
	return &found, nil
}

// ListTokens returns tokens newest first, optionally limited to one organization.
func (s *Store) ListTokens(ctx context.Context, organization string) ([]models.ProvisioningToken, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if organization != "" {
		query = query.Where("organization = ?", organization)
	}

	var tokens []models.ProvisioningToken
	if err := query.Find(&tokens).Error; err != nil {
		return nil, translate(err, "provisioning tokens")
	}
	return tokens, nil
}

// ClaimToken consumes one use of the token if it is active, unexpired at now
// and below its use limit. It reports whether a use was consumed.
func (s *Store) ClaimToken(ctx context.Context, token string, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.ProvisioningToken{}).
		Where("token = ? AND is_active = ? AND expires_at > ? AND used_count < max_uses", token, true, now).
		Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return false, translate(result.Error, "provisioning token")
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) DeactivateToken(ctx context.Context, token string) (*models.ProvisioningToken, error) {
	result := s.db.WithContext(ctx).
		Model(&models.ProvisioningToken{}).
		Where("token = ?", token).
		Update("is_active", false)
	if result.Error != nil {
		return nil, translate(result.Error, "provisioning token")
	}
	if result.RowsAffected == 0 {
		return nil, fault.NotFoundf("provisioning token not found")
	}
	return s.FindToken(ctx, token)
}

func (s *Store) CreateProfile(ctx context.Context, profile *models.ConfigProfile) error {
	err := s.db.WithContext(ctx).Create(profile).Error
	return translate(err, fmt.Sprintf("configuration profile %q", profile.Name))
}

func (s *Store) FindProfile(ctx context.Context, name string) (*models.ConfigProfile, error) {
	var profile models.ConfigProfile
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&profile).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("configuration profile %q", name))
	}
	return &profile, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]models.ConfigProfile, error) {
	var profiles []models.ConfigProfile
	if err := s.db.WithContext(ctx).Order("name").Find(&profiles).Error; err != nil {
		return nil, translate(err, "configuration profiles")
	}
	return profiles, nil
}
