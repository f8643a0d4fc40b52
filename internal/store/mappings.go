package store

import (
	"context"
	"fmt"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

func (s *Store) FindBssid(ctx context.Context, mac string) (*models.BssidMapping, error) {
	var mapping models.BssidMapping
	if err := s.db.WithContext(ctx).Where("mac_address_radio = ?", mac).First(&mapping).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("BSSID %q", mac))
	}
	return &mapping, nil
}

// FindBssidByPrefix returns the first mapping whose radio identifier starts
// with prefix, compared case-sensitively.
func (s *Store) FindBssidByPrefix(ctx context.Context, prefix string) (*models.BssidMapping, error) {
	var mapping models.BssidMapping
	err := s.db.WithContext(ctx).
		Where("substr(mac_address_radio, 1, ?) = ?", len(prefix), prefix).
		Order("id").
		First(&mapping).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("BSSID prefix %q", prefix))
	}
	return &mapping, nil
}

func (s *Store) ListBssids(ctx context.Context) ([]models.BssidMapping, error) {
	var mappings []models.BssidMapping
	if err := s.db.WithContext(ctx).Order("mac_address_radio").Find(&mappings).Error; err != nil {
		return nil, translate(err, "BSSID mappings")
	}
	return mappings, nil
}

func (s *Store) CreateBssid(ctx context.Context, mapping *models.BssidMapping) error {
	err := s.db.WithContext(ctx).Create(mapping).Error
	return translate(err, fmt.Sprintf("BSSID %q", mapping.MacAddressRadio))
}

func (s *Store) UpdateBssid(ctx context.Context, mac string, sector, floor string) (*models.BssidMapping, error) {
	result := s.db.WithContext(ctx).
		Model(&models.BssidMapping{}).
		Where("mac_address_radio = ?", mac).
		Updates(map[string]any{"sector": sector, "floor": floor})
	if result.Error != nil {
		return nil, translate(result.Error, fmt.Sprintf("BSSID %q", mac))
	}
	if result.RowsAffected == 0 {
		return nil, fault.NotFoundf("BSSID %q not found", mac)
	}
	return s.FindBssid(ctx, mac)
}

func (s *Store) DeleteBssid(ctx context.Context, mac string) error {
	result := s.db.WithContext(ctx).Where("mac_address_radio = ?", mac).Delete(&models.BssidMapping{})
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("BSSID %q", mac))
	}
	if result.RowsAffected == 0 {
		return fault.NotFoundf("BSSID %q not found", mac)
	}
	return nil
}

func (s *Store) ListUnits(ctx context.Context) ([]models.UnitMapping, error) {
	var units []models.UnitMapping
	if err := s.db.WithContext(ctx).Order("name").Find(&units).Error; err != nil {
		return nil, translate(err, "unit mappings")
	}
	return units, nil
}

func (s *Store) FindUnit(ctx context.Context, name string) (*models.UnitMapping, error) {
	var unit models.UnitMapping
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&unit).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("unit %q", name))
	}
	return &unit, nil
}

func (s *Store) CreateUnit(ctx context.Context, unit *models.UnitMapping) error {
	err := s.db.WithContext(ctx).Create(unit).Error
	return translate(err, fmt.Sprintf("unit %q", unit.Name))
}

// UpdateUnit replaces the name and range of the unit currently called name.
func (s *Store) UpdateUnit(ctx context.Context, name string, unit models.UnitMapping) (*models.UnitMapping, error) {
	result := s.db.WithContext(ctx).
		Model(&models.UnitMapping{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"name":           unit.Name,
			"ip_range_start": unit.IPRangeStart,
			"ip_range_end":   unit.IPRangeEnd,
		})
	if result.Error != nil {
		return nil, translate(result.Error, fmt.Sprintf("unit %q", unit.Name))
	}
	if result.RowsAffected == 0 {
		return nil, fault.NotFoundf("unit %q not found", name)
	}
	return s.FindUnit(ctx, unit.Name)
}

func (s *Store) DeleteUnit(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.UnitMapping{})
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("unit %q", name))
	}
	if result.RowsAffected == 0 {
		return fault.NotFoundf("unit %q not found", name)
	}
	return nil
}
