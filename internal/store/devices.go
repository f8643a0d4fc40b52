package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

// identityColumns are the columns a device may be correlated by.
var identityColumns = map[string]bool{
	"serial_number": true,
	"imei":          true,
}

// DeviceUpsert describes one report-driven create-or-update of a device.
type DeviceUpsert struct {
	// Column and Value select the device, see models.Device.Identity.
	Column string
	Value  string
	// Create is inserted when no device matches.
	Create *models.Device
	// Update lists the columns to overwrite when the device exists.
	Update map[string]any
	// Guard, when set, runs inside the transaction before anything is
	// written. existing is nil when the device is about to be created. A
	// non-nil error aborts the upsert unchanged.
	Guard func(existing *models.Device) error
	// History, when set, is called with a copy of the stored device before
	// Update is applied. A non-nil entry it returns is appended in the same
	// transaction.
	History func(existing models.Device) *models.LocationHistory
}

// byKey matches the device addressed by key: the device with that serial
// number, or a device without one whose IMEI is key.
func byKey(db *gorm.DB, key string) *gorm.DB {
	return db.Where(
		"(serial_number = ? AND serial_number <> '') OR (serial_number = '' AND imei = ? AND imei <> '')",
		key, key,
	)
}

func preloadHistory(db *gorm.DB) *gorm.DB {
	return db.Preload("MaintenanceHistory", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	})
}

func (s *Store) FindDevice(ctx context.Context, column, value string) (*models.Device, error) {
	if !identityColumns[column] {
		return nil, fmt.Errorf("cannot look up devices by %q", column)
	}
	if value == "" {
		return nil, fault.NotFoundf("device not found")
	}

	var device models.Device
	err := preloadHistory(s.db.WithContext(ctx)).
		Where(column+" = ?", value).
		First(&device).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("device %q", value))
	}

	return &device, nil
}

// FindDeviceByKey looks a device up by serial number, falling back to the
// IMEI of devices that never reported a serial number.
func (s *Store) FindDeviceByKey(ctx context.Context, key string) (*models.Device, error) {
	if key == "" {
		return nil, fault.NotFoundf("device not found")
	}

	var device models.Device
	err := byKey(preloadHistory(s.db.WithContext(ctx)), key).
		Order("id").
		First(&device).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("device %q", key))
	}

	return &device, nil
}

func (s *Store) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	err := preloadHistory(s.db.WithContext(ctx)).
		Order("device_name, id").
		Find(&devices).Error
	if err != nil {
		return nil, translate(err, "devices")
	}

	return devices, nil
}

// UpsertDevice creates or updates a device in one transaction. The returned
// boolean reports whether the device was created.
func (s *Store) UpsertDevice(ctx context.Context, up DeviceUpsert) (*models.Device, bool, error) {
	if !identityColumns[up.Column] || up.Value == "" {
		return nil, false, fault.Validationf("device identity is required")
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Device
		err := tx.Where(up.Column+" = ?", up.Value).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if up.Guard != nil {
				if err := up.Guard(nil); err != nil {
					return err
				}
			}
			created = true
			return tx.Create(up.Create).Error
		}
		if err != nil {
			return err
		}

		if up.Guard != nil {
			snapshot := existing
			if err := up.Guard(&snapshot); err != nil {
				return err
			}
		}

		if up.History != nil {
			if entry := up.History(existing); entry != nil {
				if err := tx.Create(entry).Error; err != nil {
					return fmt.Errorf("failed to append location history: %w", err)
				}
			}
		}

		if len(up.Update) == 0 {
			return nil
		}
		return tx.Model(&existing).Updates(up.Update).Error
	})
	if err != nil {
		return nil, false, translate(err, fmt.Sprintf("device %q", up.Value))
	}

	device, err := s.FindDevice(ctx, up.Column, up.Value)
	return device, created, err
}

// TouchDevice sets last_seen and nothing else.
func (s *Store) TouchDevice(ctx context.Context, key string, at time.Time) (*models.Device, error) {
	result := byKey(s.db.WithContext(ctx).Model(&models.Device{}), key).
		Update("last_seen", at)
	if result.Error != nil {
		return nil, translate(result.Error, fmt.Sprintf("device %q", key))
	}
	if result.RowsAffected == 0 {
		return nil, fault.NotFoundf("device %q not found", key)
	}

	return s.FindDeviceByKey(ctx, key)
}

// UpdateDevice overwrites fields of the device addressed by key and
// optionally appends a maintenance entry, atomically.
func (s *Store) UpdateDevice(ctx context.Context, key string, fields map[string]any, entry *models.MaintenanceEntry) (*models.Device, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device models.Device
		if err := byKey(tx, key).Order("id").First(&device).Error; err != nil {
			return err
		}

		if len(fields) > 0 {
			if err := tx.Model(&device).Updates(fields).Error; err != nil {
				return err
			}
		}

		if entry != nil {
			entry.DeviceID = device.ID
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("failed to append maintenance history: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, translate(err, fmt.Sprintf("device %q", key))
	}

	return s.FindDeviceByKey(ctx, key)
}

func (s *Store) DeleteDevice(ctx context.Context, key string) error {
	result := byKey(s.db.WithContext(ctx), key).
		Delete(&models.Device{})
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("device %q", key))
	}
	if result.RowsAffected == 0 {
		return fault.NotFoundf("device %q not found", key)
	}

	return nil
}

// ListLocationHistory returns the newest entries first.
func (s *Store) ListLocationHistory(ctx context.Context, serial string, limit int) ([]models.LocationHistory, error) {
	var history []models.LocationHistory
	query := s.db.WithContext(ctx).
		Where("serial_number = ?", serial).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&history).Error; err != nil {
		return nil, translate(err, "location history")
	}

	return history, nil
}
