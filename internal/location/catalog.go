package location

import (
	"context"
	"log/slog"
	"strings"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

// CatalogStore is the write side of the mapping collections.
type CatalogStore interface {
	Mappings
	ListBssids(ctx context.Context) ([]models.BssidMapping, error)
	CreateBssid(ctx context.Context, mapping *models.BssidMapping) error
	UpdateBssid(ctx context.Context, mac string, sector, floor string) (*models.BssidMapping, error)
	DeleteBssid(ctx context.Context, mac string) error
	CreateUnit(ctx context.Context, unit *models.UnitMapping) error
	UpdateUnit(ctx context.Context, name string, unit models.UnitMapping) (*models.UnitMapping, error)
	DeleteUnit(ctx context.Context, name string) error
}

// Catalog validates operator edits to BSSID and unit mappings.
type Catalog struct {
	store  CatalogStore
	logger *slog.Logger
}

func NewCatalog(store CatalogStore, logger *slog.Logger) *Catalog {
	return &Catalog{store: store, logger: logger}
}

func (c *Catalog) log(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, msg, args...)
	}
}

func (c *Catalog) AddBssid(ctx context.Context, mac, sector, floor string) (*models.BssidMapping, error) {
	if !ValidMAC(mac) {
		return nil, fault.Validationf("mac_address_radio %q is not a valid MAC address", mac)
	}
	sector, floor = strings.TrimSpace(sector), strings.TrimSpace(floor)
	if sector == "" || floor == "" {
		return nil, fault.Validationf("sector and floor are required")
	}

	mapping := &models.BssidMapping{MacAddressRadio: mac, Sector: sector, Floor: floor}
	if err := c.store.CreateBssid(ctx, mapping); err != nil {
		return nil, err
	}

	c.log(ctx, "BSSID mapping created", "bssid", mac, "sector", sector, "floor", floor)
	return mapping, nil
}

func (c *Catalog) Bssids(ctx context.Context) ([]models.BssidMapping, error) {
	return c.store.ListBssids(ctx)
}

func (c *Catalog) UpdateBssid(ctx context.Context, mac, sector, floor string) (*models.BssidMapping, error) {
	sector, floor = strings.TrimSpace(sector), strings.TrimSpace(floor)
	if sector == "" || floor == "" {
		return nil, fault.Validationf("sector and floor are required")
	}

	mapping, err := c.store.UpdateBssid(ctx, mac, sector, floor)
	if err != nil {
		return nil, err
	}

	c.log(ctx, "BSSID mapping updated", "bssid", mac)
	return mapping, nil
}

func (c *Catalog) RemoveBssid(ctx context.Context, mac string) error {
	if err := c.store.DeleteBssid(ctx, mac); err != nil {
		return err
	}

	c.log(ctx, "BSSID mapping deleted", "bssid", mac)
	return nil
}

func (c *Catalog) AddUnit(ctx context.Context, name, start, end string) (*models.UnitMapping, error) {
	unit := models.UnitMapping{Name: strings.TrimSpace(name), IPRangeStart: start, IPRangeEnd: end}
	if err := validateUnit(unit); err != nil {
		return nil, err
	}

	if err := c.store.CreateUnit(ctx, &unit); err != nil {
		return nil, err
	}

	c.log(ctx, "Unit created", "unit", unit.Name, "start", start, "end", end)
	return &unit, nil
}

func (c *Catalog) Units(ctx context.Context) ([]models.UnitMapping, error) {
	return c.store.ListUnits(ctx)
}

func (c *Catalog) UpdateUnit(ctx context.Context, name string, newName, start, end string) (*models.UnitMapping, error) {
	unit := models.UnitMapping{Name: strings.TrimSpace(newName), IPRangeStart: start, IPRangeEnd: end}
	if unit.Name == "" {
		unit.Name = name
	}
	if err := validateUnit(unit); err != nil {
		return nil, err
	}

	updated, err := c.store.UpdateUnit(ctx, name, unit)
	if err != nil {
		return nil, err
	}

	c.log(ctx, "Unit updated", "unit", name, "name", updated.Name)
	return updated, nil
}

func (c *Catalog) RemoveUnit(ctx context.Context, name string) error {
	if err := c.store.DeleteUnit(ctx, name); err != nil {
		return err
	}

	c.log(ctx, "Unit deleted", "unit", name)
	return nil
}

func validateUnit(unit models.UnitMapping) error {
	if unit.Name == "" {
		return fault.Validationf("unit name is required")
	}
	start, err := ParseIPv4(unit.IPRangeStart)
	if err != nil {
		return fault.Validationf("ip_range_start: %v", err)
	}
	end, err := ParseIPv4(unit.IPRangeEnd)
	if err != nil {
		return fault.Validationf("ip_range_end: %v", err)
	}
	if start > end {
		return fault.Validationf("ip_range_start must be less than or equal to ip_range_end")
	}
	return nil
}
